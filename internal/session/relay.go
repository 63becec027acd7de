package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hirecode/hirecode/internal/interviewer"
)

// relayTimeout bounds one full streamed reply, not one token.
const relayTimeout = 2 * time.Minute

// relayChat forwards a user chat message with the current code and telemetry
// snapshot to the AI interviewer and streams the reply back as
// started -> chunks -> stopped. The trimmed concatenation of the chunks is the
// canonical stored message; empty completions are discarded.
func (m *Manager) relayChat(ctx context.Context, rt *runtime, in chatUserPayload) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return
	}

	var (
		snap    interviewer.Context
		expired bool
	)
	if err := rt.call(func() {
		if m.expireIfDue(rt) {
			expired = true
			return
		}
		rt.sess.AppendMessage("user", message)
		rt.sess.UpdatedAt = time.Now().UTC()

		code := in.Code
		if code == "" {
			code = rt.sess.LatestCode[rt.sess.CurrentTaskID]
		}
		telemetry := make(map[string]any, len(in.Telemetry)+2)
		for k, v := range in.Telemetry {
			telemetry[k] = v
		}
		telemetry["trust_score"] = rt.trust.Score
		telemetry["penalties"] = rt.trust.Applied()

		snap = interviewer.Context{Message: message, Code: code, Telemetry: telemetry}
		m.persistAsync(cloneSession(rt.sess))
	}); err != nil || expired {
		return
	}

	rt.send(chatStatus{Type: typeChatStatus, Status: "started"})
	defer rt.send(chatStatus{Type: typeChatStatus, Status: "stopped"})

	streamCtx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	var reply strings.Builder
	for chunk, err := range m.ai.StreamReply(streamCtx, snap) {
		if err != nil {
			slog.Warn("Interviewer stream failed", "session_id", rt.sess.ID, "error", err)
			if reply.Len() == 0 {
				rt.send(chatChunk{Type: typeChatAI, Message: interviewer.UnavailableMessage})
			}
			break
		}
		if chunk == "" {
			continue
		}
		reply.WriteString(chunk)
		rt.send(chatChunk{Type: typeChatAI, Message: chunk})
	}

	final := strings.TrimSpace(reply.String())
	if final == "" {
		return
	}

	_ = rt.call(func() {
		if rt.sess.IsFinished() {
			return
		}
		rt.sess.AppendMessage("ai", final)
		rt.sess.UpdatedAt = time.Now().UTC()
		m.persistAsync(cloneSession(rt.sess))
	})
}
