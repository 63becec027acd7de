package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/hirecode/hirecode/internal/anticheat"
	"github.com/hirecode/hirecode/internal/domain"
)

// Envelope types carried on the per-session channel. Inbound frames are a
// tag plus an opaque payload; each outbound kind is its own struct so the
// wire shape stays per-type instead of one field-union message.
const (
	typeCodeUpdate = "code:update"
	typeChatUser   = "chat:user"
	typeChatAI     = "chat:ai"
	typeChatStatus = "chat:ai_status"
	typeTrust      = "anticheat"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type codeUpdatePayload struct {
	Content string `json:"content"`
}

type chatUserPayload struct {
	Message   string         `json:"message"`
	Code      string         `json:"code,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
}

type chatChunk struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type chatStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"` // "started" or "stopped"
}

type trustUpdate struct {
	Type       string  `json:"type"`
	TrustScore float64 `json:"trust_score"`
	EventType  string  `json:"event_type"`
}

// ChannelHandler upgrades HTTP to the session's duplex channel and runs the
// multiplexer read loop. Routing is pure dispatch; the business logic lives
// behind the Manager's command queue.
type ChannelHandler struct {
	mgr           *Manager
	allowedOrigin string
	isDev         bool
}

// NewChannelHandler creates the WebSocket endpoint for session channels.
func NewChannelHandler(mgr *Manager, allowedOrigin string, isDev bool) *ChannelHandler {
	return &ChannelHandler{mgr: mgr, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP implements http.Handler for the channel upgrade.
func (h *ChannelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	slog.Info("Channel connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	rt, err := h.mgr.runtimeFor(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		case errors.Is(err, ErrFinished):
			http.Error(w, "session finished", http.StatusConflict)
		default:
			slog.Error("Failed to resolve session for channel", "session_id", sessionID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept channel upgrade", "session_id", sessionID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "channel closed"); closeErr != nil {
			slog.Debug("Failed to close channel", "session_id", sessionID, "error", closeErr)
		}
	}()

	rt.bind(ws)
	defer rt.release(ws)

	h.readLoop(r.Context(), rt, ws)
	slog.Info("Channel connection ended", "session_id", sessionID)
}

func (h *ChannelHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Channel origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChannelHandler) readLoop(ctx context.Context, rt *runtime, ws *websocket.Conn) {
	sessionID := rt.sess.ID
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Channel closed by client", "session_id", sessionID)
			} else {
				slog.Warn("Channel read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Malformed channel envelope", "session_id", sessionID, "error", err)
			continue
		}
		h.route(rt, env)
	}
}

// route dispatches one inbound envelope to exactly one handler.
func (h *ChannelHandler) route(rt *runtime, env envelope) {
	switch {
	case env.Type == typeCodeUpdate:
		var p codeUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("Malformed code update payload", "session_id", rt.sess.ID, "error", err)
			return
		}
		h.mgr.recordCode(rt, p.Content)
	case env.Type == typeChatUser:
		var p chatUserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("Malformed chat payload", "session_id", rt.sess.ID, "error", err)
			return
		}
		// Relayed off the read loop so a slow model never stalls telemetry.
		go h.mgr.relayChat(context.Background(), rt, p)
	case anticheat.IsTelemetry(env.Type):
		var payload map[string]any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				slog.Warn("Malformed telemetry payload", "session_id", rt.sess.ID, "error", err)
				return
			}
		}
		h.mgr.applyTelemetry(rt, domain.TelemetryEvent{
			Type:      env.Type,
			Payload:   payload,
			Timestamp: time.Now().UTC(),
		})
	default:
		slog.Debug("Unknown channel envelope type", "session_id", rt.sess.ID, "type", env.Type)
	}
}

// recordCode stores the candidate's latest editor content for the current task.
func (m *Manager) recordCode(rt *runtime, content string) {
	_ = rt.call(func() {
		if m.expireIfDue(rt) {
			return
		}
		rt.sess.LatestCode[rt.sess.CurrentTaskID] = content
		rt.sess.UpdatedAt = time.Now().UTC()
		m.persistAsync(cloneSession(rt.sess))
	})
}

// applyTelemetry folds one anti-cheat event into the trust score and
// broadcasts the new score back on the channel.
func (m *Manager) applyTelemetry(rt *runtime, ev domain.TelemetryEvent) {
	_ = rt.call(func() {
		if m.expireIfDue(rt) {
			return
		}
		rt.trust = m.trust.Apply(rt.trust, ev)
		rt.sess.TrustScore = rt.trust.Score
		rt.sess.Penalties = rt.trust.Applied()
		rt.sess.UpdatedAt = time.Now().UTC()

		rt.send(trustUpdate{Type: typeTrust, TrustScore: rt.trust.Score, EventType: ev.Type})

		if warn := m.largePasteWarning(ev); warn != "" {
			rt.sess.AppendMessage("ai", warn)
			rt.send(chatChunk{Type: typeChatAI, Message: warn})
		}
		m.persistAsync(cloneSession(rt.sess))
	})
}

// largePasteWarning returns the interviewer's challenge when a paste is big
// enough that the candidate should explain the code in their own words.
func (m *Manager) largePasteWarning(ev domain.TelemetryEvent) string {
	if ev.Type != "anticheat:paste" {
		return ""
	}
	chars, ok := ev.Payload["chars"].(float64)
	if !ok || int(chars) < m.cfg.AntiCheat.LargePasteWarnChars {
		return ""
	}
	return "I noticed you pasted a large block of code. Walk me through what it does, line by line."
}
