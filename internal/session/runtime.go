package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/hirecode/hirecode/internal/anticheat"
	"github.com/hirecode/hirecode/internal/domain"
)

const outboundBuffer = 64

// runtime is the in-memory half of one session: the command queue that
// serializes mutations plus the outbound side of the channel binding.
// Session fields are only touched from inside queued commands.
type runtime struct {
	sess    *domain.Session
	trust   anticheat.State
	results []domain.JudgeResult

	cmds chan func()
	done chan struct{}

	outbound chan any

	bindMu sync.Mutex
	conn   *websocket.Conn
	unbind context.CancelFunc
}

func newRuntime(sess *domain.Session) *runtime {
	return &runtime{
		sess:     sess,
		trust:    anticheat.Restore(sess.TrustScore, sess.Penalties),
		cmds:     make(chan func()),
		done:     make(chan struct{}),
		outbound: make(chan any, outboundBuffer),
	}
}

// loop is the single writer for this session's state.
func (rt *runtime) loop() {
	for {
		select {
		case fn := <-rt.cmds:
			fn()
		case <-rt.done:
			return
		}
	}
}

// call posts fn onto the command queue and waits for it to run. It returns
// ErrFinished once the session is terminal and the queue has stopped.
func (rt *runtime) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case rt.cmds <- func() { fn(); close(ran) }:
	case <-rt.done:
		return ErrFinished
	}

	select {
	case <-ran:
		return nil
	case <-rt.done:
		// The finish transition may have run our command first.
		select {
		case <-ran:
			return nil
		default:
			return ErrFinished
		}
	}
}

// bind attaches ws as the session's single live channel. An existing binding
// is closed and replaced; messages still buffered in outbound flush to the
// new connection in order.
func (rt *runtime) bind(ws *websocket.Conn) {
	rt.bindMu.Lock()
	defer rt.bindMu.Unlock()

	if rt.conn != nil && rt.conn != ws {
		rt.unbind()
		_ = rt.conn.Close(websocket.StatusNormalClosure, "channel replaced")
		slog.Info("Channel replaced by reconnect", "session_id", rt.sess.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.conn = ws
	rt.unbind = cancel
	go rt.pump(ctx, ws)
}

// release detaches ws if it is still the live binding. A newer binding from
// a reconnect is left untouched.
func (rt *runtime) release(ws *websocket.Conn) {
	rt.bindMu.Lock()
	defer rt.bindMu.Unlock()

	if rt.conn == ws {
		rt.unbind()
		rt.conn = nil
		rt.unbind = nil
	}
}

// releaseChannel closes whatever binding exists; used at finish.
func (rt *runtime) releaseChannel() {
	rt.bindMu.Lock()
	defer rt.bindMu.Unlock()

	if rt.conn != nil {
		rt.unbind()
		_ = rt.conn.Close(websocket.StatusNormalClosure, "session finished")
		rt.conn = nil
		rt.unbind = nil
	}
}

// pump drains the outbound queue onto one connection. It exits when the
// binding is replaced or the write side breaks; an envelope lost to a broken
// write is a logged gap, never replayed out of order.
func (rt *runtime) pump(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-rt.outbound:
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Error("Failed to encode outbound envelope", "session_id", rt.sess.ID, "error", err)
				continue
			}
			if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
				slog.Warn("Channel write failed, dropping envelope", "session_id", rt.sess.ID, "error", err)
				return
			}
		}
	}
}

// send enqueues an outbound envelope without blocking the command queue.
func (rt *runtime) send(msg any) {
	select {
	case rt.outbound <- msg:
	default:
		slog.Warn("Outbound buffer full, dropping envelope", "session_id", rt.sess.ID)
	}
}
