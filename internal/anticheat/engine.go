// Package anticheat implements the trust score engine: a pure reducer from
// telemetry events to a bounded trust score.
package anticheat

import (
	"strings"

	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/domain"
)

const (
	maxScore = 100.0
	minScore = 0.0

	severityDefault    = 0.1
	severityVisibility = 0.3
	penaltyScale       = 10.0
)

// State is the trust score accumulator for one session. The zero value is not
// usable; obtain one from NewState.
type State struct {
	Score float64
	// applied tracks the cumulative penalty charged per event type so that
	// repeated events of one kind saturate instead of stacking unboundedly.
	applied map[string]float64
}

// NewState returns the initial state with a full trust score.
func NewState() State {
	return State{Score: maxScore, applied: make(map[string]float64)}
}

// Restore rebuilds a state from persisted values, so that the per-type
// saturation cap survives a reconnect or server restart.
func Restore(score float64, applied map[string]float64) State {
	st := State{Score: clamp(score), applied: make(map[string]float64, len(applied))}
	for k, v := range applied {
		st.applied[k] = v
	}
	return st
}

// Applied returns a copy of the cumulative penalty charged per event type.
func (s State) Applied() map[string]float64 {
	out := make(map[string]float64, len(s.applied))
	for k, v := range s.applied {
		out[k] = v
	}
	return out
}

// Engine computes score deltas from telemetry events. It holds only
// configuration and is safe for concurrent use across sessions.
type Engine struct {
	cfg config.AntiCheatConfig
}

// NewEngine creates a trust score engine with the given penalty policy.
func NewEngine(cfg config.AntiCheatConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Apply folds one telemetry event into the state and returns the new state.
// It is deterministic: replaying the same event sequence yields the same
// final score. The input state is not mutated.
func (e *Engine) Apply(st State, ev domain.TelemetryEvent) State {
	penalty := e.Penalty(ev)

	next := State{Score: st.Score, applied: make(map[string]float64, len(st.applied)+1)}
	for k, v := range st.applied {
		next.applied[k] = v
	}

	if limit := e.cfg.PerTypePenaltyCap; limit > 0 {
		remaining := limit - next.applied[ev.Type]
		if remaining <= 0 {
			return next
		}
		if penalty > remaining {
			penalty = remaining
		}
	}

	next.applied[ev.Type] += penalty
	next.Score = clamp(next.Score - penalty)
	return next
}

// Penalty computes the raw (uncapped) penalty for a single event. An explicit
// "penalty" field in the payload wins; otherwise severity heuristics apply.
func (e *Engine) Penalty(ev domain.TelemetryEvent) float64 {
	if p, ok := numberField(ev.Payload, "penalty"); ok && p > 0 {
		return p
	}

	severity := severityDefault
	switch {
	case ev.Type == "anticheat:paste":
		chars, _ := numberField(ev.Payload, "chars")
		threshold := float64(e.cfg.PasteCharThreshold)
		if chars > threshold && threshold > 0 {
			severity = (chars - threshold) / threshold
			if severity > 1 {
				severity = 1
			}
		}
	case ev.Type == "anticheat:devtools",
		ev.Type == "anticheat:tab_switch",
		ev.Type == "anticheat:tab_blur":
		severity = severityVisibility
	}
	return severity * penaltyScale
}

// IsTelemetry reports whether an envelope type belongs to the anti-cheat stream.
func IsTelemetry(eventType string) bool {
	return strings.HasPrefix(eventType, "anticheat:")
}

func numberField(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
