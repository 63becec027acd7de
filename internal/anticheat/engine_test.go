package anticheat

import (
	"testing"
	"time"

	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/domain"
)

func testConfig() config.AntiCheatConfig {
	return config.AntiCheatConfig{
		PasteCharThreshold: 300,
		PerTypePenaltyCap:  45,
	}
}

func event(eventType string, payload map[string]any) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func TestApply_ExplicitPenalty(t *testing.T) {
	e := NewEngine(testConfig())
	st := NewState()

	st = e.Apply(st, event("anticheat:devtools", map[string]any{"penalty": float64(30)}))

	if st.Score != 70 {
		t.Errorf("Expected score 70, got %v", st.Score)
	}
}

func TestApply_NeverNegative(t *testing.T) {
	cfg := testConfig()
	cfg.PerTypePenaltyCap = 0 // uncapped to exercise the clamp
	e := NewEngine(cfg)
	st := NewState()

	for i := 0; i < 5; i++ {
		st = e.Apply(st, event("anticheat:devtools", map[string]any{"penalty": float64(30)}))
	}

	if st.Score != 0 {
		t.Errorf("Expected score clamped at 0, got %v", st.Score)
	}
}

func TestApply_PerTypeSaturation(t *testing.T) {
	e := NewEngine(testConfig())
	st := NewState()

	// 45 cap: 30 + 30 should only charge 45 total for this type.
	st = e.Apply(st, event("anticheat:devtools", map[string]any{"penalty": float64(30)}))
	st = e.Apply(st, event("anticheat:devtools", map[string]any{"penalty": float64(30)}))
	st = e.Apply(st, event("anticheat:devtools", map[string]any{"penalty": float64(30)}))

	if st.Score != 55 {
		t.Errorf("Expected saturated score 55, got %v", st.Score)
	}

	// A different event type still gets charged.
	st = e.Apply(st, event("anticheat:tab_blur", nil))
	if st.Score != 52 {
		t.Errorf("Expected score 52 after tab_blur, got %v", st.Score)
	}
}

func TestPenalty_PasteStepFunction(t *testing.T) {
	e := NewEngine(testConfig())

	small := e.Penalty(event("anticheat:paste", map[string]any{"chars": float64(100)}))
	if small != 1 {
		t.Errorf("Expected default penalty 1 below threshold, got %v", small)
	}

	ramp := e.Penalty(event("anticheat:paste", map[string]any{"chars": float64(450)}))
	if ramp != 5 {
		t.Errorf("Expected ramped penalty 5 at 450 chars, got %v", ramp)
	}

	capped := e.Penalty(event("anticheat:paste", map[string]any{"chars": float64(10000)}))
	if capped != 10 {
		t.Errorf("Expected max paste penalty 10, got %v", capped)
	}
}

func TestApply_DeterministicReplay(t *testing.T) {
	e := NewEngine(testConfig())
	events := []domain.TelemetryEvent{
		event("anticheat:paste", map[string]any{"chars": float64(500)}),
		event("anticheat:tab_blur", nil),
		event("anticheat:devtools", map[string]any{"penalty": float64(12)}),
		event("anticheat:tab_blur", nil),
	}

	run := func() float64 {
		st := NewState()
		for _, ev := range events {
			st = e.Apply(st, ev)
		}
		return st.Score
	}

	first, second := run(), run()
	if first != second {
		t.Errorf("Replay diverged: %v vs %v", first, second)
	}
	if first < 0 || first > 100 {
		t.Errorf("Score out of bounds: %v", first)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	e := NewEngine(testConfig())
	st := NewState()

	next := e.Apply(st, event("anticheat:tab_blur", nil))
	if st.Score != 100 {
		t.Errorf("Input state mutated: %v", st.Score)
	}
	if next.Score >= st.Score {
		t.Errorf("Expected penalty applied, got %v", next.Score)
	}
}

func TestIsTelemetry(t *testing.T) {
	if !IsTelemetry("anticheat:paste") {
		t.Error("Expected anticheat:paste to be telemetry")
	}
	if IsTelemetry("chat:user") {
		t.Error("Expected chat:user not to be telemetry")
	}
}
