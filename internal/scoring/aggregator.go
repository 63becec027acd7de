// Package scoring combines judge results, trust score and timing into the
// final multi-axis score at session finish.
package scoring

import (
	"sort"
	"time"

	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/domain"
)

// Inputs is everything the aggregator needs, collected over the session.
type Inputs struct {
	Results        []domain.JudgeResult
	TrustScore     float64
	UserMessages   int
	TasksCompleted int
	TotalTasks     int
	Elapsed        time.Duration
	Duration       time.Duration
}

// Aggregator computes ScoringResults from accumulated session data. Weights
// and letter thresholds come from configuration, not code.
type Aggregator struct {
	cfg config.ScoringConfig
}

// NewAggregator creates an aggregator with the given policy.
func NewAggregator(cfg config.ScoringConfig) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Finalize computes the five axes and the weighted overall score. It is a
// pure function of its inputs; a session with no judge data still produces a
// valid (low) result.
func (a *Aggregator) Finalize(in Inputs) domain.ScoringResult {
	result := domain.ScoringResult{
		Correctness:   a.correctness(in),
		Optimality:    a.optimality(in),
		Style:         a.style(in),
		Communication: a.communication(in),
		Speed:         a.speed(in),
	}
	result.Overall = a.overall(result)
	result.Letter = a.letter(result.Overall)
	return result
}

func (a *Aggregator) correctness(in Inputs) float64 {
	if len(in.Results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range in.Results {
		sum += r.PassRate()
	}
	return clamp(100 * sum / float64(len(in.Results)))
}

// optimality rewards passing the hidden set fast. Hidden tests carry the
// complexity-sensitive cases, and a second of wall time on a toy input is
// already slow.
func (a *Aggregator) optimality(in Inputs) float64 {
	if len(in.Results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range in.Results {
		hidden := 0.0
		if r.HiddenTestsTotal > 0 {
			hidden = float64(r.HiddenTestsPassed) / float64(r.HiddenTestsTotal)
		} else if r.Passed {
			hidden = 1
		}
		axis := hidden * 100
		if r.MaxElapsedMs > 1000 {
			axis -= (r.MaxElapsedMs - 1000) / 100
		}
		sum += clamp(axis)
	}
	return clamp(sum / float64(len(in.Results)))
}

func (a *Aggregator) style(in Inputs) float64 {
	if len(in.Results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range in.Results {
		sum += r.Quality.Score
	}
	return clamp(10 * sum / float64(len(in.Results)))
}

// communication blends the trust score with chat participation. A silent
// candidate with perfect trust still lands mid-range.
func (a *Aggregator) communication(in Inputs) float64 {
	participation := float64(in.UserMessages) * 8
	if participation > 40 {
		participation = 40
	}
	return clamp(in.TrustScore*0.6 + participation)
}

// speed is the share of the time budget left, scaled by how much of the
// progression was actually finished.
func (a *Aggregator) speed(in Inputs) float64 {
	if in.TotalTasks == 0 || in.Duration <= 0 {
		return 0
	}
	remaining := 1 - float64(in.Elapsed)/float64(in.Duration)
	if remaining < 0 {
		remaining = 0
	}
	completion := float64(in.TasksCompleted) / float64(in.TotalTasks)
	return clamp(100 * (0.5*remaining + 0.5) * completion)
}

func (a *Aggregator) overall(r domain.ScoringResult) float64 {
	total := a.cfg.WeightCorrectness + a.cfg.WeightOptimality + a.cfg.WeightStyle +
		a.cfg.WeightCommunication + a.cfg.WeightSpeed
	if total <= 0 {
		return 0
	}
	weighted := r.Correctness*a.cfg.WeightCorrectness +
		r.Optimality*a.cfg.WeightOptimality +
		r.Style*a.cfg.WeightStyle +
		r.Communication*a.cfg.WeightCommunication +
		r.Speed*a.cfg.WeightSpeed
	return clamp(weighted / total)
}

func (a *Aggregator) letter(overall float64) string {
	thresholds := make([]config.LetterThreshold, len(a.cfg.LetterThresholds))
	copy(thresholds, a.cfg.LetterThresholds)
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i].Min > thresholds[j].Min })

	for _, t := range thresholds {
		if overall >= t.Min {
			return t.Letter
		}
	}
	return "F"
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
