// Package progression drives adaptive task selection across a session.
package progression

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hirecode/hirecode/internal/catalog"
	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/domain"
)

const (
	// DefaultRating is the implicit starting rating for a candidate.
	DefaultRating = 1500
	kFactor       = 32.0
)

// Controller selects tasks and tracks completion against the deadline.
type Controller struct {
	catalog *catalog.Catalog
	policy  config.CompletionPolicy
}

// NewController creates a progression controller over the given catalog.
func NewController(cat *catalog.Catalog, policy config.CompletionPolicy) *Controller {
	return &Controller{catalog: cat, policy: policy}
}

// FirstTask picks the opening task for a stack, closest to the default rating.
func (c *Controller) FirstTask(stack string) (domain.Task, error) {
	return c.pick(stack, DefaultRating, nil)
}

// Completed reports whether a judge result satisfies the completion policy.
func (c *Controller) Completed(result domain.JudgeResult) bool {
	if c.policy == config.CompletionOnSubmit {
		return true
	}
	return result.Passed
}

// Advance records a completed task and returns the next one, or ok=false when
// the progression is exhausted. The candidate's rating moves by an Elo update
// against the finished task's difficulty, and the next task is the unseen one
// whose difficulty is closest to the new rating.
func (c *Controller) Advance(sess *domain.Session, finished domain.Task, passed bool) (domain.Task, bool) {
	if sess.TasksCompleted < sess.TotalTasks {
		sess.TasksCompleted++
	}
	sess.Rating = UpdateRating(sess.Rating, finished.Difficulty, passed)

	if sess.TasksCompleted >= sess.TotalTasks {
		return domain.Task{}, false
	}

	exclude := map[string]bool{finished.ID: true}
	for taskID := range sess.LatestCode {
		exclude[taskID] = true
	}

	next, err := c.pick(sess.Candidate.Stack, sess.Rating, exclude)
	if err != nil {
		// Catalog smaller than total_tasks: allow repeats rather than stalling.
		next, err = c.pick(sess.Candidate.Stack, sess.Rating, nil)
		if err != nil {
			return domain.Task{}, false
		}
	}

	slog.Debug("Task progression advanced",
		"session_id", sess.ID,
		"rating", sess.Rating,
		"next_task", next.ID,
		"tasks_completed", sess.TasksCompleted,
	)
	return next, true
}

// IsExpired reports whether the session deadline has passed at the given instant.
func (c *Controller) IsExpired(sess *domain.Session, now time.Time) bool {
	return sess.Expired(now)
}

func (c *Controller) pick(stack string, rating int, exclude map[string]bool) (domain.Task, error) {
	candidates := c.catalog.ByStack(stack)

	var best domain.Task
	bestDist := math.MaxFloat64
	found := false
	for _, task := range candidates {
		if exclude[task.ID] {
			continue
		}
		dist := math.Abs(float64(task.Difficulty - rating))
		if dist < bestDist {
			best = task
			bestDist = dist
			found = true
		}
	}
	if !found {
		return domain.Task{}, fmt.Errorf("pick task for stack %q: %w", stack, catalog.ErrEmpty)
	}
	return best, nil
}

// UpdateRating applies an Elo-style rating update from one task outcome.
func UpdateRating(rating, difficulty int, passed bool) int {
	expected := 1.0 / (1.0 + math.Pow(10, float64(difficulty-rating)/400.0))
	outcome := 0.0
	if passed {
		outcome = 1.0
	}
	return rating + int(math.Round(kFactor*(outcome-expected)))
}
