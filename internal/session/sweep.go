package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/hirecode/hirecode/internal/store"
)

// StartDeadlineSweeper runs a background goroutine that periodically finishes
// sessions whose deadline passed without any inbound event to trigger the
// expiry check. Expiry converges on the same terminal transition as an
// explicit finish.
func StartDeadlineSweeper(ctx context.Context, repo store.Repository, mgr *Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Deadline sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, mgr)
			case <-ctx.Done():
				slog.Info("Deadline sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo store.Repository, mgr *Manager) {
	expired, err := repo.GetExpiredSessions(ctx, time.Now())
	if err != nil {
		slog.Error("Deadline sweep query failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	slog.Info("Deadline sweeper found overdue sessions", "count", len(expired))
	for _, sess := range expired {
		if err := mgr.finish(ctx, sess.ID, "deadline sweep"); err != nil {
			slog.Warn("Failed to finish overdue session", "session_id", sess.ID, "error", err)
		}
	}
}
