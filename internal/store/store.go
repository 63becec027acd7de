// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/hirecode/hirecode/internal/domain"
)

// Repository defines the interface for persisting interview sessions.
type Repository interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID. Returns (nil, nil) when not found.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession persists the mutable fields of an existing session.
	SaveSession(ctx context.Context, session *domain.Session) error

	// ListRecentSessions returns up to limit sessions ordered by most recent
	// update, for the recruiter overview.
	ListRecentSessions(ctx context.Context, limit int) ([]*domain.Session, error)

	// GetExpiredSessions retrieves active sessions whose deadline has passed.
	GetExpiredSessions(ctx context.Context, now time.Time) ([]*domain.Session, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
