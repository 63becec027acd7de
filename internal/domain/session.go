// Package domain contains core domain types for the HireCode platform.
package domain

import (
	"time"
)

// SessionState is the lifecycle state of an interview session.
type SessionState string

const (
	// StateCreated means the session row exists but the interview has not begun.
	StateCreated SessionState = "created"
	// StateActive means the candidate is working against the deadline.
	StateActive SessionState = "active"
	// StateFinished is terminal; no further mutation is accepted.
	StateFinished SessionState = "finished"
)

// CandidateProfile holds the candidate-supplied identity fields.
type CandidateProfile struct {
	Name     string `json:"candidate_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	Position string `json:"position,omitempty"`
	Stack    string `json:"stack"`
}

// Session represents one candidate's timed interview attempt.
type Session struct {
	ID             string
	Candidate      CandidateProfile
	State          SessionState
	Deadline       time.Time
	TrustScore     float64
	Rating         int
	TasksCompleted int
	TotalTasks     int
	CurrentTaskID  string
	Penalties      map[string]float64 // event type -> cumulative trust penalty
	LatestCode     map[string]string  // task ID -> last submitted source
	Transcript     []ChatMessage
	Scoring        *ScoringResult
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsFinished reports whether the session reached its terminal state.
func (s *Session) IsFinished() bool {
	return s.State == StateFinished
}

// Expired reports whether the wall-clock deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

// Progress returns the session's progression snapshot.
func (s *Session) Progress() ProgressState {
	return ProgressState{
		TasksCompleted: s.TasksCompleted,
		TotalTasks:     s.TotalTasks,
		Deadline:       s.Deadline,
	}
}

// AppendMessage records a chat message preserving insertion order.
func (s *Session) AppendMessage(role, content string) {
	s.Transcript = append(s.Transcript, ChatMessage{
		Role:     role,
		Content:  content,
		Sequence: len(s.Transcript),
	})
}

// ProgressState is the task-progression snapshot exposed to clients.
type ProgressState struct {
	TasksCompleted int       `json:"tasks_completed"`
	TotalTasks     int       `json:"total_tasks"`
	Deadline       time.Time `json:"deadline"`
}

// ChatMessage is one transcript entry. AI chunks are coalesced before storage.
type ChatMessage struct {
	Role     string `json:"role"` // "user", "ai" or "system"
	Content  string `json:"content"`
	Sequence int    `json:"sequence_order"`
}

// TelemetryEvent is a single anti-cheat signal from the candidate's browser.
type TelemetryEvent struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}
