package session

import "errors"

var (
	// ErrNotFound means no session exists with the given ID.
	ErrNotFound = errors.New("session not found")
	// ErrFinished means the session reached its terminal state and accepts
	// no further mutation. Finish itself treats this as success.
	ErrFinished = errors.New("session already finished")
	// ErrTaskMismatch means a submission targeted a task that is not the
	// session's current task.
	ErrTaskMismatch = errors.New("task mismatch")
	// ErrValidation means the request was malformed.
	ErrValidation = errors.New("invalid request")
)
