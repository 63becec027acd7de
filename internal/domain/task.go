package domain

// TestCase is a single stdin/stdout pair a submission is judged against.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// TaskTests groups the visible examples and the hidden grading set.
type TaskTests struct {
	Visible []TestCase `json:"visible"`
	Hidden  []TestCase `json:"hidden"`
}

// Task is a coding problem instance drawn from the catalog.
// Immutable once assigned to a session.
type Task struct {
	ID          string    `json:"id"`
	Stack       string    `json:"stack"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FollowUp    []string  `json:"follow_up,omitempty"`
	Difficulty  int       `json:"difficulty"`
	Elo         int       `json:"elo"`
	Tests       TaskTests `json:"tests"`
}

// Public strips the hidden test set before a task is sent to a candidate.
func (t Task) Public() Task {
	t.Tests.Hidden = nil
	return t
}
