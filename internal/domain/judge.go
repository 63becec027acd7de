package domain

// TestRun is the outcome of executing the submission against one visible test.
type TestRun struct {
	Input     string  `json:"input"`
	Expected  string  `json:"expected"`
	Stdout    string  `json:"stdout"`
	Stderr    string  `json:"stderr,omitempty"`
	Passed    bool    `json:"passed"`
	ElapsedMs float64 `json:"elapsed_ms"`
}

// CodeQuality carries cheap static metrics over the submitted source.
type CodeQuality struct {
	Lines      int     `json:"lines"`
	MaxNesting int     `json:"max_nesting"`
	Score      float64 `json:"score"` // 0..10
}

// JudgeResult is the judge collaborator's verdict for one submission.
type JudgeResult struct {
	TaskID            string      `json:"task_id"`
	Passed            bool        `json:"passed"`
	VisibleTests      []TestRun   `json:"visible_tests"`
	HiddenTestsPassed int         `json:"hidden_tests_passed"`
	HiddenTestsTotal  int         `json:"hidden_tests_total"`
	MaxElapsedMs      float64     `json:"max_elapsed_ms"`
	Quality           CodeQuality `json:"code_quality"`
	TimedOut          bool        `json:"timed_out,omitempty"`
}

// PassRate returns the fraction of all tests (visible + hidden) that passed.
func (r JudgeResult) PassRate() float64 {
	total := len(r.VisibleTests) + r.HiddenTestsTotal
	if total == 0 {
		return 0
	}
	passed := r.HiddenTestsPassed
	for _, t := range r.VisibleTests {
		if t.Passed {
			passed++
		}
	}
	return float64(passed) / float64(total)
}
