package judge

import (
	"context"
	"log/slog"

	"github.com/hirecode/hirecode/internal/domain"
)

// StubJudge is the degraded backend used when no Docker daemon is reachable.
// Every submission fails its tests but the session keeps functioning, so the
// rest of the platform can be exercised without a sandbox.
type StubJudge struct{}

// NewStubJudge creates the degraded judge.
func NewStubJudge() *StubJudge {
	slog.Warn("Judge sandbox unavailable, submissions will not be executed")
	return &StubJudge{}
}

// Evaluate returns an all-failed verdict without executing anything.
func (s *StubJudge) Evaluate(_ context.Context, code string, _ Language, task domain.Task) (domain.JudgeResult, error) {
	result := domain.JudgeResult{
		TaskID:           task.ID,
		Passed:           false,
		HiddenTestsTotal: len(task.Tests.Hidden),
		Quality:          AnalyzeCode(code),
	}
	for _, test := range task.Tests.Visible {
		result.VisibleTests = append(result.VisibleTests, domain.TestRun{
			Input:    test.Input,
			Expected: test.Output,
			Stderr:   "judge sandbox unavailable",
		})
	}
	return result, nil
}
