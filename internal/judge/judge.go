// Package judge evaluates code submissions against task tests inside
// throwaway sandbox containers.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hirecode/hirecode/internal/domain"
)

var (
	// ErrTimeout indicates the judge did not respond within its bounded wait.
	ErrTimeout = errors.New("judge: evaluation timed out")
	// ErrUnavailable indicates the sandbox backend cannot be reached.
	ErrUnavailable = errors.New("judge: backend unavailable")
	// ErrUnsupportedLanguage indicates the submission language has no runner config.
	ErrUnsupportedLanguage = errors.New("judge: unsupported language")
)

// Language identifies a supported submission language.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangJava       Language = "java"
	LangCPP        Language = "cpp"
)

// ParseLanguage validates a wire language string.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(s)) {
	case LangPython:
		return LangPython, nil
	case LangJavaScript:
		return LangJavaScript, nil
	case LangJava:
		return LangJava, nil
	case LangCPP:
		return LangCPP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
}

// Judge is the external grading collaborator.
type Judge interface {
	// Evaluate runs the submission against every test of the task and
	// returns the aggregated verdict. Implementations must respect ctx
	// cancellation and bound their own execution time.
	Evaluate(ctx context.Context, code string, lang Language, task domain.Task) (domain.JudgeResult, error)
}

// TimedOutResult builds the failed-but-complete result recorded when the
// sandbox does not answer in time. The session keeps going.
func TimedOutResult(task domain.Task) domain.JudgeResult {
	return domain.JudgeResult{
		TaskID:           task.ID,
		Passed:           false,
		HiddenTestsTotal: len(task.Tests.Hidden),
		TimedOut:         true,
	}
}

// evalBudget caps a single Evaluate call including the one transient retry.
func evalBudget(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
