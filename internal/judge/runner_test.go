package judge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"

	"github.com/hirecode/hirecode/internal/domain"
)

func TestMapRunErrorTimeout(t *testing.T) {
	j := &DockerJudge{}
	task := domain.Task{ID: "two-sum", Tests: domain.TaskTests{Hidden: []domain.TestCase{{}, {}}}}

	result, err := j.mapRunError(task, fmt.Errorf("runner wait: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if result.Passed || !result.TimedOut {
		t.Fatalf("expected failed timed-out result, got %+v", result)
	}
	if result.HiddenTestsTotal != 2 {
		t.Fatalf("HiddenTestsTotal = %d, want 2", result.HiddenTestsTotal)
	}
}

func TestMapRunErrorDaemonUnreachable(t *testing.T) {
	j := &DockerJudge{}
	wrapped := fmt.Errorf("create runner container: %w", errdefs.ErrUnavailable)

	_, err := j.mapRunError(domain.Task{ID: "two-sum"}, wrapped)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestMapRunErrorConnectionFailed(t *testing.T) {
	cli, err := client.NewClientWithOpts(client.WithHost("unix:///nonexistent/judge-test.sock"))
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	_, pingErr := cli.Ping(context.Background())
	if pingErr == nil {
		t.Skip("unexpected daemon listening on test socket")
	}

	j := &DockerJudge{}
	_, mapped := j.mapRunError(domain.Task{ID: "two-sum"}, fmt.Errorf("start runner container: %w", pingErr))
	if !errors.Is(mapped, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for daemon connection failure, got %v", mapped)
	}
}

func TestMapRunErrorPassesThroughRunFailures(t *testing.T) {
	j := &DockerJudge{}
	plain := errors.New("copy workspace into container: unexpected EOF")

	_, err := j.mapRunError(domain.Task{ID: "two-sum"}, plain)
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
		t.Fatalf("run failure should not be reclassified, got %v", err)
	}
}
