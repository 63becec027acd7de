package judge

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/domain"
)

const (
	workspaceDir = "/workspace"
	pidsLimit    = 256
)

type languageSpec struct {
	image    string
	filename string
	command  string
}

var languageSpecs = map[Language]languageSpec{
	LangPython:     {image: "python:3.12-slim", filename: "Main.py", command: "python Main.py < input.txt"},
	LangJavaScript: {image: "node:22-alpine", filename: "Main.js", command: "node Main.js < input.txt"},
	LangJava:       {image: "openjdk:21-slim", filename: "Main.java", command: "javac Main.java && java Main < input.txt"},
	LangCPP:        {image: "gcc:14", filename: "Main.cpp", command: "g++ Main.cpp -O2 -std=c++20 && ./a.out < input.txt"},
}

// DockerJudge runs submissions inside single-use containers with no network
// and a hard memory cap.
type DockerJudge struct {
	cli *client.Client
	cfg config.JudgeConfig
}

// NewDockerJudge creates a judge backed by the local Docker daemon.
func NewDockerJudge(cfg config.JudgeConfig) (*DockerJudge, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	slog.Info("Judge sandbox initialized", "runtime", cfg.ContainerRuntime)
	return &DockerJudge{cli: cli, cfg: cfg}, nil
}

// Evaluate runs the submission against every visible and hidden test.
// The whole evaluation shares one bounded time budget; on expiry a
// TimedOutResult is returned together with ErrTimeout. A daemon that
// cannot be reached surfaces as ErrUnavailable.
func (j *DockerJudge) Evaluate(ctx context.Context, code string, lang Language, task domain.Task) (domain.JudgeResult, error) {
	spec, ok := languageSpecs[lang]
	if !ok {
		return domain.JudgeResult{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	ctx, cancel := evalBudget(ctx, j.cfg.Timeout)
	defer cancel()

	result := domain.JudgeResult{
		TaskID:           task.ID,
		Passed:           true,
		HiddenTestsTotal: len(task.Tests.Hidden),
		Quality:          AnalyzeCode(code),
	}

	for _, test := range task.Tests.Visible {
		run, err := j.runTest(ctx, spec, code, test)
		if err != nil {
			return j.mapRunError(task, err)
		}
		result.Passed = result.Passed && run.Passed
		if run.ElapsedMs > result.MaxElapsedMs {
			result.MaxElapsedMs = run.ElapsedMs
		}
		result.VisibleTests = append(result.VisibleTests, run)
	}

	for _, test := range task.Tests.Hidden {
		run, err := j.runTest(ctx, spec, code, test)
		if err != nil {
			return j.mapRunError(task, err)
		}
		if run.Passed {
			result.HiddenTestsPassed++
		}
		result.Passed = result.Passed && run.Passed
		if run.ElapsedMs > result.MaxElapsedMs {
			result.MaxElapsedMs = run.ElapsedMs
		}
	}

	return result, nil
}

func (j *DockerJudge) mapRunError(task domain.Task, err error) (domain.JudgeResult, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOutResult(task), ErrTimeout
	}
	if isUnavailable(err) {
		return domain.JudgeResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return domain.JudgeResult{}, err
}

// isUnavailable reports whether the daemon itself is unreachable, as opposed
// to a failure of this particular run.
func isUnavailable(err error) bool {
	return client.IsErrConnectionFailed(err) || errdefs.IsUnavailable(err)
}

// runTest executes the code once with the test input. A transient daemon
// error is retried at most once.
func (j *DockerJudge) runTest(ctx context.Context, spec languageSpec, code string, test domain.TestCase) (domain.TestRun, error) {
	run, err := j.runOnce(ctx, spec, code, test)
	if err != nil && ctx.Err() == nil && isTransient(err) {
		slog.Warn("Judge run failed, retrying once", "error", err)
		run, err = j.runOnce(ctx, spec, code, test)
	}
	return run, err
}

func (j *DockerJudge) runOnce(ctx context.Context, spec languageSpec, code string, test domain.TestCase) (domain.TestRun, error) {
	name := "hirecode-runner-" + uuid.NewString()

	cfg := &container.Config{
		Image:      spec.image,
		Cmd:        []string{"sh", "-c", "cd " + workspaceDir + " && " + spec.command},
		WorkingDir: workspaceDir,
	}
	hostCfg := &container.HostConfig{
		Runtime:     j.cfg.ContainerRuntime,
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    j.cfg.MemoryLimitBytes,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	created, err := j.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return domain.TestRun{}, fmt.Errorf("create runner container: %w", err)
	}
	defer j.removeContainer(created.ID)

	archive, err := workspaceArchive(map[string][]byte{
		spec.filename: []byte(code),
		"input.txt":   []byte(test.Input),
	})
	if err != nil {
		return domain.TestRun{}, err
	}
	if err := j.cli.CopyToContainer(ctx, created.ID, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return domain.TestRun{}, fmt.Errorf("copy workspace into container: %w", err)
	}

	start := time.Now()
	if err := j.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return domain.TestRun{}, fmt.Errorf("start runner container: %w", err)
	}

	exitCode, err := j.waitForExit(ctx, created.ID)
	if err != nil {
		return domain.TestRun{}, err
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	stdout, stderr, err := j.collectLogs(ctx, created.ID)
	if err != nil {
		return domain.TestRun{}, err
	}

	passed := exitCode == 0 && strings.TrimSpace(stdout) == strings.TrimSpace(test.Output)
	return domain.TestRun{
		Input:     test.Input,
		Expected:  test.Output,
		Stdout:    stdout,
		Stderr:    stderr,
		Passed:    passed,
		ElapsedMs: elapsed,
	}, nil
}

func (j *DockerJudge) waitForExit(ctx context.Context, containerID string) (int64, error) {
	waitCh, errCh := j.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		if status.Error != nil {
			return 0, fmt.Errorf("runner wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("runner wait: %w", err)
	}
}

func (j *DockerJudge) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	logs, err := j.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("read runner logs: %w", err)
	}
	defer func() {
		if closeErr := logs.Close(); closeErr != nil {
			slog.Debug("Failed to close runner log stream", "error", closeErr)
		}
	}()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("demux runner logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// removeContainer force-removes a runner. Cleanup runs on its own context so
// a judge timeout still tears the container down.
func (j *DockerJudge) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return
		}
		slog.Warn("Failed to remove runner container", "container_id", containerID, "error", err)
	}
}

func isTransient(err error) bool {
	return errdefs.IsUnavailable(err) || errdefs.IsConflict(err) ||
		strings.Contains(err.Error(), "is already in use")
}

// workspaceArchive builds the tar stream the docker daemon unpacks into the
// container root, placing files under /workspace.
func workspaceArchive(files map[string][]byte) (*bytes.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		hdr := &tar.Header{
			Name: "workspace/" + name,
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("write tar entry %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar writer: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}

func ptr[T any](v T) *T {
	return &v
}
