package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hirecode/hirecode/internal/anticheat"
	"github.com/hirecode/hirecode/internal/catalog"
	"github.com/hirecode/hirecode/internal/config"
	"github.com/hirecode/hirecode/internal/domain"
	"github.com/hirecode/hirecode/internal/interviewer"
	"github.com/hirecode/hirecode/internal/judge"
	"github.com/hirecode/hirecode/internal/progression"
	"github.com/hirecode/hirecode/internal/scoring"
	"github.com/hirecode/hirecode/internal/store"
)

// memRepo is an in-memory store.Repository for orchestrator tests.
type memRepo struct {
	mu           sync.Mutex
	sessions     map[string]domain.Session
	createdState map[string]domain.SessionState
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions:     make(map[string]domain.Session),
		createdState: make(map[string]domain.SessionState),
	}
}

func (r *memRepo) CreateSession(_ context.Context, sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.ID]; exists {
		return fmt.Errorf("duplicate session %s", sess.ID)
	}
	r.sessions[sess.ID] = cloneSession(sess)
	r.createdState[sess.ID] = sess.State
	return nil
}

func (r *memRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	out := cloneSession(&sess)
	return &out, nil
}

func (r *memRepo) SaveSession(_ context.Context, sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (r *memRepo) ListRecentSessions(_ context.Context, limit int) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, sess := range r.sessions {
		if len(out) >= limit {
			break
		}
		c := cloneSession(&sess)
		out = append(out, &c)
	}
	return out, nil
}

func (r *memRepo) GetExpiredSessions(_ context.Context, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, sess := range r.sessions {
		if sess.State == domain.StateActive && !now.Before(sess.Deadline) {
			c := cloneSession(&sess)
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

var _ store.Repository = (*memRepo)(nil)

// scriptedJudge returns a pass or fail verdict depending on the submission.
type scriptedJudge struct{}

func (scriptedJudge) Evaluate(_ context.Context, code string, _ judge.Language, task domain.Task) (domain.JudgeResult, error) {
	passed := code == "pass"
	runs := make([]domain.TestRun, len(task.Tests.Visible))
	for i, tc := range task.Tests.Visible {
		runs[i] = domain.TestRun{Input: tc.Input, Expected: tc.Output, Passed: passed}
	}
	hidden := 0
	if passed {
		hidden = len(task.Tests.Hidden)
	}
	return domain.JudgeResult{
		TaskID:            task.ID,
		Passed:            passed,
		VisibleTests:      runs,
		HiddenTestsPassed: hidden,
		HiddenTestsTotal:  len(task.Tests.Hidden),
		Quality:           domain.CodeQuality{Score: 8},
	}, nil
}

// erringJudge fails every evaluation with a fixed error.
type erringJudge struct {
	err error
}

func (j erringJudge) Evaluate(_ context.Context, _ string, _ judge.Language, task domain.Task) (domain.JudgeResult, error) {
	if errors.Is(j.err, judge.ErrTimeout) {
		return judge.TimedOutResult(task), j.err
	}
	return domain.JudgeResult{}, j.err
}

// blockingJudge parks Evaluate until released, so tests can interleave other
// operations with an in-flight verdict.
type blockingJudge struct {
	started chan struct{}
	release chan struct{}
}

func (j *blockingJudge) Evaluate(_ context.Context, _ string, _ judge.Language, task domain.Task) (domain.JudgeResult, error) {
	close(j.started)
	<-j.release
	return domain.JudgeResult{TaskID: task.ID, Passed: true}, nil
}

type scriptedInterviewer struct {
	chunks []string
}

func (s scriptedInterviewer) StreamReply(context.Context, interviewer.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		SessionDuration:  45 * time.Minute,
		TotalTasks:       3,
		SweepInterval:    30 * time.Second,
		CompletionPolicy: config.CompletionAllTests,
		AntiCheat: config.AntiCheatConfig{
			PasteCharThreshold:  300,
			LargePasteWarnChars: 600,
			PerTypePenaltyCap:   45,
		},
		Scoring: config.ScoringConfig{
			WeightCorrectness:   0.35,
			WeightOptimality:    0.20,
			WeightStyle:         0.15,
			WeightCommunication: 0.15,
			WeightSpeed:         0.15,
			LetterThresholds: []config.LetterThreshold{
				{Min: 90, Letter: "A"},
				{Min: 75, Letter: "B"},
				{Min: 60, Letter: "C"},
				{Min: 40, Letter: "D"},
			},
		},
	}
}

func testCatalog(t *testing.T, count int) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < count; i++ {
		data := fmt.Sprintf(`{
			"id": "task-%d",
			"stack": "python",
			"title": "Task %d",
			"description": "solve it",
			"difficulty": %d,
			"tests": {
				"visible": [{"input": "1", "output": "1"}],
				"hidden": [{"input": "2", "output": "2"}]
			}
		}`, i, i, 1400+i*100)
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("task-%d.json", i)), []byte(data), 0o644); err != nil {
			t.Fatalf("write task fixture: %v", err)
		}
	}
	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func newTestManager(t *testing.T, cfg *config.Config, repo store.Repository) *Manager {
	t.Helper()
	return newTestManagerJudge(t, cfg, repo, scriptedJudge{})
}

func newTestManagerJudge(t *testing.T, cfg *config.Config, repo store.Repository, j judge.Judge) *Manager {
	t.Helper()
	cat := testCatalog(t, 5)
	return NewManager(
		cfg,
		repo,
		cat,
		progression.NewController(cat, cfg.CompletionPolicy),
		anticheat.NewEngine(cfg.AntiCheat),
		j,
		scriptedInterviewer{chunks: []string{"Looks ", "good."}},
		scoring.NewAggregator(cfg.Scoring),
	)
}

func startSession(t *testing.T, m *Manager) *StartOutcome {
	t.Helper()
	out, err := m.StartSession(context.Background(), domain.CandidateProfile{
		Name:  "Ada Lovelace",
		Stack: "python",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return out
}

func TestStartSessionPicksFirstTask(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	if out.Session.State != domain.StateActive {
		t.Errorf("state = %q, want active", out.Session.State)
	}
	if out.Task.ID == "" {
		t.Error("expected a first task")
	}
	if len(out.Task.Tests.Hidden) != 0 {
		t.Error("hidden tests leaked to the candidate")
	}
	if got := out.Session.Progress(); got.TasksCompleted != 0 || got.TotalTasks != 3 {
		t.Errorf("progress = %+v, want 0/3", got)
	}
}

func TestStartSessionValidation(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())

	_, err := m.StartSession(context.Background(), domain.CandidateProfile{Stack: "python"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("missing name: err = %v, want ErrValidation", err)
	}
	_, err = m.StartSession(context.Background(), domain.CandidateProfile{Name: "Ada"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("missing stack: err = %v, want ErrValidation", err)
	}
}

func TestStartSessionEmptyCatalog(t *testing.T) {
	cfg := testConfig()
	cat := testCatalog(t, 0)
	m := NewManager(cfg, newMemRepo(), cat,
		progression.NewController(cat, cfg.CompletionPolicy),
		anticheat.NewEngine(cfg.AntiCheat),
		scriptedJudge{}, scriptedInterviewer{}, scoring.NewAggregator(cfg.Scoring))

	_, err := m.StartSession(context.Background(), domain.CandidateProfile{Name: "Ada", Stack: "python"})
	if !errors.Is(err, catalog.ErrEmpty) {
		t.Errorf("err = %v, want catalog.ErrEmpty", err)
	}
}

func TestSubmitPassingTaskAdvances(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	sub, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "pass", "python")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if !sub.Result.Passed {
		t.Error("expected passing verdict")
	}
	if sub.Progress.TasksCompleted != 1 {
		t.Errorf("tasks_completed = %d, want 1", sub.Progress.TasksCompleted)
	}
	if sub.NextTask == nil {
		t.Fatal("expected a next task")
	}
	if sub.NextTask.ID == out.Task.ID {
		t.Error("next task repeats the finished one")
	}
	if sub.Scoring != nil {
		t.Error("scoring must be absent before finish")
	}
}

func TestSubmitFailingTaskDoesNotAdvance(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	sub, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "fail", "python")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Result.Passed {
		t.Error("expected failing verdict")
	}
	if sub.Progress.TasksCompleted != 0 {
		t.Errorf("tasks_completed = %d, want 0", sub.Progress.TasksCompleted)
	}
	if sub.NextTask != nil {
		t.Error("failed submission must not advance")
	}
}

func TestSubmitJudgeTimeoutRecordsFailure(t *testing.T) {
	m := newTestManagerJudge(t, testConfig(), newMemRepo(), erringJudge{err: judge.ErrTimeout})
	out := startSession(t, m)

	sub, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "pass", "python")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Result.Passed {
		t.Error("timed-out verdict must be a failure")
	}
	if !sub.Result.TimedOut {
		t.Error("expected the result to be marked timed out")
	}
	if sub.NextTask != nil {
		t.Error("timed-out submission must not advance")
	}

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.IsFinished() {
		t.Error("session must stay active after a judge timeout")
	}
}

func TestSubmitJudgeUnavailableRecordsFailure(t *testing.T) {
	jerr := fmt.Errorf("%w: cannot connect to the daemon", judge.ErrUnavailable)
	m := newTestManagerJudge(t, testConfig(), newMemRepo(), erringJudge{err: jerr})
	out := startSession(t, m)

	sub, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "pass", "python")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Result.Passed {
		t.Error("unavailable-judge verdict must be a failure")
	}
	if sub.Result.TimedOut {
		t.Error("unavailable is not a timeout")
	}

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.IsFinished() {
		t.Error("session must stay active when the judge is unreachable")
	}
}

func TestSubmitTaskMismatch(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	_, err := m.SubmitCode(context.Background(), out.Session.ID, "not-the-current-task", "pass", "python")
	if !errors.Is(err, ErrTaskMismatch) {
		t.Errorf("err = %v, want ErrTaskMismatch", err)
	}

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.CurrentTaskID != out.Task.ID {
		t.Error("mismatched submit changed session state")
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	_, err := m.SubmitCode(context.Background(), "ghost", "task-0", "pass", "python")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTaskExhaustionFinishesSession(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	taskID := out.Task.ID
	var last *SubmitOutcome
	for i := 0; i < 3; i++ {
		sub, err := m.SubmitCode(context.Background(), out.Session.ID, taskID, "pass", "python")
		if err != nil {
			t.Fatalf("SubmitCode %d: %v", i, err)
		}
		last = sub
		if sub.NextTask != nil {
			taskID = sub.NextTask.ID
		}
	}

	if last.Scoring == nil {
		t.Fatal("expected scoring after the last task")
	}
	if last.Progress.TasksCompleted != 3 {
		t.Errorf("tasks_completed = %d, want 3", last.Progress.TasksCompleted)
	}

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.IsFinished() {
		t.Error("session must be finished after task exhaustion")
	}
}

func TestFinishSessionIdempotent(t *testing.T) {
	repo := newMemRepo()
	m := newTestManager(t, testConfig(), repo)
	out := startSession(t, m)

	if err := m.FinishSession(context.Background(), out.Session.ID); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	first, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.Scoring == nil {
		t.Fatal("finished session has no scoring")
	}

	if err := m.FinishSession(context.Background(), out.Session.ID); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	second, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *second.Scoring != *first.Scoring {
		t.Errorf("re-finish changed scoring: %+v vs %+v", second.Scoring, first.Scoring)
	}
}

func TestFinishDuringJudgeRunReportsFinalProgress(t *testing.T) {
	bj := &blockingJudge{started: make(chan struct{}), release: make(chan struct{})}
	m := newTestManagerJudge(t, testConfig(), newMemRepo(), bj)
	out := startSession(t, m)

	type submitReply struct {
		out *SubmitOutcome
		err error
	}
	done := make(chan submitReply, 1)
	go func() {
		sub, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "pass", "python")
		done <- submitReply{sub, err}
	}()

	<-bj.started
	if err := m.FinishSession(context.Background(), out.Session.ID); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	close(bj.release)

	reply := <-done
	if reply.err != nil {
		t.Fatalf("SubmitCode: %v", reply.err)
	}
	if reply.out.Progress.TotalTasks != 3 {
		t.Errorf("progress total = %d, want 3", reply.out.Progress.TotalTasks)
	}
	if reply.out.Progress.Deadline.IsZero() {
		t.Error("final progress is missing the deadline")
	}
	if reply.out.Scoring == nil {
		t.Error("expected the finished session's scoring in the outcome")
	}
}

func TestStartSessionPassesThroughCreated(t *testing.T) {
	repo := newMemRepo()
	m := newTestManager(t, testConfig(), repo)
	out := startSession(t, m)

	repo.mu.Lock()
	created := repo.createdState[out.Session.ID]
	repo.mu.Unlock()
	if created != domain.StateCreated {
		t.Errorf("state at creation = %q, want created", created)
	}
	if out.Session.State != domain.StateActive {
		t.Errorf("state after start = %q, want active", out.Session.State)
	}
}

func TestFinishUnknownSession(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	if err := m.FinishSession(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestZeroTaskSessionStillScores(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	if err := m.FinishSession(context.Background(), out.Session.ID); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Scoring == nil {
		t.Fatal("expected a valid scoring result with zero completed tasks")
	}
	if sess.Scoring.Overall < 0 || sess.Scoring.Overall > 100 {
		t.Errorf("overall = %v, want within [0,100]", sess.Scoring.Overall)
	}
}

func TestDeadlineExpiryOnSubmit(t *testing.T) {
	cfg := testConfig()
	cfg.SessionDuration = -time.Minute // already past due at creation
	m := newTestManager(t, cfg, newMemRepo())
	out := startSession(t, m)

	_, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "pass", "python")
	if err != nil && !errors.Is(err, ErrFinished) {
		t.Fatalf("SubmitCode: %v", err)
	}

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.IsFinished() {
		t.Error("overdue session must auto-finish on inbound activity")
	}
	if sess.Scoring == nil {
		t.Error("auto-finished session must still be scored")
	}
}

func TestDeadlineSweepFinishesQuietSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SessionDuration = -time.Minute
	repo := newMemRepo()
	m := newTestManager(t, cfg, repo)
	out := startSession(t, m)

	sweepExpiredSessions(context.Background(), repo, m)

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.IsFinished() {
		t.Error("sweep must finish overdue sessions")
	}
}

func TestReconnectPreservesProgress(t *testing.T) {
	repo := newMemRepo()
	m := newTestManager(t, testConfig(), repo)
	out := startSession(t, m)

	sub, err := m.SubmitCode(context.Background(), out.Session.ID, out.Task.ID, "pass", "python")
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if sub.Progress.TasksCompleted != 1 {
		t.Fatalf("tasks_completed = %d, want 1", sub.Progress.TasksCompleted)
	}

	// A fresh manager over the same store models a server restart: the
	// session is the durable unit, the channel and runtime are ephemeral.
	m2 := newTestManager(t, testConfig(), repo)
	sub2, err := m2.SubmitCode(context.Background(), out.Session.ID, sub.NextTask.ID, "pass", "python")
	if err != nil {
		t.Fatalf("SubmitCode after revive: %v", err)
	}
	if sub2.Progress.TasksCompleted != 2 {
		t.Errorf("tasks_completed after revive = %d, want 2", sub2.Progress.TasksCompleted)
	}
}

func TestTelemetryLowersTrustAndBroadcasts(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	rt, err := m.runtimeFor(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("runtimeFor: %v", err)
	}

	m.applyTelemetry(rt, domain.TelemetryEvent{
		Type:      "anticheat:devtools",
		Payload:   map[string]any{"penalty": float64(30)},
		Timestamp: time.Now(),
	})

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.TrustScore != 70 {
		t.Errorf("trust score = %v, want 70", sess.TrustScore)
	}

	select {
	case msg := <-rt.outbound:
		update, ok := msg.(trustUpdate)
		if !ok {
			t.Fatalf("outbound message = %T, want trustUpdate", msg)
		}
		if update.Type != typeTrust || update.TrustScore != 70 {
			t.Errorf("broadcast = %+v, want anticheat/70", update)
		}
	default:
		t.Fatal("expected a trust broadcast on the outbound queue")
	}
}

func TestLargePasteTriggersWarning(t *testing.T) {
	m := newTestManager(t, testConfig(), newMemRepo())
	out := startSession(t, m)

	rt, err := m.runtimeFor(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("runtimeFor: %v", err)
	}

	m.applyTelemetry(rt, domain.TelemetryEvent{
		Type:      "anticheat:paste",
		Payload:   map[string]any{"chars": float64(900)},
		Timestamp: time.Now(),
	})

	sess, err := m.Get(context.Background(), out.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	found := false
	for _, msg := range sess.Transcript {
		if msg.Role == "ai" {
			found = true
		}
	}
	if !found {
		t.Error("expected the interviewer's paste challenge in the transcript")
	}
}
