// Package session implements the interview session orchestrator: the state
// machine owning each candidate's lifecycle, the channel multiplexer, and the
// chat relay between candidate and AI interviewer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
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

const persistTimeout = 5 * time.Second

// Manager owns all active sessions and is the only writer of session state.
// Every mutation goes through a per-session command queue, so concurrent HTTP
// calls and channel events never interleave partial updates.
type Manager struct {
	cfg     *config.Config
	repo    store.Repository
	catalog *catalog.Catalog
	prog    *progression.Controller
	trust   *anticheat.Engine
	judge   judge.Judge
	ai      interviewer.Interviewer
	scorer  *scoring.Aggregator

	mu       sync.RWMutex
	sessions map[string]*runtime
}

// NewManager wires the orchestrator's collaborators together.
func NewManager(
	cfg *config.Config,
	repo store.Repository,
	cat *catalog.Catalog,
	prog *progression.Controller,
	trust *anticheat.Engine,
	jdg judge.Judge,
	ai interviewer.Interviewer,
	scorer *scoring.Aggregator,
) *Manager {
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		catalog:  cat,
		prog:     prog,
		trust:    trust,
		judge:    jdg,
		ai:       ai,
		scorer:   scorer,
		sessions: make(map[string]*runtime),
	}
}

// StartOutcome is the reply to a successful session start.
type StartOutcome struct {
	Session domain.Session
	Task    domain.Task
}

// SubmitOutcome is the reply to a code submission.
type SubmitOutcome struct {
	Result   domain.JudgeResult
	Progress domain.ProgressState
	NextTask *domain.Task
	Scoring  *domain.ScoringResult
}

// StartSession allocates a session for the candidate, picks the opening task
// for the declared stack, and starts the deadline clock.
func (m *Manager) StartSession(ctx context.Context, profile domain.CandidateProfile) (*StartOutcome, error) {
	if strings.TrimSpace(profile.Name) == "" {
		return nil, fmt.Errorf("%w: candidate name is required", ErrValidation)
	}
	if strings.TrimSpace(profile.Stack) == "" {
		return nil, fmt.Errorf("%w: stack is required", ErrValidation)
	}

	task, err := m.prog.FirstTask(profile.Stack)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:            uuid.NewString(),
		Candidate:     profile,
		State:         domain.StateCreated,
		Deadline:      now.Add(m.cfg.SessionDuration),
		TrustScore:    100,
		Rating:        progression.DefaultRating,
		TotalTasks:    m.cfg.TotalTasks,
		CurrentTaskID: task.ID,
		LatestCode:    make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	// Activation is a separate state transition from creation.
	sess.State = domain.StateActive
	sess.UpdatedAt = time.Now().UTC()
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}

	m.register(sess)
	slog.Info("Interview session started",
		"session_id", sess.ID,
		"stack", profile.Stack,
		"first_task", task.ID,
		"deadline", sess.Deadline)

	return &StartOutcome{Session: cloneSession(sess), Task: task.Public()}, nil
}

// SubmitCode validates the submission against the current task, forwards it
// to the judge with a bounded wait, and folds the verdict into progression.
// A judge timeout comes back as a failed-but-complete result, not an error.
func (m *Manager) SubmitCode(ctx context.Context, sessionID, taskID, code, language string) (*SubmitOutcome, error) {
	lang, err := judge.ParseLanguage(language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: code is empty", ErrValidation)
	}

	rt, err := m.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Phase one on the command queue: validate and snapshot the task.
	var (
		task    domain.Task
		prepErr error
	)
	if cerr := rt.call(func() {
		if m.expireIfDue(rt) {
			prepErr = ErrFinished
			return
		}
		if taskID != rt.sess.CurrentTaskID {
			prepErr = fmt.Errorf("%w: submitted %q, current task is %q", ErrTaskMismatch, taskID, rt.sess.CurrentTaskID)
			return
		}
		t, ok := m.catalog.Get(taskID)
		if !ok {
			prepErr = fmt.Errorf("%w: task %q not in catalog", ErrTaskMismatch, taskID)
			return
		}
		task = t
		rt.sess.LatestCode[taskID] = code
		rt.sess.UpdatedAt = time.Now().UTC()
	}); cerr != nil {
		return nil, cerr
	}
	if prepErr != nil {
		return nil, prepErr
	}

	// The judge runs off the queue so chat and telemetry keep flowing.
	result, jerr := m.judge.Evaluate(ctx, code, lang, task)
	switch {
	case jerr == nil:
	case errors.Is(jerr, judge.ErrTimeout):
		slog.Warn("Judge timed out, recording failed result", "session_id", sessionID, "task_id", taskID)
		result = judge.TimedOutResult(task)
	case errors.Is(jerr, judge.ErrUnavailable):
		slog.Error("Judge unavailable, recording failed result", "session_id", sessionID, "error", jerr)
		result = judge.TimedOutResult(task)
		result.TimedOut = false
	default:
		return nil, fmt.Errorf("evaluate submission: %w", jerr)
	}

	// Phase two: fold the verdict into session state.
	var out SubmitOutcome
	cerr := rt.call(func() {
		out.Result = result
		if rt.sess.IsFinished() {
			// Verdict arrived after the terminal transition; drop it.
			out.Progress = rt.sess.Progress()
			out.Scoring = cloneScoring(rt.sess.Scoring)
			return
		}
		rt.results = append(rt.results, result)
		if m.prog.Completed(result) {
			if next, ok := m.prog.Advance(rt.sess, task, result.Passed); ok {
				rt.sess.CurrentTaskID = next.ID
				pub := next.Public()
				out.NextTask = &pub
			} else {
				m.finishLocked(rt, "tasks exhausted")
			}
		}
		rt.sess.UpdatedAt = time.Now().UTC()
		out.Progress = rt.sess.Progress()
		out.Scoring = cloneScoring(rt.sess.Scoring)
		if !rt.sess.IsFinished() {
			// Progress must be durable before the caller sees it.
			pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if perr := m.repo.SaveSession(pctx, rt.sess); perr != nil {
				slog.Warn("Failed to persist submission outcome", "session_id", rt.sess.ID, "error", perr)
			}
		}
	})
	if errors.Is(cerr, ErrFinished) {
		// Finish won the race while the judge ran. Report the final
		// snapshot so the caller still sees real progress and scoring.
		out.Result = result
		if snap, gerr := m.Get(ctx, sessionID); gerr == nil {
			out.Progress = snap.Progress()
			out.Scoring = cloneScoring(snap.Scoring)
		}
		return &out, nil
	}
	if cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// FinishSession moves the session to its terminal state, scores it, and
// releases the channel binding. Finishing an already finished session is a
// successful no-op.
func (m *Manager) FinishSession(ctx context.Context, sessionID string) error {
	return m.finish(ctx, sessionID, "explicit finish")
}

func (m *Manager) finish(ctx context.Context, sessionID, reason string) error {
	rt, err := m.runtimeFor(ctx, sessionID)
	if errors.Is(err, ErrFinished) {
		return nil
	}
	if err != nil {
		return err
	}
	cerr := rt.call(func() { m.finishLocked(rt, reason) })
	if errors.Is(cerr, ErrFinished) {
		return nil
	}
	return cerr
}

// Get returns a consistent snapshot of one session, preferring live state.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	rt, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if ok {
		var snap domain.Session
		if err := rt.call(func() { snap = cloneSession(rt.sess) }); err == nil {
			return &snap, nil
		}
	}

	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// finishLocked runs on the command queue. First trigger wins; deadline,
// task exhaustion, and explicit finish all converge here.
func (m *Manager) finishLocked(rt *runtime, reason string) {
	if rt.sess.IsFinished() {
		return
	}

	now := time.Now().UTC()
	userMessages := 0
	for _, msg := range rt.sess.Transcript {
		if msg.Role == "user" {
			userMessages++
		}
	}

	result := m.scorer.Finalize(scoring.Inputs{
		Results:        rt.results,
		TrustScore:     rt.sess.TrustScore,
		UserMessages:   userMessages,
		TasksCompleted: rt.sess.TasksCompleted,
		TotalTasks:     rt.sess.TotalTasks,
		Elapsed:        now.Sub(rt.sess.CreatedAt),
		Duration:       m.cfg.SessionDuration,
	})
	rt.sess.State = domain.StateFinished
	rt.sess.Scoring = &result
	rt.sess.UpdatedAt = now

	// Persist synchronously so the terminal state survives shutdown.
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.SaveSession(pctx, rt.sess); err != nil {
		slog.Error("Failed to persist finished session", "session_id", rt.sess.ID, "error", err)
	}

	rt.releaseChannel()
	m.unregister(rt.sess.ID)
	close(rt.done)

	slog.Info("Interview session finished",
		"session_id", rt.sess.ID,
		"reason", reason,
		"overall", result.Overall,
		"letter", result.Letter,
		"trust_score", rt.sess.TrustScore)
}

// expireIfDue runs on the command queue before each inbound mutation; the
// periodic sweeper covers sessions that go quiet.
func (m *Manager) expireIfDue(rt *runtime) bool {
	if rt.sess.IsFinished() {
		return true
	}
	if m.prog.IsExpired(rt.sess, time.Now()) {
		m.finishLocked(rt, "deadline")
		return true
	}
	return false
}

func (m *Manager) register(sess *domain.Session) *runtime {
	rt := newRuntime(sess)

	m.mu.Lock()
	if existing, ok := m.sessions[sess.ID]; ok {
		m.mu.Unlock()
		return existing
	}
	m.sessions[sess.ID] = rt
	m.mu.Unlock()

	go rt.loop()
	return rt
}

func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// runtimeFor returns the live runtime, reviving one from storage after a
// reconnect or restart. Finished sessions are not revived.
func (m *Manager) runtimeFor(ctx context.Context, sessionID string) (*runtime, error) {
	m.mu.RLock()
	rt, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return rt, nil
	}

	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.IsFinished() {
		return nil, ErrFinished
	}
	if sess.LatestCode == nil {
		sess.LatestCode = make(map[string]string)
	}
	return m.register(sess), nil
}

func (m *Manager) persistAsync(sess domain.Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.repo.SaveSession(ctx, &sess); err != nil {
			slog.Warn("Failed to persist session state", "session_id", sess.ID, "error", err)
		}
	}()
}

func cloneSession(sess *domain.Session) domain.Session {
	out := *sess
	out.Penalties = make(map[string]float64, len(sess.Penalties))
	for k, v := range sess.Penalties {
		out.Penalties[k] = v
	}
	out.LatestCode = make(map[string]string, len(sess.LatestCode))
	for k, v := range sess.LatestCode {
		out.LatestCode[k] = v
	}
	out.Transcript = append([]domain.ChatMessage(nil), sess.Transcript...)
	out.Scoring = cloneScoring(sess.Scoring)
	return out
}

func cloneScoring(r *domain.ScoringResult) *domain.ScoringResult {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
