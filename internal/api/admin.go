package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hirecode/hirecode/internal/catalog"
	"github.com/hirecode/hirecode/internal/domain"
	"github.com/hirecode/hirecode/internal/store"
)

const adminSessionLimit = 100

// AdminHandler exposes the recruiter-facing read projection and task
// administration.
type AdminHandler struct {
	repo store.Repository
	cat  *catalog.Catalog
}

// NewAdminHandler creates the admin endpoint group.
func NewAdminHandler(repo store.Repository, cat *catalog.Catalog) *AdminHandler {
	return &AdminHandler{repo: repo, cat: cat}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Post("/tasks", h.CreateTask)
	})
}

// sessionProjection is the read-only row shown in the recruiter overview.
type sessionProjection struct {
	ID         string                `json:"id"`
	Candidate  string                `json:"candidate"`
	Stack      string                `json:"stack"`
	Status     string                `json:"status"`
	TrustScore float64               `json:"trust_score"`
	Progress   domain.ProgressState  `json:"progress"`
	Score      *domain.ScoringResult `json:"score,omitempty"`
}

// ListSessions returns recent sessions, most recently updated first.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListRecentSessions(r.Context(), adminSessionLimit)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	projections := make([]sessionProjection, 0, len(sessions))
	for _, sess := range sessions {
		projections = append(projections, sessionProjection{
			ID:         sess.ID,
			Candidate:  sess.Candidate.Name,
			Stack:      sess.Candidate.Stack,
			Status:     string(sess.State),
			TrustScore: sess.TrustScore,
			Progress:   sess.Progress(),
			Score:      sess.Scoring,
		})
	}
	JSON(w, http.StatusOK, projections)
}

// CreateTask persists a new task JSON into the catalog directory.
func (h *AdminHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if task.ID == "" || task.Title == "" || task.Stack == "" {
		Error(w, http.StatusBadRequest, "id, title and stack are required")
		return
	}
	if len(task.Tests.Visible)+len(task.Tests.Hidden) == 0 {
		Error(w, http.StatusBadRequest, "at least one test case is required")
		return
	}

	if err := h.cat.Save(task); err != nil {
		slog.Error("Failed to save task", "task_id", task.ID, "error", err)
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"status": "created", "task_id": task.ID})
}
