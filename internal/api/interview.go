package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hirecode/hirecode/internal/domain"
	"github.com/hirecode/hirecode/internal/session"
)

// InterviewHandler exposes the candidate-facing session endpoints.
type InterviewHandler struct {
	mgr     *session.Manager
	channel http.Handler
}

// NewInterviewHandler creates the interview endpoint group. channel is the
// WebSocket upgrade handler for the session's duplex channel.
func NewInterviewHandler(mgr *session.Manager, channel http.Handler) *InterviewHandler {
	return &InterviewHandler{mgr: mgr, channel: channel}
}

// RegisterRoutes registers interview routes.
func (h *InterviewHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/interview", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/submit", h.Submit)
		r.Post("/finish", h.Finish)
		r.Get("/{sessionID}/channel", h.channel.ServeHTTP)
	})
}

type startRequest struct {
	CandidateName string `json:"candidate_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Location      string `json:"location"`
	Position      string `json:"position"`
	Stack         string `json:"stack"`
}

// Start creates a session and returns the first task.
func (h *InterviewHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := h.mgr.StartSession(r.Context(), domain.CandidateProfile{
		Name:     req.CandidateName,
		Email:    req.Email,
		Phone:    req.Phone,
		Location: req.Location,
		Position: req.Position,
		Stack:    req.Stack,
	})
	if err != nil {
		sessionError(w, err)
		return
	}

	JSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": out.Session.ID,
		"task":       out.Task,
		"progress":   out.Session.Progress(),
	})
}

type submitRequest struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// Submit forwards a solution to the judge and reports the verdict.
func (h *InterviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := h.mgr.SubmitCode(r.Context(), req.SessionID, req.TaskID, req.Code, req.Language)
	if err != nil {
		sessionError(w, err)
		return
	}

	resp := map[string]interface{}{
		"results":  out.Result,
		"progress": out.Progress,
	}
	if out.NextTask != nil {
		resp["next_task"] = out.NextTask
	}
	if out.Scoring != nil {
		resp["scoring"] = out.Scoring
	}
	JSON(w, http.StatusOK, resp)
}

type finishRequest struct {
	SessionID string `json:"session_id"`
}

// Finish ends the session. Finishing a finished session succeeds.
func (h *InterviewHandler) Finish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}

	if err := h.mgr.FinishSession(r.Context(), req.SessionID); err != nil {
		sessionError(w, err)
		return
	}
	slog.Info("Session finish requested", "session_id", req.SessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "finished"})
}
