package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/providers/chat"
)

type streamCreateRequest struct {
	ThreadID  string         `json:"thread_id"`
	MessageID string         `json:"message_id"`
	Model     string         `json:"model"`
	Messages  []chat.Message `json:"messages"`
}

type jobResponse struct {
	JobID          string     `json:"job_id"`
	ThreadID       string     `json:"thread_id"`
	MessageID      string     `json:"message_id"`
	Status         string     `json:"status"`
	Content        string     `json:"content"`
	ChunksReceived int        `json:"chunks_received"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func jobPayload(job *domain.Job) jobResponse {
	return jobResponse{
		JobID:          job.ID,
		ThreadID:       job.ThreadID,
		MessageID:      job.MessageID,
		Status:         string(job.Status),
		Content:        job.Content,
		ChunksReceived: job.ChunksReceived,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		Error:          job.ErrorMessage,
	}
}

func (a *App) StreamsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req streamCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" || strings.TrimSpace(req.MessageID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "thread_id and message_id are required")
		return
	}
	if len(req.Messages) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "messages must not be empty")
		return
	}
	model := req.Model
	if model == "" {
		model = a.Cfg.OpenAIModel
	}

	job, err := a.Store.CreateJob(r.Context(), domain.CreateJobParams{
		OwnerID:   userID,
		ThreadID:  req.ThreadID,
		MessageID: req.MessageID,
		Model:     model,
	})
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			w.Header().Set("Retry-After", "5")
			a.error(w, http.StatusServiceUnavailable, "capacity_exceeded", "too many active streams, retry shortly")
			return
		}
		a.Log.Error().Err(err).Msg("failed to create stream job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create stream")
		return
	}

	// The job outlives this request; keep request values (request id) but
	// detach from its cancellation.
	a.Runner.Launch(context.WithoutCancel(r.Context()), job, chat.Request{Model: model, Messages: req.Messages})
	a.json(w, http.StatusCreated, jobPayload(job))
}

func (a *App) StreamsGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	job, err := a.Store.GetJob(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "stream not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("failed to load stream job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stream")
		return
	}
	a.json(w, http.StatusOK, jobPayload(job))
}

func (a *App) StreamsCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	aborted, err := a.Store.AbortJob(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "stream not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("failed to abort stream job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel stream")
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"aborted": aborted})
}
