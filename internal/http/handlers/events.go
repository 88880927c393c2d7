package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/metrics"
)

type snapshotEvent struct {
	Content string `json:"content"`
	Cursor  int    `json:"cursor"`
}

type deltaEvent struct {
	ContentDelta string `json:"content_delta"`
	Cursor       int    `json:"cursor"`
}

type finalEvent struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StreamsEvents serves the live event stream for one job. The gateway is
// read-only: it polls the store and relays growth to the client, it never
// writes job state.
func (a *App) StreamsEvents(w http.ResponseWriter, r *http.Request) {
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
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	a.Registry.Attach(jobID)
	metrics.Viewers.Inc()
	defer func() {
		a.Registry.Detach(jobID)
		metrics.Viewers.Dec()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	cursor := len(job.Content)
	if err := writeSSE(w, flusher, "snapshot", snapshotEvent{Content: job.Content, Cursor: cursor}); err != nil {
		return
	}
	if job.Status.Terminal() {
		_ = writeSSE(w, flusher, "final", finalEvent{Status: string(job.Status), Error: job.ErrorMessage})
		return
	}

	poll := time.NewTicker(a.Cfg.PollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(a.Cfg.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := writeSSE(w, flusher, "keepalive", struct{}{}); err != nil {
				return
			}
		case <-poll.C:
			cur, err := a.Store.GetJob(ctx, jobID, userID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					// Retention raced an attached viewer.
					_ = writeSSE(w, flusher, "final", finalEvent{Status: string(domain.JobStatusError), Error: "stream expired"})
					return
				}
				a.Log.Debug().Err(err).Str("job_id", jobID).Msg("poll failed, treating as no change")
				continue
			}
			if len(cur.Content) > cursor {
				delta := cur.Content[cursor:]
				cursor = len(cur.Content)
				if err := writeSSE(w, flusher, "delta", deltaEvent{ContentDelta: delta, Cursor: cursor}); err != nil {
					return
				}
			}
			if cur.Status.Terminal() {
				_ = writeSSE(w, flusher, "final", finalEvent{Status: string(cur.Status), Error: cur.ErrorMessage})
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
