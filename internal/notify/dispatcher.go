package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/metrics"
)

const previewRunes = 120

// ViewerCounts reports how many viewers are attached to a job right now.
type ViewerCounts interface {
	Count(jobID string) int
}

// Dispatcher evaluates the notification policy once per finished job. The
// runner and the cleanup sweeper can both report the same job; the marker
// map makes whichever arrives first the deciding call and every later one
// a no-op.
type Dispatcher struct {
	viewers ViewerCounts
	mutes   domain.MuteLookup
	sinks   []Sink
	log     zerolog.Logger

	mu      sync.Mutex
	decided map[string]time.Time
	now     func() time.Time
}

// NewDispatcher wires the policy inputs. mutes may be nil (nothing muted).
func NewDispatcher(viewers ViewerCounts, mutes domain.MuteLookup, log zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		viewers: viewers,
		mutes:   mutes,
		sinks:   sinks,
		log:     log,
		decided: make(map[string]time.Time),
		now:     time.Now,
	}
}

// JobFinished runs the policy for a job that just reached a terminal state:
// nothing for user aborts, nothing for muted threads, nothing while someone
// is watching, otherwise exactly one notification.
func (d *Dispatcher) JobFinished(ctx context.Context, job *domain.Job) {
	if job == nil || !job.Status.Terminal() {
		return
	}

	d.mu.Lock()
	if _, seen := d.decided[job.ID]; seen {
		d.mu.Unlock()
		return
	}
	d.decided[job.ID] = d.now()
	d.mu.Unlock()

	if job.Status == domain.JobStatusAborted {
		d.log.Debug().Str("job_id", job.ID).Msg("notify: skipped, user abort")
		return
	}
	if d.mutes != nil && d.mutes.IsMuted(ctx, job.ThreadID) {
		d.log.Debug().Str("job_id", job.ID).Str("thread_id", job.ThreadID).Msg("notify: skipped, thread muted")
		return
	}
	if n := d.viewers.Count(job.ID); n > 0 {
		d.log.Debug().Str("job_id", job.ID).Int("viewers", n).Msg("notify: skipped, being watched")
		return
	}

	n := Notification{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		ThreadID:  job.ThreadID,
		MessageID: job.MessageID,
		CreatedAt: d.now(),
	}
	switch job.Status {
	case domain.JobStatusComplete:
		n.Kind = KindMessageReceived
		n.Body = preview(job.Content)
	default:
		n.Kind = KindWarning
		n.Body = job.ErrorMessage
	}

	metrics.NotificationsSent.WithLabelValues(string(n.Kind)).Inc()
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			d.log.Warn().Err(err).Str("job_id", job.ID).Msg("notify: sink delivery failed")
		}
	}
}

// Prune drops decision markers older than maxAge so the map stays bounded.
// Called by the cleanup sweeper with the retention window.
func (d *Dispatcher) Prune(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-maxAge)
	removed := 0
	for id, at := range d.decided {
		if at.Before(cutoff) {
			delete(d.decided, id)
			removed++
		}
	}
	return removed
}

// preview truncates content for a notification body without splitting a rune.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes])
}
