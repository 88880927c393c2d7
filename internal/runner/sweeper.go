package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/metrics"
	"github.com/Saluana/or3-chat-sub013/internal/notify"
)

// Sweeper periodically expires jobs: streams past the timeout are
// force-failed (their owners get a warning notification), terminal jobs past
// retention are deleted. The same pass backs the internal cleanup endpoint
// for deployments that prefer an external scheduler.
type Sweeper struct {
	store      domain.JobStore
	dispatcher *notify.Dispatcher
	log        zerolog.Logger
	interval   time.Duration
	retention  time.Duration
}

func NewSweeper(store domain.JobStore, dispatcher *notify.Dispatcher, log zerolog.Logger, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		interval:   interval,
		retention:  retention,
	}
}

// Run ticks until the context is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweeper: cleanup pass failed")
			}
		}
	}
}

// RunOnce performs one cleanup pass and dispatches notifications for the
// jobs it force-failed.
func (s *Sweeper) RunOnce(ctx context.Context) (domain.CleanupResult, error) {
	res, err := s.store.CleanupExpired(ctx)
	if err != nil {
		return res, err
	}

	for _, job := range res.TimedOut {
		s.log.Warn().Str("job_id", job.ID).Msg("sweeper: stream timed out, force-failed")
		s.dispatcher.JobFinished(ctx, job)
	}
	if res.Deleted > 0 {
		metrics.CleanupDeleted.Add(float64(res.Deleted))
	}
	if len(res.TimedOut) > 0 || res.Deleted > 0 {
		s.log.Info().Int("timed_out", len(res.TimedOut)).Int("deleted", res.Deleted).Msg("sweeper: cleanup pass done")
	}

	s.dispatcher.Prune(s.retention)
	return res, nil
}
