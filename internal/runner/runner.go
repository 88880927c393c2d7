// Package runner consumes upstream token streams and lands them in the job
// store, one goroutine per job. It also hosts the cleanup sweeper.
package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/metrics"
	"github.com/Saluana/or3-chat-sub013/internal/notify"
	"github.com/Saluana/or3-chat-sub013/internal/providers/chat"
)

// Runner drives jobs from creation to their terminal state. It is the only
// consumer of the upstream stream; viewers never touch the provider.
type Runner struct {
	store         domain.JobStore
	provider      chat.Streamer
	dispatcher    *notify.Dispatcher
	log           zerolog.Logger
	flushInterval time.Duration
}

func New(store domain.JobStore, provider chat.Streamer, dispatcher *notify.Dispatcher, log zerolog.Logger, flushInterval time.Duration) *Runner {
	return &Runner{
		store:         store,
		provider:      provider,
		dispatcher:    dispatcher,
		log:           log,
		flushInterval: flushInterval,
	}
}

// Launch starts the consuming goroutine for a freshly created job. It
// returns immediately; all outcomes, including upstream failures, funnel
// into the job's terminal state.
func (r *Runner) Launch(ctx context.Context, job *domain.Job, req chat.Request) {
	metrics.StreamsStarted.Inc()
	go r.run(ctx, job, req)
}

func (r *Runner) run(ctx context.Context, job *domain.Job, req chat.Request) {
	log := r.log.With().Str("job_id", job.ID).Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stores that can hold a cancel func get preemptive aborts; the rest
	// are covered by the status check on every flush tick.
	if binder, ok := r.store.(domain.CancelBinder); ok {
		binder.BindCancel(job.ID, cancel)
	}

	// Terminal writes must land even after the upstream context is cut.
	storeCtx := context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Any("panic", rec).Msg("runner: recovered, failing job")
			if err := r.store.FailJob(storeCtx, job.ID, "internal error"); err != nil {
				log.Error().Err(err).Msg("runner: fail after panic")
			}
			r.finish(storeCtx, job, log)
		}
	}()

	var (
		mu            sync.Mutex // pending buffer
		flushMu       sync.Mutex // serializes store writes, keeps append order
		pending       strings.Builder
		pendingChunks int
	)

	// drain writes the buffered chunks as one coalesced delta. On a write
	// error the delta goes back to the front of the buffer so no content is
	// lost and order is kept.
	drain := func() {
		flushMu.Lock()
		defer flushMu.Unlock()

		mu.Lock()
		delta := pending.String()
		chunks := pendingChunks
		pending.Reset()
		pendingChunks = 0
		mu.Unlock()

		if delta == "" {
			return
		}
		if err := r.store.UpdateJob(storeCtx, job.ID, domain.JobDelta{ContentDelta: delta, Chunks: chunks}); err != nil {
			log.Warn().Err(err).Msg("runner: flush failed, will retry")
			mu.Lock()
			rest := pending.String()
			pending.Reset()
			pending.WriteString(delta)
			pending.WriteString(rest)
			pendingChunks += chunks
			mu.Unlock()
			return
		}
		metrics.ChunksFlushed.Add(float64(chunks))
	}

	// checkAlive polls our own job so aborts and timeout force-fails from
	// outside stop the upstream within one flush interval.
	checkAlive := func() {
		current, err := r.store.GetJob(storeCtx, job.ID, job.OwnerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn().Msg("runner: job vanished, stopping upstream")
				cancel()
			}
			return
		}
		if current.Status.Terminal() {
			cancel()
		}
	}

	done := make(chan struct{})
	var tickerWG sync.WaitGroup
	tickerWG.Add(1)
	go func() {
		defer tickerWG.Done()
		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				drain()
				checkAlive()
			}
		}
	}()

	full, err := r.provider.Stream(ctx, req, func(chunk string) error {
		mu.Lock()
		pending.WriteString(chunk)
		pendingChunks++
		mu.Unlock()
		return nil
	})

	close(done)
	tickerWG.Wait()
	drain()

	if err != nil {
		log.Info().Err(err).Msg("runner: upstream ended with error")
		if ferr := r.store.FailJob(storeCtx, job.ID, failureMessage(err)); ferr != nil {
			log.Error().Err(ferr).Msg("runner: fail transition")
		}
	} else {
		log.Debug().Int("bytes", len(full)).Msg("runner: upstream finished")
		if cerr := r.store.CompleteJob(storeCtx, job.ID, full); cerr != nil {
			log.Error().Err(cerr).Msg("runner: complete transition")
		}
	}

	r.finish(storeCtx, job, log)
}

// finish reads the durable terminal state back and reports it exactly once.
func (r *Runner) finish(ctx context.Context, job *domain.Job, log zerolog.Logger) {
	final, err := r.store.GetJob(ctx, job.ID, job.OwnerID)
	if err != nil {
		log.Error().Err(err).Msg("runner: read final state")
		return
	}
	metrics.StreamsFinished.WithLabelValues(string(final.Status)).Inc()
	r.dispatcher.JobFinished(ctx, final)
}

func failureMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "stream canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "stream deadline exceeded"
	}
	return err.Error()
}
