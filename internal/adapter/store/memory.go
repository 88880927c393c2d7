// Package store provides the JobStore backends: in-memory (default),
// PostgreSQL, and Redis. All three enforce the same lifecycle contract;
// callers pick one at startup and never look behind the interface again.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
)

// MemoryStore keeps jobs in a process-local map. It is the default backend
// and the one most of the test suite runs against.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*memoryJob
	active    int
	maxActive int
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

type memoryJob struct {
	mu     sync.Mutex
	job    domain.Job
	cancel context.CancelFunc
}

// NewMemory builds an in-memory store. maxActive caps concurrently
// streaming jobs; timeout force-fails streams that outlive it; retention
// bounds how long terminal jobs stay queryable.
func NewMemory(maxActive int, timeout, retention time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*memoryJob),
		maxActive: maxActive,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
}

// CreateJob implements domain.JobStore.
func (s *MemoryStore) CreateJob(_ context.Context, params domain.CreateJobParams) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active >= s.maxActive {
		return nil, domain.ErrCapacityExceeded
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   params.OwnerID,
		ThreadID:  params.ThreadID,
		MessageID: params.MessageID,
		Model:     params.Model,
		Status:    domain.JobStatusStreaming,
		StartedAt: s.now(),
	}
	s.jobs[job.ID] = &memoryJob{job: job}
	s.active++

	out := job
	return &out, nil
}

// GetJob implements domain.JobStore. Unknown and foreign ids are the same
// ErrNotFound on purpose.
func (s *MemoryStore) GetJob(_ context.Context, id, ownerID string) (*domain.Job, error) {
	mj := s.lookup(id)
	if mj == nil {
		return nil, domain.ErrNotFound
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()
	if mj.job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return cloneJob(&mj.job), nil
}

// UpdateJob implements domain.JobStore. The append is atomic under the
// per-job lock, so readers never observe a torn suffix.
func (s *MemoryStore) UpdateJob(_ context.Context, id string, delta domain.JobDelta) error {
	mj := s.lookup(id)
	if mj == nil {
		return domain.ErrNotFound
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()
	if mj.job.Status.Terminal() {
		return nil
	}
	mj.job.Content += delta.ContentDelta
	mj.job.ChunksReceived += delta.Chunks
	return nil
}

// CompleteJob implements domain.JobStore. finalContent only replaces the
// accumulated text when it is at least as long, keeping content monotone
// against a racing late flush.
func (s *MemoryStore) CompleteJob(_ context.Context, id, finalContent string) error {
	_, err := s.terminate(id, func(job *domain.Job) {
		job.Status = domain.JobStatusComplete
		if len(finalContent) >= len(job.Content) {
			job.Content = finalContent
		}
	})
	return err
}

// FailJob implements domain.JobStore.
func (s *MemoryStore) FailJob(_ context.Context, id, message string) error {
	_, err := s.terminate(id, func(job *domain.Job) {
		job.Status = domain.JobStatusError
		job.ErrorMessage = message
	})
	return err
}

// AbortJob implements domain.JobStore. Fires the bound upstream cancel, if
// any, on the transition.
func (s *MemoryStore) AbortJob(_ context.Context, id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()
	if mj.job.OwnerID != ownerID {
		return false, domain.ErrNotFound
	}
	if mj.job.Status.Terminal() {
		return false, nil
	}

	mj.job.Status = domain.JobStatusAborted
	s.sealLocked(mj)
	return true, nil
}

// CleanupExpired implements domain.JobStore.
func (s *MemoryStore) CleanupExpired(_ context.Context) (domain.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var res domain.CleanupResult
	for id, mj := range s.jobs {
		mj.mu.Lock()
		switch {
		case mj.job.Status == domain.JobStatusStreaming && now.Sub(mj.job.StartedAt) > s.timeout:
			mj.job.Status = domain.JobStatusError
			mj.job.ErrorMessage = fmt.Sprintf("stream timed out after %s", s.timeout)
			s.sealLocked(mj)
			res.TimedOut = append(res.TimedOut, cloneJob(&mj.job))
		case mj.job.Status.Terminal() && mj.job.CompletedAt != nil && now.Sub(*mj.job.CompletedAt) > s.retention:
			delete(s.jobs, id)
			res.Deleted++
		}
		mj.mu.Unlock()
	}
	return res, nil
}

// BindCancel implements domain.CancelBinder. A job that is already terminal
// (or gone) gets its upstream cut immediately.
func (s *MemoryStore) BindCancel(id string, cancel context.CancelFunc) {
	mj := s.lookup(id)
	if mj == nil {
		cancel()
		return
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()
	if mj.job.Status.Terminal() {
		cancel()
		return
	}
	mj.cancel = cancel
}

func (s *MemoryStore) lookup(id string) *memoryJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// terminate runs the first (and only) terminal transition for a job.
// Holds s.mu for the active-count bookkeeping, then the job lock.
func (s *MemoryStore) terminate(id string, apply func(*domain.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}

	mj.mu.Lock()
	defer mj.mu.Unlock()
	if mj.job.Status.Terminal() {
		return false, nil
	}
	apply(&mj.job)
	s.sealLocked(mj)
	return true, nil
}

// sealLocked finishes a terminal transition: stamps CompletedAt, releases
// the capacity slot, and fires any bound upstream cancel. Both s.mu and
// mj.mu must be held.
func (s *MemoryStore) sealLocked(mj *memoryJob) {
	t := s.now()
	mj.job.CompletedAt = &t
	s.active--
	if mj.cancel != nil {
		mj.cancel()
		mj.cancel = nil
	}
}

func cloneJob(job *domain.Job) *domain.Job {
	out := *job
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
