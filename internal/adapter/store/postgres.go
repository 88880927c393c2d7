package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/infra"
	"github.com/Saluana/or3-chat-sub013/internal/sqlinline"
)

// PostgresStore persists jobs in the stream_jobs table. Lifecycle rules ride
// on the statements themselves (status predicates, guarded insert), so every
// call stays a single round trip on the happy path.
//
// It deliberately does not implement domain.CancelBinder; abort latency is
// covered by the runner's per-flush status poll.
type PostgresStore struct {
	sql       infra.SQLExecutor
	maxActive int
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewPostgres builds a store on top of a marker-checked SQL executor.
func NewPostgres(sql infra.SQLExecutor, maxActive int, timeout, retention time.Duration) *PostgresStore {
	return &PostgresStore{
		sql:       sql,
		maxActive: maxActive,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
}

// CreateJob implements domain.JobStore.
func (s *PostgresStore) CreateJob(ctx context.Context, params domain.CreateJobParams) (*domain.Job, error) {
	job := &domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   params.OwnerID,
		ThreadID:  params.ThreadID,
		MessageID: params.MessageID,
		Model:     params.Model,
		Status:    domain.JobStatusStreaming,
	}

	row := s.sql.QueryRow(ctx, sqlinline.QInsertStreamJob,
		job.ID, job.OwnerID, job.ThreadID, job.MessageID, job.Model, s.maxActive)
	if err := row.Scan(&job.ID, &job.StartedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCapacityExceeded
		}
		return nil, fmt.Errorf("insert stream job: %w", err)
	}
	return job, nil
}

// GetJob implements domain.JobStore.
func (s *PostgresStore) GetJob(ctx context.Context, id, ownerID string) (*domain.Job, error) {
	if !validJobID(id) {
		return nil, domain.ErrNotFound
	}

	var job domain.Job
	row := s.sql.QueryRow(ctx, sqlinline.QSelectStreamJob, id, ownerID)
	err := row.Scan(&job.ID, &job.OwnerID, &job.ThreadID, &job.MessageID, &job.Model,
		&job.Status, &job.Content, &job.ChunksReceived, &job.ErrorMessage,
		&job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select stream job: %w", err)
	}
	return &job, nil
}

// UpdateJob implements domain.JobStore. The status predicate makes a flush
// against a terminal job match zero rows, which is the required no-op.
func (s *PostgresStore) UpdateJob(ctx context.Context, id string, delta domain.JobDelta) error {
	if !validJobID(id) {
		return domain.ErrNotFound
	}

	tag, err := s.sql.Exec(ctx, sqlinline.QAppendStreamContent, id, delta.ContentDelta, delta.Chunks)
	if err != nil {
		return fmt.Errorf("append stream content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// CompleteJob implements domain.JobStore.
func (s *PostgresStore) CompleteJob(ctx context.Context, id, finalContent string) error {
	if !validJobID(id) {
		return domain.ErrNotFound
	}

	tag, err := s.sql.Exec(ctx, sqlinline.QCompleteStreamJob, id, finalContent)
	if err != nil {
		return fmt.Errorf("complete stream job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// FailJob implements domain.JobStore.
func (s *PostgresStore) FailJob(ctx context.Context, id, message string) error {
	if !validJobID(id) {
		return domain.ErrNotFound
	}

	tag, err := s.sql.Exec(ctx, sqlinline.QFailStreamJob, id, message)
	if err != nil {
		return fmt.Errorf("fail stream job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// AbortJob implements domain.JobStore.
func (s *PostgresStore) AbortJob(ctx context.Context, id, ownerID string) (bool, error) {
	if !validJobID(id) {
		return false, domain.ErrNotFound
	}

	var aborted string
	err := s.sql.QueryRow(ctx, sqlinline.QAbortStreamJob, id, ownerID).Scan(&aborted)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("abort stream job: %w", err)
	}

	// Zero rows: either the job is already terminal or it is not this
	// owner's to abort.
	var exists bool
	if err := s.sql.QueryRow(ctx, sqlinline.QStreamJobExists, id, ownerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check stream job: %w", err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// CleanupExpired implements domain.JobStore.
func (s *PostgresStore) CleanupExpired(ctx context.Context) (domain.CleanupResult, error) {
	var res domain.CleanupResult
	now := s.now()

	msg := fmt.Sprintf("stream timed out after %s", s.timeout)
	rows, err := s.sql.Query(ctx, sqlinline.QTimeoutStreamJobs, now.Add(-s.timeout), msg)
	if err != nil {
		return res, fmt.Errorf("timeout stream jobs: %w", err)
	}
	for rows.Next() {
		job := &domain.Job{Status: domain.JobStatusError, ErrorMessage: msg}
		if err := rows.Scan(&job.ID, &job.OwnerID, &job.ThreadID, &job.MessageID, &job.Model,
			&job.Content, &job.ChunksReceived, &job.StartedAt, &job.CompletedAt); err != nil {
			rows.Close()
			return res, fmt.Errorf("scan timed out job: %w", err)
		}
		res.TimedOut = append(res.TimedOut, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("timeout stream jobs: %w", err)
	}

	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteExpiredStreamJobs, now.Add(-s.retention))
	if err != nil {
		return res, fmt.Errorf("delete expired jobs: %w", err)
	}
	res.Deleted = int(tag.RowsAffected())
	return res, nil
}

// missingOrTerminal resolves a zero-row write: terminal jobs swallow the
// write, unknown ids surface ErrNotFound.
func (s *PostgresStore) missingOrTerminal(ctx context.Context, id string) error {
	var status string
	err := s.sql.QueryRow(ctx, sqlinline.QSelectStreamJobStatus, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select stream job status: %w", err)
	}
	return nil
}

// validJobID screens ids before they reach a ::uuid cast; anything
// unparseable behaves like a job that does not exist.
func validJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
