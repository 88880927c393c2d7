package domain

import "context"

// JobStore defines persistence for stream jobs. Implementations must make
// every call atomic with respect to concurrent callers: an append is either
// fully visible or not at all, and the first terminal transition wins.
type JobStore interface {
	// CreateJob persists a new streaming job with empty content. Returns
	// ErrCapacityExceeded when the number of currently streaming jobs is at
	// the configured maximum.
	CreateJob(ctx context.Context, params CreateJobParams) (*Job, error)

	// GetJob returns the job scoped to its owner. Unknown ids and jobs
	// owned by someone else both return ErrNotFound; callers cannot tell
	// the two apart.
	GetJob(ctx context.Context, id, ownerID string) (*Job, error)

	// UpdateJob appends delta.ContentDelta and advances ChunksReceived.
	// A terminal job swallows the update silently; a missing id returns
	// ErrNotFound.
	UpdateJob(ctx context.Context, id string, delta JobDelta) error

	// CompleteJob transitions streaming → complete and records the final
	// content. No-op when the job is already terminal.
	CompleteJob(ctx context.Context, id, finalContent string) error

	// FailJob transitions streaming → error with a message. No-op when the
	// job is already terminal.
	FailJob(ctx context.Context, id, message string) error

	// AbortJob transitions streaming → aborted, owner-scoped. The boolean
	// is true only for the call that performed the transition; an already
	// terminal job yields (false, nil), an unknown or foreign id
	// (false, ErrNotFound). Accumulated content is preserved.
	AbortJob(ctx context.Context, id, ownerID string) (bool, error)

	// CleanupExpired force-fails streaming jobs past the stream timeout
	// and deletes terminal jobs past the retention window. Idempotent:
	// a back-to-back second pass finds nothing.
	CleanupExpired(ctx context.Context) (CleanupResult, error)
}

// CancelBinder is an optional JobStore capability: backends that hold a
// per-job cancel function let AbortJob cut the upstream immediately instead
// of waiting for the runner's next status poll. Binding to an already
// terminal job must fire the cancel at once.
type CancelBinder interface {
	BindCancel(id string, cancel context.CancelFunc)
}

// MuteLookup answers whether a thread has notifications muted. A nil
// lookup means nothing is muted.
type MuteLookup interface {
	IsMuted(ctx context.Context, threadID string) bool
}
