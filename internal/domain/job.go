package domain

import "time"

// JobStatus enumerates stream job lifecycle states.
type JobStatus string

const (
	JobStatusStreaming JobStatus = "streaming"
	JobStatusComplete  JobStatus = "complete"
	JobStatusError     JobStatus = "error"
	JobStatusAborted   JobStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusError, JobStatusAborted:
		return true
	}
	return false
}

// Job encapsulates one background text generation stream. Content grows
// while the job is streaming and is frozen by the first terminal transition.
type Job struct {
	ID             string
	OwnerID        string
	ThreadID       string
	MessageID      string
	Status         JobStatus
	Content        string
	ChunksReceived int
	ErrorMessage   string
	Model          string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// JobDelta is one append unit: a batch of upstream chunks coalesced into a
// single content suffix. Appends are atomic, so any observed content length
// falls on a delta boundary.
type JobDelta struct {
	ContentDelta string
	Chunks       int
}

// CreateJobParams carries the metadata persisted with a new job. The prompt
// itself goes to the upstream provider and is not stored.
type CreateJobParams struct {
	OwnerID   string
	ThreadID  string
	MessageID string
	Model     string
}

// CleanupResult reports one expiry pass. TimedOut holds snapshots of the
// streaming jobs that were force-failed so callers can dispatch
// notifications for them.
type CleanupResult struct {
	TimedOut []*Job
	Deleted  int
}
