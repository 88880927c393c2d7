// Package notify decides whether a finished stream warrants a notification
// and fans the result out to delivery sinks.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Kind labels the notification variants a terminal job can produce.
type Kind string

const (
	KindMessageReceived Kind = "message-received"
	KindWarning         Kind = "warning"
)

// Notification carries everything a client needs to surface the event and
// deep-link back into the thread.
type Notification struct {
	JobID     string    `json:"job_id"`
	OwnerID   string    `json:"owner_id"`
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	Kind      Kind      `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink delivers notifications. Delivery is best effort; errors are logged by
// the dispatcher and never retried.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the service log. It is always installed so
// a deployment without a broker still records what would have been sent.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, n Notification) error {
	s.Logger.Info().
		Str("job_id", n.JobID).
		Str("owner_id", n.OwnerID).
		Str("thread_id", n.ThreadID).
		Str("kind", string(n.Kind)).
		Msg("notify: delivered")
	return nil
}
