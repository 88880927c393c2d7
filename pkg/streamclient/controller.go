package streamclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateAttached State = "attached"
	StateDetached State = "detached"
	StateTerminal State = "terminal"
)

const (
	StatusStreaming = "streaming"
	StatusComplete  = "complete"
	StatusError     = "error"
	StatusAborted   = "aborted"
)

func terminalStatus(status string) bool {
	switch status {
	case StatusComplete, StatusError, StatusAborted:
		return true
	}
	return false
}

// Controller drives one message's stream through its lifecycle:
// idle → starting → attached ⇄ detached → terminal. Every state change is
// written through the cache before the render callback fires, so a crashed
// process never rendered more than it persisted. Renders come either from
// the single event-loop goroutine or from a public method while no loop is
// running; they never overlap.
type Controller struct {
	client    *Client
	cache     Cache
	messageID string
	onChange  func(content, status string)

	// ReconnectBase is the wait before the first silent reconnect attempt
	// after a dropped connection; each of the three attempts doubles it.
	ReconnectBase time.Duration

	mu      sync.Mutex
	state   State
	jobID   string
	content string
	status  string
	stream  *EventStream
	closing bool
	gen     int
}

// NewController binds a controller to one message id. onChange may be nil.
func NewController(client *Client, cache Cache, messageID string, onChange func(content, status string)) *Controller {
	return &Controller{
		client:        client,
		cache:         cache,
		messageID:     messageID,
		onChange:      onChange,
		ReconnectBase: 500 * time.Millisecond,
		state:         StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// Start creates the stream job and attaches to its events. If the job is
// created but the attach fails, the controller is left detached: the job
// keeps running server-side and Reattach picks it up.
func (c *Controller) Start(ctx context.Context, params CreateStreamParams) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("streamclient: cannot start from state %s", state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	params.MessageID = c.messageID
	job, err := c.client.CreateStream(ctx, params)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.jobID = job.JobID
	c.content = ""
	c.status = job.Status
	c.mu.Unlock()
	c.persistAndRender(job.JobID, "", job.Status)

	return c.attach(ctx)
}

// Reattach resumes a stream for this message. A terminal cached entry
// renders without touching the network; anything else re-attaches by job id
// and lets the fresh snapshot supersede the cache.
func (c *Controller) Reattach(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateAttached || c.state == StateStarting {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("streamclient: cannot reattach from state %s", state)
	}
	c.mu.Unlock()

	entry, err := c.cache.Read(c.messageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.jobID = entry.JobID
	c.content = entry.Content
	c.status = entry.Status
	if terminalStatus(entry.Status) {
		c.state = StateTerminal
		c.mu.Unlock()
		if c.onChange != nil {
			c.onChange(entry.Content, entry.Status)
		}
		return nil
	}
	c.mu.Unlock()

	return c.attach(ctx)
}

// Detach closes the event connection and nothing else: the job keeps
// streaming server-side and the cache keeps the partial content.
func (c *Controller) Detach() {
	c.mu.Lock()
	if c.state != StateAttached {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.state = StateDetached
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
}

// Cancel aborts the job. While attached, the final event arriving through
// the event loop does the rendering; otherwise Cancel renders the aborted
// state itself.
func (c *Controller) Cancel(ctx context.Context) (bool, error) {
	c.mu.Lock()
	jobID := c.jobID
	attached := c.state == StateAttached
	c.mu.Unlock()

	if jobID == "" {
		entry, err := c.cache.Read(c.messageID)
		if err != nil {
			return false, err
		}
		jobID = entry.JobID
		c.mu.Lock()
		c.jobID = entry.JobID
		c.content = entry.Content
		c.status = entry.Status
		c.mu.Unlock()
	}

	aborted, err := c.client.CancelStream(ctx, jobID)
	if err != nil {
		return false, err
	}
	if aborted && !attached {
		c.mu.Lock()
		c.jobID = jobID
		c.status = StatusAborted
		c.state = StateTerminal
		content := c.content
		c.mu.Unlock()
		c.persistAndRender(jobID, content, StatusAborted)
	}
	return aborted, nil
}

// Refresh fetches the job once, without attaching. It is the path for a
// client that comes back long after the stream finished.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateAttached {
		c.mu.Unlock()
		return errors.New("streamclient: refresh while attached")
	}
	if terminalStatus(c.status) {
		c.mu.Unlock()
		return nil
	}
	jobID := c.jobID
	c.mu.Unlock()

	if jobID == "" {
		entry, err := c.cache.Read(c.messageID)
		if err != nil {
			return err
		}
		if terminalStatus(entry.Status) {
			c.mu.Lock()
			c.jobID = entry.JobID
			c.content = entry.Content
			c.status = entry.Status
			c.state = StateTerminal
			c.mu.Unlock()
			if c.onChange != nil {
				c.onChange(entry.Content, entry.Status)
			}
			return nil
		}
		jobID = entry.JobID
	}

	job, err := c.client.GetStream(ctx, jobID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.jobID = jobID
	c.content = job.Content
	c.status = job.Status
	if terminalStatus(job.Status) {
		c.state = StateTerminal
	} else {
		c.state = StateDetached
	}
	c.mu.Unlock()
	c.persistAndRender(jobID, job.Content, job.Status)
	return nil
}

func (c *Controller) attach(ctx context.Context) error {
	c.mu.Lock()
	jobID := c.jobID
	c.mu.Unlock()

	stream, err := c.client.OpenEvents(ctx, jobID)
	if err != nil {
		c.mu.Lock()
		c.state = StateDetached
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.closing = false
	c.state = StateAttached
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(ctx, stream, gen)
	return nil
}

func (c *Controller) readLoop(ctx context.Context, stream *EventStream, gen int) {
	for {
		ev, err := stream.Next()
		if err != nil {
			_ = stream.Close()
			c.mu.Lock()
			if c.closing || c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			next := c.reconnect(ctx)
			c.mu.Lock()
			if next == nil {
				if c.gen == gen {
					c.state = StateDetached
					c.stream = nil
				}
				c.mu.Unlock()
				return
			}
			if c.closing || c.gen != gen {
				c.mu.Unlock()
				_ = next.Close()
				return
			}
			c.stream = next
			c.mu.Unlock()
			stream = next
			continue
		}

		// Events can still sit in the read buffer after a Detach; drop them.
		c.mu.Lock()
		stale := c.closing || c.gen != gen
		c.mu.Unlock()
		if stale {
			_ = stream.Close()
			return
		}

		switch ev.Type {
		case EventSnapshot:
			c.mu.Lock()
			c.content = ev.Content
			jobID, status := c.jobID, c.status
			c.mu.Unlock()
			c.persistAndRender(jobID, ev.Content, status)
		case EventDelta:
			c.mu.Lock()
			c.content += ev.ContentDelta
			content, jobID, status := c.content, c.jobID, c.status
			c.mu.Unlock()
			c.persistAndRender(jobID, content, status)
		case EventFinal:
			c.mu.Lock()
			c.status = ev.Status
			c.state = StateTerminal
			c.stream = nil
			content, jobID := c.content, c.jobID
			c.mu.Unlock()
			_ = stream.Close()
			c.persistAndRender(jobID, content, ev.Status)
			return
		}
	}
}

// reconnect makes up to three silent attempts with doubling backoff and
// returns the new stream, or nil when the caller should go detached.
func (c *Controller) reconnect(ctx context.Context) *EventStream {
	wait := c.ReconnectBase
	for attempt := 0; attempt < 3; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return nil
		}
		jobID := c.jobID
		c.mu.Unlock()

		stream, err := c.client.OpenEvents(ctx, jobID)
		if err == nil {
			return stream
		}
		wait *= 2
	}
	return nil
}

// persistAndRender writes the cache entry first, then renders. A cache
// write failure does not block the render; the content shown is server
// truth either way.
func (c *Controller) persistAndRender(jobID, content, status string) {
	_ = c.cache.Write(c.messageID, CachedStream{
		JobID:     jobID,
		Status:    status,
		Content:   content,
		UpdatedAt: time.Now(),
	})
	if c.onChange != nil {
		c.onChange(content, status)
	}
}
