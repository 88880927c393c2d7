package streamclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	EventSnapshot  = "snapshot"
	EventDelta     = "delta"
	EventKeepalive = "keepalive"
	EventFinal     = "final"
)

// Event is one decoded server-sent event. Fields are populated according to
// Type: Content/Cursor for snapshots, ContentDelta/Cursor for deltas,
// Status/Error for the final event.
type Event struct {
	Type         string
	Content      string
	ContentDelta string
	Cursor       int
	Status       string
	Error        string
}

// EventStream reads typed events off one live connection.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventStream(body io.ReadCloser) *EventStream {
	scanner := bufio.NewScanner(body)
	// Snapshots carry full job content; give them room.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &EventStream{body: body, scanner: scanner}
}

// Next blocks until the next event arrives. It returns io.EOF when the
// server closes the stream after a final event, or the transport error that
// cut the connection.
func (s *EventStream) Next() (Event, error) {
	var name, data string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if name == "" {
				continue
			}
			return decodeEvent(name, data)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

func decodeEvent(name, data string) (Event, error) {
	ev := Event{Type: name}
	if data == "" {
		return ev, nil
	}
	var payload struct {
		Content      string `json:"content"`
		ContentDelta string `json:"content_delta"`
		Cursor       int    `json:"cursor"`
		Status       string `json:"status"`
		Error        string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Event{}, fmt.Errorf("streamclient: decode %s event: %w", name, err)
	}
	ev.Content = payload.Content
	ev.ContentDelta = payload.ContentDelta
	ev.Cursor = payload.Cursor
	ev.Status = payload.Status
	ev.Error = payload.Error
	return ev, nil
}
