package streamclient

import (
	"io"
	"strings"
	"testing"
)

func TestEventStreamParsesSequence(t *testing.T) {
	transcript := "event: snapshot\n" +
		"data: {\"content\":\"Hel\",\"cursor\":3}\n\n" +
		"event: delta\n" +
		"data: {\"content_delta\":\"lo\",\"cursor\":5}\n\n" +
		"event: keepalive\n" +
		"data: {}\n\n" +
		"event: final\n" +
		"data: {\"status\":\"complete\"}\n\n"

	s := newEventStream(io.NopCloser(strings.NewReader(transcript)))
	defer s.Close()

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("first Next returned error: %v", err)
	}
	if ev.Type != EventSnapshot || ev.Content != "Hel" || ev.Cursor != 3 {
		t.Fatalf("snapshot mismatch: %+v", ev)
	}

	ev, err = s.Next()
	if err != nil {
		t.Fatalf("second Next returned error: %v", err)
	}
	if ev.Type != EventDelta || ev.ContentDelta != "lo" || ev.Cursor != 5 {
		t.Fatalf("delta mismatch: %+v", ev)
	}

	ev, err = s.Next()
	if err != nil {
		t.Fatalf("third Next returned error: %v", err)
	}
	if ev.Type != EventKeepalive {
		t.Fatalf("keepalive mismatch: %+v", ev)
	}

	ev, err = s.Next()
	if err != nil {
		t.Fatalf("fourth Next returned error: %v", err)
	}
	if ev.Type != EventFinal || ev.Status != StatusComplete {
		t.Fatalf("final mismatch: %+v", ev)
	}

	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("after final: err = %v, want io.EOF", err)
	}
}

func TestEventStreamFinalCarriesError(t *testing.T) {
	transcript := "event: final\ndata: {\"status\":\"error\",\"error\":\"stream expired\"}\n\n"
	s := newEventStream(io.NopCloser(strings.NewReader(transcript)))
	defer s.Close()

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if ev.Status != StatusError || ev.Error != "stream expired" {
		t.Fatalf("final mismatch: %+v", ev)
	}
}

func TestEventStreamRejectsMalformedData(t *testing.T) {
	transcript := "event: delta\ndata: not-json\n\n"
	s := newEventStream(io.NopCloser(strings.NewReader(transcript)))
	defer s.Close()

	if _, err := s.Next(); err == nil {
		t.Fatal("expected decode error for malformed data")
	}
}
