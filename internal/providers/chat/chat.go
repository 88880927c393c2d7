// Package chat abstracts the upstream text generation providers.
package chat

import "context"

// Message is one turn of the prompt sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the prompt for one generation.
type Request struct {
	Model    string
	Messages []Message
}

// Streamer produces text chunk by chunk. onChunk is called for every
// non-empty chunk in order; returning an error from it aborts the stream.
// The returned string is the full concatenated text produced so far, also
// on error.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(chunk string) error) (string, error)
}
