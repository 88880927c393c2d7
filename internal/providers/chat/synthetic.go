package chat

import (
	"context"
	"strings"
	"time"
)

const syntheticReply = "This is a synthetic response produced without an upstream model. " +
	"Set OPENAI_API_KEY to stream real completions; until then every request " +
	"receives this fixed text, delivered chunk by chunk like the real thing."

// Synthetic streams a scripted reply word by word. It stands in for the real
// provider when no API key is configured and drives the deterministic parts
// of the test suite.
type Synthetic struct {
	// Script is the exact chunk sequence to emit. Empty means the canned
	// default reply split on word boundaries.
	Script []string
	// ChunkDelay paces emission; zero emits as fast as the consumer reads.
	ChunkDelay time.Duration
	// Err, when set, is returned after FailAfter chunks have been emitted.
	Err       error
	FailAfter int
}

// NewSynthetic returns a paced default-reply streamer for production use.
func NewSynthetic(chunkDelay time.Duration) *Synthetic {
	return &Synthetic{ChunkDelay: chunkDelay}
}

// Stream implements Streamer.
func (p *Synthetic) Stream(ctx context.Context, _ Request, onChunk func(string) error) (string, error) {
	chunks := p.Script
	if len(chunks) == 0 {
		chunks = strings.SplitAfter(syntheticReply, " ")
	}

	var full strings.Builder
	for i, chunk := range chunks {
		if p.Err != nil && i >= p.FailAfter {
			return full.String(), p.Err
		}
		if p.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return full.String(), ctx.Err()
			case <-time.After(p.ChunkDelay):
			}
		} else if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}
