package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI streams chat completions from the OpenAI API or any compatible
// gateway reachable through a custom base URL.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a streaming client. model is the default used when a
// request does not name one.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Stream implements Streamer.
func (p *OpenAI) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("read completion stream: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		chunk := response.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}
