// Package streamclient is the Go SDK for the stream API: a thin HTTP
// client, a typed SSE reader, and a reattach controller backed by a
// durable per-message cache.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient builds a client for the given API base URL. The default HTTP
// client carries no timeout: event streams stay open indefinitely.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{},
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CreateStreamParams struct {
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages"`
}

type Job struct {
	JobID          string     `json:"job_id"`
	ThreadID       string     `json:"thread_id"`
	MessageID      string     `json:"message_id"`
	Status         string     `json:"status"`
	Content        string     `json:"content"`
	ChunksReceived int        `json:"chunks_received"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("streamclient: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) CreateStream(ctx context.Context, params CreateStreamParams) (*Job, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("streamclient: encode params: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/streams", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var job Job
	if err := c.doJSON(req, http.StatusCreated, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetStream(ctx context.Context, jobID string) (*Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/streams/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := c.doJSON(req, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CancelStream(ctx context.Context, jobID string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/streams/"+jobID+"/cancel", nil)
	if err != nil {
		return false, err
	}
	var res struct {
		Aborted bool `json:"aborted"`
	}
	if err := c.doJSON(req, http.StatusOK, &res); err != nil {
		return false, err
	}
	return res.Aborted, nil
}

// OpenEvents attaches to the job's event stream. The returned EventStream
// must be closed by the caller.
func (c *Client) OpenEvents(ctx context.Context, jobID string) (*EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/streams/"+jobID+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("streamclient: open events: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		return nil, decodeAPIError(res)
	}
	return newEventStream(res.Body), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("streamclient: build request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, wantStatus int, out any) error {
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("streamclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != wantStatus {
		return decodeAPIError(res)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("streamclient: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(res *http.Response) error {
	apiErr := &APIError{StatusCode: res.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(res.StatusCode)
	}
	return apiErr
}
