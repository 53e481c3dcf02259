// Package falqueue implements the queue-and-poll adapter for fal.ai style
// queue APIs: submission returns a request ticket and completion is
// discovered through repeated status queries.
package falqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/provider"
)

// Options configures the queue client.
type Options struct {
	APIKey         string
	BaseURL        string
	Models         []string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a fal.ai style queue API.
type Client struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type statusResponse struct {
	Status string `json:"status"`
	Logs   []struct {
		Message string `json:"message"`
	} `json:"logs"`
	Error string `json:"error"`
}

type errorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	models := opts.Models
	if len(models) == 0 {
		models = []string{"fal-ai/*"}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		models:     models,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Descriptor implements provider.Adapter.
func (c *Client) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:     "fal-queue",
		Protocol: provider.ProtocolQueueAndPoll,
		Models:   c.models,
	}
}

// Submit enqueues the request and returns an opaque handle encoding the
// model and queue ticket.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body, err := json.Marshal(req.Input)
	if err != nil {
		return "", fmt.Errorf("%w: encode input: %v", domain.ErrSubmissionRejected, err)
	}
	endpoint := c.baseURL + "/" + req.ModelID
	raw, status, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("falqueue: submit: %w", err)
	}
	if status >= 300 {
		return "", fmt.Errorf("%w: %s", domain.ErrSubmissionRejected, decodeError(raw, status))
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("falqueue: decode submit response: %w", err)
	}
	if decoded.RequestID == "" {
		return "", fmt.Errorf("%w: queue returned no request id", domain.ErrSubmissionRejected)
	}
	c.logger.Debug().
		Str("model", req.ModelID).
		Str("request_id", decoded.RequestID).
		Msg("falqueue: enqueued request")
	return req.ModelID + "|" + decoded.RequestID, nil
}

// Poll issues one status query against the queue ticket. Still-running
// tickets come back as an explicit in-progress status, never as an error.
func (c *Client) Poll(ctx context.Context, handle string) (*provider.Status, error) {
	modelID, requestID, err := splitHandle(handle)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/%s/requests/%s/status?logs=1", c.baseURL, modelID, requestID)
	raw, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("falqueue: poll: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("falqueue: status query: %s", decodeError(raw, status))
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("falqueue: decode status: %w", err)
	}
	logs := make([]string, 0, len(decoded.Logs))
	for _, entry := range decoded.Logs {
		if entry.Message != "" {
			logs = append(logs, entry.Message)
		}
	}
	switch strings.ToUpper(decoded.Status) {
	case "IN_QUEUE":
		return &provider.Status{State: provider.RunQueued, Logs: logs}, nil
	case "IN_PROGRESS":
		return &provider.Status{State: provider.RunInProgress, Logs: logs}, nil
	case "COMPLETED":
		return c.fetchResult(ctx, modelID, requestID, logs)
	case "FAILED", "ERROR":
		message := decoded.Error
		if message == "" {
			message = "provider reported failure"
		}
		return &provider.Status{State: provider.RunFailed, Logs: logs, Message: message}, nil
	default:
		return nil, fmt.Errorf("falqueue: unknown queue status %q", decoded.Status)
	}
}

// Cancel asks the queue to drop the ticket. Best-effort: a ticket already
// picked up by the provider may still run to completion.
func (c *Client) Cancel(ctx context.Context, handle string) error {
	modelID, requestID, err := splitHandle(handle)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/%s/requests/%s/cancel", c.baseURL, modelID, requestID)
	raw, status, err := c.do(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("falqueue: cancel: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("falqueue: cancel: %s", decodeError(raw, status))
	}
	return nil
}

func (c *Client) fetchResult(ctx context.Context, modelID, requestID string, logs []string) (*provider.Status, error) {
	endpoint := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, modelID, requestID)
	raw, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("falqueue: fetch result: %w", err)
	}
	if status >= 300 {
		return &provider.Status{
			State:   provider.RunFailed,
			Logs:    logs,
			Message: decodeError(raw, status),
		}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("falqueue: decode result: %w", err)
	}
	return &provider.Status{State: provider.RunSucceeded, Payload: payload, Logs: logs}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Key "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func splitHandle(handle string) (modelID, requestID string, err error) {
	modelID, requestID, ok := strings.Cut(handle, "|")
	if !ok || modelID == "" || requestID == "" {
		return "", "", fmt.Errorf("falqueue: malformed handle %q", handle)
	}
	return modelID, requestID, nil
}

func decodeError(raw []byte, status int) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Detail != "" {
			return detail.Detail
		}
		if detail.Message != "" {
			return detail.Message
		}
	}
	return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(raw)))
}

var _ provider.Adapter = (*Client)(nil)
