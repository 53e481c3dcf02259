// Package dashscope implements the sync-subscribe adapter for DashScope
// style generation APIs: the HTTP call blocks until the provider finishes,
// so the handle returned by Submit is already resolved.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/provider"
)

// Options configures the DashScope client.
type Options struct {
	APIKey         string
	BaseURL        string
	Models         []string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs blocking HTTP calls to the DashScope generation API.
type Client struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
	logger     *infra.Logger
	resolved   *provider.ResolvedHandles
}

type generationRequest struct {
	Model      string          `json:"model"`
	Input      generationInput `json:"input"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	models := opts.Models
	if len(models) == 0 {
		models = []string{"qwen-image-plus", "wanx/*"}
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
		resolved:   provider.NewResolvedHandles(),
	}
}

// Descriptor implements provider.Adapter.
func (c *Client) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:     "dashscope",
		Protocol: provider.ProtocolSyncSubscribe,
		Models:   c.models,
	}
}

// Submit blocks until the provider finishes and returns a handle whose
// status is already terminal.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: dashscope api key missing", domain.ErrSubmissionRejected)
	}
	prompt, _ := req.Input["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", domain.ErrSubmissionRejected)
	}

	payload := generationRequest{
		Model: req.ModelID,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
		Parameters: parameters(req.Input),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dashscope: encode request: %w", err)
	}

	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("dashscope: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("dashscope: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("dashscope: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return "", fmt.Errorf("%w: %s (%s)", domain.ErrSubmissionRejected, detail.Message, detail.Code)
		}
		return "", fmt.Errorf("%w: status %d", domain.ErrSubmissionRejected, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("dashscope: decode response: %w", err)
	}
	handle := uuid.NewString()
	if code, _ := decoded["code"].(string); code != "" {
		message, _ := decoded["message"].(string)
		c.resolved.Put(handle, &provider.Status{
			State:   provider.RunFailed,
			Message: fmt.Sprintf("%s (%s)", message, code),
		})
		return handle, nil
	}
	c.resolved.Put(handle, &provider.Status{State: provider.RunSucceeded, Payload: decoded})
	c.logger.Debug().
		Str("model", req.ModelID).
		Str("handle", handle).
		Msg("dashscope: generation completed")
	return handle, nil
}

// Poll replays the terminal status recorded during Submit.
func (c *Client) Poll(ctx context.Context, handle string) (*provider.Status, error) {
	return c.resolved.Get(handle)
}

// Cancel is a no-op: the run finished before Submit returned.
func (c *Client) Cancel(ctx context.Context, handle string) error {
	return nil
}

func parameters(input map[string]any) map[string]any {
	params := make(map[string]any)
	for _, key := range []string{"negative_prompt", "size", "seed", "watermark"} {
		if v, ok := input[key]; ok {
			params[key] = v
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

var _ provider.Adapter = (*Client)(nil)
