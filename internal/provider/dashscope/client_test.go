package dashscope

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"server/internal/domain"
	"server/internal/provider"
)

func TestClientSubmitResolvesImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/aigc/multimodal-generation/generation" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req generationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "qwen-image-plus" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Parameters["size"] != "1024*1024" {
			t.Errorf("parameters = %v, want size forwarded", req.Parameters)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{"choices": []any{}},
			"usage":  map[string]any{"image_count": 1},
		})
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	ctx := context.Background()

	handle, err := client.Submit(ctx, domain.GenerationRequest{
		ModelID: "qwen-image-plus",
		Input:   map[string]any{"prompt": "a lighthouse", "size": "1024*1024"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status, err := client.Poll(ctx, handle)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.State != provider.RunSucceeded {
		t.Fatalf("state = %q, want %q", status.State, provider.RunSucceeded)
	}
	if _, ok := status.Payload["output"]; !ok {
		t.Fatalf("payload = %v, want provider body preserved", status.Payload)
	}

	// Polling is replay, not a second HTTP call: the status stays terminal.
	again, err := client.Poll(ctx, handle)
	if err != nil {
		t.Fatalf("Poll again: %v", err)
	}
	if again.State != provider.RunSucceeded {
		t.Fatalf("replayed state = %q", again.State)
	}
}

func TestClientSubmitBusinessError(t *testing.T) {
	// DashScope reports some failures with HTTP 200 plus a code field.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code":    "DataInspectionFailed",
			"message": "input data may contain inappropriate content",
		})
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	ctx := context.Background()

	handle, err := client.Submit(ctx, domain.GenerationRequest{
		ModelID: "qwen-image-plus",
		Input:   map[string]any{"prompt": "something"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status, err := client.Poll(ctx, handle)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.State != provider.RunFailed {
		t.Fatalf("state = %q, want %q", status.State, provider.RunFailed)
	}
	if status.Message == "" {
		t.Fatal("expected failure message from provider code")
	}
}

func TestClientSubmitHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"code": "InvalidApiKey", "message": "invalid api key"})
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "wrong", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), domain.GenerationRequest{
		ModelID: "qwen-image-plus",
		Input:   map[string]any{"prompt": "a lighthouse"},
	})
	if !errors.Is(err, domain.ErrSubmissionRejected) {
		t.Fatalf("err = %v, want ErrSubmissionRejected", err)
	}
}

func TestClientSubmitValidation(t *testing.T) {
	client := NewClient(Options{APIKey: "test-key"})
	_, err := client.Submit(context.Background(), domain.GenerationRequest{
		ModelID: "qwen-image-plus",
		Input:   map[string]any{"prompt": "   "},
	})
	if !errors.Is(err, domain.ErrSubmissionRejected) {
		t.Fatalf("blank prompt: err = %v, want ErrSubmissionRejected", err)
	}

	client = NewClient(Options{})
	_, err = client.Submit(context.Background(), domain.GenerationRequest{
		ModelID: "qwen-image-plus",
		Input:   map[string]any{"prompt": "ok"},
	})
	if !errors.Is(err, domain.ErrSubmissionRejected) {
		t.Fatalf("missing key: err = %v, want ErrSubmissionRejected", err)
	}
}

func TestClientPollUnknownHandle(t *testing.T) {
	client := NewClient(Options{APIKey: "test-key"})
	if _, err := client.Poll(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown handle")
	}
}
