package direct

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"server/internal/domain"
	"server/internal/provider"
)

func TestClientSyntheticMode(t *testing.T) {
	client := NewClient(Options{})
	if client.HasCredentials() {
		t.Fatal("no api key configured, HasCredentials should be false")
	}
	ctx := context.Background()

	handle, err := client.Submit(ctx, domain.GenerationRequest{
		ModelID: "direct/upscale",
		Input:   map[string]any{"image_url": "https://x/in.png"},
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
	if status.Payload["synthetic"] != true {
		t.Fatalf("payload = %v, want synthetic marker", status.Payload)
	}
	images, ok := status.Payload["images"].([]any)
	if !ok || len(images) != 1 {
		t.Fatalf("payload images = %v", status.Payload["images"])
	}
	asset := images[0].(map[string]any)
	url, _ := asset["url"].(string)
	if !strings.Contains(url, "direct/upscale") {
		t.Fatalf("synthetic url = %q, want model id embedded", url)
	}
}

func TestClientRemoteRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/direct/style-transfer" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Key test-key" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"image": map[string]any{"url": "https://x/out.png", "content_type": "image/png"},
		})
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	ctx := context.Background()

	handle, err := client.Submit(ctx, domain.GenerationRequest{
		ModelID: "direct/style-transfer",
		Input:   map[string]any{"image_url": "https://x/in.png", "style": "watercolor"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status, err := client.Poll(ctx, handle)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.State != provider.RunSucceeded {
		t.Fatalf("state = %q", status.State)
	}
	if _, ok := status.Payload["image"]; !ok {
		t.Fatalf("payload = %v", status.Payload)
	}
}

func TestClientRemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), domain.GenerationRequest{
		ModelID: "direct/missing",
		Input:   map[string]any{},
	})
	if !errors.Is(err, domain.ErrSubmissionRejected) {
		t.Fatalf("err = %v, want ErrSubmissionRejected", err)
	}
}

func TestClientCancelIsNoop(t *testing.T) {
	client := NewClient(Options{})
	handle, err := client.Submit(context.Background(), domain.GenerationRequest{ModelID: "direct/upscale"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := client.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	status, err := client.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.State != provider.RunSucceeded {
		t.Fatalf("state after cancel = %q, run already finished in Submit", status.State)
	}
}
