package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Fender1992/cachegpt/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		resp := anthropicResponse{
			ID: "msg-1",
			Content: []anthropicContent{
				{Type: "text", Text: "Hello from Claude mock!"},
			},
			Model: "claude-3-haiku-20240307",
			Usage: anthropicUsage{InputTokens: 12, OutputTokens: 30},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := &AnthropicProvider{
		apiKey:  "test-key",
		baseURL: server.URL,
	}

	req := &provider.Request{
		Model: "claude-3-haiku-20240307",
		Messages: []provider.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	}

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from Claude mock!" {
		t.Errorf("Expected 'Hello from Claude mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 30 {
		t.Errorf("Unexpected usage: %d in / %d out", resp.InputTokens, resp.OutputTokens)
	}
	if gotReq.System != "be brief" {
		t.Errorf("system message should be hoisted to the system field, got %q", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("system message should not remain in messages: %v", gotReq.Messages)
	}
	if gotReq.MaxTokens != 4096 {
		t.Errorf("Expected default max_tokens 4096, got %d", gotReq.MaxTokens)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"type": "permission_error"}}`))
	}))
	defer server.Close()

	p := &AnthropicProvider{
		apiKey:  "bad-key",
		baseURL: server.URL,
	}

	_, err := p.Complete(context.Background(), &provider.Request{
		Model:    "claude-3-haiku-20240307",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error from 403 response")
	}

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *provider.APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", apiErr.StatusCode)
	}
}

func TestCompleteStream_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{"Hello", " from", " Claude", "!"}
		for _, chunk := range chunks {
			event := anthropicStreamEvent{
				Type:  "content_block_delta",
				Delta: anthropicDelta{Type: "text_delta", Text: chunk},
			}
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "event: content_block_delta\ndata: %s\n\n", string(data))
		}
		fmt.Fprintf(w, "event: message_stop\ndata: {\"type\": \"message_stop\"}\n\n")
	}))
	defer server.Close()

	p := &AnthropicProvider{
		apiKey:  "test-key",
		baseURL: server.URL,
	}

	ch, err := p.CompleteStream(context.Background(), &provider.Request{
		Model:    "claude-3-haiku-20240307",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("Received error from chunk: %v", chunk.Err)
		}
		if chunk.Done {
			done = true
			continue
		}
		content += chunk.Delta
	}

	if !done {
		t.Error("Expected stream to be done")
	}
	if content != "Hello from Claude!" {
		t.Errorf("Expected 'Hello from Claude!', got %s", content)
	}
}

func TestModelPrefixes(t *testing.T) {
	p := New("key")
	prefixes := p.ModelPrefixes()
	if len(prefixes) != 1 || prefixes[0] != "claude-" {
		t.Errorf("Expected claude- prefix, got %v", prefixes)
	}
}
