package proxy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Fender1992/cachegpt/internal/apierr"
	"github.com/Fender1992/cachegpt/internal/provider"
)

type mockProvider struct {
	name     string
	prefixes []string
	resp     *provider.Response
	err      error
	calls    int
}

func (m *mockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan *provider.Chunk, 2)
	ch <- &provider.Chunk{Delta: "hi"}
	ch <- &provider.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Name() string                { return m.name }
func (m *mockProvider) ModelPrefixes() []string     { return m.prefixes }
func (m *mockProvider) CostPerInputToken() float64  { return 0.000001 }
func (m *mockProvider) CostPerOutputToken() float64 { return 0.000002 }

func twoProviderDispatcher() (*Dispatcher, *mockProvider, *mockProvider) {
	gpt := &mockProvider{
		name:     "openai",
		prefixes: []string{"gpt-", "o1"},
		resp:     &provider.Response{Content: "from openai", InputTokens: 10, OutputTokens: 20, Provider: "openai"},
	}
	claude := &mockProvider{
		name:     "anthropic",
		prefixes: []string{"claude-"},
		resp:     &provider.Response{Content: "from anthropic", InputTokens: 5, OutputTokens: 5, Provider: "anthropic"},
	}
	return NewDispatcher([]provider.Provider{gpt, claude}), gpt, claude
}

func TestDispatch_RoutesByModelPrefix(t *testing.T) {
	d, gpt, claude := twoProviderDispatcher()

	resp, _, derr := d.Dispatch(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	if derr != nil {
		t.Fatalf("dispatch failed: %v", derr)
	}
	if resp.Content != "from openai" || gpt.calls != 1 || claude.calls != 0 {
		t.Errorf("gpt- model must route to openai: %+v", resp)
	}

	resp, _, derr = d.Dispatch(context.Background(), &provider.Request{Model: "claude-3-haiku-20240307"})
	if derr != nil {
		t.Fatalf("dispatch failed: %v", derr)
	}
	if resp.Content != "from anthropic" || claude.calls != 1 {
		t.Errorf("claude- model must route to anthropic: %+v", resp)
	}
}

func TestDispatch_UnknownModelIsValidationError(t *testing.T) {
	d, gpt, claude := twoProviderDispatcher()

	_, _, derr := d.Dispatch(context.Background(), &provider.Request{Model: "llama-70b"})
	if derr == nil {
		t.Fatal("expected denial for unknown model")
	}
	if derr.Code != apierr.CodeValidation {
		t.Errorf("unknown model is a client error, got %s", derr.Code)
	}
	if gpt.calls != 0 || claude.calls != 0 {
		t.Error("no upstream call should be made for an unroutable model")
	}
}

func TestDispatch_ComputesCostFromTokenRates(t *testing.T) {
	d, _, _ := twoProviderDispatcher()

	_, cost, derr := d.Dispatch(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	if derr != nil {
		t.Fatalf("dispatch failed: %v", derr)
	}
	want := 10*0.000001 + 20*0.000002
	if cost != want {
		t.Errorf("expected cost %v, got %v", want, cost)
	}
}

func TestDispatch_ClassifiesTimeout(t *testing.T) {
	p := &mockProvider{name: "openai", prefixes: []string{"gpt-"}, err: context.DeadlineExceeded}
	d := NewDispatcher([]provider.Provider{p})

	_, _, derr := d.Dispatch(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	if derr == nil || derr.Code != apierr.CodeUpstreamTimeout {
		t.Errorf("expected upstream_timeout, got %v", derr)
	}
}

func TestDispatch_ClassifiesUpstreamAuth(t *testing.T) {
	p := &mockProvider{
		name:     "openai",
		prefixes: []string{"gpt-"},
		err:      &provider.APIError{Provider: "openai", StatusCode: http.StatusUnauthorized, Body: "bad key"},
	}
	d := NewDispatcher([]provider.Provider{p})

	_, _, derr := d.Dispatch(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	if derr == nil || derr.Code != apierr.CodeUpstreamAuth {
		t.Errorf("expected upstream_auth_failed, got %v", derr)
	}
}

func TestDispatch_ClassifiesGenericUpstreamFailure(t *testing.T) {
	p := &mockProvider{name: "openai", prefixes: []string{"gpt-"}, err: errors.New("connection reset")}
	d := NewDispatcher([]provider.Provider{p})

	_, _, derr := d.Dispatch(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	if derr == nil || derr.Code != apierr.CodeUpstream {
		t.Errorf("expected upstream_failure, got %v", derr)
	}
}

func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p := &mockProvider{name: "openai", prefixes: []string{"gpt-"}, err: errors.New("down")}
	d := NewDispatcher([]provider.Provider{p})

	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	}

	// Breaker trips after 3 consecutive failures; later calls never reach
	// the provider.
	if p.calls > 3 {
		t.Errorf("breaker should stop calls after 3 failures, provider saw %d", p.calls)
	}
}

func TestDispatchStream_DeliversChunks(t *testing.T) {
	d, _, _ := twoProviderDispatcher()

	ch, derr := d.DispatchStream(context.Background(), &provider.Request{Model: "gpt-3.5-turbo"})
	if derr != nil {
		t.Fatalf("DispatchStream failed: %v", derr)
	}

	var content string
	var done bool
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		if chunk.Done {
			done = true
			continue
		}
		content += chunk.Delta
	}
	if !done || content != "hi" {
		t.Errorf("expected streamed 'hi' and done, got %q done=%v", content, done)
	}
}

func TestDispatchStream_UnknownModel(t *testing.T) {
	d, _, _ := twoProviderDispatcher()

	_, derr := d.DispatchStream(context.Background(), &provider.Request{Model: "mistral-7b"})
	if derr == nil || derr.Code != apierr.CodeValidation {
		t.Errorf("expected validation_failed, got %v", derr)
	}
}
