package provider

import (
	"context"
	"fmt"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stream      bool
	// Metadata for tracing
	UserID    string
	RequestID string
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

func (r *Response) Usage() Usage {
	return Usage{
		PromptTokens:     r.InputTokens,
		CompletionTokens: r.OutputTokens,
		TotalTokens:      r.InputTokens + r.OutputTokens,
	}
}

type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

// APIError is a non-200 answer from an upstream provider, kept typed so the
// dispatcher can distinguish credential rejections from generic failures.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
	// ModelPrefixes lists the model-name prefixes this provider serves;
	// routing matches on them.
	ModelPrefixes() []string
	CostPerInputToken() float64 // cost in USD per 1 token
	CostPerOutputToken() float64
}
