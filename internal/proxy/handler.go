package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fender1992/cachegpt/internal/admission"
	"github.com/Fender1992/cachegpt/internal/apierr"
	"github.com/Fender1992/cachegpt/internal/auth"
	"github.com/Fender1992/cachegpt/internal/cache"
	"github.com/Fender1992/cachegpt/internal/plan"
	"github.com/Fender1992/cachegpt/internal/provider"
	"github.com/Fender1992/cachegpt/internal/usage"
)

// Handler runs the request pipeline: authenticate, admit, consult the cache,
// dispatch on a miss, account for the outcome.
type Handler struct {
	dispatcher *Dispatcher
	admitter   *admission.Admitter
	lookup     *cache.Lookup
	accountant *usage.Accountant
	usageStore usage.Store
	timeout    time.Duration
	tracer     trace.Tracer
}

func NewHandler(dispatcher *Dispatcher, admitter *admission.Admitter, lookup *cache.Lookup, accountant *usage.Accountant, usageStore usage.Store, timeout time.Duration, tracer trace.Tracer) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		admitter:   admitter,
		lookup:     lookup,
		accountant: accountant,
		usageStore: usageStore,
		timeout:    timeout,
		tracer:     tracer,
	}
}

type completionRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`

	// SimilarityThreshold overrides the semantic match floor for this
	// request. Gated on the custom-similarity plan capability.
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID, req, ok := h.prepare(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "proxy.chat_completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.String("model", req.Model),
	)

	var requiredCap plan.Capability
	if req.SimilarityThreshold != nil {
		requiredCap = plan.CapCustomThreshold
	}

	if denial := h.admitter.Admit(ctx, userID, requiredCap, nil); denial != nil {
		apierr.Write(w, denial)
		return
	}

	if req.Stream {
		h.serveStream(ctx, w, userID, req, start)
		return
	}

	queryHash := cache.ComputeKey(req.Messages, req.Model)
	queryText := cache.CanonicalText(req.Messages)

	var result *cache.Result
	var err error
	if req.SimilarityThreshold != nil {
		result, err = h.lookup.FindWithThreshold(ctx, userID, queryHash, queryText, *req.SimilarityThreshold)
	} else {
		result, err = h.lookup.Find(ctx, userID, queryHash, queryText)
	}
	if err == nil && result != nil {
		span.SetAttributes(attribute.String("cache.hit", result.Type))
		h.accountant.RecordHit(userID, result.Entry.TokensSaved, result.Entry.CostSaved)
		h.accountant.Append(&usage.LogEntry{
			UserID:         userID,
			APIKeyID:       auth.GetAPIKeyID(ctx),
			CacheHit:       true,
			ModelUsed:      result.Entry.ModelUsed,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			StatusCode:     http.StatusOK,
		})
		h.writeCachedResponse(w, result)
		return
	}
	span.SetAttributes(attribute.String("cache.hit", "miss"))

	resp, cost, derr := h.dispatcher.Dispatch(ctx, &provider.Request{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		UserID:      userID,
		RequestID:   auth.GetRequestID(ctx),
	})
	if derr != nil {
		h.accountant.Append(&usage.LogEntry{
			UserID:         userID,
			APIKeyID:       auth.GetAPIKeyID(ctx),
			ModelUsed:      req.Model,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			StatusCode:     derr.Status,
		})
		apierr.Write(w, derr)
		return
	}

	tokensUsed := int64(resp.InputTokens + resp.OutputTokens)
	if err := h.lookup.Store(ctx, userID, queryHash, queryText, resp.Content, resp.Model, tokensUsed, cost); err != nil {
		// The caller still gets the upstream answer; only future requests
		// miss out.
		log.Printf("proxy: failed to cache response for user %s: %v", userID, err)
	}

	h.accountant.RecordMiss(userID)
	h.accountant.Append(&usage.LogEntry{
		UserID:         userID,
		APIKeyID:       auth.GetAPIKeyID(ctx),
		CacheHit:       false,
		TokensUsed:     tokensUsed,
		Cost:           cost,
		ModelUsed:      resp.Model,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		StatusCode:     http.StatusOK,
	})

	h.writeUpstreamResponse(w, resp)
}

// serveStream forwards a streamed completion. Streamed responses bypass the
// cache on both the read and write side.
func (h *Handler) serveStream(ctx context.Context, w http.ResponseWriter, userID string, req *completionRequest, start time.Time) {
	ch, derr := h.dispatcher.DispatchStream(ctx, &provider.Request{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		UserID:      userID,
		RequestID:   auth.GetRequestID(ctx),
	})
	if derr != nil {
		apierr.Write(w, derr)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for chunk := range ch {
		if chunk.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"%s\"}\n\n", strings.ReplaceAll(chunk.Err.Error(), `"`, `\"`))
			flusher.Flush()
			break
		}

		if chunk.Done {
			fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()
			break
		}

		escaped := strings.ReplaceAll(chunk.Delta, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%s\"},\"index\":0}]}\n\n", escaped)
		flusher.Flush()
	}

	h.accountant.RecordMiss(userID)
	h.accountant.Append(&usage.LogEntry{
		UserID:         userID,
		APIKeyID:       auth.GetAPIKeyID(ctx),
		ModelUsed:      req.Model,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		StatusCode:     http.StatusOK,
	})
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (string, *completionRequest, bool) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		apierr.Write(w, apierr.Unauthorized("unauthorized"))
		return "", nil, false
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.Validation("invalid request body"))
		return "", nil, false
	}
	if req.Model == "" {
		apierr.Write(w, apierr.Validation("model is required"))
		return "", nil, false
	}
	if len(req.Messages) == 0 {
		apierr.Write(w, apierr.Validation("messages must not be empty"))
		return "", nil, false
	}
	for _, m := range req.Messages {
		if m.Role == "" || m.Content == "" {
			apierr.Write(w, apierr.Validation("each message needs a role and content"))
			return "", nil, false
		}
	}
	if t := req.SimilarityThreshold; t != nil && (*t <= 0 || *t > 1) {
		apierr.Write(w, apierr.Validation("similarity_threshold must be in (0, 1]"))
		return "", nil, false
	}

	return userID, &req, true
}

func (h *Handler) writeCachedResponse(w http.ResponseWriter, result *cache.Result) {
	body := map[string]interface{}{
		"id":     uuid.New().String(),
		"object": "chat.completion",
		"model":  result.Entry.ModelUsed,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": result.Entry.ResponseText,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
		},
		"cached":     true,
		"cache_type": result.Type,
	}
	if result.Type == cache.HitSemantic {
		body["similarity"] = result.Similarity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeUpstreamResponse(w http.ResponseWriter, resp *provider.Response) {
	respID := resp.ID
	if respID == "" {
		respID = uuid.New().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       respID,
		"object":   "chat.completion",
		"model":    resp.Model,
		"provider": resp.Provider,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": resp.Content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     resp.InputTokens,
			"completion_tokens": resp.OutputTokens,
			"total_tokens":      resp.InputTokens + resp.OutputTokens,
		},
		"cached": false,
	})
}

// HandleStats serves the owner's aggregate cache statistics.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		apierr.Write(w, apierr.Unauthorized("unauthorized"))
		return
	}

	stats, err := h.usageStore.GetStats(r.Context(), userID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

// HandleUsageHistory serves up to twelve months of the owner's counters,
// newest first.
func (h *Handler) HandleUsageHistory(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		apierr.Write(w, apierr.Unauthorized("unauthorized"))
		return
	}

	months := 12
	history, err := h.usageStore.GetHistory(r.Context(), userID, months)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	type monthRow struct {
		Year            int     `json:"year"`
		Month           int     `json:"month"`
		RequestsMade    int64   `json:"requests_made"`
		CacheHits       int64   `json:"cache_hits"`
		CacheMisses     int64   `json:"cache_misses"`
		TokensSaved     int64   `json:"tokens_saved"`
		CostSaved       float64 `json:"cost_saved"`
		OverageRequests int64   `json:"overage_requests"`
		OverageCost     float64 `json:"overage_cost"`
	}
	rows := make([]monthRow, 0, len(history))
	for _, m := range history {
		rows = append(rows, monthRow{
			Year:            m.Year,
			Month:           m.Month,
			RequestsMade:    m.RequestsMade,
			CacheHits:       m.CacheHits,
			CacheMisses:     m.CacheMisses,
			TokensSaved:     m.TokensSaved,
			CostSaved:       m.CostSaved,
			OverageRequests: m.OverageRequests,
			OverageCost:     m.OverageCost,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": userID,
		"months":  rows,
	})
}
