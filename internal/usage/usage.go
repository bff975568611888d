// Package usage tracks monthly counters and the append-only audit log of
// admitted requests. Recording is best-effort: the accountant never fails a
// user-facing request over a bookkeeping write.
package usage

import (
	"context"
	"time"
)

// Monthly is one owner's counters for a (year, month), created lazily on the
// first usage event of that month.
type Monthly struct {
	UserID          string
	Year            int
	Month           int
	RequestsMade    int64
	CacheHits       int64
	CacheMisses     int64
	TokensSaved     int64
	CostSaved       float64
	OverageRequests int64
	OverageCost     float64
	UpdatedAt       time.Time
}

// Delta is the increment applied to a Monthly row. All fields add; the
// storage layer applies them atomically.
type Delta struct {
	Requests        int64
	CacheHits       int64
	CacheMisses     int64
	TokensSaved     int64
	CostSaved       float64
	OverageRequests int64
	OverageCost     float64
}

// LogEntry is one immutable audit row per request.
type LogEntry struct {
	ID             string
	UserID         string
	APIKeyID       string
	CacheHit       bool
	TokensUsed     int64
	Cost           float64
	ModelUsed      string
	ResponseTimeMs int64
	StatusCode     int
	CreatedAt      time.Time
}

// Stats is the per-owner aggregate served by the stats endpoint.
type Stats struct {
	TotalRequests    int64   `json:"total_requests"`
	CacheHits        int64   `json:"cache_hits"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	TotalCostSaved   float64 `json:"total_cost_saved"`
	TotalTokensSaved int64   `json:"total_tokens_saved"`
}

type Store interface {
	// IncrementMonthly applies delta to the owner's (year, month) row,
	// creating it if absent. The increment must be atomic at the storage
	// layer so concurrent requests never lose updates.
	IncrementMonthly(ctx context.Context, userID string, year, month int, delta Delta) error

	// CurrentMonthRequests reads the owner's request count for the given
	// month; a missing row reads as zero.
	CurrentMonthRequests(ctx context.Context, userID string, year, month int) (int64, error)

	// AppendLog inserts an audit row. Rows are never updated.
	AppendLog(ctx context.Context, entry *LogEntry) error

	GetStats(ctx context.Context, userID string) (*Stats, error)

	// GetHistory returns up to months of the owner's monthly rows, newest
	// first.
	GetHistory(ctx context.Context, userID string, months int) ([]*Monthly, error)
}
