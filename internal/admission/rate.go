package admission

import (
	"context"
	"log"
	"time"

	"github.com/Fender1992/cachegpt/internal/apierr"
)

// RetryAfter is the hint attached to rate-limit denials: the window rolls
// over within a minute.
const RetryAfter = 60 * time.Second

// RateCounter counts a request against the owner's current minute window
// and reports whether it fits under limit. Negative limit = unlimited.
type RateCounter interface {
	Allow(ctx context.Context, userID string, limit int) (bool, error)
}

// RateStage enforces the plan's per-minute request cap.
type RateStage struct {
	counter RateCounter
}

func NewRateStage(counter RateCounter) *RateStage {
	return &RateStage{counter: counter}
}

func (s *RateStage) Name() string { return "rate" }

func (s *RateStage) Check(ctx context.Context, req *Request) *apierr.Error {
	if req.Plan == nil {
		return nil
	}
	limit := req.Plan.RequestsPerMinute
	if limit < 0 {
		return nil
	}

	allowed, err := s.counter.Allow(ctx, req.UserID, limit)
	if err != nil {
		log.Printf("admission: rate counter failed for user %s, allowing: %v", req.UserID, err)
		return nil
	}
	if !allowed {
		return apierr.RateLimitExceeded(limit, RetryAfter)
	}

	return nil
}
