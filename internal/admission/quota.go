package admission

import (
	"context"
	"log"

	"github.com/Fender1992/cachegpt/internal/apierr"
)

// UsageReader is the slice of the usage store the quota stage needs.
type UsageReader interface {
	CurrentMonthRequests(ctx context.Context, userID string, year, month int) (int64, error)
}

// QuotaStage denies once the owner's current-month request count reaches
// the plan's monthly quota. Unlimited plans always pass.
type QuotaStage struct {
	usage UsageReader
}

func NewQuotaStage(usage UsageReader) *QuotaStage {
	return &QuotaStage{usage: usage}
}

func (s *QuotaStage) Name() string { return "quota" }

func (s *QuotaStage) Check(ctx context.Context, req *Request) *apierr.Error {
	if req.Plan == nil || req.Plan.Unlimited() {
		return nil
	}

	now := req.Now.UTC()
	current, err := s.usage.CurrentMonthRequests(ctx, req.UserID, now.Year(), int(now.Month()))
	if err != nil {
		log.Printf("admission: quota read failed for user %s, allowing: %v", req.UserID, err)
		return nil
	}

	limit := *req.Plan.MonthlyQuota
	if current >= limit {
		return apierr.QuotaExceeded(current, limit)
	}

	return nil
}
