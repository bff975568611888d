package admission

import (
	"context"

	"github.com/Fender1992/cachegpt/internal/apierr"
)

// FeatureStage enforces per-operation requirements: a named capability flag
// (independent of rank) and/or a minimum tier (ordinal rank comparison).
type FeatureStage struct{}

func NewFeatureStage() *FeatureStage { return &FeatureStage{} }

func (s *FeatureStage) Name() string { return "feature" }

func (s *FeatureStage) Check(ctx context.Context, req *Request) *apierr.Error {
	if req.Plan == nil {
		return nil
	}

	if req.RequiredCapability != "" && !req.Plan.Has(req.RequiredCapability) {
		return apierr.FeatureUnavailable(string(req.RequiredCapability), req.Plan.Name)
	}

	if req.RequiredTier != nil && !req.Plan.AtLeast(*req.RequiredTier) {
		return apierr.PlanRequired(req.RequiredTier.String(), req.Plan.Name)
	}

	return nil
}
