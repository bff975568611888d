// Package admission gates requests before they reach the cache or an
// upstream provider. Checks run as an explicit ordered list of stages —
// quota, then rate, then feature — and the first denial short-circuits.
// All reads are advisory: when policy state cannot be read, stages fail
// open so a flaky lookup never turns into a false denial.
package admission

import (
	"context"
	"log"
	"time"

	"github.com/Fender1992/cachegpt/internal/apierr"
	"github.com/Fender1992/cachegpt/internal/plan"
)

// Request carries everything the stages need to decide on one inbound call.
type Request struct {
	UserID string

	// Plan is the owner's resolved plan; nil means subscription state was
	// unreadable and stages must allow.
	Plan *plan.Plan

	// RequiredCapability gates the operation on a named plan flag; empty
	// means no capability requirement.
	RequiredCapability plan.Capability

	// RequiredTier gates the operation on a minimum plan rank; nil means
	// no tier requirement.
	RequiredTier *plan.Tier

	Now time.Time
}

// Stage is one named admission check. A nil return means continue; a
// non-nil *apierr.Error is a terminal denial.
type Stage interface {
	Name() string
	Check(ctx context.Context, req *Request) *apierr.Error
}

// Admitter resolves the caller's plan once, then walks the stages in order.
type Admitter struct {
	policy *plan.Policy
	stages []Stage
}

func NewAdmitter(policy *plan.Policy, stages ...Stage) *Admitter {
	return &Admitter{policy: policy, stages: stages}
}

// Stages exposes the ordered stage names, so wiring and tests can assert
// the quota -> rate -> feature ordering directly.
func (a *Admitter) Stages() []string {
	names := make([]string, len(a.stages))
	for i, s := range a.stages {
		names[i] = s.Name()
	}
	return names
}

// Admit runs the pipeline for userID. It returns nil when every stage
// passes and the first stage's denial otherwise.
func (a *Admitter) Admit(ctx context.Context, userID string, requiredCap plan.Capability, requiredTier *plan.Tier) *apierr.Error {
	req := &Request{
		UserID:             userID,
		RequiredCapability: requiredCap,
		RequiredTier:       requiredTier,
		Now:                time.Now(),
	}

	pl, err := a.policy.PlanFor(ctx, userID)
	if err != nil {
		// Fail open: availability beats a policy read.
		log.Printf("admission: plan lookup failed for user %s, allowing: %v", userID, err)
	} else {
		req.Plan = pl
	}

	for _, stage := range a.stages {
		if denial := stage.Check(ctx, req); denial != nil {
			return denial
		}
	}

	return nil
}
