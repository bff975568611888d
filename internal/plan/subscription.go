package plan

import (
	"context"
	"errors"
	"log"
	"time"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
	StatusUnpaid   Status = "unpaid"
)

// Subscription is the per-owner subscription row. Created at signup with the
// free plan, mutated on upgrade/downgrade/cancel, never hard-deleted.
type Subscription struct {
	ID                 string
	UserID             string
	PlanName           string
	Status             Status
	ExternalID         string // billing-provider subscription id, empty for free
	PeriodStart        time.Time
	PeriodEnd          time.Time
	CancelAtPeriodEnd  bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Store interface {
	GetByUser(ctx context.Context, userID string) (*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
}

// Policy resolves an owner to their effective plan. Reads are advisory and
// may be stale; when subscription state cannot be read the resolution fails
// open so availability is never sacrificed to a policy lookup.
type Policy struct {
	store Store
}

func NewPolicy(store Store) *Policy {
	return &Policy{store: store}
}

// SubscriptionFor returns the owner's subscription and its plan, creating a
// free-tier subscription on first sight.
func (p *Policy) SubscriptionFor(ctx context.Context, userID string) (*Subscription, *Plan, error) {
	sub, err := p.store.GetByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		sub = &Subscription{
			UserID:      userID,
			PlanName:    Free().Name,
			Status:      StatusActive,
			PeriodStart: time.Now(),
			PeriodEnd:   time.Now().AddDate(0, 1, 0),
		}
		if createErr := p.store.Create(ctx, sub); createErr != nil {
			return nil, nil, createErr
		}
		return sub, Free(), nil
	}
	if err != nil {
		return nil, nil, err
	}

	pl, err := ByName(sub.PlanName)
	if err != nil {
		// Row references a plan this build no longer knows. Treat as free
		// rather than denying the owner outright.
		log.Printf("plan: subscription %s has unknown plan %q, falling back to free", sub.ID, sub.PlanName)
		return sub, Free(), nil
	}
	return sub, pl, nil
}

// PlanFor resolves just the plan for admission checks.
func (p *Policy) PlanFor(ctx context.Context, userID string) (*Plan, error) {
	_, pl, err := p.SubscriptionFor(ctx, userID)
	return pl, err
}

// ChangePlan moves the owner to the named plan and resets the billing period.
func (p *Policy) ChangePlan(ctx context.Context, userID, planName, externalID string) (*Subscription, error) {
	newPlan, err := ByName(planName)
	if err != nil {
		return nil, err
	}

	sub, _, err := p.SubscriptionFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub.PlanName = newPlan.Name
	sub.Status = StatusActive
	sub.CancelAtPeriodEnd = false
	sub.PeriodStart = time.Now()
	sub.PeriodEnd = time.Now().AddDate(0, 1, 0)
	if externalID != "" {
		sub.ExternalID = externalID
	}

	if err := p.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel flags the subscription to lapse at the end of the current period.
// The plan stays effective until then.
func (p *Policy) Cancel(ctx context.Context, userID string) (*Subscription, error) {
	sub, _, err := p.SubscriptionFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub.CancelAtPeriodEnd = true
	if err := p.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}
