package plan

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockStore struct {
	getByUserFunc func(ctx context.Context, userID string) (*Subscription, error)
	createFunc    func(ctx context.Context, sub *Subscription) error
	updateFunc    func(ctx context.Context, sub *Subscription) error
}

func (m *mockStore) GetByUser(ctx context.Context, userID string) (*Subscription, error) {
	if m.getByUserFunc != nil {
		return m.getByUserFunc(ctx, userID)
	}
	return nil, ErrSubscriptionNotFound
}

func (m *mockStore) Create(ctx context.Context, sub *Subscription) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, sub)
	}
	return nil
}

func (m *mockStore) Update(ctx context.Context, sub *Subscription) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, sub)
	}
	return nil
}

func TestTierOrdering(t *testing.T) {
	if !(TierFree < TierStartup && TierStartup < TierBusiness && TierBusiness < TierEnterprise) {
		t.Error("tier hierarchy must rank free < startup < business < enterprise")
	}
}

func TestAtLeast(t *testing.T) {
	business, _ := ByName("business")
	if !business.AtLeast(TierStartup) {
		t.Error("business should satisfy a startup minimum")
	}
	if business.AtLeast(TierEnterprise) {
		t.Error("business should not satisfy an enterprise minimum")
	}
}

func TestByName_Unknown(t *testing.T) {
	if _, err := ByName("platinum"); err == nil {
		t.Error("expected error for unknown plan name")
	}
}

func TestCapabilities(t *testing.T) {
	free, _ := ByName("free")
	enterprise, _ := ByName("enterprise")

	if free.Has(CapAdvancedAnalytics) {
		t.Error("free plan should not grant advanced analytics")
	}
	if !enterprise.Has(CapAdvancedAnalytics) {
		t.Error("enterprise plan should grant advanced analytics")
	}
	// Unknown capability names are never granted, whatever the plan.
	if enterprise.Has(Capability("time_travel")) {
		t.Error("unknown capability should never be granted")
	}
}

func TestQuotas(t *testing.T) {
	free, _ := ByName("free")
	enterprise, _ := ByName("enterprise")

	if free.Unlimited() {
		t.Error("free plan should have a finite quota")
	}
	if *free.MonthlyQuota != 1000 {
		t.Errorf("expected free quota 1000, got %d", *free.MonthlyQuota)
	}
	if !enterprise.Unlimited() {
		t.Error("enterprise plan should be unlimited")
	}
	if enterprise.RequestsPerMinute != -1 {
		t.Errorf("expected enterprise rate cap -1, got %d", enterprise.RequestsPerMinute)
	}
}

func TestSubscriptionFor_AssignsFreeOnFirstSight(t *testing.T) {
	var created *Subscription
	store := &mockStore{
		createFunc: func(ctx context.Context, sub *Subscription) error {
			sub.ID = "sub-1"
			created = sub
			return nil
		},
	}

	policy := NewPolicy(store)
	sub, pl, err := policy.SubscriptionFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SubscriptionFor failed: %v", err)
	}

	if created == nil {
		t.Fatal("expected a subscription to be created")
	}
	if sub.PlanName != "free" || pl.Tier != TierFree {
		t.Errorf("expected free plan, got %s", sub.PlanName)
	}
	if sub.Status != StatusActive {
		t.Errorf("expected active status, got %s", sub.Status)
	}
}

func TestSubscriptionFor_UnknownPlanFallsBackToFree(t *testing.T) {
	store := &mockStore{
		getByUserFunc: func(ctx context.Context, userID string) (*Subscription, error) {
			return &Subscription{ID: "sub-1", UserID: userID, PlanName: "legacy-gold", Status: StatusActive}, nil
		},
	}

	policy := NewPolicy(store)
	_, pl, err := policy.SubscriptionFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SubscriptionFor failed: %v", err)
	}
	if pl.Tier != TierFree {
		t.Errorf("expected free fallback, got %s", pl.Name)
	}
}

func TestPlanFor_PropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &mockStore{
		getByUserFunc: func(ctx context.Context, userID string) (*Subscription, error) {
			return nil, storeErr
		},
	}

	policy := NewPolicy(store)
	if _, err := policy.PlanFor(context.Background(), "user-1"); !errors.Is(err, storeErr) {
		t.Errorf("expected store error to propagate, got %v", err)
	}
}

func TestChangePlan(t *testing.T) {
	existing := &Subscription{
		ID:       "sub-1",
		UserID:   "user-1",
		PlanName: "free",
		Status:   StatusActive,
	}
	var updated *Subscription
	store := &mockStore{
		getByUserFunc: func(ctx context.Context, userID string) (*Subscription, error) {
			return existing, nil
		},
		updateFunc: func(ctx context.Context, sub *Subscription) error {
			updated = sub
			return nil
		},
	}

	policy := NewPolicy(store)
	sub, err := policy.ChangePlan(context.Background(), "user-1", "business", "ext-123")
	if err != nil {
		t.Fatalf("ChangePlan failed: %v", err)
	}

	if updated == nil {
		t.Fatal("expected subscription update")
	}
	if sub.PlanName != "business" {
		t.Errorf("expected business plan, got %s", sub.PlanName)
	}
	if sub.ExternalID != "ext-123" {
		t.Errorf("expected external id to be recorded, got %q", sub.ExternalID)
	}
	if sub.CancelAtPeriodEnd {
		t.Error("plan change should clear cancel_at_period_end")
	}
	if !sub.PeriodEnd.After(time.Now()) {
		t.Error("expected new billing period to extend into the future")
	}
}

func TestChangePlan_UnknownPlan(t *testing.T) {
	policy := NewPolicy(&mockStore{})
	if _, err := policy.ChangePlan(context.Background(), "user-1", "platinum", ""); err == nil {
		t.Error("expected error for unknown target plan")
	}
}

func TestCancel_FlagsPeriodEnd(t *testing.T) {
	store := &mockStore{
		getByUserFunc: func(ctx context.Context, userID string) (*Subscription, error) {
			return &Subscription{ID: "sub-1", UserID: userID, PlanName: "startup", Status: StatusActive}, nil
		},
	}

	policy := NewPolicy(store)
	sub, err := policy.Cancel(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !sub.CancelAtPeriodEnd {
		t.Error("expected cancel_at_period_end to be set")
	}
	if sub.PlanName != "startup" {
		t.Error("cancellation should not change the plan before period end")
	}
}
