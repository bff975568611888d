package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Fender1992/cachegpt/internal/auth"
	"github.com/Fender1992/cachegpt/internal/billing"
	"github.com/Fender1992/cachegpt/internal/plan"
)

type memSubStore struct {
	subs map[string]*plan.Subscription
}

func newMemSubStore() *memSubStore {
	return &memSubStore{subs: make(map[string]*plan.Subscription)}
}

func (s *memSubStore) GetByUser(ctx context.Context, userID string) (*plan.Subscription, error) {
	if sub, ok := s.subs[userID]; ok {
		return sub, nil
	}
	return nil, plan.ErrSubscriptionNotFound
}

func (s *memSubStore) Create(ctx context.Context, sub *plan.Subscription) error {
	s.subs[sub.UserID] = sub
	return nil
}

func (s *memSubStore) Update(ctx context.Context, sub *plan.Subscription) error {
	s.subs[sub.UserID] = sub
	return nil
}

type fixedUsage struct{ count int64 }

func (f *fixedUsage) CurrentMonthRequests(ctx context.Context, userID string, year, month int) (int64, error) {
	return f.count, nil
}

func setupSubscription() (*SubscriptionHandler, *memSubStore, *billing.MockProvider) {
	store := newMemSubStore()
	mock := billing.NewMockProvider()
	return NewSubscriptionHandler(plan.NewPolicy(store), mock, &fixedUsage{count: 42}), store, mock
}

func subRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	return req.WithContext(auth.WithUserID(req.Context(), "user-1"))
}

func TestHandlePlans_ListsCatalog(t *testing.T) {
	h, _, _ := setupSubscription()

	w := httptest.NewRecorder()
	h.HandlePlans(w, httptest.NewRequest("GET", "/v1/plans", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string][]planView
	json.Unmarshal(w.Body.Bytes(), &resp)
	plans := resp["plans"]
	if len(plans) != 4 {
		t.Fatalf("Expected 4 plans, got %d", len(plans))
	}
	if plans[0].Name != "free" || plans[3].Name != "enterprise" {
		t.Errorf("Plans should be ordered by tier: %v", plans)
	}
	if plans[3].MonthlyQuota != nil {
		t.Error("enterprise quota should be null (unlimited)")
	}
}

func TestHandleGetSubscription_CreatesFreeOnFirstSight(t *testing.T) {
	h, store, _ := setupSubscription()

	w := httptest.NewRecorder()
	h.HandleGetSubscription(w, subRequest("GET", "/v1/subscription", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]json.RawMessage
	json.Unmarshal(w.Body.Bytes(), &resp)
	var sub subscriptionView
	json.Unmarshal(resp["subscription"], &sub)
	if sub.PlanName != "free" {
		t.Errorf("First sight should create a free subscription, got %s", sub.PlanName)
	}
	var current int64
	json.Unmarshal(resp["current_month_requests"], &current)
	if current != 42 {
		t.Errorf("Expected current month usage 42, got %d", current)
	}
	if store.subs["user-1"] == nil {
		t.Error("Subscription row should be persisted")
	}
}

func TestHandleUpgrade_PaidPlanGoesThroughBilling(t *testing.T) {
	h, store, _ := setupSubscription()

	body, _ := json.Marshal(map[string]string{"plan": "startup"})
	w := httptest.NewRecorder()
	h.HandleUpgrade(w, subRequest("POST", "/v1/subscription/upgrade", body))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["checkout_url"] == nil {
		t.Error("First paid upgrade should return a checkout URL")
	}

	sub := store.subs["user-1"]
	if sub.PlanName != "startup" {
		t.Errorf("Subscription should move to startup, got %s", sub.PlanName)
	}
	if sub.ExternalID == "" {
		t.Error("Paid subscription should record the billing external id")
	}
}

func TestHandleUpgrade_UnknownPlan(t *testing.T) {
	h, _, _ := setupSubscription()

	body, _ := json.Marshal(map[string]string{"plan": "platinum"})
	w := httptest.NewRecorder()
	h.HandleUpgrade(w, subRequest("POST", "/v1/subscription/upgrade", body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown plan, got %d", w.Code)
	}
}

func TestHandleCancel_FlagsPeriodEnd(t *testing.T) {
	h, store, mock := setupSubscription()

	// Upgrade first so there is a billing-side subscription to cancel.
	body, _ := json.Marshal(map[string]string{"plan": "business"})
	h.HandleUpgrade(httptest.NewRecorder(), subRequest("POST", "/v1/subscription/upgrade", body))
	externalID := store.subs["user-1"].ExternalID

	w := httptest.NewRecorder()
	h.HandleCancel(w, subRequest("POST", "/v1/subscription/cancel", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	sub := store.subs["user-1"]
	if !sub.CancelAtPeriodEnd {
		t.Error("Cancel should flag the subscription to lapse at period end")
	}
	if sub.PlanName != "business" {
		t.Error("Plan stays effective until the period closes")
	}
	if !mock.Canceled(externalID) {
		t.Error("Billing provider should be told to cancel")
	}
}
