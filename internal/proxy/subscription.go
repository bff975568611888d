package proxy

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Fender1992/cachegpt/internal/apierr"
	"github.com/Fender1992/cachegpt/internal/auth"
	"github.com/Fender1992/cachegpt/internal/billing"
	"github.com/Fender1992/cachegpt/internal/plan"
)

// UsageReader reports the owner's request count for a month; the
// subscription view includes it next to the plan's quota.
type UsageReader interface {
	CurrentMonthRequests(ctx context.Context, userID string, year, month int) (int64, error)
}

// SubscriptionHandler serves the plan catalog and subscription lifecycle.
// Plan state is ours; the billing provider only hears about transitions.
type SubscriptionHandler struct {
	policy  *plan.Policy
	billing billing.Provider
	usage   UsageReader
}

func NewSubscriptionHandler(policy *plan.Policy, billingProvider billing.Provider, usageReader UsageReader) *SubscriptionHandler {
	return &SubscriptionHandler{policy: policy, billing: billingProvider, usage: usageReader}
}

type planView struct {
	Name              string   `json:"name"`
	DisplayName       string   `json:"display_name"`
	MonthlyQuota      *int64   `json:"monthly_quota"` // null = unlimited
	RequestsPerMinute int      `json:"requests_per_minute"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	Capabilities      []string `json:"capabilities"`
}

func viewOf(p *plan.Plan) planView {
	caps := make([]string, 0)
	for _, c := range p.Capabilities() {
		caps = append(caps, string(c))
	}
	return planView{
		Name:              p.Name,
		DisplayName:       p.DisplayName,
		MonthlyQuota:      p.MonthlyQuota,
		RequestsPerMinute: p.RequestsPerMinute,
		MonthlyPriceCents: p.MonthlyPriceCents,
		Capabilities:      caps,
	}
}

type subscriptionView struct {
	ID                string `json:"id"`
	PlanName          string `json:"plan"`
	Status            string `json:"status"`
	PeriodStart       string `json:"period_start"`
	PeriodEnd         string `json:"period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func subViewOf(sub *plan.Subscription) subscriptionView {
	return subscriptionView{
		ID:                sub.ID,
		PlanName:          sub.PlanName,
		Status:            string(sub.Status),
		PeriodStart:       sub.PeriodStart.Format("2006-01-02T15:04:05Z07:00"),
		PeriodEnd:         sub.PeriodEnd.Format("2006-01-02T15:04:05Z07:00"),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

// HandlePlans lists the plan catalog. Public: no auth required.
func (h *SubscriptionHandler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	views := make([]planView, 0)
	for _, p := range plan.All() {
		views = append(views, viewOf(p))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{"plans": views})
}

func (h *SubscriptionHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		apierr.Write(w, apierr.Unauthorized("unauthorized"))
		return
	}

	sub, pl, err := h.policy.SubscriptionFor(r.Context(), userID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	now := time.Now().UTC()
	current, err := h.usage.CurrentMonthRequests(r.Context(), userID, now.Year(), int(now.Month()))
	if err != nil {
		// The subscription view is still useful without the counter.
		log.Printf("proxy: usage read failed for user %s: %v", userID, err)
		current = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"subscription":           subViewOf(sub),
		"plan":                   viewOf(pl),
		"current_month_requests": current,
	})
}

func (h *SubscriptionHandler) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		apierr.Write(w, apierr.Unauthorized("unauthorized"))
		return
	}

	var body struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Plan == "" {
		apierr.Write(w, apierr.Validation("plan is required"))
		return
	}

	target, err := plan.ByName(body.Plan)
	if err != nil {
		apierr.Write(w, apierr.Validation("unknown plan: "+body.Plan))
		return
	}

	sub, _, err := h.policy.SubscriptionFor(r.Context(), userID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	var externalID, checkoutURL string
	if target.MonthlyPriceCents > 0 {
		if sub.ExternalID != "" {
			if err := h.billing.ChangePlan(r.Context(), sub.ExternalID, target.Name); err != nil {
				apierr.Write(w, err)
				return
			}
			externalID = sub.ExternalID
		} else {
			result, err := h.billing.CreateSubscription(r.Context(), userID, target.Name)
			if err != nil {
				apierr.Write(w, err)
				return
			}
			externalID = result.ExternalID
			checkoutURL = result.CheckoutURL
		}
	}

	updated, err := h.policy.ChangePlan(r.Context(), userID, target.Name, externalID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	resp := map[string]interface{}{
		"subscription": subViewOf(updated),
		"plan":         viewOf(target),
	}
	if checkoutURL != "" {
		resp["checkout_url"] = checkoutURL
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (h *SubscriptionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		apierr.Write(w, apierr.Unauthorized("unauthorized"))
		return
	}

	sub, _, err := h.policy.SubscriptionFor(r.Context(), userID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	if sub.ExternalID != "" {
		if err := h.billing.Cancel(r.Context(), sub.ExternalID); err != nil {
			apierr.Write(w, err)
			return
		}
	}

	updated, err := h.policy.Cancel(r.Context(), userID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"subscription": subViewOf(updated),
	})
}
