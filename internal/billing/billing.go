// Package billing abstracts the payment processor behind plan changes.
// Subscription state lives in our database; the processor only hears about
// transitions.
package billing

import "context"

// CheckoutResult carries the processor-side identifiers for a subscription.
type CheckoutResult struct {
	ExternalID string
	CheckoutURL string
}

type Provider interface {
	// CreateSubscription registers a paid subscription with the processor
	// and returns its external id plus a checkout URL for the customer.
	CreateSubscription(ctx context.Context, userID, planName string) (*CheckoutResult, error)
	// ChangePlan moves an existing processor subscription to another plan.
	ChangePlan(ctx context.Context, externalID, planName string) error
	// Cancel schedules the processor subscription to end at period close.
	Cancel(ctx context.Context, externalID string) error
}
