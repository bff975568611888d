// Package seeder provisions a deterministic API key and free subscription
// for local development. Run with RUN_SEED=true.
package seeder

import (
	"context"
	"log"
	"time"

	"github.com/Fender1992/cachegpt/internal/auth"
	"github.com/Fender1992/cachegpt/internal/plan"
)

const (
	TestAPIKey = "test-api-key-12345"
	TestUserID = "00000000-0000-0000-0000-000000000001"
)

func SeedTestAPIKey(ctx context.Context, store auth.Store) {
	apiKey := &auth.APIKey{
		UserID:  TestUserID,
		KeyHash: auth.HashKey(TestAPIKey),
		Name:    "local-dev",
		Active:  true,
	}

	err := store.Create(ctx, apiKey)
	if err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] UserID: %s", TestUserID)
}

func SeedTestSubscription(ctx context.Context, store plan.Store) {
	sub := &plan.Subscription{
		UserID:      TestUserID,
		PlanName:    plan.Free().Name,
		Status:      plan.StatusActive,
		PeriodStart: time.Now(),
		PeriodEnd:   time.Now().AddDate(0, 1, 0),
	}

	if err := store.Create(ctx, sub); err != nil {
		log.Printf("[Seeder] Subscription may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Free subscription created for test user")
}
