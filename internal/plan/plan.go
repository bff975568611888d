// Package plan defines the subscription plan catalog: tier hierarchy,
// capability flags, quotas and rate caps. Plans are code-level constants;
// only the per-user subscription rows live in the database.
package plan

import "fmt"

// Tier is the ordinal rank of a plan in the upgrade hierarchy.
type Tier int

const (
	TierFree Tier = iota
	TierStartup
	TierBusiness
	TierEnterprise
)

func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierStartup:
		return "startup"
	case TierBusiness:
		return "business"
	case TierEnterprise:
		return "enterprise"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func ParseTier(name string) (Tier, error) {
	switch name {
	case "free":
		return TierFree, nil
	case "startup":
		return TierStartup, nil
	case "business":
		return TierBusiness, nil
	case "enterprise":
		return TierEnterprise, nil
	default:
		return 0, fmt.Errorf("unknown plan %q", name)
	}
}

// Capability is a named feature flag a plan can grant. The set is closed:
// gates check against these constants, never free-form strings.
type Capability string

const (
	CapCustomThreshold   Capability = "custom_similarity"
	CapAdvancedAnalytics Capability = "advanced_analytics"
	CapPrioritySupport   Capability = "priority_support"
	CapSSO               Capability = "sso"
	CapWhiteLabel        Capability = "white_label"
	CapABTesting         Capability = "ab_testing"
	CapWebhooks          Capability = "webhooks"
)

var knownCapabilities = map[Capability]bool{
	CapCustomThreshold:   true,
	CapAdvancedAnalytics: true,
	CapPrioritySupport:   true,
	CapSSO:               true,
	CapWhiteLabel:        true,
	CapABTesting:         true,
	CapWebhooks:          true,
}

func (c Capability) Known() bool { return knownCapabilities[c] }

type Plan struct {
	Name        string
	DisplayName string
	Tier        Tier

	// MonthlyQuota is the request budget per calendar month; nil = unlimited.
	MonthlyQuota *int64

	// RequestsPerMinute is the per-minute rate cap; -1 = unlimited.
	RequestsPerMinute int

	MonthlyPriceCents int64

	capabilities map[Capability]bool
}

func (p *Plan) Has(c Capability) bool {
	return c.Known() && p.capabilities[c]
}

func (p *Plan) AtLeast(t Tier) bool { return p.Tier >= t }

// Unlimited reports whether the plan has no monthly quota.
func (p *Plan) Unlimited() bool { return p.MonthlyQuota == nil }

func (p *Plan) Capabilities() []Capability {
	caps := make([]Capability, 0, len(p.capabilities))
	for c, on := range p.capabilities {
		if on {
			caps = append(caps, c)
		}
	}
	return caps
}

func quota(n int64) *int64 { return &n }

var catalog = map[Tier]*Plan{
	TierFree: {
		Name:              "free",
		DisplayName:       "Developer",
		Tier:              TierFree,
		MonthlyQuota:      quota(1000),
		RequestsPerMinute: 10,
		MonthlyPriceCents: 0,
		capabilities:      map[Capability]bool{},
	},
	TierStartup: {
		Name:              "startup",
		DisplayName:       "Startup",
		Tier:              TierStartup,
		MonthlyQuota:      quota(50000),
		RequestsPerMinute: 100,
		MonthlyPriceCents: 2900,
		capabilities: map[Capability]bool{
			CapCustomThreshold: true,
			CapWebhooks:        true,
		},
	},
	TierBusiness: {
		Name:              "business",
		DisplayName:       "Business",
		Tier:              TierBusiness,
		MonthlyQuota:      quota(500000),
		RequestsPerMinute: 500,
		MonthlyPriceCents: 9900,
		capabilities: map[Capability]bool{
			CapCustomThreshold:   true,
			CapAdvancedAnalytics: true,
			CapABTesting:         true,
			CapWebhooks:          true,
		},
	},
	TierEnterprise: {
		Name:              "enterprise",
		DisplayName:       "Enterprise",
		Tier:              TierEnterprise,
		MonthlyQuota:      nil,
		RequestsPerMinute: -1,
		MonthlyPriceCents: 49900,
		capabilities: map[Capability]bool{
			CapCustomThreshold:   true,
			CapAdvancedAnalytics: true,
			CapPrioritySupport:   true,
			CapSSO:               true,
			CapWhiteLabel:        true,
			CapABTesting:         true,
			CapWebhooks:          true,
		},
	},
}

// ByName returns the catalog plan for name, or an error for unknown names.
func ByName(name string) (*Plan, error) {
	t, err := ParseTier(name)
	if err != nil {
		return nil, err
	}
	return catalog[t], nil
}

// All returns the catalog ordered by tier rank ascending.
func All() []*Plan {
	return []*Plan{
		catalog[TierFree],
		catalog[TierStartup],
		catalog[TierBusiness],
		catalog[TierEnterprise],
	}
}

// Free is the default plan assigned to owners without a subscription row.
func Free() *Plan { return catalog[TierFree] }
