// Package billing provides plan management and billing enforcement logic.
package billing

// UnlimitedSentinel marks a plan limit with no cap. Enforcement code must
// skip limits carrying this value.
const UnlimitedSentinel = -1

// PlanLimit is one resource cap on a plan.
type PlanLimit struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Max  int    `json:"max"`
}

// Plan describes one billing tier.
type Plan struct {
	Slug          string      `json:"slug"`
	Name          string      `json:"name"`
	StripePriceID string      `json:"-"`
	Limits        []PlanLimit `json:"limits"`
	Features      []string    `json:"features"`
}

// LimitBySlug returns the plan's limit for a slug, if defined.
func (p *Plan) LimitBySlug(slug string) (PlanLimit, bool) {
	for _, l := range p.Limits {
		if l.Slug == slug {
			return l, true
		}
	}
	return PlanLimit{}, false
}

// Registry is the authoritative catalogue of plans and their limits.
// This is the single source of truth for what each plan allows.
type Registry interface {
	// GetPlan resolves a plan slug. The second return is false for unknown slugs.
	GetPlan(slug string) (*Plan, bool)
	// PlanByPriceID resolves the plan sold under a payment-provider price ID.
	// Used by billing webhook processing to map subscription items back to
	// plans.
	PlanByPriceID(priceID string) (*Plan, bool)
	// LimitName returns the display name for a limit slug, falling back to
	// the slug itself when no plan defines it.
	LimitName(slug string) string
}

// staticRegistry is a compile-time plan registry backed by an in-memory map.
type staticRegistry struct {
	plans map[string]*Plan
}

// planDefaults defines the hardcoded billing tiers.
//
//	| Plan       | Projects | Members | Storage MB | API Calls/Day |
//	|------------|----------|---------|------------|---------------|
//	| Free       | 1        | 2       | 100        | 0             |
//	| Starter    | 10       | 5       | 1,024      | 1,000         |
//	| Pro        | 100      | 25      | 10,240     | 10,000        |
//	| Enterprise | unlimited| unlimited| unlimited  | unlimited     |
//
// Enterprise uses -1 to represent "unlimited" -- enforcement skips such limits.
var planDefaults = []*Plan{
	{
		Slug: "free",
		Name: "Free",
		Limits: []PlanLimit{
			{Slug: "projects", Name: "Projects", Max: 1},
			{Slug: "members", Name: "Team Members", Max: 2},
			{Slug: "storage_mb", Name: "Storage (MB)", Max: 100},
			{Slug: "api_calls_daily", Name: "API Calls per Day", Max: 0},
		},
		Features: []string{"dashboard"},
	},
	{
		Slug:          "starter",
		Name:          "Starter",
		StripePriceID: "price_starter_monthly",
		Limits: []PlanLimit{
			{Slug: "projects", Name: "Projects", Max: 10},
			{Slug: "members", Name: "Team Members", Max: 5},
			{Slug: "storage_mb", Name: "Storage (MB)", Max: 1024},
			{Slug: "api_calls_daily", Name: "API Calls per Day", Max: 1000},
		},
		Features: []string{"dashboard", "api", "webhooks"},
	},
	{
		Slug:          "pro",
		Name:          "Pro",
		StripePriceID: "price_pro_monthly",
		Limits: []PlanLimit{
			{Slug: "projects", Name: "Projects", Max: 100},
			{Slug: "members", Name: "Team Members", Max: 25},
			{Slug: "storage_mb", Name: "Storage (MB)", Max: 10240},
			{Slug: "api_calls_daily", Name: "API Calls per Day", Max: 10000},
		},
		Features: []string{"dashboard", "api", "webhooks", "priority_support"},
	},
	{
		Slug:          "enterprise",
		Name:          "Enterprise",
		StripePriceID: "price_enterprise_monthly",
		Limits: []PlanLimit{
			{Slug: "projects", Name: "Projects", Max: UnlimitedSentinel},
			{Slug: "members", Name: "Team Members", Max: UnlimitedSentinel},
			{Slug: "storage_mb", Name: "Storage (MB)", Max: UnlimitedSentinel},
			{Slug: "api_calls_daily", Name: "API Calls per Day", Max: UnlimitedSentinel},
		},
		Features: []string{"dashboard", "api", "webhooks", "priority_support", "sso"},
	},
}

// NewStaticRegistry returns a Registry backed by the hardcoded plan catalogue.
// This is the standard production implementation; no database or external
// service is required.
func NewStaticRegistry() Registry {
	m := make(map[string]*Plan, len(planDefaults))
	for _, p := range planDefaults {
		// Copy so callers cannot mutate the package-level defaults.
		plan := *p
		plan.Limits = append([]PlanLimit(nil), p.Limits...)
		plan.Features = append([]string(nil), p.Features...)
		m[p.Slug] = &plan
	}
	return &staticRegistry{plans: m}
}

// GetPlan resolves a plan slug.
func (r *staticRegistry) GetPlan(slug string) (*Plan, bool) {
	p, ok := r.plans[slug]
	return p, ok
}

// PlanByPriceID resolves a plan by its payment-provider price ID.
func (r *staticRegistry) PlanByPriceID(priceID string) (*Plan, bool) {
	if priceID == "" {
		return nil, false
	}
	for _, p := range r.plans {
		if p.StripePriceID == priceID {
			return p, true
		}
	}
	return nil, false
}

// LimitName returns the display name for a limit slug. Any plan that defines
// the slug supplies the name; the slug itself is the fallback.
func (r *staticRegistry) LimitName(slug string) string {
	for _, p := range r.plans {
		if l, ok := p.LimitBySlug(slug); ok {
			return l.Name
		}
	}
	return slug
}
