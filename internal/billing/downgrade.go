package billing

import (
	"context"

	"saaskit/internal/types"
)

// WarningPlanNotFound is the single blocking condition of a downgrade check.
const WarningPlanNotFound = "Target plan not found"

// WarningSoftLimit communicates the soft-limit policy to the caller. It is
// appended exactly once when any limit of the target plan is exceeded.
const WarningSoftLimit = "Some resources exceed the new plan limits. Existing resources remain accessible, but new resources of those types cannot be created until usage drops below the new limits."

// OverLimit describes one limit of the target plan that current usage exceeds.
type OverLimit struct {
	LimitSlug string `json:"limit_slug"`
	LimitName string `json:"limit_name"`
	Current   int    `json:"current"`
	NewMax    int    `json:"new_max"`
	Excess    int    `json:"excess"`
}

// DowngradeCheck is the advisory report computed for a plan downgrade.
type DowngradeCheck struct {
	CanDowngrade bool        `json:"can_downgrade"`
	OverLimits   []OverLimit `json:"over_limits"`
	Warnings     []string    `json:"warnings"`
}

// SubscriptionService is the external collaborator answering subscription
// and quota questions for a team. Implemented over SubscriptionRepo and
// UsageRepo; GetActive returns (nil, nil) for teams without a subscription.
type SubscriptionService interface {
	GetActive(ctx context.Context, teamID string) (*types.Subscription, error)
	CheckQuota(ctx context.Context, teamID string, limitSlug string) (types.QuotaInfo, error)
}

// UsageReader answers current consumption for one limit slug.
type UsageReader interface {
	CurrentUsage(ctx context.Context, teamID string, limitSlug string) (int, error)
}

// Enforcer computes downgrade reports and enforced quota checks.
type Enforcer struct {
	subs     SubscriptionService
	usage    UsageReader
	registry Registry
}

// NewEnforcer creates an Enforcer over the given collaborators.
func NewEnforcer(subs SubscriptionService, usage UsageReader, registry Registry) *Enforcer {
	return &Enforcer{subs: subs, usage: usage, registry: registry}
}

// CheckDowngrade compares the team's current usage against the target plan's
// limits and produces an advisory report.
//
// The policy is deliberately soft: exceeding limits never blocks the
// downgrade. Existing resources stay accessible; creating new resources of
// an exceeded kind is refused until usage drops under the new limit. The
// only blocking condition is an unresolvable target plan.
func (e *Enforcer) CheckDowngrade(ctx context.Context, teamID string, targetPlanSlug string) (*DowngradeCheck, error) {
	check := &DowngradeCheck{
		CanDowngrade: true,
		OverLimits:   []OverLimit{},
		Warnings:     []string{},
	}

	sub, err := e.subs.GetActive(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		// Nothing to downgrade from; trivially allowed.
		return check, nil
	}

	plan, ok := e.registry.GetPlan(targetPlanSlug)
	if !ok {
		check.CanDowngrade = false
		check.Warnings = append(check.Warnings, WarningPlanNotFound)
		return check, nil
	}

	for _, limit := range plan.Limits {
		if limit.Max == UnlimitedSentinel {
			continue
		}
		current, err := e.usage.CurrentUsage(ctx, teamID, limit.Slug)
		if err != nil {
			return nil, err
		}
		if current > limit.Max {
			name := limit.Name
			if name == "" {
				name = e.registry.LimitName(limit.Slug)
			}
			check.OverLimits = append(check.OverLimits, OverLimit{
				LimitSlug: limit.Slug,
				LimitName: name,
				Current:   current,
				NewMax:    limit.Max,
				Excess:    current - limit.Max,
			})
		}
	}

	if len(check.OverLimits) > 0 {
		check.Warnings = append(check.Warnings, WarningSoftLimit)
	}
	return check, nil
}
