package billing

import (
	"context"

	"saaskit/internal/types"
)

// EnforcementReasonDowngrade is the fixed reason attached to quota results
// that are blocked after a soft-limit downgrade.
const EnforcementReasonDowngrade = "over_limit_after_downgrade"

// EnforcedQuota is a QuotaInfo annotated with the enforcement outcome.
type EnforcedQuota struct {
	types.QuotaInfo
	Enforced          bool   `json:"enforced"`
	EnforcementReason string `json:"enforcement_reason,omitempty"`
}

// CheckQuotaWithEnforcement delegates to the subscription service's quota
// check and annotates the result. When the quota is not allowed, the result
// carries Enforced=true with the fixed downgrade reason; all other quota
// fields pass through unchanged.
func (e *Enforcer) CheckQuotaWithEnforcement(ctx context.Context, teamID string, limitSlug string) (*EnforcedQuota, error) {
	quota, err := e.subs.CheckQuota(ctx, teamID, limitSlug)
	if err != nil {
		return nil, err
	}

	result := &EnforcedQuota{QuotaInfo: quota}
	if !quota.Allowed {
		result.Enforced = true
		result.EnforcementReason = EnforcementReasonDowngrade
	}
	return result, nil
}

// subscriptionService is the production SubscriptionService over the
// database repositories and the plan registry.
type subscriptionService struct {
	subs     subscriptionStore
	usage    UsageReader
	registry Registry
}

// subscriptionStore is the slice of SubscriptionRepo this service needs.
type subscriptionStore interface {
	GetActive(ctx context.Context, teamID string) (*types.Subscription, error)
}

// NewSubscriptionService builds the production SubscriptionService.
func NewSubscriptionService(subs subscriptionStore, usage UsageReader, registry Registry) SubscriptionService {
	return &subscriptionService{subs: subs, usage: usage, registry: registry}
}

// GetActive returns the team's live subscription, or (nil, nil) when the
// team is on the implicit free tier.
func (s *subscriptionService) GetActive(ctx context.Context, teamID string) (*types.Subscription, error) {
	return s.subs.GetActive(ctx, teamID)
}

// CheckQuota compares current usage for a limit slug against the team's
// plan. Teams without a subscription are checked against the free plan.
// A limit the plan does not define, or one set to the unlimited sentinel,
// is always allowed.
func (s *subscriptionService) CheckQuota(ctx context.Context, teamID string, limitSlug string) (types.QuotaInfo, error) {
	planSlug := "free"
	sub, err := s.subs.GetActive(ctx, teamID)
	if err != nil {
		return types.QuotaInfo{}, err
	}
	if sub != nil {
		planSlug = sub.PlanSlug
	}

	plan, ok := s.registry.GetPlan(planSlug)
	if !ok {
		return types.QuotaInfo{}, types.NewAppError(types.ErrCodeNotFoundPlan,
			"plan not found for subscription: "+planSlug, nil)
	}

	current, err := s.usage.CurrentUsage(ctx, teamID, limitSlug)
	if err != nil {
		return types.QuotaInfo{}, err
	}

	info := types.QuotaInfo{
		LimitSlug:   limitSlug,
		Current:     current,
		ResetPeriod: resetPeriodFor(limitSlug),
	}

	limit, defined := plan.LimitBySlug(limitSlug)
	if !defined || limit.Max == UnlimitedSentinel {
		info.Max = UnlimitedSentinel
		info.Remaining = UnlimitedSentinel
		info.Allowed = true
		return info, nil
	}

	info.Max = limit.Max
	info.Remaining = limit.Max - current
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	info.Allowed = current < limit.Max
	return info, nil
}

// resetPeriodFor maps limit slugs to their counter reset cadence.
func resetPeriodFor(limitSlug string) types.ResetPeriod {
	switch limitSlug {
	case "api_calls_daily":
		return types.ResetDaily
	default:
		return types.ResetNever
	}
}
