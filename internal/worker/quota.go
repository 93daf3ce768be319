package worker

import (
	"context"
	"log/slog"

	"saaskit/internal/billing"
	"saaskit/internal/hooks"
	"saaskit/internal/types"
)

// QuotaRechecker answers enforced quota checks. Implemented by
// billing.Enforcer.
type QuotaRechecker interface {
	CheckQuotaWithEnforcement(ctx context.Context, teamID string, limitSlug string) (*billing.EnforcedQuota, error)
}

// QuotaHandler executes "quota:recheck" actions: it re-evaluates a team's
// usage against its plan limits and fires the onPlanLimitReached hook chain
// for every limit found enforced. Teams typically carry one recurring
// recheck action so limit breaches surface without waiting for a write.
type QuotaHandler struct {
	enforcer QuotaRechecker
	hooks    *hooks.Manager
	slugs    []string
	logger   *slog.Logger
}

// NewQuotaHandler creates a QuotaHandler checking the given limit slugs.
func NewQuotaHandler(enforcer QuotaRechecker, manager *hooks.Manager, slugs []string, logger *slog.Logger) *QuotaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaHandler{
		enforcer: enforcer,
		hooks:    manager,
		slugs:    slugs,
		logger:   logger,
	}
}

// Execute implements Handler. The team comes from the action's payload
// entityId. Check errors are retryable; hook outcomes are advisory and never
// fail the action.
func (h *QuotaHandler) Execute(ctx context.Context, action *types.ScheduledAction) error {
	teamID, ok := action.EntityID()
	if !ok {
		return types.NewAppError(types.ErrCodeValidationPayload, "quota recheck payload missing entityId", nil)
	}

	for _, slug := range h.slugs {
		quota, err := h.enforcer.CheckQuotaWithEnforcement(ctx, teamID, slug)
		if err != nil {
			return Retryable(err)
		}
		if !quota.Enforced {
			continue
		}

		h.logger.WarnContext(ctx, "team over plan limit",
			slog.String("team_id", teamID),
			slog.String("limit_slug", slug),
			slog.Int("current", quota.Current),
			slog.Int("max", quota.Max),
		)
		h.hooks.ExecutePlanLimitHooks(ctx, "team", &hooks.HookContext{
			EntityName: "team",
			Operation:  "planLimitReached",
			Data: map[string]any{
				"team_id": teamID,
				"quota":   quota,
			},
		})
	}
	return nil
}
