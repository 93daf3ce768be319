package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saaskit/internal/billing"
	"saaskit/internal/core"
	"saaskit/internal/types"
)

// QuotaEnforcer answers downgrade and quota questions. Mirrors the concrete
// billing.Enforcer methods used by this handler.
type QuotaEnforcer interface {
	CheckDowngrade(ctx context.Context, teamID string, targetPlanSlug string) (*billing.DowngradeCheck, error)
	CheckQuotaWithEnforcement(ctx context.Context, teamID string, limitSlug string) (*billing.EnforcedQuota, error)
}

// TeamReader resolves teams for billing operations.
type TeamReader interface {
	GetByID(ctx context.Context, id string) (*types.Team, error)
}

// PaymentGateway is the slice of the payment provider surface this handler
// needs. Implemented by external.StripeClient.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// DowngradeCheckRequest is the request body for POST /v1/billing/downgrade-check.
type DowngradeCheckRequest struct {
	TargetPlan string `json:"target_plan" validate:"required,max=50"`
}

// CheckoutRequest is the request body for POST /v1/billing/checkout.
type CheckoutRequest struct {
	PriceID string `json:"price_id" validate:"required,max=100"`
}

// SessionResponse carries a hosted payment page URL.
type SessionResponse struct {
	URL string `json:"url"`
}

// BillingHandler manages plan, quota, and payment session endpoints.
type BillingHandler struct {
	enforcer     QuotaEnforcer
	teams        TeamReader
	gateway      PaymentGateway
	dashboardURL string
	validator    *core.Validator
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(e QuotaEnforcer, teams TeamReader, gateway PaymentGateway, dashboardURL string, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		enforcer:     e,
		teams:        teams,
		gateway:      gateway,
		dashboardURL: dashboardURL,
		validator:    v,
		logger:       l,
	}
}

// RegisterRoutes mounts billing routes on the provided chi.Router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/downgrade-check", h.DowngradeCheck)
		r.Get("/quota/{limitSlug}", h.Quota)
		r.Post("/checkout", h.Checkout)
		r.Post("/portal", h.Portal)
	})
}

// DowngradeCheck handles POST /v1/billing/downgrade-check. The report is
// advisory: exceeding limits never blocks the downgrade, only an unknown
// target plan does.
func (h *BillingHandler) DowngradeCheck(w http.ResponseWriter, r *http.Request) {
	var req DowngradeCheckRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())

	check, err := h.enforcer.CheckDowngrade(r.Context(), actor.TeamID, req.TargetPlan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: check})
}

// Quota handles GET /v1/billing/quota/{limitSlug}.
func (h *BillingHandler) Quota(w http.ResponseWriter, r *http.Request) {
	limitSlug := chi.URLParam(r, "limitSlug")
	actor, _ := types.GetActor(r.Context())

	quota, err := h.enforcer.CheckQuotaWithEnforcement(r.Context(), actor.TeamID, limitSlug)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: quota})
}

// Checkout handles POST /v1/billing/checkout: starts a hosted subscription
// checkout for the authenticated team and returns the redirect URL.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	team, ok := h.resolveTeam(w, r)
	if !ok {
		return
	}

	successURL := h.dashboardURL + "/billing?checkout=success"
	cancelURL := h.dashboardURL + "/billing?checkout=cancelled"

	url, err := h.gateway.CreateCheckoutSession(r.Context(), team.StripeCustomerID, req.PriceID, successURL, cancelURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SessionResponse{URL: url}})
}

// Portal handles POST /v1/billing/portal: opens the hosted billing portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	team, ok := h.resolveTeam(w, r)
	if !ok {
		return
	}

	url, err := h.gateway.CreatePortalSession(r.Context(), team.StripeCustomerID, h.dashboardURL+"/billing")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SessionResponse{URL: url}})
}

// resolveTeam loads the actor's team and writes the error response on
// failure. A team without a payment customer cannot open payment sessions.
func (h *BillingHandler) resolveTeam(w http.ResponseWriter, r *http.Request) (*types.Team, bool) {
	actor, _ := types.GetActor(r.Context())

	team, err := h.teams.GetByID(r.Context(), actor.TeamID)
	if err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	if team == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil))
		return nil, false
	}
	if team.StripeCustomerID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationPayload,
			"team has no billing customer", nil))
		return nil, false
	}
	return team, true
}
