package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"saaskit/internal/billing"
	"saaskit/internal/core"
	"saaskit/internal/types"
)

// maxStripeBodySize caps Stripe webhook payloads (64 KB). Event payloads are
// small; the limit protects the unauthenticated endpoint against abuse.
const maxStripeBodySize = 64 * 1024

// freePlanSlug is the tier a team reverts to when its subscription ends.
const freePlanSlug = "free"

// SubscriptionSyncer applies provider webhook events to local subscription
// state. Implemented by db.SubscriptionRepo; out-of-order events are expected
// to be ignored via optimistic locking.
type SubscriptionSyncer interface {
	UpdateFromEvent(ctx context.Context, stripeSubscriptionID string, planSlug string, status types.SubscriptionStatus, periodEnd time.Time, eventTimestamp time.Time) error
}

// TeamPlanUpdater moves a team between plan tiers after billing events settle.
type TeamPlanUpdater interface {
	UpdatePlan(ctx context.Context, id string, planSlug string) error
}

// SubscriptionCanceller flags a provider subscription to lapse at the period
// boundary. Implemented by external.StripeClient.
type SubscriptionCanceller interface {
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}

// StripeWebhookHandler processes asynchronous billing events from Stripe.
// The endpoint is public (Stripe calls it directly, no API key); requests are
// authenticated by verifying the Stripe-Signature header against the webhook
// signing secret.
type StripeWebhookHandler struct {
	subs      SubscriptionSyncer
	teams     TeamPlanUpdater
	canceller SubscriptionCanceller
	plans     billing.Registry
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(subs SubscriptionSyncer, teams TeamPlanUpdater, canceller SubscriptionCanceller, plans billing.Registry, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		subs:      subs,
		teams:     teams,
		canceller: canceller,
		plans:     plans,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from
// BillingHandler.RegisterRoutes because webhook routes bypass API-key auth.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies the event signature, applies the event to local state, and
// acknowledges. Internal processing failures are logged but still return 200:
// acknowledging receipt prevents the provider from retrying an event the
// optimistic lock would discard as stale anyway.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStripeBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationPayload,
			"failed to read webhook body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing,
			"missing Stripe-Signature header", nil))
		return
	}

	// Events created under an older Stripe API version still verify; the
	// handler only reads fields stable across versions.
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			slog.String("error", err.Error()),
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid,
			"webhook signature verification failed", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing billing event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "billing event processing failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return h.handleSubscriptionUpdated(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return h.handleSubscriptionDeleted(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return h.handlePaymentFailed(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled billing event type",
			slog.String("event_type", string(event.Type)),
		)
		return nil
	}
}

// handleSubscriptionUpdated syncs plan, status, and period end on upgrades,
// downgrades, and renewals.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}

	planSlug := freePlanSlug
	if plan, ok := h.plans.PlanByPriceID(sub.priceID()); ok {
		planSlug = plan.Slug
	}
	status := subscriptionStatus(sub.Status)

	if err := h.subs.UpdateFromEvent(ctx, sub.ID, planSlug, status,
		sub.periodEnd(), eventTimestamp(event)); err != nil {
		return err
	}

	teamID := sub.Metadata["team_id"]
	if teamID == "" {
		return fmt.Errorf("%s: missing team_id metadata in event %s", event.Type, event.ID)
	}
	return h.teams.UpdatePlan(ctx, teamID, planSlug)
}

// handleSubscriptionDeleted reverts the team to the free tier.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}

	if err := h.subs.UpdateFromEvent(ctx, sub.ID, freePlanSlug, types.SubStatusCanceled,
		sub.periodEnd(), eventTimestamp(event)); err != nil {
		return err
	}

	teamID := sub.Metadata["team_id"]
	if teamID == "" {
		return fmt.Errorf("%s: missing team_id metadata in event %s", event.Type, event.ID)
	}
	return h.teams.UpdatePlan(ctx, teamID, freePlanSlug)
}

// handlePaymentFailed flags the delinquent subscription to lapse at period
// end. The team keeps access until the boundary; the subscription.deleted
// event that follows does the downgrade.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var invoice stripeInvoiceObj
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("%s: malformed invoice object in event %s: %w", event.Type, event.ID, err)
	}
	if invoice.Subscription == "" {
		h.logger.InfoContext(ctx, "payment failure without subscription, ignoring",
			slog.String("event_id", event.ID),
		)
		return nil
	}

	h.logger.WarnContext(ctx, "payment failed, scheduling cancellation at period end",
		slog.String("event_id", event.ID),
		slog.String("subscription_id", invoice.Subscription),
	)
	return h.canceller.CancelAtPeriodEnd(ctx, invoice.Subscription)
}

// stripeSubscriptionObj carries the minimal subscription fields the sync
// needs. Decoding locally keeps the handler independent of SDK struct churn
// across API versions.
type stripeSubscriptionObj struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *stripeSubscriptionObj) priceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

func (s *stripeSubscriptionObj) periodEnd() time.Time {
	return time.Unix(s.CurrentPeriodEnd, 0).UTC()
}

// stripeInvoiceObj carries the minimal invoice fields for payment events.
type stripeInvoiceObj struct {
	Subscription string `json:"subscription"`
}

func parseSubscription(event *stripe.Event) (*stripeSubscriptionObj, error) {
	var sub stripeSubscriptionObj
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%s: malformed subscription object in event %s: %w", event.Type, event.ID, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%s: missing subscription id in event %s", event.Type, event.ID)
	}
	return &sub, nil
}

func eventTimestamp(event *stripe.Event) time.Time {
	return time.Unix(event.Created, 0).UTC()
}

// subscriptionStatus maps a provider status string onto the tracked subset.
// Unknown states pass through; the enum is string-typed and enforcement only
// branches on the tracked values.
func subscriptionStatus(s string) types.SubscriptionStatus {
	switch s {
	case "active":
		return types.SubStatusActive
	case "trialing":
		return types.SubStatusTrialing
	case "past_due":
		return types.SubStatusPastDue
	case "canceled":
		return types.SubStatusCanceled
	default:
		return types.SubscriptionStatus(s)
	}
}
