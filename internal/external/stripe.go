// Package external wraps third-party service clients behind interfaces the
// rest of the platform consumes.
package external

import (
	"context"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"saaskit/internal/types"
)

// BillingGateway is the surface of the payment provider the platform uses.
type BillingGateway interface {
	// CreateCheckoutSession starts a subscription checkout for a plan price.
	// Returns the hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error)

	// CreatePortalSession opens the customer billing portal.
	// Returns the hosted portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// CancelAtPeriodEnd flags a subscription to lapse at the period boundary
	// instead of terminating immediately.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}

// Compile-time assertion that StripeClient implements BillingGateway.
var _ BillingGateway = (*StripeClient)(nil)

// StripeClient implements BillingGateway over the official Stripe SDK.
type StripeClient struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeClient creates a StripeClient with the given secret key.
func NewStripeClient(secretKey string, logger *slog.Logger) *StripeClient {
	if logger == nil {
		logger = slog.Default()
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api, logger: logger}
}

// CreateCheckoutSession starts a subscription-mode checkout session.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "failed to create checkout session", err)
	}
	return session.URL, nil
}

// CreatePortalSession opens the hosted billing portal for a customer.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "failed to create portal session", err)
	}
	return session.URL, nil
}

// CancelAtPeriodEnd schedules a subscription cancellation at period end.
func (s *StripeClient) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	}

	if _, err := s.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, "failed to cancel subscription", err)
	}

	s.logger.InfoContext(ctx, "subscription flagged for cancellation at period end",
		slog.String("subscription_id", subscriptionID),
	)
	return nil
}
