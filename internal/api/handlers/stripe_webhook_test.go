package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saaskit/internal/billing"
	"saaskit/internal/types"
)

const testWebhookSecret = "whsec_test_secret"

type fakeSubSyncer struct {
	calls []subSyncCall
	err   error
}

type subSyncCall struct {
	SubscriptionID string
	PlanSlug       string
	Status         types.SubscriptionStatus
	PeriodEnd      time.Time
	EventTimestamp time.Time
}

func (f *fakeSubSyncer) UpdateFromEvent(ctx context.Context, stripeSubscriptionID string, planSlug string, status types.SubscriptionStatus, periodEnd time.Time, eventTimestamp time.Time) error {
	f.calls = append(f.calls, subSyncCall{
		SubscriptionID: stripeSubscriptionID,
		PlanSlug:       planSlug,
		Status:         status,
		PeriodEnd:      periodEnd,
		EventTimestamp: eventTimestamp,
	})
	return f.err
}

type fakePlanUpdater struct {
	calls []planUpdateCall
	err   error
}

type planUpdateCall struct {
	TeamID   string
	PlanSlug string
}

func (f *fakePlanUpdater) UpdatePlan(ctx context.Context, id string, planSlug string) error {
	f.calls = append(f.calls, planUpdateCall{TeamID: id, PlanSlug: planSlug})
	return f.err
}

type fakeCanceller struct {
	subscriptionIDs []string
	err             error
}

func (f *fakeCanceller) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	f.subscriptionIDs = append(f.subscriptionIDs, subscriptionID)
	return f.err
}

func newTestWebhookHandler(subs *fakeSubSyncer, teams *fakePlanUpdater, canceller *fakeCanceller) *StripeWebhookHandler {
	return NewStripeWebhookHandler(subs, teams, canceller,
		billing.NewStaticRegistry(), testWebhookSecret, nil)
}

// buildBillingEvent assembles a JSON event envelope the way the provider
// delivers it.
func buildBillingEvent(t *testing.T, eventType string, eventID string, created int64, obj any) []byte {
	t.Helper()
	objBytes, err := json.Marshal(obj)
	require.NoError(t, err)
	b, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data": map[string]any{
			"object": json.RawMessage(objBytes),
		},
	})
	require.NoError(t, err)
	return b
}

func buildSubscriptionObject(teamID string, priceID string, status string, periodEnd int64) map[string]any {
	return map[string]any{
		"id":                 "sub_test_1",
		"status":             status,
		"current_period_end": periodEnd,
		"metadata":           map[string]string{"team_id": teamID},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": priceID}},
			},
		},
	}
}

// signatureFor produces a valid Stripe-Signature header for the payload.
func signatureFor(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func doWebhookRequest(h *StripeWebhookHandler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	return rr
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	code, _ := resp["error"]["code"].(string)
	return code
}

func TestStripeWebhookHandler_Handle_MissingSignature(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", time.Now().Unix(),
		buildSubscriptionObject("team_1", "price_pro_monthly", "active", time.Now().Unix()))
	rr := doWebhookRequest(h, body, "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, string(types.ErrCodeAuthKeyMissing), decodeErrorCode(t, rr))
	assert.Empty(t, subs.calls)
}

func TestStripeWebhookHandler_Handle_InvalidSignature(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", time.Now().Unix(),
		buildSubscriptionObject("team_1", "price_pro_monthly", "active", time.Now().Unix()))
	rr := doWebhookRequest(h, body, signatureFor(body, "whsec_wrong_secret"))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, string(types.ErrCodeAuthKeyInvalid), decodeErrorCode(t, rr))
	assert.Empty(t, subs.calls)
	assert.Empty(t, teams.calls)
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	created := time.Now().Unix()
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", created,
		buildSubscriptionObject("team_1", "price_pro_monthly", "active", periodEnd))
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, subs.calls, 1)
	call := subs.calls[0]
	assert.Equal(t, "sub_test_1", call.SubscriptionID)
	assert.Equal(t, "pro", call.PlanSlug)
	assert.Equal(t, types.SubStatusActive, call.Status)
	assert.Equal(t, time.Unix(periodEnd, 0).UTC(), call.PeriodEnd)
	assert.Equal(t, time.Unix(created, 0).UTC(), call.EventTimestamp)

	require.Len(t, teams.calls, 1)
	assert.Equal(t, planUpdateCall{TeamID: "team_1", PlanSlug: "pro"}, teams.calls[0])
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_UnknownPriceFallsBackToFree(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", time.Now().Unix(),
		buildSubscriptionObject("team_1", "price_legacy", "past_due", time.Now().Unix()))
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, subs.calls, 1)
	assert.Equal(t, "free", subs.calls[0].PlanSlug)
	assert.Equal(t, types.SubStatusPastDue, subs.calls[0].Status)
}

func TestStripeWebhookHandler_Handle_SubscriptionDeleted(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "customer.subscription.deleted", "evt_1", time.Now().Unix(),
		buildSubscriptionObject("team_1", "price_pro_monthly", "canceled", time.Now().Unix()))
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, subs.calls, 1)
	assert.Equal(t, "free", subs.calls[0].PlanSlug, "teams revert to the free tier when the subscription ends")
	assert.Equal(t, types.SubStatusCanceled, subs.calls[0].Status)

	require.Len(t, teams.calls, 1)
	assert.Equal(t, planUpdateCall{TeamID: "team_1", PlanSlug: "free"}, teams.calls[0])
}

func TestStripeWebhookHandler_Handle_PaymentFailed(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "invoice.payment_failed", "evt_1", time.Now().Unix(),
		map[string]any{"subscription": "sub_delinquent"})
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"sub_delinquent"}, canceller.subscriptionIDs)
	assert.Empty(t, subs.calls, "payment failures do not change plan state directly")
	assert.Empty(t, teams.calls)
}

func TestStripeWebhookHandler_Handle_PaymentFailed_NoSubscription(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "invoice.payment_failed", "evt_1", time.Now().Unix(),
		map[string]any{"subscription": ""})
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, canceller.subscriptionIDs, "one-off invoices have nothing to cancel")
}

func TestStripeWebhookHandler_Handle_UnhandledEventType(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "customer.created", "evt_1", time.Now().Unix(), map[string]any{})
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, subs.calls)
	assert.Empty(t, teams.calls)
	assert.Empty(t, canceller.subscriptionIDs)
}

func TestStripeWebhookHandler_Handle_SyncErrorStillAcknowledges(t *testing.T) {
	subs := &fakeSubSyncer{err: errors.New("connection refused")}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", time.Now().Unix(),
		buildSubscriptionObject("team_1", "price_pro_monthly", "active", time.Now().Unix()))
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code, "acknowledge so the provider does not retry")
	assert.Empty(t, teams.calls, "plan update is skipped when the sync fails")
}

func TestStripeWebhookHandler_Handle_MissingTeamMetadata(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	obj := buildSubscriptionObject("", "price_pro_monthly", "active", time.Now().Unix())
	obj["metadata"] = map[string]string{}
	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", time.Now().Unix(), obj)
	rr := doWebhookRequest(h, body, signatureFor(body, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, subs.calls, 1, "subscription state still syncs by provider ID")
	assert.Empty(t, teams.calls, "no team to update without the metadata link")
}

func TestStripeWebhookHandler_RegisterRoutes(t *testing.T) {
	subs := &fakeSubSyncer{}
	teams := &fakePlanUpdater{}
	canceller := &fakeCanceller{}
	h := newTestWebhookHandler(subs, teams, canceller)

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	body := buildBillingEvent(t, "customer.subscription.updated", "evt_1", time.Now().Unix(),
		buildSubscriptionObject("team_1", "price_starter_monthly", "active", time.Now().Unix()))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signatureFor(body, testWebhookSecret))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, teams.calls, 1)
	assert.Equal(t, "starter", teams.calls[0].PlanSlug)
}
