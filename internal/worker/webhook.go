package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"saaskit/internal/types"
)

// SignatureHeader carries the HMAC signature of outbound webhook payloads.
// Format: t=<unix>,v1=<hex hmac of "{t}.{body}">
const SignatureHeader = "X-Saaskit-Signature"

// WebhookHandler delivers "webhook:send" actions. The target URL comes from
// the action payload ("url"); the payload's "body" object is posted as JSON.
// Deliveries are HMAC-signed and guarded by a circuit breaker so a dead
// endpoint cannot tie up the worker with timeouts on every poll.
type WebhookHandler struct {
	client        *http.Client
	breaker       *gobreaker.CircuitBreaker[*http.Response]
	signingSecret string
	userAgent     string
	clock         types.Clock
	logger        *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(client *http.Client, signingSecret, userAgent string, clock types.Clock, logger *slog.Logger) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "webhook-delivery",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &WebhookHandler{
		client:        client,
		breaker:       breaker,
		signingSecret: signingSecret,
		userAgent:     userAgent,
		clock:         clock,
		logger:        logger,
	}
}

// Execute implements Handler.
func (h *WebhookHandler) Execute(ctx context.Context, action *types.ScheduledAction) error {
	url, ok := action.Payload["url"].(string)
	if !ok || url == "" {
		return types.NewAppError(types.ErrCodeValidationPayload, "webhook action payload missing url", nil)
	}

	body, err := json.Marshal(action.Payload["body"])
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationPayload, "webhook action body not serializable", err)
	}

	resp, err := h.breaker.Execute(func() (*http.Response, error) {
		return h.deliver(ctx, url, body)
	})
	if err != nil {
		// Breaker-open and transport errors are both transient.
		return Retryable(types.NewAppError(types.ErrCodeUpstreamWebhook, "webhook delivery failed", err))
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		h.logger.InfoContext(ctx, "webhook delivered",
			slog.String("action_id", action.ID),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Retryable(types.NewAppError(types.ErrCodeUpstreamWebhook,
			fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode), nil))
	default:
		// 4xx responses are permanent: the endpoint rejected the payload.
		return types.NewAppError(types.ErrCodeUpstreamWebhook,
			fmt.Sprintf("webhook endpoint rejected payload with %d", resp.StatusCode), nil)
	}
}

func (h *WebhookHandler) deliver(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if h.signingSecret != "" {
		req.Header.Set(SignatureHeader, SignPayload(body, h.signingSecret, h.clock.Now()))
	}
	return h.client.Do(req)
}

// SignPayload generates the signature header value for a webhook payload.
// The signed content is "{unix_timestamp}.{payload}" using HMAC-SHA256.
func SignPayload(payload []byte, secret string, now time.Time) string {
	timestamp := now.Unix()
	signedContent := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedContent))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks a payload against a signature header. Receivers use
// this to authenticate deliveries.
func VerifySignature(payload []byte, header, secret string) bool {
	var timestamp, v1 string
	for _, segment := range bytes.Split([]byte(header), []byte(",")) {
		kv := bytes.SplitN(segment, []byte("="), 2)
		if len(kv) != 2 {
			continue
		}
		switch string(kv[0]) {
		case "t":
			timestamp = string(kv[1])
		case "v1":
			v1 = string(kv[1])
		}
	}
	if timestamp == "" || v1 == "" {
		return false
	}

	signedContent := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedContent))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(v1), []byte(expected))
}
