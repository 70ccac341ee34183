// Package delivery contains outbound channel dispatchers. All delivery
// attempts return a DispatchResult with an explicit retryable verdict;
// retry scheduling itself is queue-native and never happens here.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"milestone/internal/types"
)

const (
	signatureHeader = "X-Milestone-Signature"
	timestampHeader = "X-Milestone-Timestamp"

	// Response bodies are drained for connection reuse but never trusted
	// beyond this size.
	maxResponseDrain = 4 * 1024

	DefaultRequestTimeout = 10 * time.Second
)

// webhookBody is the JSON document posted to the user's webhook URL.
type webhookBody struct {
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

// WebhookDispatcher posts notification messages to per-user webhook URLs.
// Requests are HMAC-signed so receivers can authenticate them, and all
// attempts flow through a shared circuit breaker: when enough consecutive
// attempts fail the breaker opens and attempts fail fast as retryable,
// letting queue redelivery carry the load instead of a dying endpoint.
type WebhookDispatcher struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	secret    []byte
	userAgent string
	logger    types.Logger
	clock     types.Clock
}

// WebhookConfig holds the dependencies for creating a WebhookDispatcher.
type WebhookConfig struct {
	SigningSecret  string
	RequestTimeout time.Duration
	UserAgent      string
	Logger         types.Logger
	Clock          types.Clock
}

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(cfg WebhookConfig) *WebhookDispatcher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "webhook-delivery",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("webhook circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &WebhookDispatcher{
		client:    &http.Client{Timeout: timeout},
		breaker:   cb,
		secret:    []byte(cfg.SigningSecret),
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
		clock:     clock,
	}
}

var _ types.Dispatcher = (*WebhookDispatcher)(nil)

// Channel returns the channel type this dispatcher serves.
func (d *WebhookDispatcher) Channel() types.ChannelType { return types.ChannelWebhook }

// Dispatch posts the message to the target URL. The returned result carries
// the HTTP status, attempt duration, and a retryable classification:
// network errors, timeouts, 408, 429, and 5xx are retryable; any other
// non-2xx status is a permanent rejection by the receiver.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, target string, message string) (types.DispatchResult, error) {
	now := d.clock.Now()
	body, err := json.Marshal(webhookBody{
		Message: message,
		SentAt:  now.Format(time.RFC3339),
	})
	if err != nil {
		return types.DispatchResult{}, fmt.Errorf("marshaling webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return types.DispatchResult{
			Success:   false,
			Error:     fmt.Sprintf("invalid webhook target: %v", err),
			Retryable: false,
		}, nil
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(timestampHeader, timestamp)
	req.Header.Set(signatureHeader, d.sign(timestamp, body))
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	start := time.Now()
	resp, err := d.breaker.Execute(func() (*http.Response, error) {
		r, doErr := d.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx and 429 count as failures toward tripping the breaker.
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("webhook endpoint returned %d", r.StatusCode)
		}
		return r, nil
	})
	duration := time.Since(start)

	if err != nil {
		result := types.DispatchResult{
			Success:   false,
			Duration:  duration,
			Retryable: true,
		}
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result.Error = "webhook circuit open"
		default:
			result.Error = err.Error()
		}
		if resp != nil {
			result.ResponseCode = resp.StatusCode
			drainAndClose(resp)
		}
		return result, nil
	}
	defer drainAndClose(resp)

	result := types.DispatchResult{
		ResponseCode: resp.StatusCode,
		Duration:     duration,
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Success = true
	case resp.StatusCode == http.StatusRequestTimeout:
		result.Error = "webhook endpoint timed out"
		result.Retryable = true
	default:
		// Remaining non-2xx here are 3xx/4xx: the receiver understood the
		// request and rejected it. Redelivery would not change the answer.
		result.Error = fmt.Sprintf("webhook endpoint rejected with %d", resp.StatusCode)
		result.Retryable = false
	}
	return result, nil
}

// sign computes the hex HMAC-SHA256 of "<timestamp>.<body>", binding the
// signature to the send time so receivers can reject replays.
func (d *WebhookDispatcher) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))
	resp.Body.Close()
}
