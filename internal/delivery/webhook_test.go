package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestone/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)    {}
func (nopLogger) Warn(msg string, args ...any)    {}
func (nopLogger) Error(msg string, args ...any)   {}
func (l nopLogger) With(args ...any) types.Logger { return l }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestDispatcher(secret string) *WebhookDispatcher {
	return NewWebhookDispatcher(WebhookConfig{
		SigningSecret:  secret,
		RequestTimeout: 2 * time.Second,
		UserAgent:      "milestone/test",
		Logger:         nopLogger{},
		Clock:          fixedClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)},
	})
}

func TestDispatch_SuccessWithValidSignature(t *testing.T) {
	const secret = "whsec_test"

	var gotBody []byte
	var gotSignature, gotTimestamp string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		gotSignature = r.Header.Get("X-Milestone-Signature")
		gotTimestamp = r.Header.Get("X-Milestone-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(secret)
	result, err := d.Dispatch(context.Background(), server.URL, "It's Ada's birthday today!")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.ResponseCode)
	assert.False(t, result.Retryable)

	var body webhookBody
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "It's Ada's birthday today!", body.Message)
	assert.Equal(t, "2025-06-15T12:00:00Z", body.SentAt)

	// Recompute the signature the way a receiver would.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotTimestamp))
	mac.Write([]byte("."))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)
}

func TestDispatch_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := newTestDispatcher("whsec_test")
	result, err := d.Dispatch(context.Background(), server.URL, "hello")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Equal(t, http.StatusBadGateway, result.ResponseCode)
}

func TestDispatch_ClientRejectionIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	d := newTestDispatcher("whsec_test")
	result, err := d.Dispatch(context.Background(), server.URL, "hello")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.Retryable)
	assert.Equal(t, http.StatusGone, result.ResponseCode)
}

func TestDispatch_NetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	d := newTestDispatcher("whsec_test")
	result, err := d.Dispatch(context.Background(), server.URL, "hello")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
}

func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := newTestDispatcher("whsec_test")
	for i := 0; i < 6; i++ {
		result, err := d.Dispatch(context.Background(), server.URL, "hello")
		require.NoError(t, err)
		assert.False(t, result.Success)
	}

	// Breaker is now open: attempts fail fast without reaching the endpoint.
	result, err := d.Dispatch(context.Background(), server.URL, "hello")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Equal(t, "webhook circuit open", result.Error)
	assert.Equal(t, 6, hits)
}

func TestDispatch_InvalidTargetIsPermanent(t *testing.T) {
	d := newTestDispatcher("whsec_test")
	result, err := d.Dispatch(context.Background(), "://not-a-url", "hello")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.Retryable)
	assert.Contains(t, result.Error, "invalid webhook target")
}
