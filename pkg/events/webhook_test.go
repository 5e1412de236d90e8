package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}

type capturedRequest struct {
	header http.Header
	body   []byte
}

func newCaptureServer(t *testing.T, statuses ...int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		n := len(requests)
		requests = append(requests, capturedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()

		status := http.StatusOK
		if n < len(statuses) {
			status = statuses[n]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), requests...)
	}
}

func TestWebhookSink_DeliversSignedPayload(t *testing.T) {
	srv, requests := newCaptureServer(t)
	sink := NewWebhookSink([]WebhookEndpoint{{URL: srv.URL, Secret: "s3cret"}}, WithRetry(fastRetry))

	event := testEvent(EventDeprecated).WithData("reason", "superseded")
	require.NoError(t, sink.Emit(context.Background(), event))

	got := requests()
	require.Len(t, got, 1)
	req := got[0]
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "schema.deprecated", req.header.Get(HeaderEvent))
	assert.Equal(t, event.ID, req.header.Get(HeaderEventID))
	assert.NotEmpty(t, req.header.Get(HeaderDelivery))
	assert.True(t, VerifySignature(req.body, req.header.Get(HeaderSignature), "s3cret"))
	assert.False(t, VerifySignature(req.body, req.header.Get(HeaderSignature), "wrong"))

	var decoded DomainEvent
	require.NoError(t, json.Unmarshal(req.body, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, testRef, decoded.Ref)
	assert.Equal(t, "superseded", decoded.Data["reason"])
}

func TestWebhookSink_NoSecretNoSignature(t *testing.T) {
	srv, requests := newCaptureServer(t)
	sink := NewWebhookSink([]WebhookEndpoint{{URL: srv.URL}}, WithRetry(fastRetry))

	require.NoError(t, sink.Emit(context.Background(), testEvent(EventRegistered)))
	require.Len(t, requests(), 1)
	assert.Empty(t, requests()[0].header.Get(HeaderSignature))
}

func TestWebhookSink_RetriesServerErrors(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	sink := NewWebhookSink([]WebhookEndpoint{{URL: srv.URL}}, WithRetry(fastRetry))

	require.NoError(t, sink.Emit(context.Background(), testEvent(EventRegistered)))
	got := requests()
	require.Len(t, got, 3)
	assert.Equal(t, got[0].header.Get(HeaderDelivery), got[2].header.Get(HeaderDelivery), "retries reuse the delivery id")
}

func TestWebhookSink_GivesUpAfterMaxAttempts(t *testing.T) {
	srv, requests := newCaptureServer(t, 500, 500, 500, 500)
	sink := NewWebhookSink([]WebhookEndpoint{{URL: srv.URL}}, WithRetry(fastRetry))

	err := sink.Emit(context.Background(), testEvent(EventRegistered))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, requests(), 3)
}

func TestWebhookSink_ClientErrorsAreNotRetried(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusBadRequest)
	sink := NewWebhookSink([]WebhookEndpoint{{URL: srv.URL}}, WithRetry(fastRetry))

	err := sink.Emit(context.Background(), testEvent(EventRegistered))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable status: 400")
	assert.Len(t, requests(), 1)
}

func TestWebhookSink_FiltersByEventType(t *testing.T) {
	deprecations, depRequests := newCaptureServer(t)
	everything, allRequests := newCaptureServer(t)
	sink := NewWebhookSink([]WebhookEndpoint{
		{URL: deprecations.URL, Events: []EventType{EventDeprecated}},
		{URL: everything.URL},
	}, WithRetry(fastRetry))

	require.NoError(t, sink.Emit(context.Background(), testEvent(EventRegistered)))
	require.NoError(t, sink.Emit(context.Background(), testEvent(EventDeprecated)))

	assert.Len(t, depRequests(), 1)
	assert.Len(t, allRequests(), 2)
}

func TestWebhookSink_OneEndpointFailingDoesNotStopOthers(t *testing.T) {
	bad, _ := newCaptureServer(t, http.StatusNotFound)
	good, goodRequests := newCaptureServer(t)
	sink := NewWebhookSink([]WebhookEndpoint{{URL: bad.URL}, {URL: good.URL}}, WithRetry(fastRetry))

	err := sink.Emit(context.Background(), testEvent(EventArchived))
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad.URL)
	assert.Len(t, goodRequests(), 1)
}

func TestWebhookSink_ContextCancelledDuringBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink([]WebhookEndpoint{{URL: srv.URL}}, WithRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sink.Emit(ctx, testEvent(EventRegistered))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abandoned after 1 attempts")
	assert.Equal(t, int32(1), hits.Load())
}

func TestSign(t *testing.T) {
	assert.Equal(t,
		"sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign([]byte("The quick brown fox jumps over the lazy dog"), "key"))
}
