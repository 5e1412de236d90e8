package events

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
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/lineage/pkg/observability"
)

const (
	HeaderEvent     = "X-Lineage-Event"
	HeaderEventID   = "X-Lineage-Event-ID"
	HeaderDelivery  = "X-Lineage-Delivery"
	HeaderSignature = "X-Lineage-Signature"
)

// WebhookEndpoint is one subscriber URL
type WebhookEndpoint struct {
	URL    string      `json:"url" yaml:"url"`
	Secret string      `json:"secret,omitempty" yaml:"secret"`
	Events []EventType `json:"events,omitempty" yaml:"events"`
}

func (e WebhookEndpoint) wants(t EventType) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, want := range e.Events {
		if want == t {
			return true
		}
	}
	return false
}

// WebhookSink POSTs events as JSON to every subscribed endpoint, signing the
// body with HMAC-SHA256 when the endpoint has a secret.
type WebhookSink struct {
	endpoints []WebhookEndpoint
	client    *http.Client
	retry     *RetryPolicy
	logger    *observability.Logger
}

// WebhookOption configures a WebhookSink
type WebhookOption func(*WebhookSink)

// WithHTTPClient replaces the default client
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = client }
}

// WithRetry sets the retry policy
func WithRetry(config RetryConfig) WebhookOption {
	return func(s *WebhookSink) { s.retry = NewRetryPolicy(config) }
}

// WithWebhookLogger sets the logger
func WithWebhookLogger(logger *observability.Logger) WebhookOption {
	return func(s *WebhookSink) { s.logger = logger }
}

// NewWebhookSink creates a sink for endpoints
func NewWebhookSink(endpoints []WebhookEndpoint, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		retry:     NewRetryPolicy(DefaultRetryConfig()),
		logger:    observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit implements Sink. Every endpoint is attempted; failures are joined.
func (s *WebhookSink) Emit(ctx context.Context, event DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var errs []error
	for _, endpoint := range s.endpoints {
		if !endpoint.wants(event.Type) {
			continue
		}
		if err := s.deliver(ctx, endpoint, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", endpoint.URL, err))
		}
	}
	return errors.Join(errs...)
}

// permanentError marks a response that retrying cannot fix
type permanentError struct {
	status int
	err    error
}

func (e *permanentError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("webhook returned non-retryable status: %d", e.status)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func (s *WebhookSink) deliver(ctx context.Context, endpoint WebhookEndpoint, event DomainEvent, payload []byte) error {
	deliveryID := uuid.NewString()
	logger := s.logger.WithFields(map[string]interface{}{
		"delivery_id": deliveryID,
		"event_id":    event.ID,
		"url":         endpoint.URL,
	})

	for attempt := 1; ; attempt++ {
		err := s.send(ctx, endpoint, event, deliveryID, payload)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Webhook delivered after retry")
			}
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) || !s.retry.ShouldRetry(attempt, err) {
			return fmt.Errorf("delivery failed after %d attempts: %w", attempt, err)
		}
		logger.WithError(err).WithField("attempt", attempt).Debug("Webhook delivery failed, retrying")
		if werr := s.retry.Wait(ctx, attempt); werr != nil {
			return fmt.Errorf("delivery abandoned after %d attempts: %w", attempt, err)
		}
	}
}

func (s *WebhookSink) send(ctx context.Context, endpoint WebhookEndpoint, event DomainEvent, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderDelivery, deliveryID)
	if endpoint.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, endpoint.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	default:
		return &permanentError{status: resp.StatusCode}
	}
}

// Sign returns the signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against payload
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
