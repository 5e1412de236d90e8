package events

import (
	"context"
	"math"
	"time"
)

// RetryConfig configures delivery retries
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy fills unset fields with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// MaxAttempts returns the total number of attempts allowed
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// ShouldRetry reports whether another attempt may follow attempts failures
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay is initialDelay * multiplier^(attempts-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// Wait sleeps for the delay following attempts or until ctx is done
func (p *RetryPolicy) Wait(ctx context.Context, attempts int) error {
	timer := time.NewTimer(p.NextRetryDelay(attempts))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
