package folders

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petalo/mailsift/pkg/errors"
)

// RetryPolicy defines retry behavior for storage calls.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// retryPolicyYAML mirrors RetryPolicy with durations as strings so config
// files can say "500ms" rather than nanosecond counts.
type retryPolicyYAML struct {
	MaxRetries     int     `yaml:"max_retries,omitempty"`
	InitialBackoff string  `yaml:"initial_backoff,omitempty"`
	MaxBackoff     string  `yaml:"max_backoff,omitempty"`
	BackoffFactor  float64 `yaml:"backoff_factor,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw retryPolicyYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxRetries != 0 {
		p.MaxRetries = raw.MaxRetries
	}
	if raw.BackoffFactor != 0 {
		p.BackoffFactor = raw.BackoffFactor
	}
	if raw.InitialBackoff != "" {
		d, err := time.ParseDuration(raw.InitialBackoff)
		if err != nil {
			return fmt.Errorf("parsing initial_backoff: %w", err)
		}
		p.InitialBackoff = d
	}
	if raw.MaxBackoff != "" {
		d, err := time.ParseDuration(raw.MaxBackoff)
		if err != nil {
			return fmt.Errorf("parsing max_backoff: %w", err)
		}
		p.MaxBackoff = d
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p RetryPolicy) MarshalYAML() (interface{}, error) {
	raw := retryPolicyYAML{
		MaxRetries:    p.MaxRetries,
		BackoffFactor: p.BackoffFactor,
	}
	if p.InitialBackoff > 0 {
		raw.InitialBackoff = p.InitialBackoff.String()
	}
	if p.MaxBackoff > 0 {
		raw.MaxBackoff = p.MaxBackoff.String()
	}
	return raw, nil
}

// DefaultRetryPolicy returns the default retry policy for storage calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry attempt.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialBackoff
	}
	backoff := p.InitialBackoff
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// withRetry runs fn, retrying transient failures per the policy. Permanent
// failures and context cancellation return immediately.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= policy.MaxRetries || !errors.IsErrorRetryable(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.CalculateBackoff(attempt)):
		}
	}
}
