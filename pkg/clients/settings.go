package clients

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/ratelimit"
)

// Settings is the HTTP policy for one request target. Settings are layered
// global < profile < source and merged before a client is built.
type Settings struct {
	BaseURL string            `yaml:"base_url" json:"base_url"`
	Headers map[string]string `yaml:"headers" json:"headers"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	TotalTimeout   time.Duration `yaml:"total_timeout" json:"total_timeout"`

	RateLimit *ratelimit.Config `yaml:"rate_limit" json:"rate_limit"`

	TotalAttempts     int           `yaml:"total_attempts" json:"total_attempts"`
	BackoffFactor     time.Duration `yaml:"backoff_factor" json:"backoff_factor"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max"`
	RetryableStatuses []int         `yaml:"retryable_statuses" json:"retryable_statuses"`
	RetryableMethods  []string      `yaml:"retryable_methods" json:"retryable_methods"`

	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// UnmarshalYAML accepts durations in Go syntax ("10s", "500ms").
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL           string            `yaml:"base_url"`
		Headers           map[string]string `yaml:"headers"`
		ConnectTimeout    string            `yaml:"connect_timeout"`
		ReadTimeout       string            `yaml:"read_timeout"`
		TotalTimeout      string            `yaml:"total_timeout"`
		RateLimit         *ratelimit.Config `yaml:"rate_limit"`
		TotalAttempts     int               `yaml:"total_attempts"`
		BackoffFactor     string            `yaml:"backoff_factor"`
		BackoffMax        string            `yaml:"backoff_max"`
		RetryableStatuses []int             `yaml:"retryable_statuses"`
		RetryableMethods  []string          `yaml:"retryable_methods"`
		FailureThreshold  int               `yaml:"failure_threshold"`
		OpenTimeout       string            `yaml:"open_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.BaseURL = raw.BaseURL
	s.Headers = raw.Headers
	s.RateLimit = raw.RateLimit
	s.TotalAttempts = raw.TotalAttempts
	s.RetryableStatuses = raw.RetryableStatuses
	s.RetryableMethods = raw.RetryableMethods
	s.FailureThreshold = raw.FailureThreshold

	for _, field := range []struct {
		name string
		text string
		dst  *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &s.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &s.ReadTimeout},
		{"total_timeout", raw.TotalTimeout, &s.TotalTimeout},
		{"backoff_factor", raw.BackoffFactor, &s.BackoffFactor},
		{"backoff_max", raw.BackoffMax, &s.BackoffMax},
		{"open_timeout", raw.OpenTimeout, &s.OpenTimeout},
	} {
		if field.text == "" {
			continue
		}
		d, err := time.ParseDuration(field.text)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.dst = d
	}
	return nil
}

// DefaultSettings returns the base layer every merge starts from.
func DefaultSettings() Settings {
	breaker := DefaultBreakerConfig()
	return Settings{
		Headers:          map[string]string{},
		ConnectTimeout:   10 * time.Second,
		ReadTimeout:      30 * time.Second,
		TotalTimeout:     60 * time.Second,
		TotalAttempts:    3,
		BackoffFactor:    time.Second,
		BackoffMax:       30 * time.Second,
		FailureThreshold: breaker.FailureThreshold,
		OpenTimeout:      breaker.OpenTimeout,
	}
}

// Merge layers the overlay on top of the receiver and returns the result.
// Headers merge key-wise with the overlay winning only for keys it carries;
// every other field takes the overlay's value when it is non-zero.
func (s Settings) Merge(overlay Settings) Settings {
	out := s

	out.Headers = make(map[string]string, len(s.Headers)+len(overlay.Headers))
	for k, v := range s.Headers {
		out.Headers[k] = v
	}
	for k, v := range overlay.Headers {
		out.Headers[k] = v
	}

	if overlay.BaseURL != "" {
		out.BaseURL = overlay.BaseURL
	}
	if overlay.ConnectTimeout > 0 {
		out.ConnectTimeout = overlay.ConnectTimeout
	}
	if overlay.ReadTimeout > 0 {
		out.ReadTimeout = overlay.ReadTimeout
	}
	if overlay.TotalTimeout > 0 {
		out.TotalTimeout = overlay.TotalTimeout
	}
	if overlay.RateLimit != nil {
		out.RateLimit = overlay.RateLimit
	}
	if overlay.TotalAttempts > 0 {
		out.TotalAttempts = overlay.TotalAttempts
	}
	if overlay.BackoffFactor > 0 {
		out.BackoffFactor = overlay.BackoffFactor
	}
	if overlay.BackoffMax > 0 {
		out.BackoffMax = overlay.BackoffMax
	}
	if len(overlay.RetryableStatuses) > 0 {
		out.RetryableStatuses = overlay.RetryableStatuses
	}
	if len(overlay.RetryableMethods) > 0 {
		out.RetryableMethods = overlay.RetryableMethods
	}
	if overlay.FailureThreshold > 0 {
		out.FailureThreshold = overlay.FailureThreshold
	}
	if overlay.OpenTimeout > 0 {
		out.OpenTimeout = overlay.OpenTimeout
	}

	return out
}

// MergeSettings resolves a layered policy, earliest layer first. The usual
// call is MergeSettings(defaults, global, profile, source).
func MergeSettings(layers ...Settings) Settings {
	var out Settings
	for i, layer := range layers {
		if i == 0 {
			out = layer
			continue
		}
		out = out.Merge(layer)
	}
	return out
}

// RetryPolicy materializes the retry policy from the merged settings.
func (s Settings) RetryPolicy() *RetryPolicy {
	policy := DefaultRetryPolicy()
	if s.TotalAttempts > 0 {
		policy.TotalAttempts = s.TotalAttempts
	}
	if s.BackoffFactor > 0 {
		policy.BackoffFactor = s.BackoffFactor
	}
	if s.BackoffMax > 0 {
		policy.BackoffMax = s.BackoffMax
	}
	if len(s.RetryableStatuses) > 0 {
		policy.RetryableStatuses = make(map[int]bool, len(s.RetryableStatuses))
		for _, code := range s.RetryableStatuses {
			policy.RetryableStatuses[code] = true
		}
	}
	if len(s.RetryableMethods) > 0 {
		policy.RetryableMethods = make(map[string]bool, len(s.RetryableMethods))
		for _, m := range s.RetryableMethods {
			policy.RetryableMethods[m] = true
		}
	}
	return policy
}

// BreakerConfig materializes the circuit-breaker policy from the merged
// settings.
func (s Settings) BreakerConfig() BreakerConfig {
	cfg := DefaultBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.OpenTimeout > 0 {
		cfg.OpenTimeout = s.OpenTimeout
	}
	return cfg
}
