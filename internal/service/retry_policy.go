package service

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	defaultBackoffBase = 30 * time.Second
	defaultBackoffMax  = 300 * time.Second
)

var defaultNonRetryable = []string{
	"no text extracted",
	"requires authentication",
	"deleted, private, or not found",
	"invalid url",
	"validation",
}

// RetryPolicy bounds how often and how fast a failed job is retried.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	NonRetryable []string      `yaml:"non_retryable"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  domain.DefaultMaxAttempts,
		BaseDelay:    defaultBackoffBase,
		MaxDelay:     defaultBackoffMax,
		NonRetryable: append([]string(nil), defaultNonRetryable...),
	}
}

// Backoff returns base·2^attempts, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// IsNonRetryable reports whether msg matches one of the policy's patterns.
func (p RetryPolicy) IsNonRetryable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range p.NonRetryable {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// fill copies unset fields from base.
func (p RetryPolicy) fill(base RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = base.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = base.MaxDelay
	}
	if p.NonRetryable == nil {
		p.NonRetryable = base.NonRetryable
	}
	return p
}

// RetryPolicies holds the default policy plus per-job-type overrides.
type RetryPolicies struct {
	Default RetryPolicy                    `yaml:"default"`
	PerType map[domain.JobType]RetryPolicy `yaml:"job_types"`
}

func DefaultRetryPolicies() *RetryPolicies {
	return &RetryPolicies{Default: DefaultRetryPolicy()}
}

// LoadRetryPolicies reads a YAML policy file. Fields left out fall back to
// the built-in defaults. An empty path returns the defaults.
func LoadRetryPolicies(path string) (*RetryPolicies, error) {
	if path == "" {
		return DefaultRetryPolicies(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job policy file: %w", err)
	}
	return ParseRetryPolicies(data)
}

func ParseRetryPolicies(data []byte) (*RetryPolicies, error) {
	var p RetryPolicies
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse job policy: %v", domain.ErrValidation, err)
	}
	p.Default = p.Default.fill(DefaultRetryPolicy())
	for t, tp := range p.PerType {
		if !domain.ValidJobType(string(t)) {
			return nil, fmt.Errorf("%w: job policy for unknown job_type %q", domain.ErrValidation, t)
		}
		p.PerType[t] = tp.fill(p.Default)
	}
	if p.Default.MaxDelay < p.Default.BaseDelay {
		return nil, fmt.Errorf("%w: max_delay must not be below base_delay", domain.ErrValidation)
	}
	return &p, nil
}

func (p *RetryPolicies) For(t domain.JobType) RetryPolicy {
	if p == nil {
		return DefaultRetryPolicy()
	}
	if tp, ok := p.PerType[t]; ok {
		return tp
	}
	return p.Default
}
