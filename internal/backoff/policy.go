// Package backoff computes exponential delays with jitter for channel
// reconnection and request retries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration `yaml:"initial_delay"`
	// Max caps every computed delay.
	Max time.Duration `yaml:"max_delay"`
	// Factor multiplies the delay on each attempt.
	Factor float64 `yaml:"factor"`
	// Jitter is the randomization ratio in [0, 1] added on top of the base delay.
	Jitter float64 `yaml:"jitter"`
	// MaxAttempts bounds consecutive failed attempts. Zero means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// ReconnectPolicy mirrors the defaults of common realtime transports:
// 1s initial delay, 5s cap, factor 2, 50% jitter, unlimited attempts.
func ReconnectPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         5 * time.Second,
		Factor:      2,
		Jitter:      0.5,
		MaxAttempts: 0,
	}
}

// RequestPolicy is used for idempotent HTTP reads: 200ms, 2s cap, 3 attempts.
func RequestPolicy() Policy {
	return Policy{
		Initial:     200 * time.Millisecond,
		Max:         2 * time.Second,
		Factor:      2,
		Jitter:      0.1,
		MaxAttempts: 3,
	}
}

// WithDefaults fills zero or invalid fields from ReconnectPolicy.
func (p Policy) WithDefaults() Policy {
	def := ReconnectPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Exhausted reports whether attempt exceeds the policy's attempt budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Delay returns the delay to wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand computes
//
//	min(max, initial*factor^(attempt-1) * (1 + jitter*random))
//
// with a caller-provided random value in [0, 1) for deterministic tests.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*randomValue
	if limit := float64(p.Max); p.Max > 0 && total > limit {
		total = limit
	}
	if math.IsNaN(total) || total < 0 {
		return 0
	}
	return time.Duration(math.Round(total))
}
