// Package backoff wraps the exponential retry policy used by every loop that
// talks to the remote ledger. The policy is a pure function of the attempt
// counter; Reset must be called after a successful call so the next failure
// starts from the initial delay again.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	initialDelayDefault = 2500 * time.Millisecond
	maxDelayDefault     = 30 * time.Second
	multiplierDefault   = 1.8
	jitterRatioDefault  = 0.2

	// attempts are capped so the exponent cannot overflow on a loop that
	// fails for days
	maxAttempts = 1000
)

type Policy struct {
	exp     *backoff.ExponentialBackOff
	attempt int

	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitterRatio  float64
}

type Option func(*Policy)

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.initialDelay = d
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.maxDelay = d
	}
}

func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		p.multiplier = m
	}
}

func WithJitterRatio(r float64) Option {
	return func(p *Policy) {
		p.jitterRatio = r
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{
		initialDelay: initialDelayDefault,
		maxDelay:     maxDelayDefault,
		multiplier:   multiplierDefault,
		jitterRatio:  jitterRatioDefault,
	}

	for _, opt := range opts {
		opt(p)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.initialDelay
	exp.MaxInterval = p.maxDelay
	exp.Multiplier = p.multiplier
	exp.RandomizationFactor = p.jitterRatio
	// the policy never gives up on its own; loops are bounded by their context
	exp.MaxElapsedTime = 0
	exp.Reset()

	p.exp = exp

	return p
}

// Next returns the delay for the current attempt and advances the attempt
// counter.
func (p *Policy) Next() time.Duration {
	if p.attempt < maxAttempts {
		p.attempt++
		return p.exp.NextBackOff()
	}

	// counter capped: keep returning delays from the saturated interval
	d := p.exp.NextBackOff()
	if d > p.maxWithJitter() {
		d = p.maxWithJitter()
	}
	return d
}

// Reset zeroes the attempt counter. Call after a successful operation.
func (p *Policy) Reset() {
	p.attempt = 0
	p.exp.Reset()
}

// Midpoint returns the un-jittered delay for a given attempt. Exposed so the
// envelope of the policy is a testable property.
func (p *Policy) Midpoint(attempt int) time.Duration {
	d := float64(p.initialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.multiplier
		if d >= float64(p.maxDelay) {
			return p.maxDelay
		}
	}
	return time.Duration(d)
}

// Max returns the largest delay Next can ever return, jitter included.
func (p *Policy) Max() time.Duration {
	return p.maxWithJitter()
}

func (p *Policy) maxWithJitter() time.Duration {
	return time.Duration(float64(p.maxDelay) * (1 + p.jitterRatio))
}
