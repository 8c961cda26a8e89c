package domain

import (
	"fmt"
	"time"

	"upqueue/internal/params"
)

const (
	DefaultMaxRetries    = 5
	DefaultBackoffMillis = 120000
	maxBackoff           = 5 * time.Hour
)

// Policy holds the retry and precondition settings attached to a request at
// submission time.
type Policy struct {
	MaxRetries    int
	Network       NetworkPolicy
	Backoff       BackoffPolicy
	BackoffMillis int64
}

// DefaultPolicy returns the policy used when a request does not specify one.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		Network:       NetworkAny,
		Backoff:       BackoffExponential,
		BackoffMillis: DefaultBackoffMillis,
	}
}

// Apply writes the policy into p.
func (pol Policy) Apply(p params.Params) {
	p.PutInt(params.KeyMaxRetries, pol.MaxRetries)
	p.PutString(params.KeyNetworkPolicy, string(pol.Network))
	p.PutString(params.KeyBackoffPolicy, string(pol.Backoff))
	p.PutLong(params.KeyBackoffMillis, pol.BackoffMillis)
}

// PolicyFromParams reads a policy from p, filling gaps from DefaultPolicy.
func PolicyFromParams(p params.Params) Policy {
	def := DefaultPolicy()
	if p == nil {
		return def
	}
	return Policy{
		MaxRetries:    p.GetInt(params.KeyMaxRetries, def.MaxRetries),
		Network:       NetworkPolicy(p.GetString(params.KeyNetworkPolicy, string(def.Network))),
		Backoff:       BackoffPolicy(p.GetString(params.KeyBackoffPolicy, string(def.Backoff))),
		BackoffMillis: p.GetLong(params.KeyBackoffMillis, def.BackoffMillis),
	}
}

// Validate checks that every field holds a known value.
func (pol Policy) Validate() error {
	if pol.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidPolicy)
	}
	if pol.Network != NetworkAny && pol.Network != NetworkNone {
		return fmt.Errorf("%w: unknown network policy %q", ErrInvalidPolicy, pol.Network)
	}
	if pol.Backoff != BackoffLinear && pol.Backoff != BackoffExponential {
		return fmt.Errorf("%w: unknown backoff policy %q", ErrInvalidPolicy, pol.Backoff)
	}
	if pol.BackoffMillis <= 0 {
		return fmt.Errorf("%w: backoff_millis must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Delay returns the wait before retry number attempt (1-based).
func (pol Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(pol.BackoffMillis) * time.Millisecond
	var d time.Duration
	switch pol.Backoff {
	case BackoffLinear:
		d = base * time.Duration(attempt)
	default:
		d = base
		for i := 1; i < attempt && d < maxBackoff; i++ {
			d *= 2
		}
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
