// Package ratelimit provides a fixed-window per-identity rate limiter
// keyed by endpoint class. The backend counter store is pluggable; an
// unreachable backend denies by default (fail-closed).
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/answerdesk/answerdesk/pkg/config"
)

// Store is the counter backend. Implementations must increment
// atomically; the first increment of a key starts its window.
type Store interface {
	// Incr increments the counter for key, setting the window TTL on
	// first increment. Returns the post-increment count and the time
	// remaining in the window.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)

	// Close releases store resources.
	Close() error
}

// Limiter enforces fixed-window limits per (class, identity).
type Limiter struct {
	rules    map[Class]Rule
	store    Store
	failOpen bool
}

// NewLimiter creates a limiter from config.
func NewLimiter(cfg *config.RateLimitConfig, store Store) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	rules := make(map[Class]Rule, len(cfg.Classes))
	for name, rule := range cfg.Classes {
		rules[Class(name)] = Rule{Limit: rule.Limit, Window: rule.Window.Duration()}
	}

	return &Limiter{
		rules:    rules,
		store:    store,
		failOpen: cfg.FailOpen,
	}, nil
}

// Check counts the request against (class, identity) and decides
// admission. The request is counted at admission time, so the N-th
// request within a window succeeds and the (N+1)-th is denied.
func (l *Limiter) Check(ctx context.Context, class Class, identity string) (*Decision, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}

	rule, ok := l.rules[class]
	if !ok {
		rule, ok = l.rules[ClassDefault]
		if !ok {
			return nil, ErrUnknownClass
		}
	}

	key := fmt.Sprintf("ratelimit:%s:%s", class, identity)
	count, remaining, err := l.store.Incr(ctx, key, rule.Window)
	if err != nil {
		if l.failOpen {
			slog.Warn("rate limit store unreachable, admitting (fail-open)", "error", err)
			return &Decision{
				Allowed:   true,
				Limit:     rule.Limit,
				Remaining: rule.Limit,
				ResetAt:   time.Now().Add(rule.Window),
			}, nil
		}
		slog.Error("rate limit store unreachable, denying (fail-closed)", "error", err)
		return &Decision{
			Allowed: false,
			Limit:   rule.Limit,
			ResetAt: time.Now().Add(rule.Window),
		}, ErrStoreUnavailable
	}

	left := rule.Limit - count
	if left < 0 {
		left = 0
	}

	return &Decision{
		Allowed:   count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: left,
		ResetAt:   time.Now().Add(remaining),
	}, nil
}

// Rule returns the rule for a class (the default rule for unknown
// classes).
func (l *Limiter) Rule(class Class) Rule {
	if rule, ok := l.rules[class]; ok {
		return rule
	}
	return l.rules[ClassDefault]
}

// Close closes the backing store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
