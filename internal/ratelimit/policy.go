package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Policy names used by the storefront route handlers.
const (
	PolicyLogin              = "login"
	PolicyCheckout           = "checkout"
	PolicyGiftCard           = "gift-card"
	PolicyWaitlist           = "waitlist"
	PolicyTransactionalEmail = "transactional-email"
)

// Policy binds a name to an attempt cap and window.
type Policy struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("policy %q: max attempts must be positive", p.Name)
	}
	if p.Window.Milliseconds() <= 0 {
		return fmt.Errorf("policy %q: window must be at least 1ms", p.Name)
	}
	return nil
}

// Key scopes an identifier to the policy so that, for example, login and
// checkout attempts from the same user are counted separately.
func (p Policy) Key(identifier string) string {
	return p.Name + ":" + identifier
}

// Check applies the policy through limiter.
func (p Policy) Check(ctx context.Context, limiter Limiter, identifier string) (Result, error) {
	return limiter.Check(ctx, p.Key(identifier), p.MaxAttempts, p.Window)
}

// Reset clears the identifier under this policy.
func (p Policy) Reset(ctx context.Context, limiter Limiter, identifier string) error {
	return limiter.Reset(ctx, p.Key(identifier))
}

// DefaultPolicies returns the built-in policy set.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyLogin, MaxAttempts: 5, Window: 15 * time.Minute},
		{Name: PolicyCheckout, MaxAttempts: 10, Window: time.Hour},
		{Name: PolicyGiftCard, MaxAttempts: 5, Window: time.Hour},
		{Name: PolicyWaitlist, MaxAttempts: 3, Window: time.Hour},
		{Name: PolicyTransactionalEmail, MaxAttempts: 20, Window: time.Hour},
	}
}

// Registry looks policies up by name.
type Registry struct {
	policies map[string]Policy
}

func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if _, exists := r.policies[name]; exists {
			return nil, fmt.Errorf("duplicate policy %q", name)
		}
		p.Name = name
		r.policies[name] = p
	}
	return r, nil
}

func (r *Registry) Get(name string) (Policy, bool) {
	if r == nil {
		return Policy{}, false
	}
	p, ok := r.policies[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// MaxWindow returns the longest window across all registered policies.
func (r *Registry) MaxWindow() time.Duration {
	var longest time.Duration
	if r == nil {
		return longest
	}
	for _, p := range r.policies {
		if p.Window > longest {
			longest = p.Window
		}
	}
	return longest
}
