package escalation

import (
	"errors"
	"fmt"
	"time"
)

// Tier is one rung of the escalation ladder.
type Tier struct {
	// Roles lists the responder roles eligible to acknowledge at this tier.
	Roles []string

	// Timeout is how long an unacknowledged alert stays at this tier before
	// the scheduler fires.
	Timeout time.Duration
}

// Policy is an immutable, validated list of tiers. Tier numbers are 1-based.
type Policy struct {
	tiers []Tier
}

// NewPolicy validates tiers and returns a Policy holding a private copy.
func NewPolicy(tiers []Tier) (*Policy, error) {
	if len(tiers) == 0 {
		return nil, errors.New("escalation: policy needs at least one tier")
	}
	cp := make([]Tier, len(tiers))
	for i, t := range tiers {
		if len(t.Roles) == 0 {
			return nil, fmt.Errorf("escalation: tier %d has no eligible roles", i+1)
		}
		if t.Timeout <= 0 {
			return nil, fmt.Errorf("escalation: tier %d timeout must be positive", i+1)
		}
		roles := make([]string, 0, len(t.Roles))
		for _, r := range t.Roles {
			if r == "" {
				return nil, fmt.Errorf("escalation: tier %d has an empty role name", i+1)
			}
			roles = append(roles, r)
		}
		cp[i] = Tier{Roles: roles, Timeout: t.Timeout}
	}
	return &Policy{tiers: cp}, nil
}

// Len returns the number of tiers.
func (p *Policy) Len() int { return len(p.tiers) }

// Tier returns tier n (1-based).
func (p *Policy) Tier(n int) (Tier, bool) {
	if n < 1 || n > len(p.tiers) {
		return Tier{}, false
	}
	t := p.tiers[n-1]
	return Tier{Roles: append([]string(nil), t.Roles...), Timeout: t.Timeout}, true
}

// Timeout returns the timeout of tier n. Tiers past the end of the ladder
// report the last tier's timeout.
func (p *Policy) Timeout(n int) time.Duration {
	switch {
	case n < 1:
		return p.tiers[0].Timeout
	case n > len(p.tiers):
		return p.tiers[len(p.tiers)-1].Timeout
	}
	return p.tiers[n-1].Timeout
}

// IsLast reports whether n is the final tier. A timeout there re-notifies
// instead of advancing.
func (p *Policy) IsLast(n int) bool { return n >= len(p.tiers) }

// Eligible reports whether role may acknowledge an alert sitting at tier n.
func (p *Policy) Eligible(n int, role string) bool {
	if n < 1 || n > len(p.tiers) || role == "" {
		return false
	}
	for _, r := range p.tiers[n-1].Roles {
		if r == role {
			return true
		}
	}
	return false
}
