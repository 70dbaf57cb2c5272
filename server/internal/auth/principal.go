package auth

import "context"

// Principal is the authenticated caller.
type Principal struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`

	// Hospitals restricts which hospitals the caller may see. Empty means all.
	Hospitals []string `json:"hospitals,omitempty"`
}

// Authenticated reports whether the principal came from a verified token.
func (p Principal) Authenticated() bool { return p.Subject != "" }

// CanAccess reports whether the principal may read or act on hospitalID.
func (p Principal) CanAccess(hospitalID string) bool {
	if len(p.Hospitals) == 0 {
		return true
	}
	for _, h := range p.Hospitals {
		if h == hospitalID {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
