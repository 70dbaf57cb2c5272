package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the token payload understood by the verifier.
type claims struct {
	jwt.RegisteredClaims
	Role      string   `json:"role"`
	Hospitals []string `json:"hospitals,omitempty"`
}

// JWTVerifier validates HS256 bearer tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for tokens signed with secret. When issuer
// is non-empty the iss claim must match it.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses token and returns the principal it names.
func (v *JWTVerifier) Verify(token string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("auth: token expired: %w", err)
		}
		return Principal{}, fmt.Errorf("auth: invalid token: %w", err)
	}
	if c.Subject == "" {
		return Principal{}, errors.New("auth: token has no subject")
	}
	return Principal{Subject: c.Subject, Role: c.Role, Hospitals: c.Hospitals}, nil
}

// Sign issues a token for p valid for ttl. Used by tests and local tooling;
// production tokens come from the identity provider.
func (v *JWTVerifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      p.Role,
		Hospitals: p.Hospitals,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
