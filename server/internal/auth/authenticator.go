package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Authentication modes.
const (
	ModeNone   = "none"
	ModeAPIKey = "apikey"
	ModeJWT    = "jwt"
)

// ErrUnauthenticated is returned when credentials are missing or wrong.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator checks credentials for every transport the server exposes.
type Authenticator struct {
	mode   string
	header string
	key    string
	jwt    *JWTVerifier
}

// NewAuthenticator creates an Authenticator.
//
// Behaviour:
//   - mode "none", or mode "apikey" with an empty key, allows every caller.
//   - mode "apikey" compares the value of header to key.
//   - mode "jwt" verifies a bearer token with v and attaches its principal.
//
// header should be lowercase; gRPC metadata keys are normalised to lowercase.
func NewAuthenticator(mode, header, key string, v *JWTVerifier) *Authenticator {
	if header == "" {
		header = "x-api-key"
	}
	return &Authenticator{mode: mode, header: strings.ToLower(header), key: key, jwt: v}
}

// Mode returns the configured mode.
func (a *Authenticator) Mode() string { return a.mode }

// Authenticate checks r. The bearer token may also be passed as the
// access_token query parameter, since browsers cannot set headers on a
// WebSocket handshake.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if bearer == "" {
		bearer = r.URL.Query().Get("access_token")
	}
	return a.check(r.Header.Get(a.header), bearer)
}

// Middleware rejects unauthenticated HTTP requests with 401 and stores the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthenticated"}`)) //nolint:errcheck
			return
		}
		if p.Authenticated() {
			r = r.WithContext(NewContext(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor returns a gRPC interceptor enforcing the same rules.
// Failures return codes.Unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if a.open() {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		p, err := a.check(first(md, a.header), strings.TrimPrefix(first(md, "authorization"), "Bearer "))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if p.Authenticated() {
			ctx = NewContext(ctx, p)
		}
		return handler(ctx, req)
	}
}

// --- internal ---------------------------------------------------------------

func (a *Authenticator) open() bool {
	switch a.mode {
	case ModeAPIKey:
		return a.key == ""
	case ModeJWT:
		return false
	}
	return true
}

func (a *Authenticator) check(apiKey, bearer string) (Principal, error) {
	if a.open() {
		return Principal{}, nil
	}
	switch a.mode {
	case ModeAPIKey:
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.key)) != 1 {
			return Principal{}, errors.New("invalid api key")
		}
		return Principal{}, nil
	case ModeJWT:
		if bearer == "" {
			return Principal{}, errors.New("missing bearer token")
		}
		if a.jwt == nil {
			return Principal{}, ErrUnauthenticated
		}
		return a.jwt.Verify(bearer)
	}
	return Principal{}, ErrUnauthenticated
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
