package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// passHandler is a grpc.UnaryHandler that echoes the principal subject.
func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	if p, ok := FromContext(ctx); ok {
		return p.Subject, nil
	}
	return "ok", nil
}

func callWithMD(t *testing.T, a *Authenticator, pairs ...string) (interface{}, error) {
	t.Helper()
	ctx := context.Background()
	if len(pairs) > 0 {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(pairs...))
	}
	return a.UnaryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
}

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier("test-secret", "wardwatch-test")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	return v
}

func signed(t *testing.T, v *JWTVerifier, p Principal, ttl time.Duration) string {
	t.Helper()
	tok, err := v.Sign(p, ttl)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tok
}

// --- gRPC -------------------------------------------------------------------

func TestInterceptor_ModeNone_PassesThrough(t *testing.T) {
	a := NewAuthenticator(ModeNone, "x-api-key", "secret", nil)
	res, err := callWithMD(t, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result: got %v, want ok", res)
	}
}

func TestInterceptor_APIKeyEmpty_PassesThrough(t *testing.T) {
	a := NewAuthenticator(ModeAPIKey, "x-api-key", "", nil)
	if _, err := callWithMD(t, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInterceptor_APIKey(t *testing.T) {
	a := NewAuthenticator(ModeAPIKey, "X-API-Key", "supersecret", nil)

	if _, err := callWithMD(t, a, "x-api-key", "supersecret"); err != nil {
		t.Errorf("correct key: unexpected error %v", err)
	}

	for name, pairs := range map[string][]string{
		"missing metadata": nil,
		"wrong key":        {"x-api-key", "nope"},
		"other header":     {"authorization", "supersecret"},
	} {
		_, err := callWithMD(t, a, pairs...)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("%s: got %v, want Unauthenticated", name, err)
		}
	}
}

func TestInterceptor_JWT_AttachesPrincipal(t *testing.T) {
	v := newVerifier(t)
	a := NewAuthenticator(ModeJWT, "", "", v)
	tok := signed(t, v, Principal{Subject: "dr-lee", Role: "doctor"}, time.Minute)

	res, err := callWithMD(t, a, "authorization", "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "dr-lee" {
		t.Errorf("principal subject: got %v, want dr-lee", res)
	}
}

func TestInterceptor_JWT_MissingToken(t *testing.T) {
	a := NewAuthenticator(ModeJWT, "", "", newVerifier(t))
	_, err := callWithMD(t, a, "x-other", "1")
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("got %v, want Unauthenticated", err)
	}
}

// --- JWT --------------------------------------------------------------------

func TestJWTVerifier_RoundTripClaims(t *testing.T) {
	v := newVerifier(t)
	tok := signed(t, v, Principal{Subject: "nurse-ana", Role: "nurse", Hospitals: []string{"H1"}}, time.Minute)

	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "nurse-ana" || p.Role != "nurse" {
		t.Errorf("principal: got %+v", p)
	}
	if !p.CanAccess("H1") || p.CanAccess("H2") {
		t.Errorf("CanAccess: hospitals %v not enforced", p.Hospitals)
	}
}

func TestJWTVerifier_RejectsExpired(t *testing.T) {
	v := newVerifier(t)
	tok := signed(t, v, Principal{Subject: "x"}, -time.Minute)
	if _, err := v.Verify(tok); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTVerifier_RejectsWrongSecret(t *testing.T) {
	other, _ := NewJWTVerifier("other-secret", "wardwatch-test")
	tok := signed(t, other, Principal{Subject: "x"}, time.Minute)
	if _, err := newVerifier(t).Verify(tok); err == nil {
		t.Fatal("expected error for foreign signature")
	}
}

func TestJWTVerifier_RejectsWrongIssuer(t *testing.T) {
	other, _ := NewJWTVerifier("test-secret", "someone-else")
	tok := signed(t, other, Principal{Subject: "x"}, time.Minute)
	if _, err := newVerifier(t).Verify(tok); err == nil {
		t.Fatal("expected error for foreign issuer")
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier("", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

// --- HTTP -------------------------------------------------------------------

func TestMiddleware_APIKey(t *testing.T) {
	a := NewAuthenticator(ModeAPIKey, "x-api-key", "k", nil)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", rec.Code)
	}

	req.Header.Set("X-API-Key", "k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("with key: got %d, want 204", rec.Code)
	}
}

func TestAuthenticate_QueryToken(t *testing.T) {
	v := newVerifier(t)
	a := NewAuthenticator(ModeJWT, "", "", v)
	tok := signed(t, v, Principal{Subject: "nurse-ana", Role: "nurse"}, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+tok, nil)
	p, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Subject != "nurse-ana" {
		t.Errorf("subject: got %q, want nurse-ana", p.Subject)
	}
}

func TestMiddleware_JWT_StoresPrincipal(t *testing.T) {
	v := newVerifier(t)
	a := NewAuthenticator(ModeJWT, "", "", v)
	tok := signed(t, v, Principal{Subject: "dr-lee", Role: "doctor"}, time.Minute)

	var got Principal
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.Role != "doctor" {
		t.Errorf("role: got %q, want doctor", got.Role)
	}
}
