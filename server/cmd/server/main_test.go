package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestValidateCmd_PrintsTiers(t *testing.T) {
	p := writeConfig(t, `escalation:
  tiers:
    - roles: [nurse]
      timeout: 90s
    - roles: [doctor, attending]
      timeout: 4m
`)
	cmd := validateCmd(&p)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "config OK") {
		t.Errorf("output: %q", s)
	}
	if !strings.Contains(s, "tier 2") || !strings.Contains(s, "doctor, attending") {
		t.Errorf("tier 2 missing from output: %q", s)
	}
}

func TestValidateCmd_RejectsBadConfig(t *testing.T) {
	p := writeConfig(t, "store:\n  driver: cassandra\n")
	cmd := validateCmd(&p)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestTokenCmd_MintsVerifiableToken(t *testing.T) {
	t.Setenv("WW_TEST_SECRET", "s3cret")
	p := writeConfig(t, `server:
  auth:
    mode: jwt
    jwt_secret_env: WW_TEST_SECRET
`)
	cmd := tokenCmd(&p)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--sub", "nurse-ann", "--role", "nurse", "--hospital", "H1", "--ttl", "1m"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	v, _ := auth.NewJWTVerifier("s3cret", "")
	pr, err := v.Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if pr.Subject != "nurse-ann" || pr.Role != "nurse" || !pr.CanAccess("H1") || pr.CanAccess("H2") {
		t.Errorf("principal: got %+v", pr)
	}
}

func TestBuildBackend_Memory(t *testing.T) {
	p := writeConfig(t, "store:\n  retention: 1h\n")
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	be, err := buildBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildBackend: %v", err)
	}
	defer be.close()
	if be.memory == nil || be.retrying != nil {
		t.Error("memory driver should not be wrapped in a retry queue")
	}
	if n := be.persistBacklog(); n != 0 {
		t.Errorf("persistBacklog: got %d, want 0", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { be.run(ctx); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("backend run did not stop")
	}
}

func TestBuildRelay_SkipsEmptyWebhookURLs(t *testing.T) {
	p := writeConfig(t, `relay:
  webhooks:
    - type: slack
      url_env: WW_TEST_UNSET_HOOK
`)
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rel, closeRelay, err := buildRelay(cfg)
	if err != nil {
		t.Fatalf("buildRelay: %v", err)
	}
	defer closeRelay()
	if rel == nil {
		t.Fatal("relay is nil")
	}
}

func TestBuildAuthenticator_JWTNeedsSecret(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: jwt
    jwt_secret_env: WW_TEST_MISSING_SECRET
`)
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := buildAuthenticator(cfg); err == nil {
		t.Fatal("expected error for empty jwt secret")
	}
}
