package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

// overwrite rewrites path in place with a single write, so a watcher never
// observes a truncated file. content must be at least as long as the old one.
func overwrite(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, "server: {}\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", cfg.Server.GRPCPort, DefaultGRPCPort)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store.driver: got %q, want memory", cfg.Store.Driver)
	}
	if n := len(cfg.Escalation.Tiers); n != 3 {
		t.Errorf("escalation.tiers: got %d, want 3", n)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level: got %v, want info", cfg.Level())
	}
	if got := strings.Join(cfg.Alerts.CreatorRoles, ","); got != "nurse,charge-nurse,doctor,attending,nurse-call" {
		t.Errorf("alerts.creator_roles: got %s", got)
	}

	p2, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if !p2.Eligible(1, "nurse") || p2.Eligible(1, "doctor") {
		t.Error("default tier 1 should admit nurses only")
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  log_level: debug
  hospitals: [H1, H2]
  auth:
    mode: jwt
    jwt_secret_env: WW_SECRET
    jwt_issuer: wardwatch
escalation:
  tiers:
    - roles: [nurse]
      timeout: 30s
    - roles: [doctor]
      timeout: 1m
alerts:
  max_description: 120
  creator_roles: [nurse-call, dispatcher]
session:
  pong_wait: 20s
  send_buffer: 32
store:
  driver: redis
  redis:
    addr: localhost:6379
  retry:
    breaker_failures: 3
relay:
  nats:
    url: nats://localhost:4222
  webhooks:
    - type: slack
      url_env: SLACK_URL
      events: [escalated]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != 9090 {
		t.Errorf("grpc_port: got %d, want 9090", cfg.Server.GRPCPort)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level: got %v, want debug", cfg.Level())
	}
	if len(cfg.Server.Hospitals) != 2 {
		t.Errorf("hospitals: got %v", cfg.Server.Hospitals)
	}
	if n := len(cfg.Escalation.Tiers); n != 2 {
		t.Fatalf("tiers: got %d, want 2 (file replaces defaults)", n)
	}
	if cfg.Escalation.Tiers[0].Timeout != 30*time.Second {
		t.Errorf("tier 1 timeout: got %v, want 30s", cfg.Escalation.Tiers[0].Timeout)
	}
	if got := strings.Join(cfg.Alerts.CreatorRoles, ","); got != "nurse-call,dispatcher" {
		t.Errorf("alerts.creator_roles: got %s, want the file's list", got)
	}
	if cfg.Session.PongWait != 20*time.Second || cfg.Session.SendBuffer != 32 {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if cfg.Store.Redis.Prefix != DefaultRedisPrefix {
		t.Errorf("redis.prefix: got %q, want default", cfg.Store.Redis.Prefix)
	}
	if cfg.Store.Retry.BreakerFailures != 3 {
		t.Errorf("retry.breaker_failures: got %d, want 3", cfg.Store.Retry.BreakerFailures)
	}
	if cfg.Relay.NATS.SubjectPrefix != DefaultNATSSubject {
		t.Errorf("nats.subject_prefix: got %q, want default", cfg.Relay.NATS.SubjectPrefix)
	}
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_DSN", "postgres://u@db/ww")
	t.Setenv("TEST_HOOK", "https://hooks.example/1")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
store:
  driver: postgres
  postgres:
    dsn_env: TEST_DSN
relay:
  webhooks:
    - type: http
      url_env: TEST_HOOK
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
	if d := cfg.Store.Postgres.DSN(); d != "postgres://u@db/ww" {
		t.Errorf("DSN(): got %q", d)
	}
	if u := cfg.Relay.Webhooks[0].URL(); u != "https://hooks.example/1" {
		t.Errorf("URL(): got %q", u)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown auth mode":   "server:\n  auth:\n    mode: oauth2\n",
		"jwt without secret":  "server:\n  auth:\n    mode: jwt\n",
		"port out of range":   "server:\n  http_port: 70000\n",
		"same ports":          "server:\n  http_port: 9000\n  grpc_port: 9000\n",
		"bad log level":       "server:\n  log_level: loud\n",
		"empty tiers":         "escalation:\n  tiers: []\n",
		"tier without roles":  "escalation:\n  tiers:\n    - timeout: 1m\n",
		"tier zero timeout":   "escalation:\n  tiers:\n    - roles: [nurse]\n",
		"unknown driver":      "store:\n  driver: mongo\n",
		"postgres no dsn":     "store:\n  driver: postgres\n",
		"redis no addr":       "store:\n  driver: redis\n",
		"webhook bad type":    "relay:\n  webhooks:\n    - type: pager\n      url_env: X\n",
		"webhook bad event":   "relay:\n  webhooks:\n    - type: http\n      url_env: X\n      events: [paged]\n",
		"negative queue size": "relay:\n  queue_size: -1\n",
		"blank creator role":  "alerts:\n  creator_roles: [nurse, \"\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.HasPrefix(err.Error(), "server config:") {
				t.Errorf("error prefix: got %q", err.Error())
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	overwrite(t, p, "server:\n  log_level: debug\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Level() == slog.LevelDebug {
				return
			}
		case <-deadline:
			t.Fatal("onChange not called with the new level")
		}
	}
}

func TestWatch_KeepsPreviousOnInvalid(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	overwrite(t, p, "server:\n  log_level: loud\n")

	select {
	case c := <-got:
		t.Errorf("onChange called with invalid config: %+v", c.Server)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatch_SeesAtomicRename(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	tmp := filepath.Join(filepath.Dir(p), "config.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("server:\n  log_level: warn\n"), 0o600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case c := <-got:
		if c.Level() != slog.LevelWarn {
			t.Errorf("level: got %v, want warn", c.Level())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not called after rename")
	}
}
