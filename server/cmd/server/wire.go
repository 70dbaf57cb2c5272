package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/config"
	"github.com/wardwatch/wardwatch/server/internal/relay"
	"github.com/wardwatch/wardwatch/server/internal/store"
	"github.com/wardwatch/wardwatch/server/internal/store/postgres"
	"github.com/wardwatch/wardwatch/server/internal/store/redisstore"
	"github.com/wardwatch/wardwatch/server/internal/ws"
)

// backend is the assembled persistence layer.
type backend struct {
	store alert.Store

	// Exactly one of memory and retrying is set.
	memory   *store.Memory
	retrying *store.Retrying

	close func()
}

// persistBacklog returns the number of alert states waiting for a retry.
func (b *backend) persistBacklog() int {
	if b.retrying == nil {
		return 0
	}
	return b.retrying.Pending()
}

// run starts the backend's background loop and blocks until ctx is done.
func (b *backend) run(ctx context.Context) {
	if b.retrying != nil {
		b.retrying.Run(ctx)
		return
	}
	b.memory.Run(ctx)
}

func buildBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	sc := cfg.Store
	retry := store.RetryOptions{
		InitialBackoff:  sc.Retry.InitialBackoff,
		MaxBackoff:      sc.Retry.MaxBackoff,
		BreakerFailures: sc.Retry.BreakerFailures,
		BreakerTimeout:  sc.Retry.BreakerTimeout,
	}

	switch sc.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, sc.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		if sc.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		r := store.NewRetrying(pg, retry)
		return &backend{store: r, retrying: r, close: func() { pg.Close() }}, nil

	case "redis":
		client, err := redisstore.Dial(ctx, sc.Redis.Addr, sc.Redis.Password(), sc.Redis.DB)
		if err != nil {
			return nil, err
		}
		r := store.NewRetrying(redisstore.New(client, sc.Redis.Prefix, sc.Retention), retry)
		return &backend{store: r, retrying: r, close: func() { client.Close() }}, nil

	default:
		m := store.NewMemory(sc.Retention)
		return &backend{store: m, memory: m, close: func() {}}, nil
	}
}

func buildAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	ac := cfg.Server.Auth
	var v *auth.JWTVerifier
	if ac.Mode == auth.ModeJWT {
		var err error
		if v, err = auth.NewJWTVerifier(ac.JWTSecret(), ac.JWTIssuer); err != nil {
			return nil, fmt.Errorf("%w (env %s)", err, ac.JWTSecretEnv)
		}
	}
	mode := ac.Mode
	if mode == "" {
		mode = auth.ModeNone
	}
	if mode == auth.ModeAPIKey && ac.Key() == "" {
		slog.Warn("auth: apikey mode with empty key, all clients accepted", "key_env", ac.KeyEnv)
	}
	return auth.NewAuthenticator(mode, ac.EffectiveHeader(), ac.Key(), v), nil
}

// buildRelay returns the relay and a func closing its connections.
func buildRelay(cfg *config.Config) (*relay.Relay, func(), error) {
	rc := cfg.Relay
	var (
		sinks     []relay.Sink
		closeConn = func() {}
	)

	if rc.NATS.URL != "" {
		nc, err := relay.Connect(rc.NATS.URL, "wardwatch-server")
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, relay.NewNATSSink(nc, rc.NATS.SubjectPrefix))
		closeConn = func() { nc.Drain() } //nolint:errcheck
	}

	if len(rc.Webhooks) > 0 {
		targets := make([]relay.WebhookTarget, 0, len(rc.Webhooks))
		for _, w := range rc.Webhooks {
			url := w.URL()
			if url == "" {
				slog.Warn("relay: webhook url env is empty, skipping", "type", w.Type, "url_env", w.URLEnv)
				continue
			}
			events := make([]alert.EventType, len(w.Events))
			for i, e := range w.Events {
				events[i] = alert.EventType(e)
			}
			targets = append(targets, relay.WebhookTarget{Type: w.Type, URL: url, Events: events})
		}
		if len(targets) > 0 {
			sink, err := relay.NewWebhookSink(targets)
			if err != nil {
				closeConn()
				return nil, nil, err
			}
			sinks = append(sinks, sink)
		}
	}

	return relay.New(rc.QueueSize, rc.SendTimeout, sinks...), closeConn, nil
}

func hubOptions(sc config.SessionConfig) ws.Options {
	return ws.Options{
		MetricsInterval: sc.MetricsInterval,
		PongWait:        sc.PongWait,
		PingInterval:    sc.PingInterval,
		WriteTimeout:    sc.WriteTimeout,
		PongDeadline:    sc.PongDeadline,
		SendBuffer:      sc.SendBuffer,
		MaxMessageBytes: sc.MaxMessageBytes,
		InboundRate:     sc.InboundRate,
		InboundBurst:    sc.InboundBurst,
	}
}
