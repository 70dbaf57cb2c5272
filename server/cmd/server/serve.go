package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/api"
	"github.com/wardwatch/wardwatch/server/internal/config"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/receiver"
	"github.com/wardwatch/wardwatch/server/internal/subscription"
	"github.com/wardwatch/wardwatch/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var dumpMetrics bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine, WebSocket hub, REST API and gRPC service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath, dumpMetrics)
		},
	}
	cmd.Flags().BoolVar(&dumpMetrics, "dump-metrics", false, "write the final metrics to stderr on shutdown")
	return cmd
}

func serve(configPath string, dumpMetrics bool) error {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("wardwatch-server starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level.Set(cfg.Level())

	policy, err := cfg.Policy()
	if err != nil {
		return fmt.Errorf("escalation policy: %w", err)
	}

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"store", cfg.Store.Driver,
		"tiers", policy.Len(),
		"hospitals", cfg.Server.Hospitals,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	be, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	authn, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	rel, closeRelay, err := buildRelay(cfg)
	if err != nil {
		return err
	}
	defer closeRelay()

	reg := subscription.NewRegistry()
	hub := ws.NewHub(reg, authn, hubOptions(cfg.Session))

	engine := alert.NewEngine(policy, be.store, alert.Options{
		MaxDescription: cfg.Alerts.MaxDescription,
		ArchiveSize:    cfg.Alerts.ArchiveSize,
		CreatorRoles:   cfg.Alerts.CreatorRoles,
	}, hub, rel)
	defer engine.Close()

	n, err := engine.Restore(ctx, cfg.Server.Hospitals)
	if err != nil {
		// Partial restores keep what loaded; the missing hospitals start empty.
		slog.Error("restore failed", "err", err)
	}
	slog.Info("open alerts restored", "count", n, "pending_escalations", engine.Pending())

	// gRPC command surface.
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		receiver.MetricsInterceptor(),
		authn.UnaryInterceptor(),
	))
	receiver.RegisterAlertServiceServer(grpcSrv, receiver.New(engine))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
	}

	// REST API, WebSocket hub and /metrics on HTTPPort.
	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.New(engine, api.Options{
			Auth:        authn.Middleware,
			CORSOrigins: cfg.Server.CORSOrigins,
			WebSocket:   hub,
			Metrics:     metrics.Handler(),
			Health: func() api.HealthResponse {
				return api.HealthResponse{
					Sessions:           hub.Count(),
					PendingEscalations: engine.Pending(),
					PersistBacklog:     be.persistBacklog(),
				}
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx, engine)
		return nil
	})
	g.Go(func() error {
		rel.Run(gctx)
		return nil
	})
	g.Go(func() error {
		be.run(gctx)
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, configPath, func(c *config.Config) {
			level.Set(c.Level())
		})
	})
	g.Go(func() error {
		slog.Info("gRPC service listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("wardwatch-server shutting down")

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	if dumpMetrics {
		metrics.WriteText(os.Stderr, prometheus.DefaultGatherer) //nolint:errcheck
	}
	if err != nil {
		return err
	}
	slog.Info("wardwatch-server stopped")
	return nil
}
