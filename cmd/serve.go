package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gate-checkin/config"
	"gate-checkin/handlers"
	"gate-checkin/monitoring"
	"gate-checkin/security"
	"gate-checkin/services"
	"gate-checkin/utils"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var seedFile, port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference check-in backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadConfig()
			if seedFile != "" {
				cfg.SeedFile = seedFile
			}
			if port != "" {
				cfg.Port = port
			}
			if cfg.JWTSecret == "" {
				return security.ErrMissingSecret
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML seed file loaded at startup (overrides SEED_FILE)")
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	rdb, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	if cfg.SeedFile != "" {
		if err := loadSeed(ctx, rdb, cfg.SeedFile); err != nil {
			return err
		}
	}

	issuer, err := security.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, nil)
	if err != nil {
		return err
	}
	ledger := services.NewLedger(rdb, nil)

	var notifier services.Notifier = services.NopNotifier{}
	if cfg.PubNubEnabled() {
		notifier = services.NewPubNubNotifier(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey)
		slog.Info("publishing check-ins to pubnub")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewServerMetrics(reg)

	routes := handlers.RouterConfig{
		Ledger:   ledger,
		Issuer:   issuer,
		Limiter:  security.NewRateLimiter(rdb, cfg.RateLimitPerMinute, nil),
		Notifier: notifier,
		Metrics:  metrics,
		Health: func(ctx context.Context) error {
			return utils.RedisHealthCheck(ctx, rdb)
		},
	}
	if cfg.EnableMetrics {
		routes.Gatherer = reg
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("check-in backend listening", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.EnableMetrics {
		monitor := monitoring.NewMonitor(ledger, metrics, cfg.MetricsInterval)
		g.Go(func() error {
			return monitor.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadSeed(ctx context.Context, rdb redis.Cmdable, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	seed, err := services.ParseSeed(f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	summary, err := seed.Apply(ctx, rdb)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	slog.Info("seed loaded", "file", path, "events", summary.Events, "tickets", summary.Tickets, "operators", summary.Operators)
	return nil
}
