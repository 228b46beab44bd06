package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gate-checkin/config"
	"gate-checkin/internal/camera"
	"gate-checkin/internal/gate"
	"gate-checkin/internal/gateway"
	"gate-checkin/internal/geometry"
)

// gateFlags are the overrides shared by every command that talks to the backend.
type gateFlags struct {
	server    string
	tokenFile string
}

func (f *gateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "backend base URL (overrides GATE_SERVER_URL)")
	cmd.Flags().StringVar(&f.tokenFile, "token-file", "", "operator token file (overrides GATE_TOKEN_FILE)")
}

// load reads the gate configuration and applies the flag overrides.
func (f *gateFlags) load() (config.GateConfig, error) {
	cfg := config.LoadConfig().Gate
	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.tokenFile != "" {
		cfg.TokenFile = f.tokenFile
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newClient builds the backend client. A GATE_TOKEN wins over the token file.
func newClient(cfg config.GateConfig, onUnauthorized func()) (*gateway.Client, error) {
	var creds gateway.CredentialProvider = gateway.FileToken{Path: cfg.TokenFile, OnUnauthorized: onUnauthorized}
	if cfg.Token != "" {
		creds = gateway.StaticToken{Value: cfg.Token, OnUnauthorized: onUnauthorized}
	}
	return gateway.New(gateway.Options{
		BaseURL:     cfg.ServerURL,
		Timeout:     cfg.RequestTimeout,
		RetryMax:    cfg.RetryMax,
		Credentials: creds,
	})
}

func targetRegion(cfg config.GateConfig) geometry.Rect {
	vp := geometry.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight, InsetTop: cfg.InsetTop}
	return geometry.TargetRegion(vp, cfg.TargetSize, cfg.TargetOffset)
}

func sessionConfig(cfg config.GateConfig) gate.SessionConfig {
	return gate.SessionConfig{
		Target:            targetRegion(cfg),
		MinTicketIDLength: cfg.MinTicketIDLength,
		StatsThrottle:     cfg.StatsThrottle,
		Logger:            slog.Default(),
	}
}

// openFeed opens a camera feed; "-" reads stdin.
func openFeed(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open camera feed: %w", err)
	}
	return f, nil
}

func newFeed(r io.Reader) *camera.Feed {
	return camera.NewFeed(r, camera.DefaultBuffer, slog.Default())
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// selectEvent loads the event list and binds the session to eventID.
func selectEvent(ctx context.Context, s *gate.Session, eventID int64) error {
	if _, err := s.LoadEvents(ctx); err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	ev, err := s.SelectEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("select event %d: %w", eventID, err)
	}
	slog.Info("gate bound to event", "event_id", ev.EventID, "event_name", ev.EventName)
	return nil
}
