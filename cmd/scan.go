package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gate-checkin/internal/gate"
	"gate-checkin/models"
	"gate-checkin/monitoring"
)

func newScanCmd() *cobra.Command {
	var flags gateFlags
	var feedPath, metricsAddr string
	var eventID int64
	var ackDelay time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a headless gate over a camera feed",
		Long: "Run a headless gate: candidates are read from a JSON-lines feed, every outcome is\n" +
			"printed on one line and acknowledged automatically after --ack-delay.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client, err := newClient(cfg, func() {
				slog.Error("operator token rejected, run gate-checkin login")
			})
			if err != nil {
				return err
			}

			r, err := openFeed(feedPath)
			if err != nil {
				return err
			}
			defer r.Close()

			printer := newOutcomePrinter(cmd.OutOrStdout())
			scfg := sessionConfig(cfg)
			scfg.Observer = printer

			var metricsSrv *http.Server
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				scfg.Metrics = monitoring.NewGateMetrics(reg)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			}

			session := gate.NewSession(ctx, client, scfg)
			if err := selectEvent(ctx, session, eventID); err != nil {
				return err
			}
			if err := session.StartCamera(); err != nil {
				return err
			}

			err = runScan(ctx, session, newFeed(r), printer, ackDelay, metricsSrv)
			admitted, denied := printer.totals()
			fmt.Fprintf(cmd.OutOrStdout(), "done: %d admitted, %d denied\n", admitted, denied)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().Int64Var(&eventID, "event", 0, "event to check guests into")
	cmd.Flags().StringVar(&feedPath, "camera-feed", "-", "JSON-lines barcode feed (file, FIFO, or - for stdin)")
	cmd.Flags().DurationVar(&ackDelay, "ack-delay", 2*time.Second, "how long each outcome stays on screen")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve gate metrics on this address")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

type candidateFeed interface {
	Run(ctx context.Context) error
	Candidates() <-chan models.ScanCandidate
}

// runScan drives the session until the feed ends or ctx is cancelled.
func runScan(ctx context.Context, session *gate.Session, feed candidateFeed, printer *outcomePrinter, ackDelay time.Duration, metricsSrv *http.Server) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	// A feed blocked on stdin only returns on the next line, so it stays
	// outside the group.
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("camera feed stopped", "error", err)
		}
	}()
	g.Go(func() error {
		defer close(done)
		err := session.Run(ctx, feed.Candidates())
		session.Wait()
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			case <-printer.shown:
			}
			select {
			case <-done:
				return nil
			case <-time.After(ackDelay):
			}
			if err := session.Acknowledge(); err != nil {
				slog.Debug("auto acknowledge", "error", err)
			}
		}
	})
	if metricsSrv != nil {
		g.Go(func() error {
			slog.Info("gate metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// outcomePrinter prints one line per outcome and signals the ack loop.
type outcomePrinter struct {
	gate.NopObserver

	mu       sync.Mutex
	out      io.Writer
	admitted int
	denied   int
	shown    chan struct{}
}

func newOutcomePrinter(out io.Writer) *outcomePrinter {
	return &outcomePrinter{out: out, shown: make(chan struct{}, 1)}
}

func (p *outcomePrinter) OnOutcome(o models.Outcome) {
	p.mu.Lock()
	label := "DENIED"
	if models.IsAdmitted(o) {
		label = "ADMITTED"
		p.admitted++
	} else {
		p.denied++
	}
	fmt.Fprintf(p.out, "%s %-8s %s\n", time.Now().Format(time.TimeOnly), label, o.Summary())
	p.mu.Unlock()

	select {
	case p.shown <- struct{}{}:
	default:
	}
}

func (p *outcomePrinter) totals() (admitted, denied int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admitted, p.denied
}
