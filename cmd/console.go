package cmd

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"gate-checkin/internal/console"
	"gate-checkin/internal/gate"
)

func newConsoleCmd() *cobra.Command {
	var flags gateFlags
	var feedPath string
	var eventID int64

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run the interactive operator console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			// The TUI owns the terminal, so logs go to a file.
			if !cmd.Flag("log-file").Changed {
				f, err := setupLogging(logOptions{
					level:  cmd.Flag("log-level").Value.String(),
					format: cmd.Flag("log-format").Value.String(),
					file:   filepath.Join(os.TempDir(), "gate-checkin-console.log"),
				}, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer f.Close()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client, err := newClient(cfg, func() {
				slog.Warn("operator token rejected, run gate-checkin login")
			})
			if err != nil {
				return err
			}

			obs := console.NewChannelObserver()
			scfg := sessionConfig(cfg)
			scfg.Observer = obs
			session := gate.NewSession(ctx, client, scfg)

			if eventID > 0 {
				if err := selectEvent(ctx, session, eventID); err != nil {
					return err
				}
			}

			if feedPath != "" {
				r, err := openFeed(feedPath)
				if err != nil {
					return err
				}
				defer r.Close()
				feed := newFeed(r)
				go func() {
					if err := feed.Run(ctx); err != nil {
						slog.Warn("camera feed stopped", "error", err)
					}
				}()
				go func() {
					_ = session.Run(ctx, feed.Candidates())
				}()
			}

			program := tea.NewProgram(
				console.NewModel(ctx, session, obs),
				tea.WithAltScreen(),
				tea.WithReportFocus(),
				tea.WithContext(ctx),
			)
			_, err = program.Run()
			stop()
			session.Wait()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&feedPath, "camera-feed", "", "JSON-lines barcode feed (file, FIFO, or - for stdin)")
	cmd.Flags().Int64Var(&eventID, "event", 0, "bind to this event at startup")
	return cmd
}
