// Package cmd holds the gate-checkin command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type logOptions struct {
	level  string
	format string
	file   string
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	var opts logOptions
	var logFile *os.File

	root := &cobra.Command{
		Use:           "gate-checkin",
		Short:         "Gate-side ticket check-in",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			f, err := setupLogging(opts, cmd.ErrOrStderr())
			logFile = f
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logFile != nil {
				_ = logFile.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.level, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.format, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&opts.file, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		newServeCmd(),
		newLoginCmd(),
		newEventsCmd(),
		newConsoleCmd(),
		newScanCmd(),
	)
	return root
}

func setupLogging(opts logOptions, stderr io.Writer) (*os.File, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", opts.level)
	}

	out := stderr
	var file *os.File
	if opts.file != "" {
		f, err := os.OpenFile(opts.file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, file = f, f
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("invalid --log-format %q", opts.format)
	}
	slog.SetDefault(slog.New(handler))
	return file, nil
}
