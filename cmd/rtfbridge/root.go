package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dgallion1/rtfbridge/internal/app"
	"github.com/dgallion1/rtfbridge/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtfbridge",
		Short: "Convert documents between RTF and Markdown",
		Long: `rtfbridge converts RTF to Markdown and back, imports TXT, CSV, HTML, DOCX and PDF
files, and serves the same conversions over HTTP.

Configuration comes from RTFBRIDGE_CONFIG (YAML or TOML) and the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// batch reports and logs from many goroutines
			root := cmd.Root()
			root.SetOut(&lockedWriter{w: root.OutOrStdout()})
			root.SetErr(&lockedWriter{w: root.ErrOrStderr()})
		},
	}
	root.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	root.AddCommand(newConvertCmd(), newBatchCmd(), newServeCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, app.NewLogger(cmd.ErrOrStderr(), cfg.SlogLevel()), nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
