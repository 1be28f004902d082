package main

import (
	"os/signal"
	"syscall"

	"github.com/dgallion1/rtfbridge/internal/app"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return a.Serve(ctx)
		},
	}
	cmd.Flags().StringP("port", "p", "", "port to listen on (overrides PORT)")
	return cmd
}
