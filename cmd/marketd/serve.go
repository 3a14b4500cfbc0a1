package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ThorbenD/dvp-market/api"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marketplace HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return api.Serve(ctx, api.APIConfig{APIEndpoint: cfg.Listen, ShutdownTimeout: shutdownTimeout}, api.Deps{
				Registry: a.registry,
				Book:     a.book,
				Engine:   a.engine,
				Checkout: a.checkout,
				Bus:      a.bus,
				Logger:   logger,
			})
		})
		if a.subscriber != nil {
			g.Go(func() error { return a.subscriber.Run(ctx) })
		}

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		logger.Info("[App] Shut down", "error", err)
		return err
	},
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "grace period for in-flight requests")
	rootCmd.AddCommand(serveCmd)
}
