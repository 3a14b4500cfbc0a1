package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ThorbenD/dvp-market/config"
)

var (
	// Global flags
	configPath string
	listenAddr string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "marketd - dynamic asset registry and marketplace",
	Long: `marketd runs an asset registry with evolving on-chain-style traits and a
fixed-price marketplace that settles sales atomically: the asset moves to the
buyer and the price is split between seller and platform in one step.

Payments can be made directly, or through Lightning hold invoices when an lnd
node is configured. Balances are paid out as Taproot Assets through tapd.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "override the HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig applies the config file and flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel)))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
