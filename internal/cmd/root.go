// Package cmd implements the s3console command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakefront/s3console/internal/config"
	"github.com/lakefront/s3console/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "s3console",
	Short: "Client-side console for S3-compatible storage",
	Long: `s3console browses and manages S3-compatible storage through a local
storage proxy or directly against the provider, with client-side caching,
rate-limit aware request pacing, and a synced action history.

Configuration is read from --config, S3CONSOLE_* environment variables,
and built-in defaults, in that order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgFile     string
	profileName string
	verbose     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Connection profile name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the effective configuration, honoring --verbose.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Logging)
}
