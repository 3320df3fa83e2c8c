// Command portalctl works on a portal profile from the terminal: backups,
// submission, print export and the stored identity.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"portal/internal/app"
	"portal/internal/config"
	"portal/internal/logging"
)

var (
	profile string
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Manage a student portal profile",
	Long: `portalctl reads and writes the same store as the portal server.

Configuration comes from the environment (PORTAL_*, REDIS_URL, DATABASE_URL,
MINIO_*) and an optional .env file. With the memory store every run starts
empty, so use the redis or postgres backend to share data with the server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Profile name (default: PORTAL_PROFILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(printCmd)
	rootCmd.AddCommand(identityCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withService opens the configured profile, runs fn and closes the service.
func withService(cmd *cobra.Command, fn func(ctx context.Context, service *app.Service) error) error {
	cfg := config.Load()
	if profile != "" {
		cfg.Profile = profile
	}
	log := logging.Nop()
	if verbose {
		devLog, err := logging.New("dev")
		if err != nil {
			return err
		}
		defer devLog.Sync()
		log = devLog
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	service, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	service.Init(ctx)
	runErr := fn(ctx, service)
	if closeErr := service.Close(); closeErr != nil && runErr == nil {
		runErr = fmt.Errorf("close: %w", closeErr)
	}
	return runErr
}
