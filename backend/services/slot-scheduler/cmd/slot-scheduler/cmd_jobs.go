package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chargeslots/backend/services/slot-scheduler/internal/app"
	"chargeslots/backend/services/slot-scheduler/internal/jobs"
)

var runJobName string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one job now and print its report",
	Long:  "Run one job (" + strings.Join([]string{jobs.NameGenerator, jobs.NameBackfill, jobs.NameExpiration, jobs.NameReconciler}, ", ") + ") once and exit.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, runJobName)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Generate every missing day of the horizon and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnce(cmd, jobs.NameBackfill)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		return app.Migrate(cmd.Context(), cfg, logger)
	},
}

func init() {
	runCmd.Flags().StringVar(&runJobName, "job", "", "job name")
	_ = runCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(runCmd, backfillCmd, migrateCmd)
}

func runOnce(cmd *cobra.Command, name string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	report, runErr := application.RunJob(ctx, name)
	if report.Job != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", name, runErr)
	}
	return nil
}
