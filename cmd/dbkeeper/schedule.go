package main

import (
	"github.com/dbkeeper/dbkeeper/internal/services/runner"
	"github.com/dbkeeper/dbkeeper/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var maxConcurrent int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the continuous backup scheduler",
	Long: `Run backups on their cron schedules until interrupted. Each
scheduled backup gets its own timing loop; the number of backups running at
the same time is capped globally. A single backup's failure never stops the
scheduler or any other backup's loop.`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0,
		"max backups running at once (overrides settings.max_concurrent)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	limit := maxConcurrent
	if limit == 0 {
		limit = cfg.Settings.MaxConcurrent
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, *cfg)
	sched := scheduler.New(log.Logger, runnerSvc, cfg.Backups, limit)

	log.Info().Msg("press Ctrl+C to stop")
	if err := sched.Start(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler stopped with error")
		return err
	}

	log.Info().Msg("scheduler stopped")
	return nil
}
