package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbkeeper/dbkeeper/internal/config"
	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/dbkeeper/dbkeeper/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var backupName string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run backups once and exit",
	Long: `Run the configured backups once. With --name only the matching
backup runs; otherwise all configured backups run in order. The first
failure aborts the batch.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&backupName, "name", "n", "", "run only the backup with this name")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	jobs := cfg.Backups
	if backupName != "" {
		jobs = nil
		for _, job := range cfg.Backups {
			if job.Name == backupName {
				jobs = append(jobs, job)
			}
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, *cfg)
	if err := runnerSvc.RunAll(ctx, jobs); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("all backups completed successfully")
	return nil
}

func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return nil, fmt.Errorf("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	log.Info().
		Str("config", configFile).
		Int("backups", len(cfg.Backups)).
		Int("storages", len(cfg.Storages)).
		Msg("configuration loaded")

	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}
