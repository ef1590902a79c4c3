package main

import (
	"fmt"
	"os"

	"github.com/dbkeeper/dbkeeper/internal/config"
	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Settings:")
	fmt.Printf("  Max concurrent: %d\n", cfg.Settings.MaxConcurrent)
	fmt.Printf("  Retention after backup: %v\n", cfg.Settings.RetentionAfterBackup)

	if len(cfg.Storages) > 0 {
		fmt.Println()
		fmt.Println("Storage templates:")
		for name, tmpl := range cfg.Storages {
			switch tmpl.Driver {
			case models.StorageLocal:
				fmt.Printf("  %s: local path=%s\n", name, tmpl.Path)
			case models.StorageS3:
				fmt.Printf("  %s: s3 bucket=%s region=%s prefix=%s\n", name, tmpl.Bucket, tmpl.Region, tmpl.Prefix)
			}
		}
	}

	fmt.Println()
	fmt.Printf("Backups (%d):\n", len(cfg.Backups))
	for _, job := range cfg.Backups {
		fmt.Printf("  %s:\n", job.Name)
		fmt.Printf("    Driver: %s\n", job.Driver)
		fmt.Printf("    Database: %s@%s:%d/%s\n", job.Connection.Username, job.Connection.Host, job.Connection.Port, job.Connection.Database)
		fmt.Printf("    Mode: %s", job.Mode)
		if job.Mode == models.ModeParallel {
			fmt.Printf(" (%d jobs)", job.ParallelJobs)
		}
		fmt.Println()
		if job.Schedule != nil {
			fmt.Printf("    Schedule: %s\n", job.Schedule.Cron)
		} else {
			fmt.Printf("    Schedule: (one-shot only)\n")
		}
		if job.Storage.Ref != "" {
			fmt.Printf("    Storage: ref %s\n", job.Storage.Ref)
		} else if job.Storage.Inline != nil {
			fmt.Printf("    Storage: inline %s\n", job.Storage.Inline.Driver)
		}
		if job.Retention != "" {
			fmt.Printf("    Retention: %s\n", job.Retention)
		}
	}

	return nil
}
