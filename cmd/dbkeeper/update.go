package main

import (
	"fmt"

	"github.com/dbkeeper/dbkeeper/internal/services/update"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer release",
	RunE:  checkUpdate,
}

func checkUpdate(cmd *cobra.Command, args []string) error {
	svc := update.New(log.Logger)

	result, err := svc.Check(cmd.Context(), Version)
	if err != nil {
		log.Error().Err(err).Msg("update check failed")
		return err
	}

	switch {
	case result.CurrentVersion == "dev":
		fmt.Println("Development build, skipping update check.")
	case result.UpdateAvailable:
		fmt.Printf("A newer release is available: %s (current: %s)\n", result.LatestVersion, result.CurrentVersion)
		if result.DownloadURL != "" {
			fmt.Printf("Download: %s\n", result.DownloadURL)
		}
	default:
		fmt.Printf("You are on the latest release (%s).\n", result.CurrentVersion)
	}

	return nil
}
