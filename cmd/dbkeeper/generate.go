package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var generateOutput string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a sample configuration file",
	RunE:  generateConfig,
}

func init() {
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "backup.yml", "output path for the configuration file")
}

const sampleConfig = `# dbkeeper configuration
settings:
  max_concurrent: 2
  # retention_after_backup: true
  # binary:
  #   pg_dump: /usr/lib/postgresql/16/bin/pg_dump

storages:
  local_main:
    driver: local
    path: /var/backups/databases
    filename_prefix: db_
  s3_main:
    driver: s3
    bucket: my-backups
    region: us-east-1
    prefix: databases/
    # endpoint: https://minio.internal:9000
    # access_key_id: ${AWS_ACCESS_KEY_ID}
    # secret_access_key: ${AWS_SECRET_ACCESS_KEY}

backups:
  - name: production-db
    driver: postgresql
    connection:
      host: localhost
      port: 5432
      username: postgres
      password: ${PROD_DB_PASSWORD}
      database: production_db
    schedule:
      cron: "0 2 * * *"  # Daily at 2 AM
    mode: parallel
    parallel_jobs: 4
    retention: 30d
    storage:
      ref: s3_main
      prefix: databases/production/
      filename_prefix: prod_

  - name: dev-db
    driver: postgresql
    connection:
      host: localhost
      port: 5432
      username: postgres
      password: ${DEV_DB_PASSWORD}
      database: dev_db
    storage:
      driver: local
      path: /var/backups/databases/dev
      filename_prefix: dev_
`

func generateConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(generateOutput); err == nil {
		return fmt.Errorf("refusing to overwrite existing file: %s", generateOutput)
	}

	if err := os.WriteFile(generateOutput, []byte(sampleConfig), 0o600); err != nil {
		log.Error().Err(err).Str("file", generateOutput).Msg("failed to write sample configuration")
		return err
	}

	log.Info().Str("file", generateOutput).Msg("sample configuration generated")
	fmt.Println("Edit this file with your database credentials and storage locations.")
	return nil
}
