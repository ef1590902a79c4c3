// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/dbkeeper/dbkeeper/internal/services/retention"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// YAML-shaped intermediate structs. The models stay free of parsing tags.

type storageYAML struct {
	Driver          string `mapstructure:"driver"`
	Path            string `mapstructure:"path"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	FilenamePrefix  string `mapstructure:"filename_prefix"`
}

type selectionYAML struct {
	Ref string `mapstructure:"ref"`
	// Inline fields and reference overrides share the same keys; Ref
	// decides how they are interpreted.
	storageYAML `mapstructure:",squash"`
}

type connectionYAML struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type scheduleYAML struct {
	Cron string `mapstructure:"cron"`
}

type jobYAML struct {
	Name         string         `mapstructure:"name"`
	Driver       string         `mapstructure:"driver"`
	Connection   connectionYAML `mapstructure:"connection"`
	Schedule     *scheduleYAML  `mapstructure:"schedule"`
	Storage      *selectionYAML `mapstructure:"storage"`
	Mode         string         `mapstructure:"mode"`
	ParallelJobs int            `mapstructure:"parallel_jobs"`
	BinaryPath   string         `mapstructure:"binary_path"`
	Retention    string         `mapstructure:"retention"`
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Global settings.
	cfg.Settings = models.Settings{
		MaxConcurrent:        p.v.GetInt("settings.max_concurrent"),
		RetentionAfterBackup: true,
		Binary: models.BinarySettings{
			PgDump:    p.expandEnv(p.v.GetString("settings.binary.pg_dump")),
			MysqlDump: p.expandEnv(p.v.GetString("settings.binary.mysqldump")),
		},
	}
	if p.v.IsSet("settings.retention_after_backup") {
		cfg.Settings.RetentionAfterBackup = p.v.GetBool("settings.retention_after_backup")
	}

	// Shared storage templates.
	if p.v.IsSet("storages") {
		var raw map[string]storageYAML
		if err := p.v.UnmarshalKey("storages", &raw); err != nil {
			return nil, fmt.Errorf("parsing storages: %w", err)
		}
		cfg.Storages = make(map[string]models.StorageTemplate, len(raw))
		for name, st := range raw {
			tmpl, err := p.toTemplate(st)
			if err != nil {
				return nil, fmt.Errorf("storage %q: %w", name, err)
			}
			cfg.Storages[name] = tmpl
		}
	}

	// Backup jobs.
	var rawJobs []jobYAML
	if err := p.v.UnmarshalKey("backups", &rawJobs); err != nil {
		return nil, fmt.Errorf("parsing backups: %w", err)
	}
	if len(rawJobs) == 0 {
		return nil, fmt.Errorf("at least one backup must be configured")
	}

	seen := make(map[string]bool, len(rawJobs))
	for i, rj := range rawJobs {
		job, err := p.toJob(rj)
		if err != nil {
			return nil, fmt.Errorf("backup %d (%s): %w", i, rj.Name, err)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("duplicate backup name: %q", job.Name)
		}
		seen[job.Name] = true
		cfg.Backups = append(cfg.Backups, job)
	}

	return cfg, nil
}

func (p *Parser) toTemplate(st storageYAML) (models.StorageTemplate, error) {
	tmpl := models.StorageTemplate{
		Driver:          strings.ToLower(st.Driver),
		Path:            p.expandEnv(st.Path),
		Bucket:          st.Bucket,
		Region:          st.Region,
		Prefix:          st.Prefix,
		Endpoint:        st.Endpoint,
		AccessKeyID:     p.expandEnv(st.AccessKeyID),
		SecretAccessKey: p.expandEnv(st.SecretAccessKey),
		FilenamePrefix:  st.FilenamePrefix,
	}

	switch tmpl.Driver {
	case models.StorageLocal:
		if tmpl.Path == "" {
			return tmpl, fmt.Errorf("local storage requires path")
		}
	case models.StorageS3:
		if tmpl.Bucket == "" {
			return tmpl, fmt.Errorf("s3 storage requires bucket")
		}
		if tmpl.Region == "" {
			return tmpl, fmt.Errorf("s3 storage requires region")
		}
	default:
		return tmpl, fmt.Errorf("storage driver must be one of: local, s3")
	}

	return tmpl, nil
}

//nolint:gocognit // job parsing checks many fields
func (p *Parser) toJob(rj jobYAML) (models.Job, error) {
	job := models.Job{
		Name:   rj.Name,
		Driver: strings.ToLower(rj.Driver),
		Connection: models.Connection{
			Host:     rj.Connection.Host,
			Port:     rj.Connection.Port,
			Username: rj.Connection.Username,
			Password: p.expandEnv(rj.Connection.Password),
			Database: rj.Connection.Database,
		},
		Mode:         models.DumpMode(strings.ToLower(rj.Mode)),
		ParallelJobs: rj.ParallelJobs,
		BinaryPath:   p.expandEnv(rj.BinaryPath),
		Retention:    rj.Retention,
	}

	if job.Name == "" {
		return job, fmt.Errorf("name is required")
	}

	switch job.Driver {
	case models.DriverPostgres, models.DriverMySQL:
	case "":
		return job, fmt.Errorf("driver is required")
	default:
		return job, fmt.Errorf("driver must be one of: %s, %s", models.DriverPostgres, models.DriverMySQL)
	}

	// Connection defaults.
	if job.Connection.Host == "" {
		job.Connection.Host = "localhost"
	}
	if job.Connection.Port == 0 {
		if job.Driver == models.DriverMySQL {
			job.Connection.Port = 3306
		} else {
			job.Connection.Port = 5432
		}
	}
	if job.Connection.Database == "" {
		return job, fmt.Errorf("connection.database is required")
	}
	if job.Connection.Username == "" {
		return job, fmt.Errorf("connection.username is required")
	}

	// Mode defaults and validation.
	switch job.Mode {
	case "":
		job.Mode = models.ModeBasic
	case models.ModeBasic, models.ModeParallel:
	default:
		return job, fmt.Errorf("mode must be one of: basic, parallel")
	}
	if job.ParallelJobs < 0 {
		return job, fmt.Errorf("parallel_jobs must be positive")
	}
	if job.ParallelJobs == 0 {
		job.ParallelJobs = models.DefaultParallelJobs
	}

	// Schedule: validated here so a bad expression fails at load, not at
	// the first fire time.
	if rj.Schedule != nil {
		if rj.Schedule.Cron == "" {
			return job, fmt.Errorf("schedule.cron is required when schedule is configured")
		}
		if _, err := cron.ParseStandard(rj.Schedule.Cron); err != nil {
			return job, fmt.Errorf("invalid cron expression %q: %w", rj.Schedule.Cron, err)
		}
		job.Schedule = &models.ScheduleConfig{Cron: rj.Schedule.Cron}
	}

	// Retention.
	if rj.Retention != "" {
		if _, err := retention.ParseDuration(rj.Retention); err != nil {
			return job, err
		}
	}

	// Storage selection: inline xor reference.
	if rj.Storage == nil {
		return job, fmt.Errorf("storage is required")
	}
	if rj.Storage.Ref != "" {
		if rj.Storage.Driver != "" {
			return job, fmt.Errorf("storage cannot be both a reference and inline")
		}
		job.Storage = &models.StorageSelection{
			Ref:            rj.Storage.Ref,
			Prefix:         rj.Storage.Prefix,
			FilenamePrefix: rj.Storage.FilenamePrefix,
		}
	} else {
		tmpl, err := p.toTemplate(rj.Storage.storageYAML)
		if err != nil {
			return job, fmt.Errorf("storage: %w", err)
		}
		job.Storage = &models.StorageSelection{Inline: &tmpl}
	}

	return job, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if len(cfg.Backups) == 0 {
		return fmt.Errorf("at least one backup must be configured")
	}

	for _, job := range cfg.Backups {
		if job.Storage == nil {
			return fmt.Errorf("backup %q has no storage configuration", job.Name)
		}
		if job.Storage.Ref != "" {
			if len(cfg.Storages) == 0 {
				return fmt.Errorf("backup %q references storage %q but no storages are defined", job.Name, job.Storage.Ref)
			}
			if _, ok := cfg.Storages[job.Storage.Ref]; !ok {
				return fmt.Errorf("backup %q references unknown storage %q", job.Name, job.Storage.Ref)
			}
		}
	}

	return nil
}
