// Package models contains the data structures used throughout dbkeeper.
package models

// Config holds the complete configuration: global settings, the shared
// storage templates and the list of backup jobs.
type Config struct {
	Settings Settings
	Storages map[string]StorageTemplate // nil if no templates defined
	Backups  []Job
}

// Settings holds global, job-independent settings.
type Settings struct {
	// MaxConcurrent caps the number of backups running at the same time
	// across all scheduled jobs.
	MaxConcurrent int
	// RetentionAfterBackup runs retention cleanup for a job right after
	// each successful backup of that job. When false, retention only runs
	// via an explicit cleanup invocation.
	RetentionAfterBackup bool
	Binary               BinarySettings
}

// BinarySettings holds global overrides for the dump tool binaries.
// A job-level binary_path takes precedence over these.
type BinarySettings struct {
	PgDump    string
	MysqlDump string
}

// BinaryFor returns the configured global binary override for a driver,
// or empty if none is set.
func (b BinarySettings) BinaryFor(driver string) string {
	switch driver {
	case DriverPostgres:
		return b.PgDump
	case DriverMySQL:
		return b.MysqlDump
	}
	return ""
}
