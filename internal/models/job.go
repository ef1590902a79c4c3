package models

// Supported database drivers.
const (
	DriverPostgres = "postgresql"
	DriverMySQL    = "mysql"
)

// DumpMode selects how the dump tool produces its output.
type DumpMode string

// Dump modes.
const (
	// ModeBasic produces a single custom-format dump streamed through gzip.
	ModeBasic DumpMode = "basic"
	// ModeParallel produces a directory-format dump with parallel workers,
	// archived into a single tar.gz afterwards.
	ModeParallel DumpMode = "parallel"
)

// DefaultParallelJobs is the worker count used when a parallel-mode job
// does not configure one.
const DefaultParallelJobs = 2

// Job is one named backup configuration. Jobs are built once at startup and
// never mutated afterwards; they are passed by value so concurrent runs
// never share state.
type Job struct {
	Name       string
	Driver     string
	Connection Connection
	Schedule   *ScheduleConfig // nil when the job is one-shot only
	Storage    *StorageSelection
	Mode       DumpMode
	// ParallelJobs is the worker count for parallel mode.
	ParallelJobs int
	// BinaryPath overrides the dump tool binary for this job.
	BinaryPath string
	// Retention is a duration string like "30d" or "2w"; empty disables
	// retention cleanup for this job.
	Retention string
}

// Connection holds database connection parameters. The password is always
// handed to the dump tool through its environment, never on the command line.
type Connection struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// ScheduleConfig holds a job's cron schedule.
type ScheduleConfig struct {
	Cron string
}
