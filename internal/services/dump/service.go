// Package dump produces compressed database dump artifacts by driving the
// external dump tools (pg_dump, mysqldump).
package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// TimestampFormat is the layout for artifact filename timestamps, rendered
// in local time.
const TimestampFormat = "20060102_150405"

// Artifact filename suffixes per mode.
const (
	SuffixBasic    = ".dump.gz"
	SuffixParallel = ".dir.tar.gz"
)

// stderrLimit caps the diagnostic excerpt kept from a failed dump tool.
const stderrLimit = 4096

// ProducerError reports a dump tool that exited non-zero, carrying its
// captured diagnostic output.
type ProducerError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ProducerError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

// Options controls a single dump run.
type Options struct {
	Driver string
	Mode   models.DumpMode
	// ScratchDir is the private directory the artifact is produced in.
	ScratchDir string
	// FilenamePrefix is prepended to the artifact filename.
	FilenamePrefix string
	// Timestamp is rendered into the artifact filename in local time.
	Timestamp time.Time
	// ParallelJobs is the worker count for parallel mode.
	ParallelJobs int
	// BinaryPath overrides the dump tool binary; empty means resolution
	// via PATH.
	BinaryPath string
}

// Result describes a produced artifact.
type Result struct {
	// ArtifactPath is the artifact's location inside the scratch directory.
	ArtifactPath string
	// Filename is the target filename for delivery.
	Filename  string
	SizeBytes int64
	Duration  time.Duration
}

// Service defines the dump pipeline interface.
type Service interface {
	Dump(ctx context.Context, conn models.Connection, opts Options) (*Result, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// RunStream starts the named tool and copies its stdout into out.
	// Credentials travel in env, never in args.
	RunStream(ctx context.Context, env []string, out io.Writer, name string, args ...string) error
	// Run starts the named tool without consuming its stdout (used for
	// directory-format dumps that write files themselves).
	Run(ctx context.Context, env []string, name string, args ...string) error
}

// Impl implements the dump Service.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new dump service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new dump service with a custom executor
// (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// ValidateConnection checks that the parameters required to reach the
// database are present.
func ValidateConnection(conn models.Connection) error {
	if conn.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if conn.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if conn.Username == "" {
		return fmt.Errorf("database username cannot be empty")
	}
	return nil
}

// Dump runs the dump tool in the selected mode and yields a single artifact
// inside opts.ScratchDir.
func (s *Impl) Dump(ctx context.Context, conn models.Connection, opts Options) (*Result, error) {
	start := time.Now()

	mode := opts.Mode
	if mode == models.ModeParallel && opts.Driver != models.DriverPostgres {
		s.logger.Warn().
			Str("driver", opts.Driver).
			Msg("parallel mode is only supported for postgresql, falling back to basic")
		mode = models.ModeBasic
	}

	var (
		result *Result
		err    error
	)
	switch mode {
	case models.ModeParallel:
		result, err = s.dumpParallel(ctx, conn, opts)
	default:
		result, err = s.dumpBasic(ctx, conn, opts)
	}
	if err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(result.ArtifactPath); statErr == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("artifact", result.ArtifactPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("dump completed")

	return result, nil
}

func (s *Impl) dumpBasic(ctx context.Context, conn models.Connection, opts Options) (*Result, error) {
	filename := opts.FilenamePrefix + opts.Timestamp.Local().Format(TimestampFormat) + SuffixBasic
	artifactPath := filepath.Join(opts.ScratchDir, filename)

	binary, args, env, err := producerInvocation(conn, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tool", binary).
		Str("database", conn.Database).
		Str("artifact", artifactPath).
		Msg("starting single-file dump")

	out, err := os.Create(artifactPath) //nolint:gosec // path is within our scratch directory
	if err != nil {
		return nil, fmt.Errorf("creating artifact file: %w", err)
	}

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(artifactPath)
		return nil, fmt.Errorf("creating gzip encoder: %w", err)
	}

	if runErr := s.executor.RunStream(ctx, env, gz, binary, args...); runErr != nil {
		_ = gz.Close()
		_ = out.Close()
		_ = os.Remove(artifactPath)
		return nil, runErr
	}

	if err := gz.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(artifactPath)
		return nil, fmt.Errorf("finalizing gzip stream: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(artifactPath)
		return nil, fmt.Errorf("closing artifact file: %w", err)
	}

	return &Result{ArtifactPath: artifactPath, Filename: filename}, nil
}

func (s *Impl) dumpParallel(ctx context.Context, conn models.Connection, opts Options) (*Result, error) {
	basename := opts.FilenamePrefix + opts.Timestamp.Local().Format(TimestampFormat)
	dumpDir := filepath.Join(opts.ScratchDir, basename)

	if err := os.MkdirAll(dumpDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}
	defer func() {
		// Best effort: a cleanup failure must not mask the dump result.
		if err := os.RemoveAll(dumpDir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dumpDir).Msg("failed to remove intermediate dump directory")
		}
	}()

	jobs := opts.ParallelJobs
	if jobs < 1 {
		jobs = models.DefaultParallelJobs
	}

	binary := opts.BinaryPath
	if binary == "" {
		binary = "pg_dump"
	}

	args := []string{
		"--host", conn.Host,
		"--port", fmt.Sprintf("%d", conn.Port),
		"--username", conn.Username,
		"--dbname", conn.Database,
		"-Fd",
		"-j", fmt.Sprintf("%d", jobs),
		"-f", dumpDir,
		"--no-owner",
	}
	env := []string{"PGPASSWORD=" + conn.Password}

	s.logger.Info().
		Str("tool", binary).
		Str("database", conn.Database).
		Int("jobs", jobs).
		Msg("starting directory-format dump")

	if err := s.executor.Run(ctx, env, binary, args...); err != nil {
		return nil, err
	}

	filename := basename + SuffixParallel
	artifactPath := filepath.Join(opts.ScratchDir, filename)
	if err := archiveDir(dumpDir, artifactPath); err != nil {
		_ = os.Remove(artifactPath)
		return nil, fmt.Errorf("archiving dump directory: %w", err)
	}

	return &Result{ArtifactPath: artifactPath, Filename: filename}, nil
}

// producerInvocation builds the binary, argument list and environment for a
// single-file dump of the given driver.
func producerInvocation(conn models.Connection, opts Options) (string, []string, []string, error) {
	switch opts.Driver {
	case models.DriverPostgres:
		binary := opts.BinaryPath
		if binary == "" {
			binary = "pg_dump"
		}
		args := []string{
			"--host", conn.Host,
			"--port", fmt.Sprintf("%d", conn.Port),
			"--username", conn.Username,
			"--dbname", conn.Database,
			"-Fc",
			"--compress=9",
			"--no-owner",
		}
		return binary, args, []string{"PGPASSWORD=" + conn.Password}, nil

	case models.DriverMySQL:
		binary := opts.BinaryPath
		if binary == "" {
			binary = "mysqldump"
		}
		args := []string{
			"--host", conn.Host,
			"--port", fmt.Sprintf("%d", conn.Port),
			"--user", conn.Username,
			"--single-transaction",
			"--routines",
			"--triggers",
			conn.Database,
		}
		return binary, args, []string{"MYSQL_PWD=" + conn.Password}, nil

	default:
		return "", nil, nil, fmt.Errorf("unsupported database driver: %q", opts.Driver)
	}
}
