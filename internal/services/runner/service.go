// Package runner executes one backup job end to end: resolve storage,
// produce the artifact in a private scratch directory, deliver it, clean up.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/dbkeeper/dbkeeper/internal/services/dump"
	"github.com/dbkeeper/dbkeeper/internal/services/retention"
	"github.com/dbkeeper/dbkeeper/internal/services/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackendFactory creates a storage backend for a resolved configuration.
type BackendFactory func(ctx context.Context, logger zerolog.Logger, cfg models.ResolvedStorage) (storage.Backend, error)

// Service defines the interface for the backup job executor.
type Service interface {
	// Run executes one job and returns the delivered location.
	Run(ctx context.Context, job models.Job) (string, error)
	// RunAll executes jobs sequentially, aborting on the first failure.
	RunAll(ctx context.Context, jobs []models.Job) error
}

// Impl implements the runner Service.
type Impl struct {
	dumpSvc      dump.Service
	retentionSvc retention.Service
	newBackend   BackendFactory
	templates    map[string]models.StorageTemplate
	settings     models.Settings
	logger       zerolog.Logger
	scratchBase  string
	now          func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger, cfg models.Config) *Impl {
	return &Impl{
		dumpSvc:      dump.New(logger),
		retentionSvc: retention.New(logger),
		newBackend:   storage.NewBackend,
		templates:    cfg.Storages,
		settings:     cfg.Settings,
		logger:       logger,
		scratchBase:  os.TempDir(),
		now:          time.Now,
	}
}

// NewWithServices creates a new runner service with custom collaborators
// (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.Config,
	dumpSvc dump.Service,
	retentionSvc retention.Service,
	newBackend BackendFactory,
	scratchBase string,
	now func() time.Time,
) *Impl {
	return &Impl{
		dumpSvc:      dumpSvc,
		retentionSvc: retentionSvc,
		newBackend:   newBackend,
		templates:    cfg.Storages,
		settings:     cfg.Settings,
		logger:       logger,
		scratchBase:  scratchBase,
		now:          now,
	}
}

// Run executes the job: resolve storage, dump into a fresh scratch
// directory, deliver the artifact, then remove the scratch directory no
// matter what happened.
func (s *Impl) Run(ctx context.Context, job models.Job) (string, error) {
	logger := s.logger.With().Str("job", job.Name).Logger()

	resolved, err := storage.Resolve(job, s.templates)
	if err != nil {
		return "", err
	}

	backend, err := s.newBackend(ctx, logger, resolved)
	if err != nil {
		return "", fmt.Errorf("initializing storage: %w", err)
	}

	// Each run gets its own scratch directory so concurrent runs never
	// share state.
	scratchDir := filepath.Join(s.scratchBase, "dbkeeper-"+uuid.NewString())
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			logger.Warn().Err(err).Str("dir", scratchDir).Msg("failed to remove scratch directory")
		}
	}()

	binary := job.BinaryPath
	if binary == "" {
		binary = s.settings.Binary.BinaryFor(job.Driver)
	}

	result, err := s.dumpSvc.Dump(ctx, job.Connection, dump.Options{
		Driver:         job.Driver,
		Mode:           job.Mode,
		ScratchDir:     scratchDir,
		FilenamePrefix: resolved.FilenamePrefix,
		Timestamp:      s.now(),
		ParallelJobs:   job.ParallelJobs,
		BinaryPath:     binary,
	})
	if err != nil {
		return "", fmt.Errorf("dump failed: %w", err)
	}

	location, err := backend.Deliver(ctx, result.ArtifactPath, result.Filename)
	if err != nil {
		return "", fmt.Errorf("delivery failed: %w", err)
	}

	logger.Info().Str("location", location).Msg("backup completed")

	if job.Retention != "" && s.settings.RetentionAfterBackup {
		if _, err := s.retentionSvc.Enforce(ctx, backend, job.Retention); err != nil {
			// Retention failure does not undo a delivered backup.
			logger.Error().Err(err).Msg("retention cleanup failed")
		}
	}

	return location, nil
}

// RunAll executes the given jobs one after another. The first failure aborts
// the whole batch, matching one-shot invocation semantics.
func (s *Impl) RunAll(ctx context.Context, jobs []models.Job) error {
	if len(jobs) == 0 {
		return fmt.Errorf("no backups configured or matching the selection")
	}

	for _, job := range jobs {
		if err := dump.ValidateConnection(job.Connection); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}

		location, err := s.Run(ctx, job)
		if err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
		s.logger.Info().Str("job", job.Name).Str("location", location).Msg("job completed")
	}

	return nil
}
