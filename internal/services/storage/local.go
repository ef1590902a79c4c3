package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/rs/zerolog"
)

// LocalBackend stores artifacts in a directory on the local filesystem.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewLocal creates a local filesystem backend, creating the base directory
// if needed.
func NewLocal(logger zerolog.Logger, cfg models.ResolvedStorage) (*LocalBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local storage requires a path")
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalBackend{
		basePath: cfg.Path,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Deliver moves the artifact into the base directory. Rename is tried first;
// if it fails (e.g. scratch and base live on different filesystems), the
// artifact is copied and the source removed.
func (b *LocalBackend) Deliver(_ context.Context, artifactPath, filename string) (string, error) {
	finalPath := filepath.Join(b.basePath, filename)

	if err := os.Rename(artifactPath, finalPath); err != nil {
		b.logger.Debug().Err(err).Msg("rename failed, falling back to copy")
		if copyErr := copyFile(artifactPath, finalPath); copyErr != nil {
			return "", fmt.Errorf("delivering %s: %w", filename, copyErr)
		}
		if rmErr := os.Remove(artifactPath); rmErr != nil {
			b.logger.Warn().Err(rmErr).Str("path", artifactPath).Msg("failed to remove artifact after copy")
		}
	}

	abs, err := filepath.Abs(finalPath)
	if err != nil {
		abs = finalPath
	}

	b.logger.Info().Str("location", abs).Msg("backup delivered to local storage")
	return abs, nil
}

// CleanupOlderThan deletes direct children of the base directory whose
// modification time is strictly older than now-cutoff. Subdirectories are
// skipped, as are files that fail to delete.
func (b *LocalBackend) CleanupOlderThan(_ context.Context, cutoff time.Duration) (int, error) {
	entries, err := os.ReadDir(b.basePath)
	if err != nil {
		return 0, fmt.Errorf("reading storage directory: %w", err)
	}

	cutoffTime := b.now().Add(-cutoff)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			b.logger.Warn().Err(err).Str("name", entry.Name()).Msg("failed to stat entry, skipping")
			continue
		}
		if !info.ModTime().Before(cutoffTime) {
			continue
		}

		path := filepath.Join(b.basePath, entry.Name())
		if err := os.Remove(path); err != nil {
			b.logger.Warn().Err(err).Str("path", path).Msg("failed to delete old backup")
			continue
		}

		b.logger.Info().Str("path", path).Msg("deleted old backup")
		deleted++
	}

	return deleted, nil
}

// Location returns the base directory.
func (b *LocalBackend) Location() string {
	return b.basePath
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // path is produced by the dump pipeline
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) //nolint:gosec // path is within the storage dir
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}

	return out.Close()
}
