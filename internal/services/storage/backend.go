// Package storage provides storage resolution and the pluggable backends
// that receive finished backup artifacts.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/rs/zerolog"
)

// Backend delivers finished artifacts to their durable location and cleans
// up aged ones.
type Backend interface {
	// Deliver moves the artifact at artifactPath to its final location
	// under filename and returns a display string for that location.
	Deliver(ctx context.Context, artifactPath, filename string) (string, error)

	// CleanupOlderThan deletes artifacts strictly older than now-cutoff
	// and returns the number of successfully deleted items. Individual
	// deletion failures are logged and skipped.
	CleanupOlderThan(ctx context.Context, cutoff time.Duration) (int, error)

	// Location returns a display string for where this backend stores
	// artifacts.
	Location() string
}

// NewBackend creates the backend for a resolved storage configuration.
// For S3 this verifies bucket reachability and fails fast.
func NewBackend(ctx context.Context, logger zerolog.Logger, cfg models.ResolvedStorage) (Backend, error) {
	switch cfg.Driver {
	case models.StorageLocal:
		return NewLocal(logger, cfg)
	case models.StorageS3:
		return NewS3(ctx, logger, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
