// Package retention deletes backups older than a configured age.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/services/storage"
	"github.com/rs/zerolog"
)

// ErrInvalidRetention is returned for a malformed retention duration string.
var ErrInvalidRetention = errors.New("invalid retention duration")

// unitSeconds maps duration units to their length in seconds. Month and year
// are fixed approximations (30 and 365 days), not calendar-aware.
var unitSeconds = map[string]int64{
	"s": 1, "sec": 1, "second": 1, "seconds": 1,
	"m": 60, "min": 60, "minute": 60, "minutes": 60,
	"h": 3600, "hour": 3600, "hours": 3600,
	"d": 86400, "day": 86400, "days": 86400,
	"w": 604800, "week": 604800, "weeks": 604800,
	"mon": 2592000, "month": 2592000, "months": 2592000,
	"y": 31536000, "year": 31536000, "years": 31536000,
}

// ParseDuration parses a human-readable duration string like "30s", "12h",
// "1d", "2w", "1mon" or "1y".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidRetention)
	}

	split := len(s)
	for i, c := range s {
		if c < '0' || c > '9' {
			split = i
			break
		}
	}
	numStr, unit := s[:split], s[split:]

	if numStr == "" {
		return 0, fmt.Errorf("%w: %q has no number", ErrInvalidRetention, s)
	}
	if unit == "" {
		return 0, fmt.Errorf("%w: %q has no unit (expected one of s, m, h, d, w, mon, y)", ErrInvalidRetention, s)
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidRetention, s, err)
	}

	secs, ok := unitSeconds[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q (expected one of s, m, h, d, w, mon, y)", ErrInvalidRetention, unit)
	}

	return time.Duration(num*secs) * time.Second, nil
}

// Service defines the retention engine interface.
type Service interface {
	Enforce(ctx context.Context, backend storage.Backend, spec string) (int, error)
}

// Impl implements the retention Service. Stateless; safe to invoke
// concurrently with an in-flight backup, since only items strictly older
// than the cutoff are deleted.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Enforce parses the retention spec and deletes matching backups from the
// backend, returning how many were removed.
func (s *Impl) Enforce(ctx context.Context, backend storage.Backend, spec string) (int, error) {
	cutoff, err := ParseDuration(spec)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("retention", spec).
		Str("location", backend.Location()).
		Msg("applying retention policy")

	deleted, err := backend.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("retention cleanup: %w", err)
	}

	s.logger.Info().Int("deleted", deleted).Msg("retention cleanup completed")
	return deleted, nil
}
