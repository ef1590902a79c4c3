package retention

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	cleanupFunc func(ctx context.Context, cutoff time.Duration) (int, error)
	gotCutoff   time.Duration
}

func (m *mockBackend) Deliver(ctx context.Context, artifactPath, filename string) (string, error) {
	return "", nil
}

func (m *mockBackend) CleanupOlderThan(ctx context.Context, cutoff time.Duration) (int, error) {
	m.gotCutoff = cutoff
	if m.cleanupFunc != nil {
		return m.cleanupFunc(ctx, cutoff)
	}
	return 0, nil
}

func (m *mockBackend) Location() string {
	return "mock://"
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestParseDuration_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"1s", time.Second},
		{"5m", 5 * time.Minute},
		{"30min", 30 * time.Minute},
		{"1h", time.Hour},
		{"2hour", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"2day", 48 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"2weeks", 14 * 24 * time.Hour},
		{"1mon", 30 * 24 * time.Hour},
		{"2month", 60 * 24 * time.Hour},
		{"1y", 365 * 24 * time.Hour},
		{" 1d ", 24 * time.Hour},
		{"1D", 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"abc",
		"1",       // missing unit
		"d",       // missing number
		"1x",      // unknown unit
		"1.5d",    // fractional
		"-1d",     // negative
		"1 d",     // space between number and unit
		"1fortnight",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDuration(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRetention)
		})
	}
}

func TestEnforce_Success(t *testing.T) {
	backend := &mockBackend{
		cleanupFunc: func(ctx context.Context, cutoff time.Duration) (int, error) {
			return 3, nil
		},
	}

	svc := New(testLogger())
	deleted, err := svc.Enforce(context.Background(), backend, "7d")

	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, 7*24*time.Hour, backend.gotCutoff)
}

func TestEnforce_InvalidSpec(t *testing.T) {
	backend := &mockBackend{}

	svc := New(testLogger())
	_, err := svc.Enforce(context.Background(), backend, "soon")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRetention)
	assert.Zero(t, backend.gotCutoff, "backend must not be called for a malformed spec")
}

func TestEnforce_BackendError(t *testing.T) {
	backendErr := errors.New("listing failed")
	backend := &mockBackend{
		cleanupFunc: func(ctx context.Context, cutoff time.Duration) (int, error) {
			return 1, backendErr
		},
	}

	svc := New(testLogger())
	deleted, err := svc.Enforce(context.Background(), backend, "1d")

	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, 1, deleted, "partial count is still reported")
}
