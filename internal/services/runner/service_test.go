package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbkeeper/dbkeeper/internal/models"
	"github.com/dbkeeper/dbkeeper/internal/services/dump"
	"github.com/dbkeeper/dbkeeper/internal/services/storage"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	payload string
	fail    error
}

func (s *stubExecutor) RunStream(ctx context.Context, env []string, out io.Writer, name string, args ...string) error {
	if s.fail != nil {
		return s.fail
	}
	_, err := out.Write([]byte(s.payload))
	return err
}

func (s *stubExecutor) Run(ctx context.Context, env []string, name string, args ...string) error {
	return s.fail
}

type mockRetention struct {
	enforced []string
}

func (m *mockRetention) Enforce(ctx context.Context, backend storage.Backend, spec string) (int, error) {
	m.enforced = append(m.enforced, spec)
	return 0, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func fixedNow() time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
}

func localJob(name, base string) models.Job {
	return models.Job{
		Name:   name,
		Driver: models.DriverPostgres,
		Connection: models.Connection{
			Host:     "localhost",
			Port:     5432,
			Username: "postgres",
			Password: "secret",
			Database: "testdb",
		},
		Mode:         models.ModeBasic,
		ParallelJobs: 2,
		Storage: &models.StorageSelection{
			Inline: &models.StorageTemplate{
				Driver:         models.StorageLocal,
				Path:           base,
				FilenamePrefix: "bk_",
			},
		},
	}
}

// newTestRunner builds a runner with a stub dump producer and real local
// storage, isolating the scratch area in its own temp dir so leftover
// detection is exact.
func newTestRunner(t *testing.T, executor dump.CommandExecutor, cfg models.Config) (*Impl, string, *mockRetention) {
	t.Helper()
	scratchBase := t.TempDir()
	retentionSvc := &mockRetention{}
	svc := NewWithServices(
		testLogger(),
		cfg,
		dump.NewWithExecutor(testLogger(), executor),
		retentionSvc,
		storage.NewBackend,
		scratchBase,
		fixedNow,
	)
	return svc, scratchBase, retentionSvc
}

func TestRun_BasicLocalEndToEnd(t *testing.T) {
	base := t.TempDir()
	job := localJob("nightly-pg", base)
	svc, scratchBase, _ := newTestRunner(t, &stubExecutor{payload: "SELECTDATA"}, models.Config{})

	location, err := svc.Run(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "bk_20240102_030405.dump.gz"), location)

	// Decompressed content round-trips.
	f, err := os.Open(location)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SELECTDATA", string(content))

	// No leftover scratch directory.
	entries, err := os.ReadDir(scratchBase)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ResolutionErrorAbortsEarly(t *testing.T) {
	job := localJob("broken", t.TempDir())
	job.Storage = &models.StorageSelection{Ref: "missing"}
	svc, scratchBase, _ := newTestRunner(t, &stubExecutor{payload: "x"}, models.Config{})

	_, err := svc.Run(context.Background(), job)

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNoTemplatesDefined)

	entries, readErr := os.ReadDir(scratchBase)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "resolution failure must not touch the filesystem")
}

func TestRun_ReferenceStorageWithOverride(t *testing.T) {
	base := t.TempDir()
	cfg := models.Config{
		Storages: map[string]models.StorageTemplate{
			"local_main": {
				Driver:         models.StorageLocal,
				Path:           base,
				FilenamePrefix: "db_",
			},
		},
	}
	job := localJob("ref-job", base)
	job.Storage = &models.StorageSelection{Ref: "local_main", FilenamePrefix: "x_"}

	svc, _, _ := newTestRunner(t, &stubExecutor{payload: "data"}, cfg)

	location, err := svc.Run(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "x_20240102_030405.dump.gz"), location)
}

func TestRun_DumpFailureLeavesNothingBehind(t *testing.T) {
	base := t.TempDir()
	job := localJob("failing", base)
	producerErr := &dump.ProducerError{Tool: "pg_dump", ExitCode: 1, Stderr: "no such database"}
	svc, scratchBase, _ := newTestRunner(t, &stubExecutor{fail: producerErr}, models.Config{})

	_, err := svc.Run(context.Background(), job)

	require.Error(t, err)
	var pErr *dump.ProducerError
	assert.ErrorAs(t, err, &pErr)

	// Nothing delivered, no scratch left behind.
	delivered, readErr := os.ReadDir(base)
	require.NoError(t, readErr)
	assert.Empty(t, delivered)

	scratch, readErr := os.ReadDir(scratchBase)
	require.NoError(t, readErr)
	assert.Empty(t, scratch)
}

func TestRun_RetentionAfterSuccessfulBackup(t *testing.T) {
	base := t.TempDir()
	job := localJob("with-retention", base)
	job.Retention = "7d"
	cfg := models.Config{Settings: models.Settings{RetentionAfterBackup: true}}

	svc, _, retentionSvc := newTestRunner(t, &stubExecutor{payload: "data"}, cfg)

	_, err := svc.Run(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, []string{"7d"}, retentionSvc.enforced)
}

func TestRun_RetentionDisabled(t *testing.T) {
	base := t.TempDir()
	job := localJob("no-auto-retention", base)
	job.Retention = "7d"
	cfg := models.Config{Settings: models.Settings{RetentionAfterBackup: false}}

	svc, _, retentionSvc := newTestRunner(t, &stubExecutor{payload: "data"}, cfg)

	_, err := svc.Run(context.Background(), job)

	require.NoError(t, err)
	assert.Empty(t, retentionSvc.enforced)
}

func TestRun_RetentionSkippedAfterFailure(t *testing.T) {
	base := t.TempDir()
	job := localJob("failing", base)
	job.Retention = "7d"
	cfg := models.Config{Settings: models.Settings{RetentionAfterBackup: true}}

	svc, _, retentionSvc := newTestRunner(t, &stubExecutor{fail: &dump.ProducerError{Tool: "pg_dump", ExitCode: 1}}, cfg)

	_, err := svc.Run(context.Background(), job)

	require.Error(t, err)
	assert.Empty(t, retentionSvc.enforced, "retention must not run after a failed backup")
}

func TestRunAll_AbortsOnFirstFailure(t *testing.T) {
	base := t.TempDir()
	good := localJob("good", base)
	invalid := localJob("invalid", base)
	invalid.Connection.Host = ""
	neverRuns := localJob("never-runs", base)

	svc, _, _ := newTestRunner(t, &stubExecutor{payload: "data"}, models.Config{})

	err := svc.RunAll(context.Background(), []models.Job{good, invalid, neverRuns})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `job "invalid"`)

	// Only the first job delivered anything.
	delivered, readErr := os.ReadDir(base)
	require.NoError(t, readErr)
	assert.Len(t, delivered, 1)
}

func TestRunAll_NoJobs(t *testing.T) {
	svc, _, _ := newTestRunner(t, &stubExecutor{}, models.Config{})

	err := svc.RunAll(context.Background(), nil)

	require.Error(t, err)
}
