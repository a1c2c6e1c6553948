package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/repform/internal/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func sampleRep(seed float64, frames, dims int) types.Rep {
	rep := make(types.Rep, frames)
	for i := range rep {
		rep[i] = make([]float64, dims)
		for j := range rep[i] {
			rep[i][j] = seed + float64(i) - float64(j)/8
		}
	}
	return rep
}

// exerciseStore runs the same scenario against any backend.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_good", "/data/good_bench.mp4", "run-1"))
	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_bad", "/data/bad_bench.mp4", "run-1"))

	first := []types.Rep{sampleRep(0, 20, 66), sampleRep(1, 20, 66)}
	require.NoError(t, s.InsertReps(ctx, "vid_good", first))
	require.NoError(t, s.InsertReps(ctx, "vid_good", []types.Rep{sampleRep(2, 20, 66)}))
	require.NoError(t, s.InsertReps(ctx, "vid_bad", nil))

	got, err := s.GetReps(ctx, "vid_good")
	require.NoError(t, err)
	want := append(first, sampleRep(2, 20, 66))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetReps mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.SetLabel(ctx, "vid_good", "good"))
	assert.ErrorIs(t, s.SetLabel(ctx, "nope", "bad"), ErrVideoNotFound)

	videos, err := s.ListVideos(ctx)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	counts := map[string]types.VideoSummary{}
	for _, v := range videos {
		counts[v.ID] = v
	}
	assert.Equal(t, 3, counts["vid_good"].RepCount)
	assert.Equal(t, "good", counts["vid_good"].Label)
	assert.Equal(t, 0, counts["vid_bad"].RepCount)
	assert.False(t, counts["vid_bad"].IndexedAt.IsZero())

	// Re-running a video replaces its reps but keeps the label.
	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_good", "/data/good_bench.mp4", "run-2"))
	got, err = s.GetReps(ctx, "vid_good")
	require.NoError(t, err)
	assert.Empty(t, got)
	videos, err = s.ListVideos(ctx)
	require.NoError(t, err)
	for _, v := range videos {
		if v.ID == "vid_good" {
			assert.Equal(t, "good", v.Label)
		}
	}

	require.NoError(t, s.Reset(ctx))
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "nested", "repform.db"))
	require.NoError(t, err)
	defer s.Close(ctx)

	exerciseStore(t, s)
}

func TestSQLiteStore_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.EnsureVideoMetadata(ctx, "v", "/v.mp4", "r"))
	require.NoError(t, s.InsertReps(ctx, "v", []types.Rep{sampleRep(0, 2, 4)}))
	reps, err := s.GetReps(ctx, "v")
	require.NoError(t, err)
	assert.Len(t, reps, 1)
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/repform")
	assert.Error(t, err)
}

// TestPostgresStoreIntegration runs the same scenario against a real Postgres container.
// It requires Docker to be running.
func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("repform_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := Open(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	exerciseStore(t, s)
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
