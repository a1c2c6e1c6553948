package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/andresmejia3/repform/internal/types"
)

// ErrVideoNotFound is returned when an operation targets an unknown video ID.
var ErrVideoNotFound = errors.New("video not found")

// Store persists pipeline output. Reps are stored one row per rep.
type Store interface {
	// EnsureVideoMetadata registers the video for a run and clears reps from previous runs.
	EnsureVideoMetadata(ctx context.Context, videoID, path, runID string) error
	InsertReps(ctx context.Context, videoID string, reps []types.Rep) error
	GetReps(ctx context.Context, videoID string) ([]types.Rep, error)
	SetLabel(ctx context.Context, videoID, label string) error
	ListVideos(ctx context.Context) ([]types.VideoSummary, error)
	Reset(ctx context.Context) error
	Close(ctx context.Context)
}

// Open picks a backend from the DSN scheme: postgres:// and postgresql://
// go to PostgreSQL, sqlite:// and file: to an embedded SQLite database.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return NewSQLite(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported database URL %q (use postgres://, sqlite:// or file:)", dsn)
}

func encodeRep(rep types.Rep) (string, error) {
	b, err := json.Marshal(rep)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRep(raw []byte) (types.Rep, error) {
	var rep types.Rep
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("corrupt rep payload: %w", err)
	}
	return rep, nil
}

func repDims(rep types.Rep) int {
	if len(rep) == 0 {
		return 0
	}
	return len(rep[0])
}
