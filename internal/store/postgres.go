package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/repform/internal/types"
	"github.com/jackc/pgx/v5"
)

// PostgresStore manages the PostgreSQL connection.
type PostgresStore struct {
	conn *pgx.Conn
}

// NewPostgres establishes a connection to the database and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initPostgresSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{conn: conn}, nil
}

// initPostgresSchema creates the necessary tables if they don't exist (Auto-Migration).
func initPostgresSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS reps (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			rep_index INT NOT NULL,
			frame_count INT NOT NULL,
			dims INT NOT NULL,
			frames JSONB NOT NULL,
			UNIQUE (video_id, rep_index)
		);
		CREATE INDEX IF NOT EXISTS reps_video_id_idx ON reps (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *PostgresStore) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *PostgresStore) EnsureVideoMetadata(ctx context.Context, videoID, path, runID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Clean up old reps so a re-run does not duplicate them
	if _, err := tx.Exec(ctx, "DELETE FROM reps WHERE video_id = $1", videoID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO video_metadata (id, path, run_id, indexed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path, run_id = EXCLUDED.run_id
	`, videoID, path, runID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertReps appends reps to a video, numbering them after any already stored.
func (s *PostgresStore) InsertReps(ctx context.Context, videoID string, reps []types.Rep) error {
	if len(reps) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var next int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(rep_index) + 1, 0) FROM reps WHERE video_id = $1", videoID).Scan(&next); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, rep := range reps {
		payload, err := encodeRep(rep)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO reps (video_id, rep_index, frame_count, dims, frames)
			VALUES ($1, $2, $3, $4, $5)
		`, videoID, next+i, len(rep), repDims(rep), payload)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert reps for %s: %w", videoID, err)
	}
	return tx.Commit(ctx)
}

// GetReps loads every rep of a video in order.
func (s *PostgresStore) GetReps(ctx context.Context, videoID string) ([]types.Rep, error) {
	rows, err := s.conn.Query(ctx, "SELECT frames FROM reps WHERE video_id = $1 ORDER BY rep_index", videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reps []types.Rep
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rep, err := decodeRep(raw)
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return reps, rows.Err()
}

// SetLabel records the form label (e.g. "good", "bad") for a video.
func (s *PostgresStore) SetLabel(ctx context.Context, videoID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE video_metadata SET label = $1 WHERE id = $2", label, videoID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	return nil
}

// ListVideos returns all videos with their rep counts, most recent first.
func (s *PostgresStore) ListVideos(ctx context.Context) ([]types.VideoSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT v.id, v.path, v.label, v.indexed_at, COUNT(r.id)
		FROM video_metadata v
		LEFT JOIN reps r ON r.video_id = v.id
		GROUP BY v.id
		ORDER BY v.indexed_at DESC, v.id
	`)
	if err != nil {
		return nil, err
	}

	videos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.VideoSummary, error) {
		var v types.VideoSummary
		err := row.Scan(&v.ID, &v.Path, &v.Label, &v.IndexedAt, &v.RepCount)
		return v, err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return videos, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS reps CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
