package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/repform/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps results in a local database file, for runs without a PostgreSQL server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty SQLite path")
	}
	if dir := filepath.Dir(path); !strings.HasPrefix(path, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS video_metadata (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		indexed_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS reps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
		rep_index INTEGER NOT NULL,
		frame_count INTEGER NOT NULL,
		dims INTEGER NOT NULL,
		frames TEXT NOT NULL,
		UNIQUE (video_id, rep_index)
	);
	CREATE INDEX IF NOT EXISTS idx_reps_video_id ON reps(video_id);
	`)
	return err
}

func (s *SQLiteStore) Close(ctx context.Context) {
	s.db.Close()
}

func (s *SQLiteStore) EnsureVideoMetadata(ctx context.Context, videoID, path, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reps WHERE video_id = ?", videoID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO video_metadata (id, path, run_id, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET indexed_at = excluded.indexed_at, path = excluded.path, run_id = excluded.run_id
	`, videoID, path, runID, time.Now().UnixNano())
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertReps(ctx context.Context, videoID string, reps []types.Rep) error {
	if len(reps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(rep_index) + 1, 0) FROM reps WHERE video_id = ?", videoID).Scan(&next); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO reps (video_id, rep_index, frame_count, dims, frames) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rep := range reps {
		payload, err := encodeRep(rep)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, videoID, next+i, len(rep), repDims(rep), payload); err != nil {
			return fmt.Errorf("failed to insert rep %d for %s: %w", next+i, videoID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetReps(ctx context.Context, videoID string) ([]types.Rep, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT frames FROM reps WHERE video_id = ? ORDER BY rep_index", videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reps []types.Rep
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rep, err := decodeRep([]byte(raw))
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return reps, rows.Err()
}

func (s *SQLiteStore) SetLabel(ctx context.Context, videoID, label string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE video_metadata SET label = ? WHERE id = ?", label, videoID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	return nil
}

func (s *SQLiteStore) ListVideos(ctx context.Context) ([]types.VideoSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.path, v.label, v.indexed_at, COUNT(r.id)
		FROM video_metadata v
		LEFT JOIN reps r ON r.video_id = v.id
		GROUP BY v.id
		ORDER BY v.indexed_at DESC, v.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []types.VideoSummary
	for rows.Next() {
		var v types.VideoSummary
		var indexedAt int64
		if err := rows.Scan(&v.ID, &v.Path, &v.Label, &indexedAt, &v.RepCount); err != nil {
			return nil, err
		}
		v.IndexedAt = time.Unix(0, indexedAt)
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DROP TABLE IF EXISTS reps;
		DROP TABLE IF EXISTS video_metadata;
	`)
	return err
}
