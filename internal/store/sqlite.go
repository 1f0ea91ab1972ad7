// Package store persists person events and timelapse rotations in an
// embedded SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/visiona/vigia/internal/types"
)

// Store is the optional event database. Methods are safe for concurrent
// use; database/sql serializes access to the single connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps event writes from blocking API reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS person_events (
			id TEXT PRIMARY KEY,
			camera TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			video_path TEXT NOT NULL DEFAULT '',
			first_photo_path TEXT NOT NULL DEFAULT '',
			best_photo_path TEXT NOT NULL DEFAULT '',
			peak_area INTEGER NOT NULL DEFAULT 0,
			frames_written INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS timelapse_rotations (
			path TEXT PRIMARY KEY,
			camera TEXT NOT NULL,
			rotated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_person_events_camera_time ON person_events(camera, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_person_events_time ON person_events(started_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionStarted records a session the moment it activates.
func (s *Store) SessionStarted(ev types.PersonEvent) error {
	query := `INSERT INTO person_events (id, camera, started_at, video_path, first_photo_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := s.db.Exec(query, ev.ID, ev.Camera, ev.StartedAt, ev.VideoPath, ev.FirstPhotoPath)
	if err != nil {
		return fmt.Errorf("failed to save session start: %w", err)
	}
	return nil
}

// SessionFinished completes the session row with the end-of-session
// summary, inserting the whole row if the start was never recorded.
func (s *Store) SessionFinished(ev types.PersonEvent) error {
	query := `INSERT INTO person_events
		(id, camera, started_at, ended_at, video_path, first_photo_path, best_photo_path, peak_area, frames_written)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			best_photo_path = excluded.best_photo_path,
			peak_area = excluded.peak_area,
			frames_written = excluded.frames_written`

	_, err := s.db.Exec(query, ev.ID, ev.Camera, ev.StartedAt, ev.EndedAt, ev.VideoPath,
		ev.FirstPhotoPath, ev.BestPhotoPath, ev.PeakArea, ev.FramesWritten)
	if err != nil {
		return fmt.Errorf("failed to save session end: %w", err)
	}
	return nil
}

// TimelapseRotated records one completed hourly file.
func (s *Store) TimelapseRotated(rot types.TimelapseRotation) error {
	query := `INSERT INTO timelapse_rotations (path, camera, rotated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO NOTHING`

	_, err := s.db.Exec(query, rot.Path, rot.Camera, rot.RotatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rotation: %w", err)
	}
	return nil
}

// ListEvents returns person events newest first, optionally filtered by
// camera and start time.
func (s *Store) ListEvents(camera string, since *time.Time, limit int) ([]types.PersonEvent, error) {
	query := `SELECT id, camera, started_at, ended_at, video_path, first_photo_path, best_photo_path, peak_area, frames_written
		FROM person_events WHERE 1=1`
	args := []any{}

	if camera != "" {
		query += " AND camera = ?"
		args = append(args, camera)
	}
	if since != nil {
		query += " AND started_at >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []types.PersonEvent
	for rows.Next() {
		var ev types.PersonEvent
		var ended sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.Camera, &ev.StartedAt, &ended, &ev.VideoPath,
			&ev.FirstPhotoPath, &ev.BestPhotoPath, &ev.PeakArea, &ev.FramesWritten); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if ended.Valid {
			ev.EndedAt = ended.Time
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListRotations returns timelapse rotations newest first.
func (s *Store) ListRotations(limit int) ([]types.TimelapseRotation, error) {
	query := `SELECT path, camera, rotated_at FROM timelapse_rotations ORDER BY rotated_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotations: %w", err)
	}
	defer rows.Close()

	var rotations []types.TimelapseRotation
	for rows.Next() {
		var rot types.TimelapseRotation
		if err := rows.Scan(&rot.Path, &rot.Camera, &rot.RotatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rotation: %w", err)
		}
		rotations = append(rotations, rot)
	}
	return rotations, rows.Err()
}
