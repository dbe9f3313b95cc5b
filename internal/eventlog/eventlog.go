// Package eventlog persists the activity log, per-clip records and daily
// rollups in a SQLite database.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity(timestamp);

CREATE TABLE IF NOT EXISTS clips (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	basename TEXT NOT NULL UNIQUE,
	video_path TEXT NOT NULL,
	status TEXT NOT NULL,
	is_night INTEGER NOT NULL DEFAULT 0,
	clip_length_secs INTEGER NOT NULL DEFAULT 0,
	segments TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS daily_stats (
	day TEXT PRIMARY KEY,
	num_clips_all INTEGER NOT NULL,
	num_clips_all_inactive INTEGER NOT NULL,
	num_segments_all INTEGER NOT NULL,
	num_clips_day INTEGER NOT NULL,
	num_clips_day_inactive INTEGER NOT NULL,
	num_clips_night INTEGER NOT NULL,
	num_clips_night_inactive INTEGER NOT NULL,
	num_segments_night INTEGER NOT NULL,
	total_clip_length_secs INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SegmentRecord is the per-segment slice of a clip record, stored as JSON.
type SegmentRecord struct {
	Index        string   `json:"index"`
	TimeBegin    int64    `json:"time_begin"`
	TimeEnd      int64    `json:"time_end"`
	TriggerZones []string `json:"trigger_zones"`
}

// ClipRecord is the structured processing record for one video.
type ClipRecord struct {
	Basename       string
	VideoPath      string
	Status         string
	IsNight        bool
	ClipLengthSecs int
	Segments       []SegmentRecord
}

// ClipAttrs carries the fields retention weighting needs.
type ClipAttrs struct {
	IsNight     bool
	NumSegments int
}

// Store is the SQLite-backed event log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the event database and applies the schema. WAL mode
// keeps the writers from blocking the cleanup queries.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogActivity appends a free-text entry to the activity log and echoes it to
// the structured log.
func (s *Store) LogActivity(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	log.Info().Msg(message)
	if _, err := s.db.Exec(`INSERT INTO activity (message) VALUES (?)`, message); err != nil {
		log.Error().Err(err).Msg("failed to persist activity entry")
	}
}

// AddClipRecord inserts or replaces the record for a clip.
func (s *Store) AddClipRecord(rec ClipRecord) error {
	segments := rec.Segments
	if segments == nil {
		segments = []SegmentRecord{}
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO clips (basename, video_path, status, is_night, clip_length_secs, segments)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(basename) DO UPDATE SET
			video_path = excluded.video_path,
			status = excluded.status,
			is_night = excluded.is_night,
			clip_length_secs = excluded.clip_length_secs,
			segments = excluded.segments`,
		rec.Basename, rec.VideoPath, rec.Status, rec.IsNight, rec.ClipLengthSecs, string(data))
	if err != nil {
		return fmt.Errorf("add clip record %s: %w", rec.Basename, err)
	}
	return nil
}

// HasClip reports whether a clip record exists for the basename.
func (s *Store) HasClip(basename string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM clips WHERE basename = ?`, basename).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ClipRecord returns the stored record for a basename.
func (s *Store) ClipRecord(basename string) (ClipRecord, error) {
	var rec ClipRecord
	var segments string
	err := s.db.QueryRow(`
		SELECT basename, video_path, status, is_night, clip_length_secs, segments
		FROM clips WHERE basename = ?`, basename).
		Scan(&rec.Basename, &rec.VideoPath, &rec.Status, &rec.IsNight,
			&rec.ClipLengthSecs, &segments)
	if err != nil {
		return ClipRecord{}, err
	}
	if err := json.Unmarshal([]byte(segments), &rec.Segments); err != nil {
		return ClipRecord{}, fmt.Errorf("clip record %s: %w", basename, err)
	}
	return rec, nil
}

// ClipAttrs returns the retention-weighting attributes of every clip record,
// keyed by basename.
func (s *Store) ClipAttrs() (map[string]ClipAttrs, error) {
	rows, err := s.db.Query(
		`SELECT basename, is_night, json_array_length(segments) FROM clips`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string]ClipAttrs)
	for rows.Next() {
		var basename string
		var a ClipAttrs
		if err := rows.Scan(&basename, &a.IsNight, &a.NumSegments); err != nil {
			return nil, err
		}
		attrs[basename] = a
	}
	return attrs, rows.Err()
}

// CleanupClips deletes clip records whose basenames no longer exist in the
// output library, returning the deleted basenames.
func (s *Store) CleanupClips(keep map[string]struct{}) ([]string, error) {
	rows, err := s.db.Query(`SELECT basename FROM clips`)
	if err != nil {
		return nil, err
	}
	var stale []string
	for rows.Next() {
		var basename string
		if err := rows.Scan(&basename); err != nil {
			rows.Close()
			return nil, err
		}
		if _, ok := keep[basename]; !ok {
			stale = append(stale, basename)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, basename := range stale {
		if _, err := s.db.Exec(`DELETE FROM clips WHERE basename = ?`, basename); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// CleanupActivityBefore deletes activity entries older than the cutoff,
// returning the number removed.
func (s *Store) CleanupActivityBefore(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.Exec(`DELETE FROM activity WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateDailyStats recomputes the per-day rollups from the clip records.
func (s *Store) UpdateDailyStats() error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daily_stats (
			day, num_clips_all, num_clips_all_inactive, num_segments_all,
			num_clips_day, num_clips_day_inactive,
			num_clips_night, num_clips_night_inactive, num_segments_night,
			total_clip_length_secs, updated_at)
		SELECT
			date(created_at),
			COUNT(*),
			SUM(CASE WHEN json_array_length(segments) = 0 THEN 1 ELSE 0 END),
			SUM(json_array_length(segments)),
			SUM(CASE WHEN is_night = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_night = 0 AND json_array_length(segments) = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_night = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_night = 1 AND json_array_length(segments) = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_night = 1 THEN json_array_length(segments) ELSE 0 END),
			SUM(clip_length_secs),
			CURRENT_TIMESTAMP
		FROM clips
		GROUP BY date(created_at)`)
	if err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	return nil
}

// DailyStats is one day's rollup row.
type DailyStats struct {
	Day                   string
	NumClipsAll           int
	NumClipsAllInactive   int
	NumSegmentsAll        int
	NumClipsDay           int
	NumClipsDayInactive   int
	NumClipsNight         int
	NumClipsNightInactive int
	NumSegmentsNight      int
	TotalClipLengthSecs   int
}

// DailyStatsFor returns the rollup for a given day (YYYY-MM-DD).
func (s *Store) DailyStatsFor(day string) (DailyStats, error) {
	var d DailyStats
	err := s.db.QueryRow(`
		SELECT day, num_clips_all, num_clips_all_inactive, num_segments_all,
			num_clips_day, num_clips_day_inactive,
			num_clips_night, num_clips_night_inactive, num_segments_night,
			total_clip_length_secs
		FROM daily_stats WHERE day = ?`, day).
		Scan(&d.Day, &d.NumClipsAll, &d.NumClipsAllInactive, &d.NumSegmentsAll,
			&d.NumClipsDay, &d.NumClipsDayInactive,
			&d.NumClipsNight, &d.NumClipsNightInactive, &d.NumSegmentsNight,
			&d.TotalClipLengthSecs)
	return d, err
}
