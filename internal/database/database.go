// Package database is the embedded relational store for persisted
// server state: events, ROI polygons, camera configs, and alarm channel
// configs (spec.md §6). Grounded on the teacher's
// internal/database/database.go (modernc.org/sqlite, WAL mode,
// idempotent CREATE TABLE IF NOT EXISTS migrations, ON CONFLICT upsert
// queries), with the teacher's camera/motion-event schema replaced by
// spec.md's events/rois/camera_configs/alarm_configs tables.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sentrynet/internal/model"
)

// Database wraps a single *sql.DB; writes are serialized through the
// driver's connection pool (capped small, per spec.md §6).
type Database struct {
	db *sql.DB
}

// New opens (creating if absent) the SQLite file at path and enables WAL
// mode for concurrent readers alongside the single writer.
func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(10)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate creates the schema if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			type TEXT NOT NULL,
			ts DATETIME NOT NULL,
			video_path TEXT,
			meta TEXT,
			confidence REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source_time ON events(source_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(ts DESC)`,
		`CREATE TABLE IF NOT EXISTS rois (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			name TEXT,
			polygon_json TEXT NOT NULL,
			enabled INTEGER DEFAULT 1,
			priority INTEGER DEFAULT 0,
			start_t INTEGER,
			end_t INTEGER,
			ts DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rois_source ON rois(source_id)`,
		`CREATE TABLE IF NOT EXISTS camera_configs (
			source_id TEXT PRIMARY KEY,
			config_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alarm_configs (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			json TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("database: migration failed: %w", err)
		}
	}
	return nil
}

// SaveEvent persists ev, satisfying pipeline.EventStore.
func (d *Database) SaveEvent(ev model.Event) error {
	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("database: marshal event metadata: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO events (id, source_id, type, ts, video_path, meta, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET video_path = excluded.video_path`,
		ev.ID, ev.SourceID, string(ev.Type), ev.Timestamp, ev.VideoPath, string(metaJSON), ev.Confidence,
	)
	if err != nil {
		return fmt.Errorf("database: save event: %w", err)
	}
	return nil
}

// ListEvents returns events for sourceID (all sources if empty),
// optionally since a timestamp, newest first, capped at limit (no cap if
// limit <= 0).
func (d *Database) ListEvents(sourceID string, since *time.Time, limit int) ([]model.Event, error) {
	query := `SELECT id, source_id, type, ts, video_path, meta, confidence FROM events WHERE 1=1`
	var args []interface{}

	if sourceID != "" {
		query += " AND source_id = ?"
		args = append(args, sourceID)
	}
	if since != nil {
		query += " AND ts >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var evType string
		var videoPath sql.NullString
		var metaJSON sql.NullString

		if err := rows.Scan(&ev.ID, &ev.SourceID, &evType, &ev.Timestamp, &videoPath, &metaJSON, &ev.Confidence); err != nil {
			return nil, fmt.Errorf("database: scan event: %w", err)
		}
		ev.Type = model.EventType(evType)
		ev.VideoPath = videoPath.String
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("database: unmarshal event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListRecordings returns events that have an associated video recording
// for sourceID (all sources if empty), newest first, capped at limit (no
// cap if limit <= 0). Backs the recordings listing endpoint.
func (d *Database) ListRecordings(sourceID string, limit int) ([]model.Event, error) {
	query := `SELECT id, source_id, type, ts, video_path, meta, confidence FROM events
		WHERE video_path IS NOT NULL AND video_path != ''`
	var args []interface{}

	if sourceID != "" {
		query += " AND source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY ts DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: list recordings: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var evType string
		var videoPath sql.NullString
		var metaJSON sql.NullString

		if err := rows.Scan(&ev.ID, &ev.SourceID, &evType, &ev.Timestamp, &videoPath, &metaJSON, &ev.Confidence); err != nil {
			return nil, fmt.Errorf("database: scan recording: %w", err)
		}
		ev.Type = model.EventType(evType)
		ev.VideoPath = videoPath.String
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("database: unmarshal recording metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetEvent returns a single event by id, or nil if none exists.
func (d *Database) GetEvent(id string) (*model.Event, error) {
	row := d.db.QueryRow(
		`SELECT id, source_id, type, ts, video_path, meta, confidence FROM events WHERE id = ?`, id,
	)
	var ev model.Event
	var evType string
	var videoPath sql.NullString
	var metaJSON sql.NullString

	if err := row.Scan(&ev.ID, &ev.SourceID, &evType, &ev.Timestamp, &videoPath, &metaJSON, &ev.Confidence); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get event: %w", err)
	}
	ev.Type = model.EventType(evType)
	ev.VideoPath = videoPath.String
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("database: unmarshal event metadata: %w", err)
		}
	}
	return &ev, nil
}

// SaveROI upserts an ROI polygon.
func (d *Database) SaveROI(r model.ROI) error {
	pointsJSON, err := json.Marshal(r.Points)
	if err != nil {
		return fmt.Errorf("database: marshal roi points: %w", err)
	}

	var startT, endT sql.NullInt64
	if r.StartTOD != nil {
		startT = sql.NullInt64{Int64: int64(time.Duration(*r.StartTOD) / time.Second), Valid: true}
	}
	if r.EndTOD != nil {
		endT = sql.NullInt64{Int64: int64(time.Duration(*r.EndTOD) / time.Second), Valid: true}
	}

	_, err = d.db.Exec(
		`INSERT INTO rois (id, source_id, name, polygon_json, enabled, priority, start_t, end_t)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			name = excluded.name,
			polygon_json = excluded.polygon_json,
			enabled = excluded.enabled,
			priority = excluded.priority,
			start_t = excluded.start_t,
			end_t = excluded.end_t`,
		r.ID, r.SourceID, r.Name, string(pointsJSON), boolToInt(r.Enabled), r.Priority, startT, endT,
	)
	if err != nil {
		return fmt.Errorf("database: save roi: %w", err)
	}
	return nil
}

// ListROIs returns all ROIs for sourceID.
func (d *Database) ListROIs(sourceID string) ([]model.ROI, error) {
	rows, err := d.db.Query(
		`SELECT id, source_id, name, polygon_json, enabled, priority, start_t, end_t FROM rois WHERE source_id = ?`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("database: list rois: %w", err)
	}
	defer rows.Close()

	var out []model.ROI
	for rows.Next() {
		var r model.ROI
		var pointsJSON string
		var enabled int
		var startT, endT sql.NullInt64

		if err := rows.Scan(&r.ID, &r.SourceID, &r.Name, &pointsJSON, &enabled, &r.Priority, &startT, &endT); err != nil {
			return nil, fmt.Errorf("database: scan roi: %w", err)
		}
		if err := json.Unmarshal([]byte(pointsJSON), &r.Points); err != nil {
			return nil, fmt.Errorf("database: unmarshal roi points: %w", err)
		}
		r.Enabled = enabled == 1
		if startT.Valid {
			d := model.Duration(time.Duration(startT.Int64) * time.Second)
			r.StartTOD = &d
		}
		if endT.Valid {
			d := model.Duration(time.Duration(endT.Int64) * time.Second)
			r.EndTOD = &d
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteROI removes an ROI by id.
func (d *Database) DeleteROI(id string) error {
	_, err := d.db.Exec("DELETE FROM rois WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("database: delete roi: %w", err)
	}
	return nil
}

// SaveCameraConfig upserts the JSON-encoded config blob for sourceID.
func (d *Database) SaveCameraConfig(sourceID string, configJSON []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO camera_configs (source_id, config_json) VALUES (?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET config_json = excluded.config_json`,
		sourceID, string(configJSON),
	)
	if err != nil {
		return fmt.Errorf("database: save camera config: %w", err)
	}
	return nil
}

// GetCameraConfig returns the raw JSON config blob for sourceID, or nil
// if none exists.
func (d *Database) GetCameraConfig(sourceID string) ([]byte, error) {
	var configJSON string
	err := d.db.QueryRow("SELECT config_json FROM camera_configs WHERE source_id = ?", sourceID).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: get camera config: %w", err)
	}
	return []byte(configJSON), nil
}

// ListCameraConfigs returns every stored source id's raw JSON config.
func (d *Database) ListCameraConfigs() (map[string][]byte, error) {
	rows, err := d.db.Query("SELECT source_id, config_json FROM camera_configs")
	if err != nil {
		return nil, fmt.Errorf("database: list camera configs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var sourceID, configJSON string
		if err := rows.Scan(&sourceID, &configJSON); err != nil {
			return nil, fmt.Errorf("database: scan camera config: %w", err)
		}
		out[sourceID] = []byte(configJSON)
	}
	return out, nil
}

// DeleteCameraConfig removes the stored config for sourceID.
func (d *Database) DeleteCameraConfig(sourceID string) error {
	_, err := d.db.Exec("DELETE FROM camera_configs WHERE source_id = ?", sourceID)
	if err != nil {
		return fmt.Errorf("database: delete camera config: %w", err)
	}
	return nil
}

// SaveAlarmConfig upserts an alarm channel config.
func (d *Database) SaveAlarmConfig(id, method string, configJSON []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO alarm_configs (id, method, json) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET method = excluded.method, json = excluded.json`,
		id, method, string(configJSON),
	)
	if err != nil {
		return fmt.Errorf("database: save alarm config: %w", err)
	}
	return nil
}

// ListAlarmConfigs returns every stored alarm channel config's raw JSON,
// keyed by id.
func (d *Database) ListAlarmConfigs() (map[string][]byte, error) {
	rows, err := d.db.Query("SELECT id, json FROM alarm_configs")
	if err != nil {
		return nil, fmt.Errorf("database: list alarm configs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id, configJSON string
		if err := rows.Scan(&id, &configJSON); err != nil {
			return nil, fmt.Errorf("database: scan alarm config: %w", err)
		}
		out[id] = []byte(configJSON)
	}
	return out, nil
}

// DeleteAlarmConfig removes an alarm channel config by id.
func (d *Database) DeleteAlarmConfig(id string) error {
	_, err := d.db.Exec("DELETE FROM alarm_configs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("database: delete alarm config: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
