// Package db persists telemetry cycles and alarm events to SQLite and
// exposes live-debugging routes over the same database.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/vigil-data/breathwatch/internal/breath"
	"github.com/vigil-data/breathwatch/internal/monitoring"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path. Schema is
// managed by migrations; call MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer; the monitor loop and HTTP handlers share this handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{db}, nil
}

// CycleRecord is one persisted telemetry cycle. The waveform itself stays in
// the in-memory history; only the derived scalars are stored.
type CycleRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	MotionState   string    `json:"motion_state"`
	Alert         string    `json:"alert"`
	Variability   float64   `json:"variability"`
	PeakMagnitude float64   `json:"peak_magnitude"`
	BreathingRate float64   `json:"breathing_rate"`
}

// RecordCycle stores the derived scalars of one telemetry cycle. Implements
// the monitor's Recorder.
func (db *DB) RecordCycle(s breath.Snapshot) error {
	_, err := db.Exec(
		`INSERT INTO cycles (timestamp, motion_state, alert, variability, peak_magnitude, breathing_rate)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.Timestamp.UnixNano(),
		string(s.Classification.Motion),
		string(s.Classification.Alert),
		s.Classification.Variability,
		s.Classification.PeakMagnitude,
		s.BreathingRate,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// Cycles returns the most recent cycle records, newest first.
func (db *DB) Cycles(limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT timestamp, motion_state, alert, variability, peak_magnitude, breathing_rate
		 FROM cycles ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			ts  int64
			rec CycleRecord
		)
		if err := rows.Scan(&ts, &rec.MotionState, &rec.Alert, &rec.Variability, &rec.PeakMagnitude, &rec.BreathingRate); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// AlarmEvent is one persisted alarm lifecycle transition.
type AlarmEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	Event           string    `json:"event"`
	ValidationCount int       `json:"validation_count"`
}

// Alarm lifecycle event names.
const (
	AlarmEventArmed     = "armed"
	AlarmEventReset     = "reset"
	AlarmEventActivated = "activated"
)

// RecordAlarmEvent stores one alarm lifecycle transition.
func (db *DB) RecordAlarmEvent(event string, validationCount int) error {
	_, err := db.Exec(
		`INSERT INTO alarm_events (timestamp, event, validation_count) VALUES (?, ?, ?)`,
		time.Now().UnixNano(), event, validationCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record alarm event: %w", err)
	}
	return nil
}

// AlarmEvents returns the most recent alarm events, newest first.
func (db *DB) AlarmEvents(limit int) ([]AlarmEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT timestamp, event, validation_count FROM alarm_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AlarmEvent
	for rows.Next() {
		var (
			ts int64
			ev AlarmEvent
		)
		if err := rows.Scan(&ts, &ev.Event, &ev.ValidationCount); err != nil {
			return nil, err
		}
		ev.Timestamp = time.Unix(0, ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// AttachAdminRoutes mounts SQL live debugging and a backup endpoint on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://breathwatch.db", db.DB, &tailsql.DBOptions{
		Label: "Breathwatch DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("[DB] failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))

	return nil
}
