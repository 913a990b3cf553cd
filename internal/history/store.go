// Package history keeps soil sensor readings in a local SQLite database and
// answers "what was the latest value" queries with a bounded look-back. A
// sensor fetch can come back empty (sensors report on their own cadence and
// sleep at night); the look-back fills those gaps instead of fabricating a
// value.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Metric names recorded per sensor sample.
const (
	MetricMoisture    = "moisture"
	MetricTemperature = "temperature"
	MetricSunlight    = "sunlight"
	MetricBattery     = "battery_level"
)

// ErrNoDataInWindow indicates the look-back window contains no reading. The
// caller reports the value as unknown.
var ErrNoDataInWindow = errors.New("no data in look-back window")

// Reading is one recorded metric sample.
type Reading struct {
	Metric     string
	Value      float64
	ObservedAt time.Time
}

const schema = `
	CREATE TABLE IF NOT EXISTS sensor_readings (
		serial      TEXT NOT NULL,
		metric      TEXT NOT NULL,
		value       REAL NOT NULL,
		observed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (serial, metric, observed_at)
	)`

const insertReadingSQL = `
	INSERT INTO sensor_readings (serial, metric, value, observed_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (serial, metric, observed_at) DO NOTHING`

const latestReadingSQL = `
	SELECT metric, value, observed_at
	FROM sensor_readings
	WHERE serial = ? AND metric = ? AND observed_at >= ? AND observed_at <= ?
	ORDER BY observed_at DESC
	LIMIT 1`

// Store persists sensor readings.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the reading database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}
	// sqlite tolerates one writer
	db.SetMaxOpenConns(1)
	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: journal_mode: %w", err)
	}
	store := New(db)
	if err = store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New returns a Store on an existing database handle. The schema is not
// created; use Open for that.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// timestamps are stored as text so window comparisons are plain string
// comparisons
const timeLayout = "2006-01-02 15:04:05"

// Record stores readings for a sensor. Re-recording an already stored sample
// is a no-op, so replaying a poll result is safe.
func (s *Store) Record(ctx context.Context, serial string, readings ...Reading) error {
	for _, r := range readings {
		observedAt := r.ObservedAt.UTC().Format(timeLayout)
		if _, err := s.db.ExecContext(ctx, insertReadingSQL, serial, r.Metric, r.Value, observedAt); err != nil {
			return fmt.Errorf("history: record %s/%s: %w", serial, r.Metric, err)
		}
	}
	return nil
}

// LatestWithin returns the most recent reading for the metric observed at or
// before asOf, looking back the given number of calendar days (minimum 1).
// It returns ErrNoDataInWindow when the window holds nothing.
func (s *Store) LatestWithin(ctx context.Context, serial, metric string, asOf time.Time, days int) (Reading, error) {
	if days < 1 {
		days = 1
	}
	cutoff := startOfDay(asOf.UTC()).AddDate(0, 0, -days)

	var reading Reading
	row := s.db.QueryRowContext(ctx, latestReadingSQL, serial, metric, cutoff.Format(timeLayout), asOf.UTC().Format(timeLayout))
	if err := row.Scan(&reading.Metric, &reading.Value, &reading.ObservedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reading{}, ErrNoDataInWindow
		}
		return Reading{}, fmt.Errorf("history: latest %s/%s: %w", serial, metric, err)
	}
	return reading, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
