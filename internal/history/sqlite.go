// Package history records numeric item values in SQLite so chart cards can
// show a time series.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"nspanel-bridge/internal/items"
)

// MaxPoints is the most points a chart card can display.
const MaxPoints = 88

// Point is one recorded value.
type Point struct {
	Time  time.Time
	Value float64
}

// SQLite stores item history.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the history database.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, logger: logger.With("component", "history")}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item TEXT NOT NULL,
			value REAL NOT NULL,
			ts INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_item_ts ON history(item, ts);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record appends a value for item.
func (s *SQLite) Record(item string, value float64, ts time.Time) error {
	_, err := s.db.Exec(`INSERT INTO history (item, value, ts) VALUES (?, ?, ?)`, item, value, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Series returns the latest limit values of item, oldest first.
func (s *SQLite) Series(item string, limit int) ([]Point, error) {
	if limit <= 0 || limit > MaxPoints {
		limit = MaxPoints
	}
	rows, err := s.db.Query(
		`SELECT value, ts FROM (
			SELECT id, value, ts FROM history
			WHERE item = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		) ORDER BY ts ASC, id ASC`,
		item, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var v float64
		var ns int64
		if err := rows.Scan(&v, &ns); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		points = append(points, Point{Time: time.Unix(0, ns), Value: v})
	}
	return points, rows.Err()
}

// Cleanup deletes values older than the given time.
func (s *SQLite) Cleanup(olderThan time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM history WHERE ts < ?`, olderThan.UnixNano()); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Attach records every numeric change of the given items. Returns the
// unsubscribe function.
func (s *SQLite) Attach(store items.Store, paths []string) func() {
	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		watched[p] = true
	}
	return store.Subscribe(func(c items.Change) {
		if !watched[c.Path] {
			return
		}
		v, ok := items.Float(c.Value)
		if !ok {
			s.logger.Debug("non-numeric value not recorded", "item", c.Path, "value", c.Value)
			return
		}
		if err := s.Record(c.Path, v, time.Now()); err != nil {
			s.logger.Warn("record history", "item", c.Path, "error", err)
		}
	})
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
