// Package sqlite implements the catalog on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/nicktill/tinytrack/pkg/catalog"
)

// Store is a catalog.Catalog backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ catalog.Catalog = (*Store)(nil)

// Open initializes the database connection, creating directories as needed.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_pragma=foreign_keys(ON)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single connection: an in-memory database lives and dies with it
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the catalog tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS maps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			origin_x REAL NOT NULL DEFAULT 0,
			origin_y REAL NOT NULL DEFAULT 0,
			scale REAL NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mac TEXT NOT NULL UNIQUE COLLATE NOCASE,
			name TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			x REAL,
			y REAL,
			rssi INTEGER,
			battery INTEGER,
			map_id INTEGER,
			last_seen INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS geofences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			map_id INTEGER NOT NULL REFERENCES maps(id) ON DELETE CASCADE,
			enabled INTEGER NOT NULL DEFAULT 1,
			points TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_geofences_map ON geofences(map_id, enabled);`,
		`CREATE TABLE IF NOT EXISTS alarms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tag_mac TEXT NOT NULL,
			geofence_id INTEGER NOT NULL,
			geofence_name TEXT NOT NULL,
			map_id INTEGER NOT NULL,
			map_name TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			alarm_time INTEGER NOT NULL,
			resolved_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alarms_open ON alarms(resolved_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// IsRegistered reports whether a tag with the MAC exists.
func (s *Store) IsRegistered(ctx context.Context, deviceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tags WHERE mac = ?`, deviceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup tag: %w", err)
	}
	return n > 0, nil
}

// UpdateTagPosition marks the tag online and stores its latest readings.
// Absent readings keep their previous values.
func (s *Store) UpdateTagPosition(ctx context.Context, pos catalog.TagPosition) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tags SET
			status = ?,
			x = COALESCE(?, x),
			y = COALESCE(?, y),
			rssi = COALESCE(?, rssi),
			battery = COALESCE(?, battery),
			map_id = COALESCE(?, map_id),
			last_seen = ?
		WHERE mac = ?`,
		catalog.TagOnline,
		nullFloat(pos.X), nullFloat(pos.Y),
		nullInt(pos.RSSI), nullInt(pos.Battery),
		nullInt64(pos.MapID),
		pos.SeenAt.UnixMilli(),
		pos.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("update tag position: %w", err)
	}
	return nil
}

// Map loads a map by id.
func (s *Store) Map(ctx context.Context, id int64) (catalog.Map, error) {
	m := catalog.Map{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, origin_x, origin_y, scale FROM maps WHERE id = ?`, id,
	).Scan(&m.Name, &m.OriginX, &m.OriginY, &m.Scale)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Map{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Map{}, fmt.Errorf("load map %d: %w", id, err)
	}
	return m, nil
}

// EnabledGeofences lists the enabled geofences of a map ordered by id.
func (s *Store) EnabledGeofences(ctx context.Context, mapID int64) ([]catalog.Geofence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, map_id, points FROM geofences WHERE map_id = ? AND enabled = 1 ORDER BY id`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}
	defer rows.Close()

	var fences []catalog.Geofence
	for rows.Next() {
		g := catalog.Geofence{Enabled: true}
		var points string
		if err := rows.Scan(&g.ID, &g.Name, &g.MapID, &points); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		if err := json.Unmarshal([]byte(points), &g.Polygon); err != nil {
			return nil, fmt.Errorf("decode geofence %d points: %w", g.ID, err)
		}
		fences = append(fences, g)
	}
	return fences, rows.Err()
}

// InsertAlarm persists an alarm and returns its id.
func (s *Store) InsertAlarm(ctx context.Context, a catalog.Alarm) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alarms (tag_mac, geofence_id, geofence_name, map_id, map_name, x, y, alarm_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeviceID, a.GeofenceID, a.GeofenceName, a.MapID, a.MapName, a.X, a.Y, a.Time.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert alarm: %w", err)
	}
	return res.LastInsertId()
}

// ResolveAlarm stamps the alarm's resolution time. Resolving twice keeps the
// first time.
func (s *Store) ResolveAlarm(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alarms SET resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("resolve alarm %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// Alarms lists alarms newest first, optionally only the unresolved ones.
func (s *Store) Alarms(ctx context.Context, openOnly bool) ([]catalog.Alarm, error) {
	query := `SELECT id, tag_mac, geofence_id, geofence_name, map_id, map_name, x, y, alarm_time, resolved_at FROM alarms`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var alarms []catalog.Alarm
	for rows.Next() {
		var (
			a        catalog.Alarm
			at       int64
			resolved sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.GeofenceID, &a.GeofenceName,
			&a.MapID, &a.MapName, &a.X, &a.Y, &at, &resolved); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		a.Time = time.UnixMilli(at).UTC()
		if resolved.Valid {
			t := time.UnixMilli(resolved.Int64).UTC()
			a.ResolvedAt = &t
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

// Tag returns the stored position of a registered tag.
func (s *Store) Tag(ctx context.Context, deviceID string) (catalog.TagPosition, int, error) {
	var (
		pos             catalog.TagPosition
		status          int
		x, y            sql.NullFloat64
		rssi, battery   sql.NullInt64
		mapID, lastSeen sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT mac, status, x, y, rssi, battery, map_id, last_seen FROM tags WHERE mac = ?`, deviceID,
	).Scan(&pos.DeviceID, &status, &x, &y, &rssi, &battery, &mapID, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return pos, 0, catalog.ErrNotFound
	}
	if err != nil {
		return pos, 0, fmt.Errorf("load tag: %w", err)
	}

	if x.Valid {
		pos.X = &x.Float64
	}
	if y.Valid {
		pos.Y = &y.Float64
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		pos.RSSI = &v
	}
	if battery.Valid {
		v := int(battery.Int64)
		pos.Battery = &v
	}
	if mapID.Valid {
		pos.MapID = &mapID.Int64
	}
	if lastSeen.Valid {
		pos.SeenAt = time.UnixMilli(lastSeen.Int64).UTC()
	}
	return pos, status, nil
}

// CreateMap inserts a map and returns its id.
func (s *Store) CreateMap(ctx context.Context, m catalog.Map) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO maps (name, origin_x, origin_y, scale) VALUES (?, ?, ?, ?)`,
		m.Name, m.OriginX, m.OriginY, m.Scale)
	if err != nil {
		return 0, fmt.Errorf("insert map: %w", err)
	}
	return res.LastInsertId()
}

// CreateTag registers a tag. Registering an existing MAC is a no-op.
func (s *Store) CreateTag(ctx context.Context, deviceID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (mac, name) VALUES (?, ?) ON CONFLICT(mac) DO NOTHING`, deviceID, name)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// CreateGeofence inserts a geofence and returns its id.
func (s *Store) CreateGeofence(ctx context.Context, g catalog.Geofence) (int64, error) {
	points, err := json.Marshal(g.Polygon)
	if err != nil {
		return 0, fmt.Errorf("encode points: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO geofences (name, map_id, enabled, points) VALUES (?, ?, ?, ?)`,
		g.Name, g.MapID, g.Enabled, string(points))
	if err != nil {
		return 0, fmt.Errorf("insert geofence: %w", err)
	}
	return res.LastInsertId()
}

// SetGeofenceEnabled toggles a geofence.
func (s *Store) SetGeofenceEnabled(ctx context.Context, id int64, enabled bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE geofences SET enabled = ? WHERE id = ?`, enabled, id); err != nil {
		return fmt.Errorf("update geofence: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
