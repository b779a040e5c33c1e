package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/patrickmn/go-cache"

	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

const (
	cacheDefaultExpiry = 5 * time.Minute
	cacheCleanupTime   = 10 * time.Minute
	defaultCacheSize   = -1024 * 1024 // negative value for pages
	defaultPageSize    = 4096
	locationPrecision  = 2
)

// Storage persists periodic snapshots of aggregated prices. The full
// snapshot is kept as a JSON blob for cheap "latest" reads; individual
// observations are flattened into station_prices so per-station history can
// be queried without unpacking every blob.
type Storage struct {
	db    *sql.DB
	cache *cache.Cache
	log   *slog.Logger
}

func NewStorage(ctx context.Context, dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := configureSQLitePragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &Storage{
		db:    db,
		cache: cache.New(cacheDefaultExpiry, cacheCleanupTime),
		log:   logger,
	}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at TEXT NOT NULL,
		fuel_type TEXT NOT NULL,
		data BLOB NOT NULL,
		UNIQUE(taken_at, fuel_type)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);

	CREATE TABLE IF NOT EXISTS station_prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at TEXT NOT NULL,
		code TEXT NOT NULL,
		fuel_type TEXT NOT NULL,
		price REAL NOT NULL,
		state TEXT,
		source TEXT,
		UNIQUE(taken_at, code, fuel_type)
	);
	CREATE INDEX IF NOT EXISTS idx_station_prices_code ON station_prices(code);
	CREATE INDEX IF NOT EXISTS idx_station_prices_taken_at ON station_prices(taken_at);

	CREATE TABLE IF NOT EXISTS search_locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		radius_km REAL NOT NULL,
		search_count INTEGER NOT NULL DEFAULT 1,
		last_search TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_search_locations_coordinates ON search_locations (latitude, longitude);
	`

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}
	return nil
}

func configureSQLitePragmas(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 10000;"); err != nil {
		return fmt.Errorf("error setting busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("error setting journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA auto_vacuum = INCREMENTAL;"); err != nil {
		return fmt.Errorf("error setting auto vacuum: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		return fmt.Errorf("error setting synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size = %d;", defaultCacheSize)); err != nil {
		return fmt.Errorf("error setting cache size: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA page_size = %d;", defaultPageSize)); err != nil {
		return fmt.Errorf("error setting page size: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	if s.cache != nil {
		s.cache.Flush()
	}
	return s.db.Close()
}

// SaveSnapshot stores one aggregated result set, both as a blob and as
// flattened per-station rows.
func (s *Storage) SaveSnapshot(ctx context.Context, takenAt time.Time, fuelType string, stations []fuel.Station) error {
	data, err := json.Marshal(stations)
	if err != nil {
		return fmt.Errorf("error marshaling snapshot: %w", err)
	}

	takenAtStr := takenAt.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.log.Warn("rollback error", "error", err)
		}
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (taken_at, fuel_type, data) VALUES (?, ?, ?)",
		takenAtStr, fuelType, data)
	if err != nil {
		return fmt.Errorf("error inserting snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO station_prices (taken_at, code, fuel_type, price, state, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for i := range stations {
		st := &stations[i]
		if _, err := stmt.ExecContext(ctx, takenAtStr, st.Code, st.FuelType, st.Price, st.State, st.Source); err != nil {
			s.log.Warn("error inserting station observation", "code", st.Code, "error", err)
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	s.cache.Delete("latest|" + fuelType)
	return nil
}

// LatestSnapshot returns the most recent stored result set for a fuel type.
func (s *Storage) LatestSnapshot(ctx context.Context, fuelType string) ([]fuel.Station, time.Time, error) {
	cacheKey := "latest|" + fuelType

	if cached, found := s.cache.Get(cacheKey); found {
		s.log.Debug("using cached snapshot", "key", cacheKey)
		snap := cached.(cachedSnapshot)
		return snap.stations, snap.takenAt, nil
	}

	var takenAtStr string
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT taken_at, data FROM snapshots WHERE fuel_type = ? ORDER BY taken_at DESC LIMIT 1",
		fuelType).Scan(&takenAtStr, &data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, time.Time{}, fmt.Errorf("no snapshot available for %s", fuelType)
		}
		return nil, time.Time{}, fmt.Errorf("error querying database: %w", err)
	}

	var stations []fuel.Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return nil, time.Time{}, fmt.Errorf("error unmarshaling snapshot: %w", err)
	}

	takenAt, err := time.Parse(time.RFC3339, takenAtStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("error parsing snapshot time %s: %w", takenAtStr, err)
	}

	s.cache.Set(cacheKey, cachedSnapshot{stations: stations, takenAt: takenAt}, cache.DefaultExpiration)
	return stations, takenAt, nil
}

type cachedSnapshot struct {
	stations []fuel.Station
	takenAt  time.Time
}

// PricePoint is one historical observation for a station.
type PricePoint struct {
	TakenAt  time.Time `json:"takenAt"`
	Price    float64   `json:"price"`
	FuelType string    `json:"fuelType"`
}

// PriceHistory returns observations for a station over the last days days,
// oldest first. A zero days returns everything.
func (s *Storage) PriceHistory(ctx context.Context, code, fuelType string, days int) ([]PricePoint, error) {
	query := `SELECT taken_at, price, fuel_type FROM station_prices
			  WHERE code = ? AND fuel_type = ?`
	args := []any{code, fuelType}
	if days > 0 {
		query += " AND taken_at >= ?"
		args = append(args, time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339))
	}
	query += " ORDER BY taken_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying price history: %w", err)
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var takenAtStr string
		var p PricePoint
		if err := rows.Scan(&takenAtStr, &p.Price, &p.FuelType); err != nil {
			return nil, fmt.Errorf("error scanning observation: %w", err)
		}
		takenAt, err := time.Parse(time.RFC3339, takenAtStr)
		if err != nil {
			continue
		}
		p.TakenAt = takenAt
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error: %w", err)
	}
	return points, nil
}

// SnapshotTimes returns the distinct snapshot timestamps, oldest first.
func (s *Storage) SnapshotTimes(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT taken_at FROM snapshots ORDER BY taken_at ASC")
	if err != nil {
		return nil, fmt.Errorf("error querying snapshot times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var takenAtStr string
		if err := rows.Scan(&takenAtStr); err != nil {
			return nil, fmt.Errorf("error scanning snapshot time: %w", err)
		}
		t, err := time.Parse(time.RFC3339, takenAtStr)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error: %w", err)
	}
	return times, nil
}

// LogSearchLocation records where users search, rounded so repeat searches
// from the same area cluster into one row.
func (s *Storage) LogSearchLocation(ctx context.Context, latitude, longitude, radiusKm float64) error {
	lat, lng := reduceLocationPrecision(latitude, longitude, locationPrecision)

	var id int64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, search_count FROM search_locations
		WHERE latitude = ? AND longitude = ?
		LIMIT 1
	`, lat, lng).Scan(&id, &count)

	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("error checking for existing location: %w", err)
	}

	if err == sql.ErrNoRows {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO search_locations (latitude, longitude, radius_km)
			VALUES (?, ?, ?)
		`, lat, lng, radiusKm)
		if err != nil {
			return fmt.Errorf("error logging search location: %w", err)
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE search_locations
		SET search_count = search_count + 1, last_search = CURRENT_TIMESTAMP, radius_km = ?
		WHERE id = ?
	`, radiusKm, id)
	if err != nil {
		return fmt.Errorf("error updating search location: %w", err)
	}
	return nil
}

// PopularLocation is a clustered search area with its popularity.
type PopularLocation struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lng"`
	SearchCount int64   `json:"weight"`
	RadiusKm    float64 `json:"radius"`
}

// PopularLocations returns the most searched areas, most popular first.
func (s *Storage) PopularLocations(ctx context.Context, limit int) ([]PopularLocation, error) {
	query := `SELECT latitude, longitude, radius_km, search_count
			  FROM search_locations
			  ORDER BY search_count DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying popular locations: %w", err)
	}
	defer rows.Close()

	var locations []PopularLocation
	for rows.Next() {
		var loc PopularLocation
		if err := rows.Scan(&loc.Latitude, &loc.Longitude, &loc.RadiusKm, &loc.SearchCount); err != nil {
			return nil, fmt.Errorf("error scanning location: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return locations, nil
}

// DeleteOldSnapshots removes snapshot and observation rows older than
// daysOld days.
func (s *Storage) DeleteOldSnapshots(ctx context.Context, daysOld int) error {
	cutoff := time.Now().AddDate(0, 0, -daysOld).UTC().Format(time.RFC3339)

	s.log.Info("starting cleanup of old snapshots", "cutoff", cutoff)

	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE taken_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("error deleting snapshots: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM station_prices WHERE taken_at < ?", cutoff); err != nil {
		return fmt.Errorf("error deleting station observations: %w", err)
	}

	s.log.Info("completed snapshot cleanup", "deleted_snapshots", deleted)
	return nil
}

func (s *Storage) VacuumDatabase(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum(1000)"); err != nil {
		return fmt.Errorf("error performing incremental vacuum: %w", err)
	}
	return nil
}

func reduceLocationPrecision(lat, lng float64, decimalPlaces int) (roundedLat, roundedLng float64) {
	factor := math.Pow(10, float64(decimalPlaces))
	roundedLat = math.Round(lat*factor) / factor
	roundedLng = math.Round(lng*factor) / factor
	return
}
