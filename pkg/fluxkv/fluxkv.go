// Package fluxkv is the public entry point for embedding the engine in
// another program: open a data directory, write points, query them back.
// It re-exports the pieces of internal/engine a caller needs without
// exposing the storage internals (WAL framing, SSTable layout, the
// compaction scheduler) those packages keep unexported.
package fluxkv

import (
	"github.com/return2faye/fluxkv/internal/config"
	"github.com/return2faye/fluxkv/internal/engine"
	"github.com/return2faye/fluxkv/internal/types"
)

// Re-exported domain types so callers never import internal/types
// directly.
type (
	SeriesKey  = types.SeriesKey
	DataPoint  = types.DataPoint
	Point      = types.Point
	Fields     = types.Fields
	FieldValue = types.FieldValue
	TimeRange  = types.TimeRange
)

var (
	NewSeriesKey  = types.NewSeriesKey
	ParseSeriesKey = types.ParseSeriesKey
	NewTimeRange  = types.NewTimeRange
	FloatValue    = types.FloatValue
	IntValue      = types.IntValue
	BoolValue     = types.BoolValue
	StringValue   = types.StringValue
)

// DB is an open fluxkv engine: a directory of independently durable
// time-series databases.
type DB struct {
	engine *engine.Engine
}

// Open opens (creating if necessary) the engine rooted at dataDir, using
// default storage settings.
func Open(dataDir string) (*DB, error) {
	cfg := config.Default()
	cfg.DataDir = dataDir
	e, err := engine.Open(cfg.EngineConfig())
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// OpenWithConfig opens the engine using a fully specified config, e.g.
// one loaded from a TOML file via config.Load.
func OpenWithConfig(cfg config.Config) (*DB, error) {
	e, err := engine.Open(cfg.EngineConfig())
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Write appends points to database, creating it on first use.
func (db *DB) Write(database string, points []Point) error {
	return db.engine.Write(database, points)
}

// QuerySeries returns every point for series within rng in database.
func (db *DB) QuerySeries(database string, series SeriesKey, rng TimeRange) ([]Point, error) {
	return db.engine.QuerySeries(database, series, rng)
}

// GetLatest returns the most recent point for series in database.
func (db *DB) GetLatest(database string, series SeriesKey) (Point, bool, error) {
	d, ok := db.engine.GetDatabase(database)
	if !ok {
		return Point{}, false, &DatabaseNotFoundError{Name: database}
	}
	p, ok := d.GetLatest(series)
	return p, ok, nil
}

// Delete tombstones series over rng in database.
func (db *DB) Delete(database string, series SeriesKey, rng TimeRange) error {
	d, ok := db.engine.GetDatabase(database)
	if !ok {
		return &DatabaseNotFoundError{Name: database}
	}
	return d.Delete(series, rng)
}

// CreateDatabase explicitly creates a new, empty database.
func (db *DB) CreateDatabase(name string) error {
	_, err := db.engine.CreateDatabase(name)
	return err
}

// DropDatabase closes and permanently deletes a database.
func (db *DB) DropDatabase(name string) error {
	return db.engine.DropDatabase(name)
}

// ListDatabases returns every open database's name.
func (db *DB) ListDatabases() []string {
	return db.engine.ListDatabases()
}

// Flush forces every database to drain its memtable queue.
func (db *DB) Flush() error {
	return db.engine.FlushAll()
}

// Stats reports a snapshot of the engine's storage footprint.
func (db *DB) Stats() engine.Stats {
	return db.engine.Stats()
}

// Close closes every open database.
func (db *DB) Close() error {
	return db.engine.Close()
}

// DatabaseNotFoundError is returned by operations that target a database
// which isn't open.
type DatabaseNotFoundError struct{ Name string }

func (e *DatabaseNotFoundError) Error() string {
	return "fluxkv: database " + e.Name + " not found"
}
