// Package engine is the top-level coordinator: a registry of named
// databases sharing one data directory and one storage configuration.
package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/return2faye/fluxkv/internal/database"
	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/types"
)

// Config configures the engine and is handed to every database it opens.
type Config struct {
	DataDir        string
	DatabaseConfig database.Config
}

func (c Config) logger() *slog.Logger {
	if c.DatabaseConfig.Logger != nil {
		return c.DatabaseConfig.Logger
	}
	return slog.Default()
}

// Stats summarizes every open database's footprint.
type Stats struct {
	DatabaseCount  int
	TotalEntries   uint64
	TotalSizeBytes int64
	Databases      []database.Stats
}

// Engine owns a directory of independently durable databases, each one a
// separate WAL, MemTable, and SSTable set.
type Engine struct {
	config Config

	mu        sync.RWMutex
	databases map[string]*database.Database
}

// Open creates config.DataDir if needed and loads every database found
// there as a subdirectory, skipping dotfiles. A directory that fails to
// open is logged and skipped rather than aborting the whole engine.
func Open(config Config) (*Engine, error) {
	if config.DataDir == "" {
		return nil, fluxerr.New(fluxerr.KindConfig, "engine: data directory is required")
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "engine: creating data directory")
	}

	e := &Engine{
		config:    config,
		databases: make(map[string]*database.Database),
	}

	logger := config.logger()

	entries, err := os.ReadDir(config.DataDir)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "engine: listing data directory")
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		db, err := database.Open(config.DataDir, name, config.DatabaseConfig)
		if err != nil {
			logger.Warn("engine: failed to load database, skipping", "database", name, "error", err)
			continue
		}
		e.databases[name] = db
	}

	return e, nil
}

// CreateDatabase opens a brand new database, failing if one by that name
// is already registered.
func (e *Engine) CreateDatabase(name string) (*database.Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.databases[name]; exists {
		return nil, fluxerr.New(fluxerr.KindConfig, "engine: database %q already exists", name)
	}

	db, err := database.Open(e.config.DataDir, name, e.config.DatabaseConfig)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "engine: creating database %q", name)
	}
	e.databases[name] = db
	return db, nil
}

// GetOrCreateDatabase returns the named database, creating it on first
// use.
func (e *Engine) GetOrCreateDatabase(name string) (*database.Database, error) {
	e.mu.RLock()
	db, ok := e.databases[name]
	e.mu.RUnlock()
	if ok {
		return db, nil
	}
	return e.CreateDatabase(name)
}

// GetDatabase returns the named database if it is open, or false.
func (e *Engine) GetDatabase(name string) (*database.Database, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	db, ok := e.databases[name]
	return db, ok
}

// DropDatabase closes and permanently deletes the named database's data
// directory.
func (e *Engine) DropDatabase(name string) error {
	e.mu.Lock()
	db, ok := e.databases[name]
	if !ok {
		e.mu.Unlock()
		return fluxerr.New(fluxerr.KindNotFound, "engine: database %q not found", name)
	}
	delete(e.databases, name)
	e.mu.Unlock()

	if err := db.Close(); err != nil {
		e.config.logger().Warn("engine: error closing database before drop", "database", name, "error", err)
	}

	dbDir := filepath.Join(e.config.DataDir, name)
	if err := os.RemoveAll(dbDir); err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "engine: removing data directory for %q", name)
	}
	return nil
}

// ListDatabases returns every open database's name, sorted.
func (e *Engine) ListDatabases() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.databases))
	for name := range e.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Write appends points to the named database, creating it if it doesn't
// exist yet.
func (e *Engine) Write(name string, points []types.Point) error {
	db, err := e.GetOrCreateDatabase(name)
	if err != nil {
		return err
	}
	return db.Write(points)
}

// QuerySeries reads from the named database, failing with KindNotFound if
// it isn't open.
func (e *Engine) QuerySeries(name string, series types.SeriesKey, rng types.TimeRange) ([]types.Point, error) {
	db, ok := e.GetDatabase(name)
	if !ok {
		return nil, fluxerr.New(fluxerr.KindNotFound, "engine: database %q not found", name)
	}
	return db.QuerySeries(series, rng)
}

// FlushAll forces every open database to drain its MemTable and immutable
// queue, returning the first error encountered (continuing past it to
// flush the rest).
func (e *Engine) FlushAll() error {
	e.mu.RLock()
	dbs := make([]*database.Database, 0, len(e.databases))
	for _, db := range e.databases {
		dbs = append(dbs, db)
	}
	e.mu.RUnlock()

	var firstErr error
	for _, db := range dbs {
		if err := db.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CompactAll runs one eligible compaction task per open database.
func (e *Engine) CompactAll() error {
	e.mu.RLock()
	dbs := make([]*database.Database, 0, len(e.databases))
	for _, db := range e.databases {
		dbs = append(dbs, db)
	}
	e.mu.RUnlock()

	var firstErr error
	for _, db := range dbs {
		if _, err := db.RunCompaction(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats aggregates per-database stats across the whole engine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{DatabaseCount: len(e.databases)}
	names := make([]string, 0, len(e.databases))
	for name := range e.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := e.databases[name].Stats()
		stats.Databases = append(stats.Databases, s)
		stats.TotalEntries += s.TotalEntries
		stats.TotalSizeBytes += s.TotalSizeBytes
	}
	return stats
}

// Close closes every open database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for _, db := range e.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.databases = make(map[string]*database.Database)
	return firstErr
}
