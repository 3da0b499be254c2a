// Package config loads and defaults the knobs that shape the engine's
// storage behavior: memtable sizing, WAL durability, SSTable block
// layout, and compaction thresholds. Every field has a sane default so a
// caller can start from config.Default() and override only what matters
// to them, or load a TOML file with the same shape.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/return2faye/fluxkv/internal/compaction"
	"github.com/return2faye/fluxkv/internal/database"
	"github.com/return2faye/fluxkv/internal/engine"
	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/sstable"
	"github.com/return2faye/fluxkv/internal/wal"
)

// SyncMode names a wal.SyncPolicy in a form that can round-trip through
// TOML.
type SyncMode string

const (
	SyncImmediate SyncMode = "immediate"
	SyncEveryN    SyncMode = "every_n"
	SyncInterval  SyncMode = "interval"
	SyncNone      SyncMode = "none"
)

// Config is the engine's full, file-loadable configuration.
type Config struct {
	DataDir string `toml:"data_dir"`

	MemTableSizeLimit int64 `toml:"memtable_size_limit_bytes"`

	WALSegmentSize    int64         `toml:"wal_segment_size_bytes"`
	WALSyncMode       SyncMode      `toml:"wal_sync_mode"`
	WALSyncEveryN     int           `toml:"wal_sync_every_n"`
	WALSyncInterval   time.Duration `toml:"wal_sync_interval"`

	SSTableBlockSize       int     `toml:"sstable_block_size_bytes"`
	SSTableBloomBitsPerKey int     `toml:"sstable_bloom_bits_per_key"`
	SSTableUseLZ4          bool    `toml:"sstable_use_lz4"`

	L0CompactionTrigger int   `toml:"l0_compaction_trigger"`
	LevelSizeMultiplier int64 `toml:"level_size_multiplier"`
	BaseLevelSize       int64 `toml:"base_level_size_bytes"`
	MaxLevels           int   `toml:"max_levels"`
	TargetFileSize      int64 `toml:"target_file_size_bytes"`

	LogLevel string `toml:"log_level"`
}

// Default mirrors the original engine's documented defaults: a 64MiB
// memtable limit, 16MiB WAL segments, an L0 trigger of 4 files, and a
// 10x level size multiplier across up to 7 levels.
func Default() Config {
	return Config{
		DataDir:                "data",
		MemTableSizeLimit:      64 * 1024 * 1024,
		WALSegmentSize:         16 * 1024 * 1024,
		WALSyncMode:            SyncEveryN,
		WALSyncEveryN:          100,
		WALSyncInterval:        time.Second,
		SSTableBlockSize:       4 * 1024,
		SSTableBloomBitsPerKey: 10,
		SSTableUseLZ4:          true,
		L0CompactionTrigger:    4,
		LevelSizeMultiplier:    10,
		BaseLevelSize:          64 * 1024 * 1024,
		MaxLevels:              7,
		TargetFileSize:         64 * 1024 * 1024,
		LogLevel:               "info",
	}
}

// Load reads a TOML file at path and layers it over Default(), so a file
// only needs to mention the fields it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fluxerr.Wrap(fluxerr.KindConfig, err, "config: loading %s", path)
	}
	return cfg, nil
}

func (c Config) syncPolicy() wal.SyncPolicy {
	switch c.WALSyncMode {
	case SyncImmediate:
		return wal.Immediate()
	case SyncInterval:
		return wal.IntervalPolicy(c.WALSyncInterval)
	case SyncNone:
		return wal.NoSync()
	case SyncEveryN, "":
		fallthrough
	default:
		return wal.EveryN(c.WALSyncEveryN)
	}
}

// Logger builds the slog.Logger every engine component shares, at the
// level named by LogLevel.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// EngineConfig translates the flat, TOML-friendly Config into the typed
// engine.Config the storage layer actually consumes.
func (c Config) EngineConfig() engine.Config {
	logger := c.Logger()

	dbConfig := database.Config{
		MemTableSizeLimit: c.MemTableSizeLimit,
		WALSegmentSize:    c.WALSegmentSize,
		WALSyncPolicy:     c.syncPolicy(),
		SSTableOptions: sstable.BuildOptions{
			BlockSize:       c.SSTableBlockSize,
			BloomBitsPerKey: c.SSTableBloomBitsPerKey,
			UseLZ4:          c.SSTableUseLZ4,
			Logger:          logger,
		},
		Compaction: compaction.Config{
			L0FileTrigger:       c.L0CompactionTrigger,
			LevelSizeMultiplier: c.LevelSizeMultiplier,
			BaseLevelSize:       c.BaseLevelSize,
			MaxLevels:           c.MaxLevels,
			TargetFileSize:      c.TargetFileSize,
			Logger:              logger,
		},
		Logger: logger,
	}

	return engine.Config{
		DataDir:        c.DataDir,
		DatabaseConfig: dbConfig,
	}
}
