// Package compaction implements the leveled compaction scheduler: level
// accounting with cached byte sizes, job selection (an L0 file-count
// trigger, byte-size triggers for every level above it), and the merge
// that produces the next generation of SSTables at the destination level.
package compaction

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/return2faye/fluxkv/internal/sstable"
)

// Config tunes when and how compaction runs.
type Config struct {
	// L0FileTrigger is the L0 file count that triggers an L0->L1 job.
	L0FileTrigger int
	// LevelSizeMultiplier scales the byte-size trigger between levels.
	LevelSizeMultiplier int64
	// BaseLevelSize is L1's byte-size trigger; level i>=1's trigger is
	// BaseLevelSize * LevelSizeMultiplier^(i-1).
	BaseLevelSize int64
	// MaxLevels bounds the level vector (L0..MaxLevels-1).
	MaxLevels int
	// TargetFileSize bounds a single output SSTable produced by a merge.
	TargetFileSize int64
	Logger         *slog.Logger
}

// DefaultConfig mirrors the original engine's defaults.
func DefaultConfig() Config {
	return Config{
		L0FileTrigger:       4,
		LevelSizeMultiplier: 10,
		BaseLevelSize:       64 * 1024 * 1024,
		MaxLevels:           7,
		TargetFileSize:      64 * 1024 * 1024,
		Logger:              slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	if c.L0FileTrigger <= 0 {
		c.L0FileTrigger = 4
	}
	if c.LevelSizeMultiplier <= 0 {
		c.LevelSizeMultiplier = 10
	}
	if c.BaseLevelSize <= 0 {
		c.BaseLevelSize = 64 * 1024 * 1024
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = 7
	}
	if c.TargetFileSize <= 0 {
		c.TargetFileSize = 64 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Level holds the SSTables resident at one level and their cached total
// byte size, so selection never has to stat the filesystem.
type Level struct {
	Level     int
	Files     []sstable.Meta
	SizeBytes int64
}

// Task describes one compaction job: a set of source files at SourceLevel
// and the TargetLevel files they overlap with, to be merged into new files
// written at TargetLevel.
type Task struct {
	SourceLevel int
	SourceFiles []sstable.Meta
	TargetLevel int
	TargetFiles []sstable.Meta
}

// Scheduler owns the level vector for one database and decides what to
// compact next.
type Scheduler struct {
	dataDir string
	config  Config

	mu     sync.RWMutex
	levels []Level

	busyMu sync.Mutex
	busy   map[int]bool

	jobsRun atomic.Uint64
}

// JobsRun returns the number of compaction jobs this scheduler has
// completed across its lifetime.
func (s *Scheduler) JobsRun() uint64 {
	return s.jobsRun.Load()
}

// NewScheduler creates a scheduler with an empty level vector sized to
// config.MaxLevels.
func NewScheduler(dataDir string, config Config) *Scheduler {
	config = config.withDefaults()
	levels := make([]Level, config.MaxLevels)
	for i := range levels {
		levels[i] = Level{Level: i}
	}
	return &Scheduler{
		dataDir: dataDir,
		config:  config,
		levels:  levels,
		busy:    make(map[int]bool),
	}
}

// AddFile registers a newly built SSTable at level, updating the cached
// size total.
func (s *Scheduler) AddFile(level int, meta sstable.Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[level].Files = append(s.levels[level].Files, meta)
	s.levels[level].SizeBytes += meta.FileSize
}

// Levels returns a snapshot of the level vector, for stats reporting.
func (s *Scheduler) Levels() []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Level, len(s.levels))
	for i, l := range s.levels {
		out[i] = Level{Level: l.Level, Files: append([]sstable.Meta(nil), l.Files...), SizeBytes: l.SizeBytes}
	}
	return out
}

func (s *Scheduler) targetSizeForLevel(level int) int64 {
	if level <= 0 {
		return s.config.BaseLevelSize
	}
	size := s.config.BaseLevelSize
	for i := 1; i < level; i++ {
		size *= s.config.LevelSizeMultiplier
	}
	return size
}

// SelectTask applies the selection policy: an L0 file-count trigger takes
// priority; otherwise the first level (ascending) over its byte-size
// trigger picks its oldest file and every next-level file whose key range
// overlaps it. Returns nil when nothing qualifies.
func (s *Scheduler) SelectTask() *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.levels[0].Files) >= s.config.L0FileTrigger {
		l0 := append([]sstable.Meta(nil), s.levels[0].Files...)
		var l1 []sstable.Meta
		for _, target := range s.levels[1].Files {
			if overlapsAny(target, l0) {
				l1 = append(l1, target)
			}
		}
		return &Task{SourceLevel: 0, SourceFiles: l0, TargetLevel: 1, TargetFiles: l1}
	}

	for i := 1; i < len(s.levels); i++ {
		if i+1 >= s.config.MaxLevels {
			continue
		}
		if s.levels[i].SizeBytes <= s.targetSizeForLevel(i) {
			continue
		}
		file, ok := oldestFile(s.levels[i].Files)
		if !ok {
			continue
		}
		var targets []sstable.Meta
		for _, t := range s.levels[i+1].Files {
			if t.KeyRangeOverlaps(file) {
				targets = append(targets, t)
			}
		}
		return &Task{
			SourceLevel: i,
			SourceFiles: []sstable.Meta{file},
			TargetLevel: i + 1,
			TargetFiles: targets,
		}
	}

	return nil
}

func oldestFile(files []sstable.Meta) (sstable.Meta, bool) {
	if len(files) == 0 {
		return sstable.Meta{}, false
	}
	oldest := files[0]
	for _, f := range files[1:] {
		if f.ID < oldest.ID {
			oldest = f
		}
	}
	return oldest, true
}

func overlapsAny(target sstable.Meta, files []sstable.Meta) bool {
	for _, f := range files {
		if target.KeyRangeOverlaps(f) {
			return true
		}
	}
	return false
}

// TryBeginLevel marks source and target levels busy so a second overlapping
// job at either level is not started concurrently. Returns false if either
// level is already busy.
func (s *Scheduler) TryBeginLevel(task *Task) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[task.SourceLevel] || s.busy[task.TargetLevel] {
		return false
	}
	s.busy[task.SourceLevel] = true
	s.busy[task.TargetLevel] = true
	return true
}

// EndLevel releases the busy marks TryBeginLevel set for task.
func (s *Scheduler) EndLevel(task *Task) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	delete(s.busy, task.SourceLevel)
	delete(s.busy, task.TargetLevel)
}

// NextFileID supplies the next SSTable id, owned by the caller (the
// database's id counters, per the source-of-truth design).
type NextFileID func() uint64

func outputPath(dataDir string, id uint64) string {
	return filepath.Join(dataDir, fmt.Sprintf("sst_%020d.flux", id))
}

// Compact executes task: opens every source and target file, merges them
// into a single (series, timestamp)-ordered, deduplicated point stream
// (last write wins on duplicate keys, using file id as recency), partitions
// the result into output files no larger than TargetFileSize, writes them
// at task.TargetLevel, swaps the consumed files out of the level vector
// under an exclusive lock, and best-effort deletes the old files from disk.
func (s *Scheduler) Compact(task *Task, nextID NextFileID, opts sstable.BuildOptions) ([]sstable.Meta, error) {
	merged, err := mergeFiles(append(append([]sstable.Meta(nil), task.SourceFiles...), task.TargetFiles...))
	if err != nil {
		return nil, err
	}

	newFiles, err := writePartitions(s.dataDir, merged, s.config.TargetFileSize, nextID, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.levels[task.SourceLevel].Files, s.levels[task.SourceLevel].SizeBytes =
		removeFiles(s.levels[task.SourceLevel].Files, task.SourceFiles)
	s.levels[task.TargetLevel].Files, s.levels[task.TargetLevel].SizeBytes =
		removeFiles(s.levels[task.TargetLevel].Files, task.TargetFiles)
	for _, f := range newFiles {
		s.levels[task.TargetLevel].Files = append(s.levels[task.TargetLevel].Files, f)
		s.levels[task.TargetLevel].SizeBytes += f.FileSize
	}
	s.mu.Unlock()

	for _, old := range task.SourceFiles {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			s.config.Logger.Warn("compaction: failed to remove old sstable", "path", old.Path, "error", err)
		}
	}
	for _, old := range task.TargetFiles {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			s.config.Logger.Warn("compaction: failed to remove old sstable", "path", old.Path, "error", err)
		}
	}

	s.jobsRun.Add(1)
	return newFiles, nil
}

func removeFiles(files []sstable.Meta, remove []sstable.Meta) ([]sstable.Meta, int64) {
	toRemove := make(map[uint64]bool, len(remove))
	for _, r := range remove {
		toRemove[r.ID] = true
	}
	var kept []sstable.Meta
	var size int64
	for _, f := range files {
		if toRemove[f.ID] {
			continue
		}
		kept = append(kept, f)
		size += f.FileSize
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	return kept, size
}
