package compaction

import (
	"container/heap"

	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/sstable"
	"github.com/return2faye/fluxkv/internal/types"
)

// mergeItem is one point waiting in the merge frontier, tagged with the
// id of the file it came from so duplicate (series, timestamp) keys can be
// resolved in favor of the most recently written file.
type mergeItem struct {
	point     types.Point
	fileID    uint64
	streamIdx int
}

// streamFrontier is a min-heap over one point per still-open stream,
// ordered by (series, timestamp) ascending and, within a tie, by
// descending file id so the most recent write for a duplicate key surfaces
// first.
type streamFrontier []*mergeItem

func (f streamFrontier) Len() int { return len(f) }

func (f streamFrontier) Less(i, j int) bool {
	a, b := f[i], f[j]
	ak, bk := a.point.Key.Canonical(), b.point.Key.Canonical()
	if ak != bk {
		return ak < bk
	}
	if a.point.Data.Timestamp != b.point.Data.Timestamp {
		return a.point.Data.Timestamp < b.point.Data.Timestamp
	}
	return a.fileID > b.fileID
}

func (f streamFrontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *streamFrontier) Push(x any) { *f = append(*f, x.(*mergeItem)) }

func (f *streamFrontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// mergeFiles opens every file, decodes all of its points, and merges them
// into one (series, timestamp)-ascending stream with duplicate keys
// resolved by largest file id (last write wins).
func mergeFiles(files []sstable.Meta) ([]types.Point, error) {
	streams := make([][]types.Point, len(files))
	for i, meta := range files {
		reader, err := sstable.Open(meta.Path)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindIO, err, "compaction: opening %s", meta.Path)
		}
		points, err := reader.AllPoints()
		reader.Close()
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "compaction: reading %s", meta.Path)
		}
		streams[i] = points
	}

	positions := make([]int, len(streams))
	frontier := make(streamFrontier, 0, len(streams))
	for i, pts := range streams {
		if len(pts) == 0 {
			continue
		}
		frontier = append(frontier, &mergeItem{point: pts[0], fileID: files[i].ID, streamIdx: i})
		positions[i] = 1
	}
	heap.Init(&frontier)

	var merged []types.Point
	var lastKey string
	var lastTS int64
	haveLast := false

	for frontier.Len() > 0 {
		item := heap.Pop(&frontier).(*mergeItem)

		canonical := item.point.Key.Canonical()
		isDuplicate := haveLast && canonical == lastKey && item.point.Data.Timestamp == lastTS
		if !isDuplicate {
			merged = append(merged, item.point)
			lastKey = canonical
			lastTS = item.point.Data.Timestamp
			haveLast = true
		}

		idx := item.streamIdx
		if positions[idx] < len(streams[idx]) {
			next := streams[idx][positions[idx]]
			positions[idx]++
			heap.Push(&frontier, &mergeItem{point: next, fileID: files[idx].ID, streamIdx: idx})
		}
	}

	return merged, nil
}

// writePartitions splits merged into output SSTables no larger than
// targetFileSize (estimated from point sizes) and writes each at dataDir,
// assigning a fresh id per file via nextID.
func writePartitions(dataDir string, merged []types.Point, targetFileSize int64, nextID NextFileID, opts sstable.BuildOptions) ([]sstable.Meta, error) {
	if len(merged) == 0 {
		return nil, nil
	}

	var out []sstable.Meta
	start := 0
	for start < len(merged) {
		end := partitionEnd(merged, start, targetFileSize)
		chunk := merged[start:end]

		id := nextID()
		path := outputPath(dataDir, id)
		meta, err := sstable.Build(path, chunk, opts)
		if err != nil {
			return nil, err
		}
		meta.ID = id
		out = append(out, *meta)

		start = end
	}

	return out, nil
}

func partitionEnd(points []types.Point, start int, targetFileSize int64) int {
	var size int64
	for i := start; i < len(points); i++ {
		size += int64(points[i].Size())
		if size > targetFileSize && i > start {
			return i
		}
	}
	return len(points)
}
