// Package manager owns the on-disk set of SST files: the level map,
// flushing a memtable into a new L0 file, point lookups across levels,
// and L0-to-L1 compaction.
package manager

import (
	"bytes"
	"container/heap"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	natomic "github.com/natefinch/atomic"

	"github.com/Priyanshu23/FlashLogGo/cache"
	"github.com/Priyanshu23/FlashLogGo/memtable"
	"github.com/Priyanshu23/FlashLogGo/record"
	"github.com/Priyanshu23/FlashLogGo/sst"
)

// filenamePattern matches "<level>-<id>.sst".
var filenamePattern = regexp.MustCompile(`^(\d+)-(\d+)\.sst$`)

type fileEntry struct {
	level    int
	id       uint64
	filename string
	reader   *sst.Reader
}

// Options configures a Manager.
type Options struct {
	Dir                   string
	L0CompactionThreshold int
	BloomFPP              float64
	Cache                 *cache.BlockCache
	Log                   *slog.Logger
}

// Manager owns the level map: for each level, the set of SST readers
// currently live, the monotonic file-ID counter, and the single
// read-write metadata lock guarding both against concurrent compaction.
// It sits inside the store's lock order directly below the memtable
// switch lock, and above the skip list's and WAL writer's own locks.
type Manager struct {
	dir         string
	l0Threshold int
	bloomFPP    float64
	cache       *cache.BlockCache
	log         *slog.Logger

	metadataLock sync.RWMutex
	levels       map[int][]*fileEntry
	nextID       atomic.Uint64
}

// Open creates dir if needed and loads any existing SST files from it.
func Open(opts Options) (*Manager, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sst dir: %w", err)
	}

	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		dir:         opts.Dir,
		l0Threshold: opts.L0CompactionThreshold,
		bloomFPP:    opts.BloomFPP,
		cache:       opts.Cache,
		log:         logger,
		levels:      make(map[int][]*fileEntry),
	}

	if err := m.loadSSTables(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) loadSSTables() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read sst dir: %w", err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(de.Name())
		if matches == nil {
			continue
		}

		level, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		id, err := strconv.ParseUint(matches[2], 10, 64)
		if err != nil {
			continue
		}

		path := filepath.Join(m.dir, de.Name())
		reader, err := sst.Open(path, m.cache)
		if err != nil {
			m.log.Warn("skipping unreadable sst at startup", "file", de.Name(), "err", err)
			continue
		}

		if id >= m.nextID.Load() {
			m.nextID.Store(id + 1)
		}

		m.levels[level] = append(m.levels[level], &fileEntry{level: level, id: id, filename: de.Name(), reader: reader})
	}

	for level := range m.levels {
		m.sortLevel(level)
	}

	return nil
}

// sortLevel must be called with metadataLock held.
func (m *Manager) sortLevel(level int) {
	files := m.levels[level]
	if level == 0 {
		sort.Slice(files, func(i, j int) bool { return files[i].id > files[j].id })
		return
	}
	sort.Slice(files, func(i, j int) bool {
		return bytes.Compare(files[i].reader.FirstKey(), files[j].reader.FirstKey()) < 0
	})
}

// Get looks up key across L0 (newest file first, since L0 files may
// overlap and a later flush wins) then L1+ (range-filtered by each
// file's key span, since those levels are non-overlapping). It returns
// the raw stored value — which may be the tombstone sentinel, left for
// the store to interpret — and whether anything was found at all.
func (m *Manager) Get(key []byte) ([]byte, bool, error) {
	m.metadataLock.RLock()
	defer m.metadataLock.RUnlock()

	for _, fe := range m.levels[0] {
		value, found, err := fe.reader.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return value, true, nil
		}
	}

	maxLevel := 0
	for level := range m.levels {
		if level > maxLevel {
			maxLevel = level
		}
	}

	for level := 1; level <= maxLevel; level++ {
		for _, fe := range m.levels[level] {
			if !inRange(fe.reader, key) {
				continue
			}
			value, found, err := fe.reader.Get(key)
			if err != nil {
				return nil, false, err
			}
			if found {
				return value, true, nil
			}
		}
	}

	return nil, false, nil
}

func inRange(r *sst.Reader, key []byte) bool {
	if r.Empty() {
		return false
	}
	return bytes.Compare(key, r.FirstKey()) >= 0 && bytes.Compare(key, r.LastKey()) <= 0
}

// FlushMemtable writes mt's entries into a new L0 file, publishing it
// atomically and adding it to the level map. It reports false (with a
// nil error) when mt is empty, since an empty SST is never worth
// creating.
func (m *Manager) FlushMemtable(mt *memtable.Memtable) (bool, error) {
	if mt.Len() == 0 {
		return false, nil
	}

	id := m.nextID.Add(1) - 1
	filename := fmt.Sprintf("0-%d.sst", id)
	finalPath := filepath.Join(m.dir, filename)
	tmpPath := finalPath + ".tmp"

	w, err := sst.Create(tmpPath, uint(mt.Len()), m.bloomFPP)
	if err != nil {
		return false, fmt.Errorf("create sst writer: %w", err)
	}

	for rec := range mt.All() {
		if err := w.Add([]byte(rec.Key), rec.Value); err != nil {
			_ = w.Abort()
			return false, fmt.Errorf("write sst entry: %w", err)
		}
	}

	if err := w.Finish(); err != nil {
		return false, fmt.Errorf("finish sst: %w", err)
	}

	if err := natomic.ReplaceFile(tmpPath, finalPath); err != nil {
		return false, fmt.Errorf("publish sst: %w", err)
	}

	reader, err := sst.Open(finalPath, m.cache)
	if err != nil {
		return false, fmt.Errorf("open flushed sst: %w", err)
	}

	m.metadataLock.Lock()
	m.levels[0] = append(m.levels[0], &fileEntry{level: 0, id: id, filename: filename, reader: reader})
	m.sortLevel(0)
	m.metadataLock.Unlock()

	m.log.Info("flushed memtable to l0", "file", filename, "entries", mt.Len())

	return true, nil
}

// Compact merges every L0 file with any overlapping L1 file into a new
// L1 file via a k-way merge (newest file wins ties on a duplicate key),
// dropping tombstones entirely since L1 is this store's bottom level. It
// takes the exclusive metadata lock only for the bookkeeping that swaps
// the file set; the merge itself runs without holding the metadata lock,
// reading the pre-compaction files, which stay in the level map until the
// swap, so point lookups are never blocked for the duration of the merge.
func (m *Manager) Compact() error {
	m.metadataLock.RLock()
	l0 := append([]*fileEntry(nil), m.levels[0]...)
	shouldRun := len(l0) >= m.l0Threshold
	m.metadataLock.RUnlock()

	if !shouldRun {
		return nil
	}

	var minKey, maxKey []byte
	for _, fe := range l0 {
		if fe.reader.Empty() {
			continue
		}
		if minKey == nil || bytes.Compare(fe.reader.FirstKey(), minKey) < 0 {
			minKey = fe.reader.FirstKey()
		}
		if maxKey == nil || bytes.Compare(fe.reader.LastKey(), maxKey) > 0 {
			maxKey = fe.reader.LastKey()
		}
	}

	m.metadataLock.RLock()
	var l1Overlap []*fileEntry
	for _, fe := range m.levels[1] {
		if overlaps(fe.reader, minKey, maxKey) {
			l1Overlap = append(l1Overlap, fe)
		}
	}
	m.metadataLock.RUnlock()

	inputs := append(append([]*fileEntry(nil), l0...), l1Overlap...)
	id := m.nextID.Add(1) - 1

	newReader, newFilename, emitted, err := m.mergeInputs(inputs, id)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	m.metadataLock.Lock()
	defer m.metadataLock.Unlock()

	if emitted > 0 {
		m.levels[1] = append(m.levels[1], &fileEntry{level: 1, id: id, filename: newFilename, reader: newReader})
		m.sortLevel(1)
	}

	inputSet := make(map[string]struct{}, len(inputs))
	for _, fe := range inputs {
		inputSet[fe.filename] = struct{}{}
	}
	m.levels[0] = filterOut(m.levels[0], inputSet)
	m.levels[1] = filterOut(m.levels[1], inputSet)

	for _, fe := range inputs {
		if err := fe.reader.Close(); err != nil {
			m.log.Warn("error invalidating compacted sst's cache entries", "file", fe.filename, "err", err)
		}
		if err := os.Remove(filepath.Join(m.dir, fe.filename)); err != nil {
			m.log.Warn("error removing compacted sst", "file", fe.filename, "err", err)
		}
	}

	m.log.Info("compaction complete", "inputs", len(inputs), "emitted", emitted)

	return nil
}

func overlaps(r *sst.Reader, minKey, maxKey []byte) bool {
	if r.Empty() || minKey == nil || maxKey == nil {
		return false
	}
	return !(bytes.Compare(r.LastKey(), minKey) < 0 || bytes.Compare(r.FirstKey(), maxKey) > 0)
}

func filterOut(files []*fileEntry, exclude map[string]struct{}) []*fileEntry {
	kept := files[:0:0]
	for _, fe := range files {
		if _, skip := exclude[fe.filename]; skip {
			continue
		}
		kept = append(kept, fe)
	}
	return kept
}

// mergeInputs performs the k-way merge of inputs into a new level-1 file
// named "1-<id>.sst", returning its opened reader, filename, and the
// number of entries actually emitted (0 if every input key turned out to
// be a dropped tombstone, in which case no file is published).
func (m *Manager) mergeInputs(inputs []*fileEntry, id uint64) (*sst.Reader, string, int, error) {
	filename := fmt.Sprintf("1-%d.sst", id)
	finalPath := filepath.Join(m.dir, filename)
	tmpPath := finalPath + ".tmp"

	// A streaming merge doesn't know the output's exact entry count ahead
	// of time (duplicates and tombstones are dropped along the way), so
	// this sizes the new bloom filter at a fixed estimate of 4096 entries
	// per input file. A mis-sized filter only changes its size and its
	// false-positive rate, never correctness.
	const roughEntriesPerFile = 4096
	expected := uint(len(inputs)) * roughEntriesPerFile

	w, err := sst.Create(tmpPath, expected, m.bloomFPP)
	if err != nil {
		return nil, "", 0, fmt.Errorf("create compaction output: %w", err)
	}

	h := &mergeHeap{}
	var iterators []*sst.Iterator

	closeIterators := func() {
		for _, it := range iterators {
			_ = it.Close()
		}
	}

	for _, fe := range inputs {
		if fe.reader.Empty() {
			continue
		}

		it, err := sst.NewIterator(filepath.Join(m.dir, fe.filename), fe.reader.IndexOffset())
		if err != nil {
			closeIterators()
			_ = w.Abort()
			return nil, "", 0, fmt.Errorf("open compaction iterator: %w", err)
		}
		iterators = append(iterators, it)

		if it.HasNext() {
			key, value, err := it.Next()
			if err != nil {
				closeIterators()
				_ = w.Abort()
				return nil, "", 0, fmt.Errorf("read compaction entry: %w", err)
			}
			heap.Push(h, &mergeItem{key: key, value: value, fileID: fe.id, iterator: it})
		}
	}

	var lastEmittedKey []byte
	haveLast := false
	emitted := 0

	for h.Len() > 0 {
		top := heap.Pop(h).(*mergeItem)

		if !(haveLast && bytes.Equal(top.key, lastEmittedKey)) {
			lastEmittedKey = top.key
			haveLast = true

			if !record.IsTombstone(top.value) {
				if err := w.Add(top.key, top.value); err != nil {
					closeIterators()
					_ = w.Abort()
					return nil, "", 0, fmt.Errorf("write compaction entry: %w", err)
				}
				emitted++
			}
		}

		if top.iterator.HasNext() {
			key, value, err := top.iterator.Next()
			if err != nil {
				closeIterators()
				_ = w.Abort()
				return nil, "", 0, fmt.Errorf("read compaction entry: %w", err)
			}
			heap.Push(h, &mergeItem{key: key, value: value, fileID: top.fileID, iterator: top.iterator})
		}
	}

	closeIterators()

	if emitted == 0 {
		_ = w.Abort()
		return nil, "", 0, nil
	}

	if err := w.Finish(); err != nil {
		return nil, "", 0, fmt.Errorf("finish compaction output: %w", err)
	}

	if err := natomic.ReplaceFile(tmpPath, finalPath); err != nil {
		return nil, "", 0, fmt.Errorf("publish compaction output: %w", err)
	}

	reader, err := sst.Open(finalPath, m.cache)
	if err != nil {
		return nil, "", 0, fmt.Errorf("open compaction output: %w", err)
	}

	return reader, filename, emitted, nil
}

// Close closes every open SST reader across all levels.
func (m *Manager) Close() error {
	m.metadataLock.Lock()
	defer m.metadataLock.Unlock()

	var firstErr error
	for _, files := range m.levels {
		for _, fe := range files {
			if err := fe.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stats reports the number of SST files present at each level, for the
// CLI's `stats` command.
func (m *Manager) Stats() map[int]int {
	m.metadataLock.RLock()
	defer m.metadataLock.RUnlock()

	stats := make(map[int]int, len(m.levels))
	for level, files := range m.levels {
		stats[level] = len(files)
	}
	return stats
}
