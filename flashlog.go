// Package flashlog is an embedded, single-node, ordered key-value store
// built as a log-structured merge tree: writes land in a durable
// write-ahead log and a concurrent skip-list memtable, which rotates
// into immutable SSTs under a background flush and compaction pipeline.
package flashlog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priyanshu23/FlashLogGo/cache"
	"github.com/Priyanshu23/FlashLogGo/compactor"
	"github.com/Priyanshu23/FlashLogGo/manager"
	"github.com/Priyanshu23/FlashLogGo/memtable"
	"github.com/Priyanshu23/FlashLogGo/record"
	"github.com/Priyanshu23/FlashLogGo/wal"
)

// Store is the public embedded LSM key-value store: Put/Get/Delete with
// read-your-writes semantics, durable via a write-ahead log, backed by a
// memtable that rotates into immutable SSTs via a background flush and
// compaction pipeline.
//
// The lock order, outer to inner, is: switchLock (here) -> the SST
// manager's metadataLock -> a skip list's own RWMutex -> the WAL
// writer's internal monitor goroutine. Every code path that needs more
// than one of these acquires them in that order.
type Store struct {
	cfg Config
	log *slog.Logger

	switchLock sync.RWMutex
	active     *memtable.Memtable
	immutable  []*memtable.Memtable // FIFO; oldest first

	walWriter *wal.Writer
	mgr       *manager.Manager
	cache     *cache.BlockCache
	compactor *compactor.Compactor

	shuttingDown atomic.Bool
	flushWake    chan struct{}
	flushStopped chan struct{}
}

// Open opens (creating if necessary) a store rooted at cfg.DataDir,
// replaying its WAL before starting the background flush and compaction
// pipeline.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.DataDir == "" {
		return nil, newErrf(KindArgNull, "data dir required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, newErr(KindIO, err)
	}

	logger := slog.Default().With("component", "flashlog", "data_dir", cfg.DataDir)

	walWriter, err := wal.Open(cfg.DataDir)
	if err != nil {
		return nil, newErr(KindIO, err)
	}

	blockCache := cache.New(cfg.BlockCacheEntries)

	mgr, err := manager.Open(manager.Options{
		Dir:                   filepath.Join(cfg.DataDir, sstDirName),
		L0CompactionThreshold: cfg.L0CompactionThreshold,
		BloomFPP:              cfg.BloomFPP,
		Cache:                 blockCache,
		Log:                   logger,
	})
	if err != nil {
		_ = walWriter.Close()
		return nil, newErr(KindIO, err)
	}

	s := &Store{
		cfg:          cfg,
		log:          logger,
		active:       memtable.New(),
		walWriter:    walWriter,
		mgr:          mgr,
		cache:        blockCache,
		flushWake:    make(chan struct{}, 1),
		flushStopped: make(chan struct{}),
	}

	partial, err := wal.Recover(cfg.DataDir, func(rec wal.Record) {
		if rec.Op == record.OperationDelete {
			s.active.Delete(rec.Key)
		} else {
			s.active.Put(rec.Key, rec.Value)
		}
	})
	if err != nil {
		_ = walWriter.Close()
		_ = mgr.Close()
		return nil, newErr(KindIO, err)
	}
	if partial {
		logger.Warn("wal recovery stopped at a truncated or corrupt record", "kind", KindRecoveryPartial.String())
	}

	s.compactor = compactor.New(mgr, logger)
	s.compactor.Start()

	go s.flushLoop()

	return s, nil
}

func (s *Store) triggerFlushCheck() {
	select {
	case s.flushWake <- struct{}{}:
	default:
	}
}

// Put durably appends key/value to the WAL, then inserts it into the
// active memtable, rotating the memtable (and the WAL) if the size
// threshold has been crossed.
func (s *Store) Put(key, value []byte) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if len(key) == 0 || value == nil {
		return ErrArgNull
	}

	s.switchLock.RLock()
	if err := s.walWriter.LogPut(key, value); err != nil {
		s.switchLock.RUnlock()
		return newErr(KindIO, err)
	}
	s.active.Put(key, value)
	needsRotate := s.active.ApproximateSize() >= s.cfg.MemtableThreshold
	s.switchLock.RUnlock()

	if needsRotate {
		return s.maybeRotate()
	}
	return nil
}

// Delete logically deletes key by appending a DELETE WAL record and
// writing the tombstone sentinel into the active memtable.
func (s *Store) Delete(key []byte) error {
	if s.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if len(key) == 0 {
		return ErrArgNull
	}

	s.switchLock.RLock()
	if err := s.walWriter.LogDelete(key); err != nil {
		s.switchLock.RUnlock()
		return newErr(KindIO, err)
	}
	s.active.Delete(key)
	needsRotate := s.active.ApproximateSize() >= s.cfg.MemtableThreshold
	s.switchLock.RUnlock()

	if needsRotate {
		return s.maybeRotate()
	}
	return nil
}

// maybeRotate upgrades to the exclusive switch lock, double-checks the
// threshold (another writer may have already rotated while this one
// waited for the lock), and if still over, enqueues the active memtable
// and installs a fresh one.
func (s *Store) maybeRotate() error {
	s.switchLock.Lock()
	defer s.switchLock.Unlock()

	if s.active.ApproximateSize() < s.cfg.MemtableThreshold {
		return nil
	}

	s.immutable = append(s.immutable, s.active)
	s.active = memtable.New()

	if err := s.walWriter.Rotate(); err != nil {
		return newErr(KindIO, err)
	}

	s.triggerFlushCheck()

	return nil
}

// Get returns key's value, consulting the active memtable, then the
// immutable queue (newest to oldest), then the SST manager. A tombstone
// found at any stage is reported as not-found.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, ErrArgNull
	}

	s.switchLock.RLock()
	defer s.switchLock.RUnlock()

	if value, ok := s.active.Get(key); ok {
		return resolveTombstone(value)
	}

	for i := len(s.immutable) - 1; i >= 0; i-- {
		if value, ok := s.immutable[i].Get(key); ok {
			return resolveTombstone(value)
		}
	}

	value, found, err := s.mgr.Get(key)
	if err != nil {
		return nil, false, newErr(KindIO, err)
	}
	if !found {
		return nil, false, nil
	}
	return resolveTombstone(value)
}

func resolveTombstone(value []byte) ([]byte, bool, error) {
	if record.IsTombstone(value) {
		return nil, false, nil
	}
	return value, true, nil
}

// flushLoop is the single-goroutine flush executor: it drains the
// immutable queue to the SST manager, sleeping briefly when there is
// nothing to do, and exits only once shutdown has been requested and the
// queue is empty.
func (s *Store) flushLoop() {
	defer close(s.flushStopped)

	for {
		mt := s.oldestImmutable()

		if mt == nil {
			if s.shuttingDown.Load() {
				return
			}
			select {
			case <-s.flushWake:
			case <-time.After(flushIdleSleep * time.Millisecond):
			}
			continue
		}

		if _, err := s.mgr.FlushMemtable(mt); err != nil {
			s.log.Error("flush failed, retrying", "err", err)
			continue
		}
		s.dropOldestImmutable()
	}
}

// oldestImmutable returns the head of the immutable queue without
// removing it, so its entries stay visible to Get while it is flushed.
func (s *Store) oldestImmutable() *memtable.Memtable {
	s.switchLock.RLock()
	defer s.switchLock.RUnlock()

	if len(s.immutable) == 0 {
		return nil
	}
	return s.immutable[0]
}

// dropOldestImmutable removes the head of the immutable queue once its
// SST has been published.
func (s *Store) dropOldestImmutable() {
	s.switchLock.Lock()
	defer s.switchLock.Unlock()
	s.immutable = s.immutable[1:]
}

// Close stops accepting writes, enqueues the active memtable for flush
// (it stays recoverable from the WAL if the flush doesn't finish in
// time), drains the flush executor, and closes the WAL writer and SST
// manager.
func (s *Store) Close() error {
	s.shuttingDown.Store(true)
	s.compactor.Stop()

	s.switchLock.Lock()
	if s.active.Len() > 0 {
		s.immutable = append(s.immutable, s.active)
		s.active = memtable.New()
	}
	s.switchLock.Unlock()

	s.triggerFlushCheck()

	ctx, cancel := context.WithTimeout(context.Background(), closeGraceSecs*time.Second)
	defer cancel()

	select {
	case <-s.flushStopped:
	case <-ctx.Done():
		s.log.Warn("flush executor did not drain before close timeout; unflushed data stays recoverable from the wal")
	}

	var firstErr error
	if err := s.walWriter.Close(); err != nil {
		firstErr = newErr(KindIO, err)
	}
	if err := s.mgr.Close(); err != nil && firstErr == nil {
		firstErr = newErr(KindIO, err)
	}

	return firstErr
}

// Stats reports per-level SST file counts, for the CLI's `stats` command.
func (s *Store) Stats() map[int]int {
	return s.mgr.Stats()
}
