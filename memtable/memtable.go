// Package memtable provides the concurrent in-memory ordered index
// backing the LSM store's active and immutable memtables: a skip list
// keyed by string (the raw key bytes) storing raw value bytes, plus an
// approximate byte-size counter the store uses to decide when to rotate.
package memtable

import (
	"iter"
	"sync/atomic"

	"github.com/Priyanshu23/FlashLogGo/record"
)

type ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 |
		~string
}

// Record is a single key/value pair as seen by an iterator.
type Record[K ordered, V any] struct {
	Key   K
	Value V
}

// Memtable is the LSM store's in-memory sorted index.
type Memtable struct {
	list            *SkipList[string, []byte]
	approximateSize atomic.Int64
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{list: NewSkipListMemtable[string, []byte]()}
}

// Put inserts or overwrites key's value, adjusting the approximate byte
// size by the delta between the old and new entry.
func (m *Memtable) Put(key, value []byte) {
	k := string(key)
	old, existed := m.list.Put(k, value)

	delta := int64(len(key) + len(value))
	if existed {
		delta -= int64(len(key) + len(old))
	}
	m.approximateSize.Add(delta)
}

// Delete logically deletes key by writing the tombstone sentinel; the
// LSM memtable never unsplices nodes.
func (m *Memtable) Delete(key []byte) {
	m.Put(key, record.Tombstone)
}

// Get returns key's raw stored value (which may be the tombstone
// sentinel) and whether it is present at all.
func (m *Memtable) Get(key []byte) ([]byte, bool) {
	return m.list.Get(string(key))
}

// ApproximateSize returns the running byte-size estimate (sum of key and
// value lengths across all live entries) used to trigger rotation.
func (m *Memtable) ApproximateSize() int64 {
	return m.approximateSize.Load()
}

// Len returns the number of entries, including tombstones.
func (m *Memtable) Len() int {
	return m.list.Len()
}

// All yields every entry in ascending key order, used by the SST writer
// during flush.
func (m *Memtable) All() iter.Seq[Record[string, []byte]] {
	return m.list.Iterator()
}
