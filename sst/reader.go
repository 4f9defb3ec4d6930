package sst

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Priyanshu23/FlashLogGo/bloom"
	"github.com/Priyanshu23/FlashLogGo/cache"
)

// ErrCorrupt indicates a footer magic mismatch or a truncated index or
// bloom block.
var ErrCorrupt = fmt.Errorf("corrupt sst file")

// Reader provides point lookups over an immutable SST file. Concurrent
// Get calls are safe: each opens its own file handle for the block it
// needs to read, rather than sharing one seekable descriptor.
type Reader struct {
	path        string
	indexOffset int64
	bloomOffset int64
	index       []indexEntry
	bloom       *bloom.Filter
	firstKey    []byte
	lastKey     []byte
	cache       *cache.BlockCache
}

// Open reads path's footer, bloom filter, and index, and derives
// firstKey/lastKey from them. A file shorter than the fixed footer size
// is treated as empty rather than corrupt (a flush that produced zero
// entries should never be published, but Open tolerates it defensively).
func Open(path string, blockCache *cache.BlockCache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sst file: %w", err)
	}
	defer f.Close()

	r := &Reader{path: path, cache: blockCache}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat sst file: %w", err)
	}
	if info.Size() < FooterSize {
		return r, nil
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, info.Size()-FooterSize); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}

	indexOffset := int64(binary.BigEndian.Uint64(footer[0:8]))
	bloomOffset := int64(binary.BigEndian.Uint64(footer[8:16]))
	magic := binary.BigEndian.Uint64(footer[16:24])
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	r.indexOffset = indexOffset
	r.bloomOffset = bloomOffset

	if _, err := f.Seek(bloomOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek bloom filter: %w", err)
	}
	filter, _, err := bloom.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read bloom filter: %v", ErrCorrupt, err)
	}
	r.bloom = filter

	if _, err := f.Seek(indexOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek index: %w", err)
	}
	index, err := readIndex(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrCorrupt, err)
	}
	r.index = index
	if len(index) > 0 {
		r.lastKey = index[len(index)-1].lastKey
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start: %w", err)
	}
	firstKey, err := readFirstKey(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read first key: %v", ErrCorrupt, err)
	}
	r.firstKey = firstKey

	return r, nil
}

func readIndex(r io.Reader) ([]indexEntry, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}

	entries := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
			return nil, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}

		var offset int64
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, err
		}
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, err
		}

		entries = append(entries, indexEntry{lastKey: key, blockOffset: offset, blockSize: size})
	}
	return entries, nil
}

func readFirstKey(r io.Reader) ([]byte, error) {
	var keyLen uint32
	if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
		return nil, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// FirstKey and LastKey return the file's key range, or nil if empty.
func (r *Reader) FirstKey() []byte { return r.firstKey }
func (r *Reader) LastKey() []byte  { return r.lastKey }

// IndexOffset reports where the data-block region ends, for callers
// (compaction) that need to iterate the raw blocks directly.
func (r *Reader) IndexOffset() int64 { return r.indexOffset }

// Empty reports whether the file carries no usable entries.
func (r *Reader) Empty() bool {
	return r.firstKey == nil
}

func (r *Reader) blockCacheKey(offset int64) string {
	return fmt.Sprintf("%s:%d", r.path, offset)
}

func (r *Reader) fetchBlock(offset int64, size uint32) ([]byte, error) {
	return r.cache.Get(r.blockCacheKey(offset), func() ([]byte, error) {
		f, err := os.Open(r.path)
		if err != nil {
			return nil, fmt.Errorf("open sst file: %w", err)
		}
		defer f.Close()

		buf := make([]byte, size)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, fmt.Errorf("read data block: %w", err)
		}
		return buf, nil
	})
}

// Get performs a point lookup: bloom check, index binary search for the
// first block whose last key is >= key, a cache-backed block fetch, then
// a linear scan within that block.
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	if r.Empty() || r.bloom == nil || !r.bloom.MightContain(key) {
		return nil, false, nil
	}

	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].lastKey, key) >= 0
	})
	if i == len(r.index) {
		return nil, false, nil
	}

	entry := r.index[i]
	block, err := r.fetchBlock(entry.blockOffset, entry.blockSize)
	if err != nil {
		return nil, false, fmt.Errorf("fetch data block: %w", err)
	}

	return scanBlock(block, key)
}

func scanBlock(block, key []byte) ([]byte, bool, error) {
	pos := 0
	for pos < len(block) {
		if pos+4 > len(block) {
			return nil, false, fmt.Errorf("%w: truncated key length", ErrCorrupt)
		}
		keyLen := int(binary.BigEndian.Uint32(block[pos : pos+4]))
		pos += 4
		if pos+keyLen > len(block) {
			return nil, false, fmt.Errorf("%w: truncated key", ErrCorrupt)
		}
		k := block[pos : pos+keyLen]
		pos += keyLen

		if pos+4 > len(block) {
			return nil, false, fmt.Errorf("%w: truncated value length", ErrCorrupt)
		}
		valLen := int(binary.BigEndian.Uint32(block[pos : pos+4]))
		pos += 4
		if pos+valLen > len(block) {
			return nil, false, fmt.Errorf("%w: truncated value", ErrCorrupt)
		}
		v := block[pos : pos+valLen]
		pos += valLen

		if bytes.Equal(k, key) {
			out := make([]byte, len(v))
			copy(out, v)
			return out, true, nil
		}
	}
	return nil, false, nil
}

// Close invalidates this file's block-cache entries. Every Get and
// Iterator opens and closes its own handle, so there is no descriptor to
// release here; Close exists so the level map can drop an SST's cached
// blocks the moment it stops being referenced (e.g. after compaction).
func (r *Reader) Close() error {
	if r.cache != nil {
		r.cache.InvalidateFile(r.path)
	}
	return nil
}
