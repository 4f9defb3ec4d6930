// Package sst implements the immutable sorted-string-table file format:
// ~4KiB data blocks, a sparse block index keyed by each block's last
// key, a bloom filter over every key in the file, and a fixed 24-byte
// footer pointing at the index and filter.
//
//	[data block]... [index block] [bloom filter block] [footer]
//
//	data block  := (u32 keyLen | key | u32 valLen | value)...
//	index block := u32 count | (u32 keyLen | lastKey | u64 blockOffset | u32 blockSize)...
//	bloom block := u32 k | u32 m | u32 byteLen | bytes
//	footer      := u64 indexOffset | u64 bloomOffset | u64 magic
package sst

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/valyala/bytebufferpool"

	"github.com/Priyanshu23/FlashLogGo/bloom"
)

// Magic identifies a well-formed SST footer.
const Magic uint64 = 0x123456789ABCDEF0

// FooterSize is the fixed on-disk footer length.
const FooterSize = 24

const targetBlockSize = 4 * 1024

type indexEntry struct {
	lastKey     []byte
	blockOffset int64
	blockSize   uint32
}

// Writer streams a sorted sequence of entries into data blocks, a sparse
// index, a bloom filter, and a footer. Entries must be added in
// ascending key order.
type Writer struct {
	f      *os.File
	offset int64

	block        *bytebufferpool.ByteBuffer
	blockEntries int
	lastKey      []byte

	index []indexEntry
	bloom *bloom.Filter
}

// Create opens path for writing, sizing the bloom filter for
// expectedEntries insertions at false-positive probability fpp.
func Create(path string, expectedEntries uint, fpp float64) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sst file: %w", err)
	}

	return &Writer{
		f:     f,
		block: bytebufferpool.Get(),
		bloom: bloom.NewWithEstimates(expectedEntries, fpp),
	}, nil
}

// Add appends one entry, rotating into a new data block first if adding
// the entry would push the current non-empty block past the target size.
func (w *Writer) Add(key, value []byte) error {
	entrySize := 8 + len(key) + len(value)

	if w.blockEntries > 0 && w.block.Len()+entrySize > targetBlockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	if _, err := w.block.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("buffer key length: %w", err)
	}
	if _, err := w.block.Write(key); err != nil {
		return fmt.Errorf("buffer key: %w", err)
	}

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	if _, err := w.block.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("buffer value length: %w", err)
	}
	if _, err := w.block.Write(value); err != nil {
		return fmt.Errorf("buffer value: %w", err)
	}

	w.blockEntries++
	w.lastKey = append(w.lastKey[:0], key...)
	w.bloom.Put(key)

	return nil
}

func (w *Writer) flushBlock() error {
	if w.blockEntries == 0 {
		return nil
	}

	n, err := w.f.Write(w.block.B)
	if err != nil {
		return fmt.Errorf("write data block: %w", err)
	}

	w.index = append(w.index, indexEntry{
		lastKey:     append([]byte(nil), w.lastKey...),
		blockOffset: w.offset,
		blockSize:   uint32(n),
	})

	w.offset += int64(n)
	w.block.Reset()
	w.blockEntries = 0

	return nil
}

// HasEntries reports whether any entry has been added, including ones
// still buffered in the in-progress block.
func (w *Writer) HasEntries() bool {
	return len(w.index) > 0 || w.blockEntries > 0
}

// Finish flushes any pending block, writes the index, bloom filter, and
// footer, fsyncs, and closes the file.
func (w *Writer) Finish() error {
	defer bytebufferpool.Put(w.block)

	if err := w.flushBlock(); err != nil {
		return err
	}

	indexOffset := w.offset
	if err := w.writeIndex(); err != nil {
		return err
	}

	bloomOffset := w.offset
	n, err := w.bloom.WriteTo(w.f)
	if err != nil {
		return fmt.Errorf("write bloom filter: %w", err)
	}
	w.offset += n

	if err := w.writeFooter(indexOffset, bloomOffset); err != nil {
		return err
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync sst file: %w", err)
	}
	return w.f.Close()
}

func (w *Writer) writeIndex() error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(w.index)))
	if _, err := w.f.Write(countBuf[:]); err != nil {
		return fmt.Errorf("write index count: %w", err)
	}
	w.offset += 4

	for _, e := range w.index {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(e.lastKey)))
		if _, err := w.f.Write(hdr[:]); err != nil {
			return fmt.Errorf("write index key length: %w", err)
		}
		w.offset += 4

		if _, err := w.f.Write(e.lastKey); err != nil {
			return fmt.Errorf("write index key: %w", err)
		}
		w.offset += int64(len(e.lastKey))

		var rest [12]byte
		binary.BigEndian.PutUint64(rest[0:8], uint64(e.blockOffset))
		binary.BigEndian.PutUint32(rest[8:12], e.blockSize)
		if _, err := w.f.Write(rest[:]); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}
		w.offset += 12
	}

	return nil
}

func (w *Writer) writeFooter(indexOffset, bloomOffset int64) error {
	var footer [FooterSize]byte
	binary.BigEndian.PutUint64(footer[0:8], uint64(indexOffset))
	binary.BigEndian.PutUint64(footer[8:16], uint64(bloomOffset))
	binary.BigEndian.PutUint64(footer[16:24], Magic)

	if _, err := w.f.Write(footer[:]); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	w.offset += FooterSize
	return nil
}

// Abort discards a partially written file, used when a writer produced
// no output worth publishing (a compaction whose every entry was dropped,
// or an error mid-write).
func (w *Writer) Abort() error {
	bytebufferpool.Put(w.block)
	name := w.f.Name()
	_ = w.f.Close()
	return os.Remove(name)
}
