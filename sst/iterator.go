package sst

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Iterator walks an SST's data-block region sequentially from its own
// private file handle. Used only by compaction, which reads every entry
// exactly once and never seeks backward.
type Iterator struct {
	f           *os.File
	offset      int64
	indexOffset int64
}

// NewIterator opens a private handle onto path and positions it at the
// start of the data-block region.
func NewIterator(path string, indexOffset int64) (*Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sst file for iteration: %w", err)
	}
	return &Iterator{f: f, indexOffset: indexOffset}, nil
}

// HasNext reports whether more data-block bytes remain.
func (it *Iterator) HasNext() bool {
	return it.offset < it.indexOffset
}

// Next reads the next (key, value) tuple.
func (it *Iterator) Next() (key, value []byte, err error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(it.f, lenBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("read key length: %w", err)
	}
	keyLen := binary.BigEndian.Uint32(lenBuf[:])
	it.offset += 4

	key = make([]byte, keyLen)
	if _, err := io.ReadFull(it.f, key); err != nil {
		return nil, nil, fmt.Errorf("read key: %w", err)
	}
	it.offset += int64(keyLen)

	if _, err := io.ReadFull(it.f, lenBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("read value length: %w", err)
	}
	valLen := binary.BigEndian.Uint32(lenBuf[:])
	it.offset += 4

	value = make([]byte, valLen)
	if _, err := io.ReadFull(it.f, value); err != nil {
		return nil, nil, fmt.Errorf("read value: %w", err)
	}
	it.offset += int64(valLen)

	return key, value, nil
}

// Close releases the iterator's file handle.
func (it *Iterator) Close() error {
	return it.f.Close()
}
