// Package wal implements the write-ahead log: a single active,
// append-only file of CRC-checked, length-prefixed records, rotated into
// timestamped archives as the memtable rotates, and replayed on Open to
// recover any data not yet reflected in an SST.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Priyanshu23/FlashLogGo/record"
)

// MaxEntrySize bounds a single record so a corrupt length prefix can
// never trigger an enormous allocation.
const MaxEntrySize = 16 << 20

// ErrCorrupt indicates a checksum mismatch or an internally inconsistent
// length field within an otherwise complete record.
var ErrCorrupt = errors.New("corrupt wal record")

// Record is one WAL entry: an operation tag plus key and (for PUT) value.
type Record struct {
	Op    record.Operation
	Key   []byte
	Value []byte
}

// Encode writes one record as:
//
//	CRC(4) | TOTAL_LEN(4) | TYPE(1) | KEY_LEN(4) | KEY | VAL_LEN(4) | VALUE
//
// CRC32 (IEEE) covers TOTAL_LEN and everything after it.
func Encode(w io.Writer, rec Record) error {
	keyLen := uint32(len(rec.Key))
	valLen := uint32(len(rec.Value))
	payloadLen := 1 + 4 + keyLen + 4 + valLen
	totalLen := 4 + payloadLen

	if totalLen > MaxEntrySize {
		return fmt.Errorf("wal record too large: %d bytes", totalLen)
	}

	payload := make([]byte, 0, totalLen)
	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], totalLen)
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, byte(rec.Op))

	binary.BigEndian.PutUint32(lenBuf[:], keyLen)
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, rec.Key...)

	binary.BigEndian.PutUint32(lenBuf[:], valLen)
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, rec.Value...)

	crc := crc32.ChecksumIEEE(payload)
	binary.BigEndian.PutUint32(lenBuf[:], crc)

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write wal crc: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write wal payload: %w", err)
	}
	return nil
}

// Decode reads one record. It returns io.EOF when the stream ends
// cleanly or is truncated mid-record — the latter is the
// RECOVERY_PARTIAL condition the caller stops replay at — and
// ErrCorrupt when a complete record's checksum doesn't match.
func Decode(r io.Reader) (*Record, error) {
	var storedCRC uint32
	if err := binary.Read(r, binary.BigEndian, &storedCRC); err != nil {
		return nil, cleanEOF(err)
	}

	var totalLen uint32
	if err := binary.Read(r, binary.BigEndian, &totalLen); err != nil {
		return nil, cleanEOF(err)
	}
	if totalLen > MaxEntrySize || totalLen < 5 {
		return nil, ErrCorrupt
	}

	payload := make([]byte, totalLen)
	binary.BigEndian.PutUint32(payload[0:4], totalLen)
	if _, err := io.ReadFull(r, payload[4:]); err != nil {
		return nil, cleanEOF(err)
	}

	if crc32.ChecksumIEEE(payload) != storedCRC {
		return nil, ErrCorrupt
	}

	pos := 4
	op := record.Operation(payload[pos])
	pos++

	keyLen := binary.BigEndian.Uint32(payload[pos:])
	pos += 4
	if uint32(pos)+keyLen > uint32(len(payload)) {
		return nil, ErrCorrupt
	}
	key := append([]byte(nil), payload[pos:pos+int(keyLen)]...)
	pos += int(keyLen)

	valLen := binary.BigEndian.Uint32(payload[pos:])
	pos += 4
	if uint32(pos)+valLen > uint32(len(payload)) {
		return nil, ErrCorrupt
	}
	value := append([]byte(nil), payload[pos:pos+int(valLen)]...)

	return &Record{Op: op, Key: key, Value: value}, nil
}

func cleanEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
