package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Recover replays dir/wal.log into apply, stopping at the first
// truncated trailing record or corrupted record. Both are non-fatal:
// partial is true, everything before that record was still applied, and
// the rest of the file is not replayed.
// A missing wal.log is not an error — it means this is a fresh store.
func Recover(dir string, apply func(rec Record)) (partial bool, err error) {
	path := filepath.Join(dir, activeFileName)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open wal file for recovery: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat wal file for recovery: %w", err)
	}

	for {
		start, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return false, fmt.Errorf("locate wal record: %w", err)
		}
		rec, decErr := Decode(f)
		switch {
		case decErr == io.EOF:
			// Decode reports a record cut short as io.EOF too; bytes left
			// after the last complete record mean the tail was truncated.
			return start < info.Size(), nil
		case decErr == ErrCorrupt:
			return true, nil
		case decErr != nil:
			return false, fmt.Errorf("decode wal record: %w", decErr)
		}
		apply(*rec)
	}
}
