package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Priyanshu23/FlashLogGo/record"
)

func TestWriterAppendAndRecover(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := w.LogPut([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("LogPut: %v", err)
	}
	if err := w.LogPut([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("LogPut: %v", err)
	}
	if err := w.LogDelete([]byte("a")); err != nil {
		t.Fatalf("LogDelete: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []Record
	partial, err := Recover(dir, func(rec Record) {
		got = append(got, rec)
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if partial {
		t.Fatalf("Recover reported partial, want complete replay")
	}

	want := []Record{
		{Op: record.OperationPut, Key: []byte("a"), Value: []byte("1")},
		{Op: record.OperationPut, Key: []byte("b"), Value: []byte("2")},
		{Op: record.OperationDelete, Key: []byte("a")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recovered records mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterRotateArchivesAndStartsFresh(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if err := w.LogPut([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("LogPut: %v", err)
	}

	if err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if err := w.LogPut([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("LogPut after rotate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var archived, active int
	for _, e := range entries {
		if e.Name() == "wal.log" {
			active++
		} else if filepath.Ext(e.Name()) != "" {
			archived++
		}
	}

	if active != 1 {
		t.Fatalf("active wal.log count = %d, want 1", active)
	}
	if archived != 1 {
		t.Fatalf("archived file count = %d, want 1", archived)
	}

	var got []Record
	if _, err := Recover(dir, func(rec Record) { got = append(got, rec) }); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(got) != 1 || string(got[0].Key) != "b" {
		t.Fatalf("post-rotation recovery = %+v, want only key \"b\" (archived records aren't replayed)", got)
	}
}

func TestRecoverMissingWalIsNotAnError(t *testing.T) {
	dir := t.TempDir()

	partial, err := Recover(dir, func(Record) {
		t.Fatalf("apply called on a missing wal file")
	})
	if err != nil {
		t.Fatalf("Recover on missing file: %v", err)
	}
	if partial {
		t.Fatalf("Recover reported partial on a missing file")
	}
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := w.LogPut([]byte("a"), []byte("1")); err != ErrClosed {
		t.Fatalf("LogPut after Close = %v, want ErrClosed", err)
	}
}
