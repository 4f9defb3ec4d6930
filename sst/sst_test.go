package sst

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Priyanshu23/FlashLogGo/cache"
)

func writeTestSST(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	// simple insertion sort; test inputs are small
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}

	w, err := Create(path, uint(len(entries)), 0.01)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, k := range keys {
		if err := w.Add([]byte(k), []byte(entries[k])); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0-1.sst")

	entries := map[string]string{
		"apple":      "red",
		"banana":     "yellow",
		"cherry":     "dark red",
		"dragonfuit": "spiky",
	}
	writeTestSST(t, path, entries)

	r, err := Open(path, cache.New(100))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for k, want := range entries {
		got, found, err := r.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if !found || string(got) != want {
			t.Fatalf("Get(%q) = (%q, %v), want (%q, true)", k, got, found, want)
		}
	}

	if _, found, err := r.Get([]byte("missing")); err != nil || found {
		t.Fatalf("Get(missing) = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestWriterSpansMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0-2.sst")

	entries := make(map[string]string)
	for i := 0; i < 2000; i++ {
		entries[fmt.Sprintf("key-%05d", i)] = fmt.Sprintf("value-%05d-filler-filler-filler", i)
	}
	writeTestSST(t, path, entries)

	r, err := Open(path, cache.New(1000))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 2000; i += 137 {
		k := fmt.Sprintf("key-%05d", i)
		got, found, err := r.Get([]byte(k))
		if err != nil || !found || string(got) != entries[k] {
			t.Fatalf("Get(%q) = (%q, %v, %v), want (%q, true, nil)", k, got, found, err, entries[k])
		}
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0-3.sst")
	writeTestSST(t, path, map[string]string{"a": "1"})

	// corrupt the last 8 bytes (the magic field)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	for i := len(data) - 8; i < len(data); i++ {
		data[i] = 0xFF
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupted file: %v", err)
	}

	if _, err := Open(path, cache.New(10)); err == nil {
		t.Fatalf("Open with bad magic returned no error")
	}
}

func TestFirstLastKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0-4.sst")
	writeTestSST(t, path, map[string]string{"b": "2", "a": "1", "c": "3"})

	r, err := Open(path, cache.New(10))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if string(r.FirstKey()) != "a" {
		t.Fatalf("FirstKey() = %q, want \"a\"", r.FirstKey())
	}
	if string(r.LastKey()) != "c" {
		t.Fatalf("LastKey() = %q, want \"c\"", r.LastKey())
	}
}

func TestIteratorReadsAllEntriesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0-5.sst")
	writeTestSST(t, path, map[string]string{"a": "1", "b": "2", "c": "3"})

	r, err := Open(path, cache.New(10))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	it, err := NewIterator(path, r.IndexOffset())
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	var keys []string
	for it.HasNext() {
		k, _, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		keys = append(keys, string(k))
	}

	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("iterated %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("iterated %v, want %v", keys, want)
		}
	}
}
