package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/Priyanshu23/FlashLogGo/record"
)

const activeFileName = "wal.log"

// ErrClosed is returned by Append/Rotate after Close.
var ErrClosed = errors.New("wal writer closed")

type appendRequest struct {
	rec  Record
	done chan error
}

// Writer durably appends records to a single active log file and
// supports epoch rotation. Appends are serialized through a single
// goroutine (an internal monitor): concurrent callers are ordered
// arbitrarily but atomically, and Append returns only once the record
// has been fsynced.
type Writer struct {
	dir string

	mu     sync.Mutex // guards f against concurrent Rotate/appendNow access
	f      *os.File
	closed bool

	requests chan *appendRequest
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Open opens (or creates) dir/wal.log for append and starts the writer's
// monitor goroutine.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, activeFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	w := &Writer{
		dir:      dir,
		f:        f,
		requests: make(chan *appendRequest, 256),
		shutdown: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *Writer) loop() {
	defer w.wg.Done()

	for {
		select {
		case req := <-w.requests:
			req.done <- w.appendNow(req.rec)
		case <-w.shutdown:
			w.drain()
			return
		}
	}
}

// drain services any requests queued before shutdown was signaled, so a
// writer that lost the race against Close still gets an answer rather
// than blocking forever.
func (w *Writer) drain() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.appendNow(req.rec)
		default:
			return
		}
	}
}

func (w *Writer) appendNow(rec Record) error {
	w.mu.Lock()
	f := w.f
	w.mu.Unlock()

	if err := Encode(f, rec); err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync wal file: %w", err)
	}
	return nil
}

// Append durably appends rec, returning only after it has been fsynced.
func (w *Writer) Append(rec Record) error {
	req := &appendRequest{rec: rec, done: make(chan error, 1)}

	select {
	case <-w.shutdown:
		return ErrClosed
	default:
	}

	select {
	case w.requests <- req:
		return <-req.done
	case <-w.shutdown:
		return ErrClosed
	}
}

// LogPut durably appends a PUT record.
func (w *Writer) LogPut(key, value []byte) error {
	return w.Append(Record{Op: record.OperationPut, Key: key, Value: value})
}

// LogDelete durably appends a DELETE record, tagged explicitly so
// recovery never needs to special-case a sentinel value.
func (w *Writer) LogDelete(key []byte) error {
	return w.Append(Record{Op: record.OperationDelete, Key: key})
}

// Rotate closes the current wal.log, archives it under an epoch-millis
// suffix via an atomic rename (so a crash mid-rotation can never leave a
// half-renamed file), and opens a fresh wal.log. The caller must hold its
// own memtable-switch write lock while calling Rotate, so concurrent
// rotations are impossible.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close wal file before rotation: %w", err)
	}

	activePath := filepath.Join(w.dir, activeFileName)
	archivePath := filepath.Join(w.dir, fmt.Sprintf("%s.%d", activeFileName, time.Now().UnixMilli()))

	if err := atomic.ReplaceFile(activePath, archivePath); err != nil {
		return fmt.Errorf("archive wal file: %w", err)
	}

	f, err := os.OpenFile(activePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open new wal file: %w", err)
	}
	w.f = f

	return nil
}

// Close drains any queued appends, then closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.shutdown)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
