package compactor

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingCompactable struct {
	calls atomic.Int64
	err   error
}

func (c *countingCompactable) Compact() error {
	c.calls.Add(1)
	return c.err
}

func TestCompactorRunsOnTickAndOnStop(t *testing.T) {
	fake := &countingCompactable{}
	c := New(fake, slog.New(slog.DiscardHandler))
	c.interval = 10 * time.Millisecond

	c.Start()
	time.Sleep(35 * time.Millisecond)
	c.Stop()

	if fake.calls.Load() < 2 {
		t.Fatalf("Compact called %d times over ~3 ticks plus final stop, want at least 2", fake.calls.Load())
	}
}

func TestCompactorSurvivesCompactError(t *testing.T) {
	fake := &countingCompactable{err: errors.New("boom")}
	c := New(fake, slog.New(slog.DiscardHandler))
	c.interval = 5 * time.Millisecond

	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	if fake.calls.Load() == 0 {
		t.Fatalf("Compact was never called")
	}
}
