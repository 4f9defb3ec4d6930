package flashlog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put([]byte("a"), []byte("1")))

	value, found, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", string(value))

	require.NoError(t, store.Delete([]byte("a")))

	_, found, err = store.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetMissingKey(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	err = store.Put(nil, []byte("v"))
	require.True(t, IsKind(err, KindArgNull))
}

func TestGetRejectsEmptyKey(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.Get(nil)
	require.True(t, IsKind(err, KindArgNull))
}

func TestRecoversFromWALAfterCrash(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Config{DataDir: dir})
	require.NoError(t, err)

	require.NoError(t, store.Put([]byte("a"), []byte("1")))
	require.NoError(t, store.Put([]byte("b"), []byte("2")))
	require.NoError(t, store.Delete([]byte("a")))

	// simulate a crash: no Close, so nothing beyond the WAL is durable.
	require.NoError(t, store.walWriter.Close())
	store.compactor.Stop()

	reopened, err := Open(Config{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	_, found, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found, "a was deleted before the simulated crash")

	value, found, err := reopened.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", string(value))
}

func TestMemtableRotatesAtThreshold(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir(), MemtableThreshold: 64})
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte("0123456789")))
	}

	store.switchLock.RLock()
	rotated := len(store.immutable) > 0 || store.active.Len() < 20
	store.switchLock.RUnlock()

	require.True(t, rotated, "expected at least one rotation once the memtable threshold was crossed")

	for i := 0; i < 20; i++ {
		value, found, err := store.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "0123456789", string(value))
	}
}

func TestCloseIsIdempotentAndRejectsFurtherWrites(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, store.Put([]byte("a"), []byte("1")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Put([]byte("b"), []byte("2"))
	require.True(t, IsKind(err, KindShuttingDown))
}

func TestConcurrentPutsAndGets(t *testing.T) {
	store, err := Open(Config{DataDir: t.TempDir(), MemtableThreshold: 1024})
	require.NoError(t, err)
	defer store.Close()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("key-%03d", i))
			require.NoError(t, store.Put(key, []byte(fmt.Sprintf("val-%03d", i))))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		value, found, err := store.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, fmt.Sprintf("val-%03d", i), string(value))
	}
}
