// Command flashlog is an interactive REPL over an embedded flashlog
// store: put/get/delete/stats/exit.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	flashlog "github.com/Priyanshu23/FlashLogGo"
)

func main() {
	os.Exit(run())
}

func run() int {
	dataDir := flag.String("data-dir", "./flashlog-data", "root directory for the wal and sst files")
	memtableThreshold := flag.Int64("memtable-threshold", flashlog.DefaultMemtableThreshold, "bytes at which the active memtable rotates")
	l0Threshold := flag.Int("l0-threshold", flashlog.DefaultL0CompactionThreshold, "number of L0 files that triggers compaction")
	cacheEntries := flag.Int("cache-entries", flashlog.DefaultBlockCacheEntries, "maximum block cache entries")
	bloomFPP := flag.Float64("bloom-fpp", flashlog.DefaultBloomFPP, "target bloom filter false positive probability")
	flag.Parse()

	store, err := flashlog.Open(flashlog.Config{
		DataDir:               *dataDir,
		MemtableThreshold:     *memtableThreshold,
		L0CompactionThreshold: *l0Threshold,
		BlockCacheEntries:     *cacheEntries,
		BloomFPP:              *bloomFPP,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open store:", err)
		return 1
	}
	defer store.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(*dataDir, ".flashlog_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	return repl(store, line)
}

func repl(store *flashlog.Store, line *liner.State) int {
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			return 0
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "put":
			runPut(store, fields)
		case "get":
			runGet(store, fields)
		case "delete":
			runDelete(store, fields)
		case "stats":
			runStats(store)
		case "exit", "quit":
			return 0
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func runPut(store *flashlog.Store, fields []string) {
	if len(fields) != 3 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	if err := store.Put([]byte(fields[1]), []byte(fields[2])); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("OK")
}

func runGet(store *flashlog.Store, fields []string) {
	if len(fields) != 2 {
		fmt.Println("usage: get <key>")
		return
	}
	value, found, err := store.Get([]byte(fields[1]))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !found {
		fmt.Println("(nil)")
		return
	}
	fmt.Println(string(value))
}

func runDelete(store *flashlog.Store, fields []string) {
	if len(fields) != 2 {
		fmt.Println("usage: delete <key>")
		return
	}
	if err := store.Delete([]byte(fields[1])); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("OK")
}

func runStats(store *flashlog.Store) {
	stats := store.Stats()
	if len(stats) == 0 {
		fmt.Println("no sst files yet")
		return
	}
	for level, count := range stats {
		fmt.Printf("L%d: %d file(s)\n", level, count)
	}
}
