package manager

import (
	"bytes"

	"github.com/Priyanshu23/FlashLogGo/sst"
)

// mergeItem is one input file's current cursor position in a k-way
// compaction merge.
type mergeItem struct {
	key      []byte
	value    []byte
	fileID   uint64
	iterator *sst.Iterator
}

// mergeHeap orders primarily by key ascending, secondarily by file ID
// descending, so when two inputs carry the same key, the newer file's
// version is popped first and the older one is recognized as a
// duplicate to discard.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].fileID > h[j].fileID
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) {
	*h = append(*h, x.(*mergeItem))
}

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
