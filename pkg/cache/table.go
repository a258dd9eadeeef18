package cache

import (
	"iter"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	minTagFilterCapacity   = 64
	tagFilterFalsePositive = 0.01
)

// table holds the entries of one scope. Lookups by key go through `index`; scans walk `order`, which keeps the
// insertion order of keys. Overwriting a key keeps its original position.
// NOTE: table is not thread-safe; the owning Store guards it.
type table struct {
	index map[string]*linkedListNode[*entry]
	order linkedList[*entry]
	// tags answers "is there any entry with this type tag" with no false negatives. Removals don't clear bits, so the
	// filter only grows stale towards false positives until the next rebuild.
	tags *bloom.BloomFilter
}

func newTable() *table {
	return &table{
		index: make(map[string]*linkedListNode[*entry]),
		tags:  bloom.NewWithEstimates(minTagFilterCapacity, tagFilterFalsePositive),
	}
}

func (t *table) len() int {
	return t.order.Len()
}

func (t *table) get(key string) (*entry, bool) {
	node, exists := t.index[key]
	if !exists {
		return nil, false
	}
	return node.Value, true
}

// put inserts `e` or replaces the entry with the same key in place.
func (t *table) put(e *entry) {
	t.tags.AddString(e.typeTag)
	if node, exists := t.index[e.key]; exists {
		node.Value = e
		return
	}
	t.index[e.key] = t.order.PushBack(e)
}

// delete removes the key and reports whether it was present.
func (t *table) delete(key string) bool {
	node, exists := t.index[key]
	if !exists {
		return false
	}
	t.order.Remove(node)
	delete(t.index, key)
	return true
}

// entries yields entries in insertion order.
func (t *table) entries() iter.Seq[*entry] {
	return func(yield func(*entry) bool) {
		for node := range t.order.All() {
			if !yield(node.Value) {
				return
			}
		}
	}
}

// mayHaveTag returns false only when no entry carries the given type tag.
func (t *table) mayHaveTag(typeTag string) bool {
	return t.tags.TestString(typeTag)
}

// deleteExpired removes every entry whose expiry is not after `now` and returns the number of removed entries.
func (t *table) deleteExpired(now time.Time) int {
	removed := 0
	for node := range t.order.All() {
		if !node.Value.expiresAt.After(now) {
			t.order.Remove(node)
			delete(t.index, node.Value.key)
			removed++
		}
	}
	if removed > 0 {
		t.rebuildTags()
	}
	return removed
}

// rebuildTags drops stale type tags from the filter, resizing it for the current entry count.
func (t *table) rebuildTags() {
	t.tags = bloom.NewWithEstimates(uint(max(minTagFilterCapacity, 2*t.len())), tagFilterFalsePositive)
	for e := range t.entries() {
		t.tags.AddString(e.typeTag)
	}
}
