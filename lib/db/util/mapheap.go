// Package util
//
// This file provides a keyed min-heap used to track deadlines.
//
// The engine uses it to track the lease deadlines of dequeued queue messages:
// the key is the message id, the priority is the lease deadline in unix
// milliseconds. Finishing a message removes it by key, the garbage collector
// pops every key whose deadline has passed.
//
// Complexity:
//   - O(log n) for Set, Remove and PopExpired (per popped item)
//   - O(1) for Peek and Contains
//
// Note: This implementation is not thread-safe, callers must synchronize.
package util

import (
	"container/heap"
	"strconv"
)

type item struct {
	Key      uint64
	Priority uint64
	index    int // maintained by the heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of (key, priority) pairs with O(1) key access
type MapHeap struct {
	items    []*item
	itemsMap map[uint64]*item
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[uint64]*item),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (h *MapHeap) Len() int { return len(h.items) }

func (h *MapHeap) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *MapHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

func (h *MapHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Keyed Operations
// --------------------------------------------------------------------------

// Set adds a key or updates the priority of an existing key
func (h *MapHeap) Set(key, priority uint64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &item{Key: key, Priority: priority})
}

// Remove removes a key and returns its priority
func (h *MapHeap) Remove(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the key with the lowest priority without removing it
func (h *MapHeap) Peek() (key, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// Contains checks if a key is in the heap
func (h *MapHeap) Contains(key uint64) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// Priority returns the priority of a key
func (h *MapHeap) Priority(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.Priority, true
}

// PopExpired removes and returns all keys with priority <= limit in priority order
func (h *MapHeap) PopExpired(limit uint64) []uint64 {
	var keys []uint64
	for len(h.items) > 0 && h.items[0].Priority <= limit {
		keys = append(keys, heap.Pop(h).(*item).Key)
	}
	return keys
}
