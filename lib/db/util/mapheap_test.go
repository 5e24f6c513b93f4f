package util

import (
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, _, ok := mh.Peek(); ok {
		t.Error("Peek() on empty heap should return false")
	}
}

func TestSetAndPeek(t *testing.T) {
	mh := NewMapHeap()
	mh.Set(1, 100)
	mh.Set(2, 200)
	mh.Set(3, 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}

	key, prio, ok := mh.Peek()
	if !ok || key != 3 || prio != 50 {
		t.Errorf("Expected min item to be (3,50), got (%d,%d)", key, prio)
	}

	// update moves the item
	mh.Set(3, 300)
	key, _, _ = mh.Peek()
	if key != 1 {
		t.Errorf("Expected key 1 after update, got %d", key)
	}
	if p, _ := mh.Priority(3); p != 300 {
		t.Errorf("Expected priority 300, got %d", p)
	}
}

func TestRemove(t *testing.T) {
	mh := NewMapHeap()
	mh.Set(1, 10)
	mh.Set(2, 20)

	if p, ok := mh.Remove(1); !ok || p != 10 {
		t.Errorf("Remove(1) = (%d, %v), want (10, true)", p, ok)
	}
	if mh.Contains(1) {
		t.Error("Key 1 should be removed")
	}
	if _, ok := mh.Remove(1); ok {
		t.Error("Removing a missing key should return false")
	}
	if mh.Len() != 1 {
		t.Errorf("Expected length 1, got %d", mh.Len())
	}
}

func TestPopExpired(t *testing.T) {
	mh := NewMapHeap()
	for i := uint64(1); i <= 10; i++ {
		mh.Set(i, 100-i*10) // key 10 has the lowest priority
	}

	keys := mh.PopExpired(30)
	want := []uint64{10, 9, 8, 7}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %d, want %d", i, keys[i], want[i])
		}
	}
	if mh.Len() != 6 {
		t.Errorf("Expected 6 remaining items, got %d", mh.Len())
	}
	if keys := mh.PopExpired(0); len(keys) != 0 {
		t.Errorf("Expected no expired keys, got %v", keys)
	}
}
