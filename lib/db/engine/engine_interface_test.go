package engine

import (
	"testing"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage/pebble"
	dbtesting "github.com/ValentinKolb/txKV/lib/db/testing"
)

func newPebbleInMemory(t testing.TB) db.Database {
	e, err := OpenPebble("mem", nil, pebble.WithInMemory(), pebble.WithSyncWrites(false))
	if err != nil {
		t.Fatalf("failed to open pebble engine: %v", err)
	}
	return e
}

func Test(t *testing.T) {
	dbtesting.RunDatabaseTests(t, "BTree", func() db.Database {
		return NewInMemory(nil)
	})
	dbtesting.RunDatabaseTests(t, "Pebble", func() db.Database {
		return newPebbleInMemory(t)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunDatabaseBenchmarks(b, "BTree", func() db.Database {
		return NewInMemory(nil)
	})
	dbtesting.RunDatabaseBenchmarks(b, "Pebble", func() db.Database {
		return newPebbleInMemory(b)
	})
}
