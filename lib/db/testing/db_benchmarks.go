package testing

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
)

// RunDatabaseBenchmarks runs all benchmarks for a Database implementation
func RunDatabaseBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("SetLargeValue", func(b *testing.B) {
			benchmarkSetLargeValue(b, factory())
		})

		b.Run("SetWithExpiry", func(b *testing.B) {
			benchmarkSetWithExpiry(b, factory())
		})

		b.Run("CheckAndSet", func(b *testing.B) {
			benchmarkCheckAndSet(b, factory())
		})

		b.Run("Sum", func(b *testing.B) {
			benchmarkSum(b, factory())
		})

		b.Run("Read", func(b *testing.B) {
			benchmarkRead(b, factory())
		})

		b.Run("Scan", func(b *testing.B) {
			benchmarkScan(b, factory())
		})

		b.Run("Queue", func(b *testing.B) {
			benchmarkQueue(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func benchKey(i int64) []byte {
	return []byte(fmt.Sprintf("key-%012d", i))
}

func mustWrite(b *testing.B, database db.Database, w db.AtomicWrite) {
	if _, err := database.AtomicWrite(context.Background(), w); err != nil {
		b.Errorf("AtomicWrite failed: %v", err)
	}
}

func setMutation(key []byte, value db.Value) db.AtomicWrite {
	return db.AtomicWrite{Mutations: []db.Mutation{{Key: key, Kind: db.MutationSet, Value: &value}}}
}

// prefill writes n keys in batches of 500 mutations
func prefill(b *testing.B, database db.Database, n int64, value []byte) {
	for start := int64(0); start < n; start += 500 {
		w := db.AtomicWrite{}
		for i := start; i < start+500 && i < n; i++ {
			v := db.BytesValue(value)
			w.Mutations = append(w.Mutations, db.Mutation{Key: benchKey(i), Kind: db.MutationSet, Value: &v})
		}
		mustWrite(b, database, w)
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSet(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite)

	var counter atomic.Int64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			mustWrite(b, database, setMutation(benchKey(counter.Add(1)), db.BytesValue(value)))
		}
	})
}

func benchmarkSetLargeValue(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite)

	value := bytes.Repeat([]byte("x"), 60*1024)
	b.SetBytes(int64(len(value)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mustWrite(b, database, setMutation(benchKey(int64(i%1000)), db.BytesValue(value)))
	}
}

func benchmarkSetWithExpiry(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite|db.FeatureExpiry)

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			expireAt := time.Now().Add(time.Duration(rand.Intn(1000)+1) * time.Millisecond)
			v := db.BytesValue([]byte("expiring"))
			mustWrite(b, database, db.AtomicWrite{Mutations: []db.Mutation{{
				Key: benchKey(counter.Add(1)), Kind: db.MutationSet, Value: &v, ExpireAt: &expireAt,
			}}})
		}
	})
}

func benchmarkCheckAndSet(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite)

	key := []byte("cas")
	res, err := database.AtomicWrite(context.Background(), setMutation(key, db.U64Value(0)))
	if err != nil || res == nil {
		b.Fatalf("initial write failed: %v", err)
	}
	current := res.Versionstamp

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := db.U64Value(uint64(i))
		res, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
			Checks:    []db.Check{{Key: key, Versionstamp: &current}},
			Mutations: []db.Mutation{{Key: key, Kind: db.MutationSet, Value: &v}},
		})
		if err != nil || res == nil {
			b.Fatalf("check and set failed: %v", err)
		}
		current = res.Versionstamp
	}
}

func benchmarkSum(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			v := db.U64Value(1)
			mustWrite(b, database, db.AtomicWrite{Mutations: []db.Mutation{{
				Key: []byte("counter"), Kind: db.MutationSum, Value: &v,
			}}})
		}
	})
}

func benchmarkRead(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite|db.FeatureSnapshotRead)

	const n = 10000
	prefill(b, database, n, []byte("benchmark-value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := benchKey(r.Int63n(n))
			_, err := database.SnapshotRead(context.Background(), []db.ReadRange{
				{Start: key, End: append(key, 0x00), Limit: 1},
			}, db.SnapshotReadOptions{})
			if err != nil {
				b.Errorf("SnapshotRead failed: %v", err)
			}
		}
	})
}

func benchmarkScan(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite|db.FeatureSnapshotRead)

	const n = 10000
	prefill(b, database, n, []byte("benchmark-value"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := database.SnapshotRead(context.Background(), []db.ReadRange{
			{Start: benchKey(int64(i % (n - 100))), End: []byte("key-~"), Limit: 100, Reverse: i%2 == 0},
		}, db.SnapshotReadOptions{})
		if err != nil || len(out[0].Entries) != 100 {
			b.Fatalf("Scan failed: %v", err)
		}
	}
}

func benchmarkQueue(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite|db.FeatureQueue)

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mustWrite(b, database, db.AtomicWrite{Enqueues: []db.Enqueue{{Payload: []byte("job"), Deadline: time.Now()}}})
		handle, err := database.DequeueNextMessage(ctx)
		if err != nil || handle == nil {
			b.Fatalf("Dequeue failed: %v", err)
		}
		if err := handle.Finish(ctx, true); err != nil {
			b.Fatalf("Finish failed: %v", err)
		}
	}
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	source := factory()
	b.Cleanup(func() {
		source.Close()
	})
	requireFeature(b, source, db.FeatureSnapshot)

	snapshotter, ok := source.(Snapshotter)
	if !ok {
		b.Skip()
	}
	prefill(b, source, 10000, []byte("benchmark-value"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := snapshotter.Save(&buf); err != nil {
			b.Fatalf("Save failed: %v", err)
		}

		b.StopTimer()
		target := factory()
		b.StartTimer()

		if err := target.(Snapshotter).Load(&buf); err != nil {
			b.Fatalf("Load failed: %v", err)
		}

		b.StopTimer()
		target.Close()
		b.StartTimer()
	}
}

// Benchmark for mixed operations: 70% reads, 20% writes, 10% deletes
func benchmarkMixedUsage(b *testing.B, database db.Database) {
	b.Cleanup(func() {
		database.Close()
	})
	requireFeature(b, database, db.FeatureAtomicWrite|db.FeatureSnapshotRead)

	const n = 1000
	prefill(b, database, n, []byte("benchmark-value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := benchKey(r.Int63n(n))
			switch op := r.Intn(10); {
			case op < 7:
				_, _ = database.SnapshotRead(context.Background(), []db.ReadRange{
					{Start: key, End: append(key, 0x00), Limit: 1},
				}, db.SnapshotReadOptions{})
			case op < 9:
				mustWrite(b, database, setMutation(key, db.BytesValue([]byte("updated"))))
			default:
				mustWrite(b, database, db.AtomicWrite{Mutations: []db.Mutation{{Key: key, Kind: db.MutationDelete}}})
			}
		}
	})
}
