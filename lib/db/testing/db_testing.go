package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
)

// DBFactory is a function that creates a new, empty instance of a Database implementation
type DBFactory func() db.Database

// Snapshotter is implemented by databases that support db.FeatureSnapshot
type Snapshotter interface {
	Save(w io.Writer) error
	Load(r io.Reader) error
}

// RunDatabaseTests runs a comprehensive test suite for a Database implementation.
func RunDatabaseTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Read", func(t *testing.T) {
			testSetRead(t, factory())
		})

		t.Run("RangeScan", func(t *testing.T) {
			testRangeScan(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Checks", func(t *testing.T) {
			testChecks(t, factory())
		})

		t.Run("Versionstamps", func(t *testing.T) {
			testVersionstamps(t, factory())
		})

		t.Run("SumMinMax", func(t *testing.T) {
			testSumMinMax(t, factory())
		})

		t.Run("Expiry", func(t *testing.T) {
			testExpiry(t, factory())
		})

		t.Run("SuffixVersionstampedKey", func(t *testing.T) {
			testSuffixVersionstampedKey(t, factory())
		})

		t.Run("ConcurrentChecks", func(t *testing.T) {
			testConcurrentChecks(t, factory())
		})

		t.Run("Watch", func(t *testing.T) {
			testWatch(t, factory())
		})

		t.Run("WatchClose", func(t *testing.T) {
			testWatchClose(t, factory())
		})

		t.Run("Queue", func(t *testing.T) {
			testQueue(t, factory())
		})

		t.Run("QueueUndelivered", func(t *testing.T) {
			testQueueUndelivered(t, factory())
		})

		t.Run("DequeueAfterClose", func(t *testing.T) {
			testDequeueAfterClose(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.Database, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func set(t testing.TB, database db.Database, key string, value db.Value) db.Versionstamp {
	t.Helper()
	res, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
		Mutations: []db.Mutation{{Key: []byte(key), Kind: db.MutationSet, Value: &value}},
	})
	if err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if res == nil {
		t.Fatalf("AtomicWrite without checks returned no commit result")
	}
	return res.Versionstamp
}

func get(t testing.TB, database db.Database, key string) *db.Entry {
	t.Helper()
	entries := scan(t, database, db.ReadRange{Start: []byte(key), End: append([]byte(key), 0x00), Limit: 1})
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}

func scan(t testing.TB, database db.Database, r db.ReadRange) []db.Entry {
	t.Helper()
	out, err := database.SnapshotRead(context.Background(), []db.ReadRange{r}, db.SnapshotReadOptions{})
	if err != nil {
		t.Fatalf("SnapshotRead failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Expected 1 range output, got %d", len(out))
	}
	return out[0].Entries
}

func keysOf(entries []db.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = string(e.Key)
	}
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetRead(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite)

	vs := set(t, database, "test-key", db.BytesValue([]byte("value1")))

	entry := get(t, database, "test-key")
	if entry == nil {
		t.Fatal("Expected key to exist after set")
	}
	if entry.Value.Kind != db.ValueBytes || !bytes.Equal(entry.Value.Data, []byte("value1")) {
		t.Errorf("Unexpected value %+v", entry.Value)
	}
	if entry.Versionstamp != vs {
		t.Errorf("Expected versionstamp %s, got %s", vs, entry.Versionstamp)
	}

	set(t, database, "test-key", db.SerializedValue([]byte("value2")))
	entry = get(t, database, "test-key")
	if entry == nil || entry.Value.Kind != db.ValueSerialized || !bytes.Equal(entry.Value.Data, []byte("value2")) {
		t.Errorf("Expected overwritten value, got %+v", entry)
	}

	if get(t, database, "nonexistent-key") != nil {
		t.Error("Expected nonexistent key to be absent")
	}

	// U64 values
	set(t, database, "counter", db.U64Value(42))
	if entry := get(t, database, "counter"); entry == nil || entry.Value.Kind != db.ValueU64 || entry.Value.U64 != 42 {
		t.Errorf("Expected u64 42, got %+v", entry)
	}
}

func testRangeScan(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite)

	for _, k := range []string{"a", "b1", "b2", "b3", "c"} {
		set(t, database, k, db.BytesValue([]byte(k)))
	}

	tests := []struct {
		name string
		r    db.ReadRange
		want []string
	}{
		{"forward", db.ReadRange{Start: []byte("b"), End: []byte("c"), Limit: 10}, []string{"b1", "b2", "b3"}},
		{"reverse", db.ReadRange{Start: []byte("b"), End: []byte("c"), Limit: 10, Reverse: true}, []string{"b3", "b2", "b1"}},
		{"limit", db.ReadRange{Start: []byte("a"), End: []byte("z"), Limit: 2}, []string{"a", "b1"}},
		{"reverse limit", db.ReadRange{Start: []byte("a"), End: []byte("z"), Limit: 2, Reverse: true}, []string{"c", "b3"}},
		{"end exclusive", db.ReadRange{Start: []byte("a"), End: []byte("b2"), Limit: 10}, []string{"a", "b1"}},
		{"empty", db.ReadRange{Start: []byte("d"), End: []byte("e"), Limit: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keysOf(scan(t, database, tt.r))
			if !equalStrings(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	// multiple ranges are answered in input order
	out, err := database.SnapshotRead(context.Background(), []db.ReadRange{
		{Start: []byte("c"), End: []byte("d"), Limit: 10},
		{Start: []byte("a"), End: []byte("b"), Limit: 10},
	}, db.SnapshotReadOptions{Consistency: db.ConsistencyEventual})
	if err != nil {
		t.Fatalf("SnapshotRead failed: %v", err)
	}
	if len(out) != 2 || !equalStrings(keysOf(out[0].Entries), []string{"c"}) || !equalStrings(keysOf(out[1].Entries), []string{"a"}) {
		t.Errorf("Unexpected multi range result %+v", out)
	}
}

func testDelete(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite)

	set(t, database, "k", db.BytesValue([]byte("v")))
	_, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
		Mutations: []db.Mutation{{Key: []byte("k"), Kind: db.MutationDelete}},
	})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if get(t, database, "k") != nil {
		t.Error("Expected key to be deleted")
	}

	// deleting a missing key is not an error
	if _, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
		Mutations: []db.Mutation{{Key: []byte("missing"), Kind: db.MutationDelete}},
	}); err != nil {
		t.Errorf("Deleting a missing key failed: %v", err)
	}
}

func testChecks(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite)

	ctx := context.Background()
	value := db.BytesValue([]byte("v"))
	createIfAbsent := db.AtomicWrite{
		Checks:    []db.Check{{Key: []byte("k"), Versionstamp: nil}},
		Mutations: []db.Mutation{{Key: []byte("k"), Kind: db.MutationSet, Value: &value}},
	}

	res, err := database.AtomicWrite(ctx, createIfAbsent)
	if err != nil || res == nil {
		t.Fatalf("Expected first create to succeed, got %v, %v", res, err)
	}

	res, err = database.AtomicWrite(ctx, createIfAbsent)
	if err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if res != nil {
		t.Fatal("Expected second create to fail the check")
	}

	// a failed check writes nothing
	other := db.BytesValue([]byte("other"))
	res, err = database.AtomicWrite(ctx, db.AtomicWrite{
		Checks: []db.Check{{Key: []byte("k"), Versionstamp: nil}},
		Mutations: []db.Mutation{
			{Key: []byte("side-effect"), Kind: db.MutationSet, Value: &other},
		},
	})
	if err != nil || res != nil {
		t.Fatalf("Expected failed check, got %v, %v", res, err)
	}
	if get(t, database, "side-effect") != nil {
		t.Error("Failed atomic write must not apply mutations")
	}

	// check with the current versionstamp
	current := get(t, database, "k").Versionstamp
	res, err = database.AtomicWrite(ctx, db.AtomicWrite{
		Checks:    []db.Check{{Key: []byte("k"), Versionstamp: &current}},
		Mutations: []db.Mutation{{Key: []byte("k"), Kind: db.MutationSet, Value: &other}},
	})
	if err != nil || res == nil {
		t.Fatalf("Expected versionstamp check to succeed, got %v, %v", res, err)
	}

	// the old versionstamp is stale now
	res, err = database.AtomicWrite(ctx, db.AtomicWrite{
		Checks:    []db.Check{{Key: []byte("k"), Versionstamp: &current}},
		Mutations: []db.Mutation{{Key: []byte("k"), Kind: db.MutationSet, Value: &value}},
	})
	if err != nil || res != nil {
		t.Fatalf("Expected stale versionstamp check to fail, got %v, %v", res, err)
	}
}

func testVersionstamps(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAtomicWrite)

	var last db.Versionstamp
	for i := 0; i < 20; i++ {
		vs := set(t, database, "k", db.U64Value(uint64(i)))
		if bytes.Compare(vs[:], last[:]) <= 0 {
			t.Fatalf("Versionstamp %s is not greater than %s", vs, last)
		}
		if len(vs.String()) != 20 {
			t.Errorf("Expected 20 hex chars, got %q", vs.String())
		}
		last = vs
	}
}

func testSumMinMax(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite)

	apply := func(kind db.MutationKind, v db.Value) error {
		_, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
			Mutations: []db.Mutation{{Key: []byte("n"), Kind: kind, Value: &v}},
		})
		return err
	}

	steps := []struct {
		kind db.MutationKind
		arg  uint64
		want uint64
	}{
		{db.MutationSum, 5, 5}, // absent key starts at the operand
		{db.MutationSum, 10, 15},
		{db.MutationMin, 20, 15},
		{db.MutationMin, 3, 3},
		{db.MutationMax, 2, 3},
		{db.MutationMax, 100, 100},
		{db.MutationSum, ^uint64(0), 99}, // wraps around
	}
	for _, s := range steps {
		if err := apply(s.kind, db.U64Value(s.arg)); err != nil {
			t.Fatalf("%s(%d) failed: %v", s.kind, s.arg, err)
		}
		if e := get(t, database, "n"); e == nil || e.Value.U64 != s.want {
			t.Fatalf("After %s(%d) expected %d, got %+v", s.kind, s.arg, s.want, e)
		}
	}

	if err := apply(db.MutationSum, db.BytesValue([]byte("x"))); err == nil {
		t.Error("Expected sum with a non-U64 operand to fail")
	}

	set(t, database, "n", db.BytesValue([]byte("not a number")))
	if err := apply(db.MutationSum, db.U64Value(1)); err == nil {
		t.Error("Expected sum on a non-U64 value to fail")
	}
}

func testExpiry(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite|db.FeatureExpiry)

	past := time.Now().Add(-time.Second)
	future := time.Now().Add(time.Hour)
	v := db.BytesValue([]byte("v"))

	_, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
		Mutations: []db.Mutation{
			{Key: []byte("expired"), Kind: db.MutationSet, Value: &v, ExpireAt: &past},
			{Key: []byte("alive"), Kind: db.MutationSet, Value: &v, ExpireAt: &future},
		},
	})
	if err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	if get(t, database, "expired") != nil {
		t.Error("Expired entry must not be visible")
	}
	if get(t, database, "alive") == nil {
		t.Error("Entry that expires in the future must be visible")
	}

	// an expired entry counts as absent for checks
	res, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
		Checks:    []db.Check{{Key: []byte("expired")}},
		Mutations: []db.Mutation{{Key: []byte("expired"), Kind: db.MutationSet, Value: &v}},
	})
	if err != nil || res == nil {
		t.Errorf("Expected check on expired key to succeed, got %v, %v", res, err)
	}
}

func testSuffixVersionstampedKey(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotRead|db.FeatureAtomicWrite)

	prefix := []byte("log")
	v := db.BytesValue([]byte("entry"))
	var stamps []db.Versionstamp
	for i := 0; i < 3; i++ {
		res, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
			Mutations: []db.Mutation{{Key: prefix, Kind: db.MutationSetSuffixVersionstampedKey, Value: &v}},
		})
		if err != nil || res == nil {
			t.Fatalf("AtomicWrite failed: %v, %v", res, err)
		}
		stamps = append(stamps, res.Versionstamp)
	}

	entries := scan(t, database, db.ReadRange{Start: append(prefix, 0x00), End: append(prefix, 0xFF), Limit: 10})
	if len(entries) != 3 {
		t.Fatalf("Expected 3 suffixed keys, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Versionstamp != stamps[i] {
			t.Errorf("Entry %d: expected versionstamp %s, got %s", i, stamps[i], e.Versionstamp)
		}
		if !bytes.Contains(e.Key, []byte(stamps[i].String())) {
			t.Errorf("Entry %d: key %q does not contain the versionstamp", i, e.Key)
		}
	}
}

func testConcurrentChecks(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureAtomicWrite)

	const workers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			v := db.U64Value(uint64(i))
			res, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
				Checks:    []db.Check{{Key: []byte("race")}},
				Mutations: []db.Mutation{{Key: []byte("race"), Kind: db.MutationSet, Value: &v}},
			})
			if err != nil {
				t.Errorf("AtomicWrite failed: %v", err)
				return
			}
			if res != nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := succeeded.Load(); n != 1 {
		t.Errorf("Expected exactly one successful write, got %d", n)
	}
}

func testWatch(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureWatch|db.FeatureAtomicWrite)

	set(t, database, "a", db.U64Value(1))

	stream := database.Watch([][]byte{[]byte("a"), []byte("b")})
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// first poll: nothing changed since the watch was opened
	out, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(out) != 2 || out[0].Changed || out[1].Changed {
		t.Fatalf("Expected two unchanged outputs, got %+v", out)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		set(t, database, "b", db.U64Value(2))
	}()

	out, err = stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(out) != 2 || out[0].Changed || !out[1].Changed {
		t.Fatalf("Expected only b to change, got %+v", out)
	}
	if out[1].Entry == nil || out[1].Entry.Value.U64 != 2 {
		t.Errorf("Expected new entry for b, got %+v", out[1].Entry)
	}

	// deleting a key reports a change to absent
	if _, err := database.AtomicWrite(context.Background(), db.AtomicWrite{
		Mutations: []db.Mutation{{Key: []byte("a"), Kind: db.MutationDelete}},
	}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	out, err = stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !out[0].Changed || out[0].Entry != nil {
		t.Errorf("Expected a to change to absent, got %+v", out[0])
	}
}

func testWatchClose(t *testing.T, database db.Database) {
	requireFeature(t, database, db.FeatureWatch)

	stream := database.Watch([][]byte{[]byte("a")})
	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("First poll failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = database.Close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Expected io.EOF after close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch stream did not end after the database was closed")
	}
}

func testQueue(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureQueue|db.FeatureAtomicWrite)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.AtomicWrite(ctx, db.AtomicWrite{
		Enqueues: []db.Enqueue{
			{Payload: []byte("later"), Deadline: time.Now().Add(200 * time.Millisecond)},
			{Payload: []byte("now"), Deadline: time.Now()},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for _, want := range []string{"now", "later"} {
		handle, err := database.DequeueNextMessage(ctx)
		if err != nil || handle == nil {
			t.Fatalf("Dequeue failed: %v, %v", handle, err)
		}
		payload, err := handle.TakePayload(ctx)
		if err != nil {
			t.Fatalf("TakePayload failed: %v", err)
		}
		if string(payload) != want {
			t.Errorf("Expected payload %q, got %q", want, payload)
		}
		if err := handle.Finish(ctx, true); err != nil {
			t.Errorf("Finish failed: %v", err)
		}
	}

	// the queue is empty now
	short, cancelShort := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancelShort()
	if handle, err := database.DequeueNextMessage(short); handle != nil || err == nil {
		t.Errorf("Expected empty queue, got %v, %v", handle, err)
	}
}

func testQueueUndelivered(t *testing.T, database db.Database) {
	defer database.Close()
	requireFeature(t, database, db.FeatureQueue|db.FeatureAtomicWrite|db.FeatureSnapshotRead)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.AtomicWrite(ctx, db.AtomicWrite{
		Enqueues: []db.Enqueue{{
			Payload:           []byte("job"),
			Deadline:          time.Now(),
			KeysIfUndelivered: [][]byte{[]byte("dead-letter")},
			BackoffSchedule:   []uint32{10},
		}},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// first attempt fails, the message is redelivered after the backoff
	for attempt := 0; attempt < 2; attempt++ {
		handle, err := database.DequeueNextMessage(ctx)
		if err != nil || handle == nil {
			t.Fatalf("Dequeue attempt %d failed: %v, %v", attempt, handle, err)
		}
		if err := handle.Finish(ctx, false); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		if attempt == 0 && get(t, database, "dead-letter") != nil {
			t.Fatal("Undelivered key must not be written while retries remain")
		}
	}

	entry := get(t, database, "dead-letter")
	if entry == nil {
		t.Fatal("Expected undelivered key to be written")
	}
	if entry.Value.Kind != db.ValueSerialized || string(entry.Value.Data) != "job" {
		t.Errorf("Unexpected undelivered value %+v", entry.Value)
	}
}

func testDequeueAfterClose(t *testing.T, database db.Database) {
	requireFeature(t, database, db.FeatureQueue)

	done := make(chan struct{})
	go func() {
		defer close(done)
		handle, err := database.DequeueNextMessage(context.Background())
		if handle != nil || err != nil {
			t.Errorf("Expected (nil, nil) after close, got %v, %v", handle, err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	_ = database.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dequeue did not return after the database was closed")
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()
	requireFeature(t, source, db.FeatureSnapshot)

	snapshotter, ok := source.(Snapshotter)
	if !ok {
		t.Skip()
	}

	for _, k := range []string{"a", "b", "c"} {
		set(t, source, k, db.BytesValue([]byte(k)))
	}
	last := set(t, source, "d", db.U64Value(7))

	var buf bytes.Buffer
	if err := snapshotter.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory()
	defer target.Close()
	set(t, target, "stale", db.U64Value(1))
	if err := target.(Snapshotter).Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := keysOf(scan(t, target, db.ReadRange{Start: []byte{0x00}, End: []byte{0xFF}, Limit: 100}))
	if !equalStrings(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("Expected restored keys [a b c d], got %v", got)
	}

	// the version counter is restored as well
	next := set(t, target, "e", db.U64Value(1))
	if bytes.Compare(next[:], last[:]) <= 0 {
		t.Errorf("Versionstamp after load %s must be greater than %s", next, last)
	}
}
