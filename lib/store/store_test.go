package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(parts ...keycodec.KeyPart) keycodec.Key {
	return parts
}

func u64(v uint64) *db.Value {
	val := db.U64Value(v)
	return &val
}

func openMemory(t *testing.T, opts ...Option) (IStore, ResourceID) {
	t.Helper()
	s := New(DefaultFactory, opts...)
	rid, err := s.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(rid) })
	return s, rid
}

func set(t *testing.T, s IStore, rid ResourceID, k keycodec.Key, v uint64) string {
	t.Helper()
	vs, err := s.AtomicWrite(context.Background(), rid, AtomicWriteRequest{
		Mutations: []MutationRequest{{Key: k, Kind: "set", Value: u64(v)}},
	})
	require.NoError(t, err)
	require.NotNil(t, vs)
	return *vs
}

func read(t *testing.T, s IStore, rid ResourceID, r RangeRequest) []Entry {
	t.Helper()
	res, err := s.SnapshotRead(context.Background(), rid, []RangeRequest{r}, db.ConsistencyStrong)
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func requireTypeError(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, IsTypeError(err), "expected type error, got %v", err)
	assert.Equal(t, msg, err.Error())
}

// --------------------------------------------------------------------------
// Resources
// --------------------------------------------------------------------------

func TestOpenAndClose(t *testing.T) {
	s := New(DefaultFactory)
	rid, err := s.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)

	require.NoError(t, s.Close(rid))
	assert.True(t, IsBadResource(s.Close(rid)))

	_, err = s.SnapshotRead(context.Background(), rid, nil, db.ConsistencyStrong)
	assert.True(t, IsBadResource(err))
}

func TestWrongResourceKind(t *testing.T) {
	s, rid := openMemory(t)
	wid, err := s.Watch(rid, []keycodec.Key{key(keycodec.String("a"))})
	require.NoError(t, err)

	_, err = s.AtomicWrite(context.Background(), wid, AtomicWriteRequest{})
	assert.True(t, IsBadResource(err))

	_, _, err = s.WatchNext(context.Background(), rid)
	assert.True(t, IsBadResource(err))
}

// --------------------------------------------------------------------------
// Reads and Writes
// --------------------------------------------------------------------------

func TestWriteAndRead(t *testing.T) {
	s, rid := openMemory(t)

	first := set(t, s, rid, key(keycodec.String("user"), keycodec.NewInt(2)), 2)
	second := set(t, s, rid, key(keycodec.String("user"), keycodec.NewInt(1)), 1)
	set(t, s, rid, key(keycodec.String("other")), 3)

	assert.Len(t, first, 20)
	assert.Less(t, first, second)

	entries := read(t, s, rid, RangeRequest{Prefix: key(keycodec.String("user")), Limit: 10})
	require.Len(t, entries, 2)
	assert.Equal(t, `["user", 1n]`, entries[0].Key.String())
	assert.Equal(t, uint64(1), entries[0].Value.U64)
	assert.Equal(t, second, entries[0].Versionstamp)
	assert.Equal(t, `["user", 2n]`, entries[1].Key.String())

	reversed := read(t, s, rid, RangeRequest{Prefix: key(keycodec.String("user")), Limit: 1, Reverse: true})
	require.Len(t, reversed, 1)
	assert.Equal(t, `["user", 2n]`, reversed[0].Key.String())
}

func TestChecks(t *testing.T) {
	s, rid := openMemory(t)
	k := key(keycodec.String("k"))
	vs := set(t, s, rid, k, 1)

	// key exists, absence check fails
	res, err := s.AtomicWrite(context.Background(), rid, AtomicWriteRequest{
		Checks:    []CheckRequest{{Key: k}},
		Mutations: []MutationRequest{{Key: k, Kind: "set", Value: u64(2)}},
	})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = s.AtomicWrite(context.Background(), rid, AtomicWriteRequest{
		Checks:    []CheckRequest{{Key: k, Versionstamp: &vs}},
		Mutations: []MutationRequest{{Key: k, Kind: "sum", Value: u64(5)}},
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	entries := read(t, s, rid, RangeRequest{Start: k, Limit: 1})
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(6), entries[0].Value.U64)

	// the first versionstamp is stale now
	res, err = s.AtomicWrite(context.Background(), rid, AtomicWriteRequest{
		Checks:    []CheckRequest{{Key: k, Versionstamp: &vs}},
		Mutations: []MutationRequest{{Key: k, Kind: "delete"}},
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestPrefixExcludesPrefixKey(t *testing.T) {
	s, rid := openMemory(t)
	set(t, s, rid, key(keycodec.String("a")), 1)
	set(t, s, rid, key(keycodec.String("a"), keycodec.String("b")), 2)

	entries := read(t, s, rid, RangeRequest{Prefix: key(keycodec.String("a")), Limit: 10})
	require.Len(t, entries, 1)
	assert.Equal(t, `["a", "b"]`, entries[0].Key.String())
}

func TestExpireIn(t *testing.T) {
	// expiry is computed from the store clock, one hour in the past
	s, rid := openMemory(t, WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	expireIn := uint64(1000)

	_, err := s.AtomicWrite(context.Background(), rid, AtomicWriteRequest{
		Mutations: []MutationRequest{{Key: key(keycodec.String("gone")), Kind: "set", Value: u64(1), ExpireIn: &expireIn}},
	})
	require.NoError(t, err)

	assert.Empty(t, read(t, s, rid, RangeRequest{Start: key(keycodec.String("gone")), Limit: 1}))
}

func TestCursorPagination(t *testing.T) {
	s, rid := openMemory(t)
	prefix := key(keycodec.String("p"))
	for i := int64(0); i < 5; i++ {
		set(t, s, rid, key(keycodec.String("p"), keycodec.NewInt(i)), uint64(i))
	}

	var seen []string
	var cursor *string
	for {
		page := read(t, s, rid, RangeRequest{Prefix: prefix, Limit: 2, Cursor: cursor})
		for _, e := range page {
			seen = append(seen, e.Key.String())
		}
		if len(page) < 2 {
			break
		}
		c, err := s.EncodeCursor(prefix, nil, nil, page[len(page)-1].Key)
		require.NoError(t, err)
		cursor = &c
	}
	assert.Equal(t, []string{`["p", 0n]`, `["p", 1n]`, `["p", 2n]`, `["p", 3n]`, `["p", 4n]`}, seen)
}

func TestEncodeCursorOutsideSelector(t *testing.T) {
	s := New(DefaultFactory)
	_, err := s.EncodeCursor(key(keycodec.String("a")), nil, nil, key(keycodec.String("b")))
	requireTypeError(t, err, "invalid boundary key")
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

func TestReadValidation(t *testing.T) {
	s, rid := openMemory(t)
	all := RangeRequest{Prefix: key(keycodec.String("x")), Limit: 1}

	t.Run("limit", func(t *testing.T) {
		// validation runs before the resource lookup
		_, err := s.SnapshotRead(context.Background(), 999, []RangeRequest{{Prefix: key(keycodec.String("x"))}}, db.ConsistencyStrong)
		requireTypeError(t, err, "limit must be greater than 0")
	})

	t.Run("ranges", func(t *testing.T) {
		ranges := make([]RangeRequest, MaxReadRanges+1)
		for i := range ranges {
			ranges[i] = all
		}
		_, err := s.SnapshotRead(context.Background(), rid, ranges, db.ConsistencyStrong)
		requireTypeError(t, err, "too many ranges (max 10)")
	})

	t.Run("entries", func(t *testing.T) {
		big := all
		big.Limit = MaxReadEntries + 1
		_, err := s.SnapshotRead(context.Background(), rid, []RangeRequest{big}, db.ConsistencyStrong)
		requireTypeError(t, err, "too many entries (max 1000)")
	})

	t.Run("selector", func(t *testing.T) {
		_, err := s.SnapshotRead(context.Background(), rid, []RangeRequest{{
			Start: key(keycodec.String("b")),
			End:   key(keycodec.String("a")),
			Limit: 1,
		}}, db.ConsistencyStrong)
		requireTypeError(t, err, "start key is greater than end key")
	})
}

// payloadMutations returns set mutations whose keys and values add up to total bytes of write payload.
// Every key encodes to 5 bytes and is counted twice, once as key and once with its value.
func payloadMutations(total int) []MutationRequest {
	var out []MutationRequest
	for i := 0; total > 0; i++ {
		size := min(MaxValueSizeBytes, total-10)
		out = append(out, MutationRequest{
			Key:   key(keycodec.String(fmt.Sprintf("%03d", i))),
			Kind:  "set",
			Value: &db.Value{Kind: db.ValueBytes, Data: make([]byte, size)},
		})
		total -= size + 10
	}
	return out
}

// maxKeyMutations returns set mutations with 40 keys of the maximum write key size (80 KiB in total)
func maxKeyMutations() []MutationRequest {
	out := make([]MutationRequest, 0, 40)
	for i := 0; i < 40; i++ {
		// tag byte + 2046 characters + terminator
		k := key(keycodec.String(strings.Repeat("k", 2043) + fmt.Sprintf("%03d", i)))
		out = append(out, MutationRequest{Key: k, Kind: "set", Value: u64(1)})
	}
	return out
}

// fullEnqueues returns 12 enqueues with payloads of the maximum value size
func fullEnqueues(extra ...EnqueueRequest) []EnqueueRequest {
	out := make([]EnqueueRequest, 0, 12+len(extra))
	for i := 0; i < 12; i++ {
		out = append(out, EnqueueRequest{Payload: make([]byte, MaxValueSizeBytes)})
	}
	return append(out, extra...)
}

func TestWriteValidation(t *testing.T) {
	k := key(keycodec.String("k"))
	short := "00"

	tests := []struct {
		name string
		req  AtomicWriteRequest
		msg  string // empty if the write is accepted
	}{
		{
			name: "versionstamp length",
			req:  AtomicWriteRequest{Checks: []CheckRequest{{Key: k, Versionstamp: &short}}},
			msg:  "invalid versionstamp length",
		},
		{
			name: "delete with value",
			req:  AtomicWriteRequest{Mutations: []MutationRequest{{Key: k, Kind: "delete", Value: u64(1)}}},
			msg:  "invalid mutation 'delete' with value",
		},
		{
			name: "set without value",
			req:  AtomicWriteRequest{Mutations: []MutationRequest{{Key: k, Kind: "set"}}},
			msg:  "invalid mutation 'set' without value",
		},
		{
			name: "empty key",
			req:  AtomicWriteRequest{Mutations: []MutationRequest{{Key: key(), Kind: "delete"}}},
			msg:  "key cannot be empty",
		},
		{
			name: "value at limit",
			req: AtomicWriteRequest{Mutations: []MutationRequest{{
				Key: k, Kind: "set", Value: &db.Value{Kind: db.ValueBytes, Data: make([]byte, MaxValueSizeBytes)},
			}}},
		},
		{
			name: "value too large",
			req: AtomicWriteRequest{Mutations: []MutationRequest{{
				Key: k, Kind: "set", Value: &db.Value{Kind: db.ValueBytes, Data: make([]byte, MaxValueSizeBytes+1)},
			}}},
			msg: "value too large (max 65536 bytes)",
		},
		{
			name: "key too large",
			req: AtomicWriteRequest{Mutations: []MutationRequest{{
				Key: key(keycodec.String(strings.Repeat("k", MaxWriteKeySizeBytes))), Kind: "delete",
			}}},
			msg: "key too large for write (max 2048 bytes)",
		},
		{
			name: "checks at limit",
			req:  AtomicWriteRequest{Checks: make([]CheckRequest, MaxChecks)},
		},
		{
			name: "too many checks",
			req:  AtomicWriteRequest{Checks: make([]CheckRequest, MaxChecks+1)},
			msg:  "too many checks (max 100)",
		},
		{
			name: "total payload at limit",
			req:  AtomicWriteRequest{Mutations: payloadMutations(MaxTotalMutationSizeBytes)},
		},
		{
			name: "total payload too large",
			req:  AtomicWriteRequest{Mutations: payloadMutations(MaxTotalMutationSizeBytes + 1)},
			msg:  "total mutation size too large (max 819200 bytes)",
		},
		{
			name: "total key size at limit",
			req:  AtomicWriteRequest{Mutations: maxKeyMutations()},
		},
		{
			name: "total key size too large",
			req: AtomicWriteRequest{Mutations: append(maxKeyMutations(),
				MutationRequest{Key: key(keycodec.NewInt(0)), Kind: "set", Value: u64(1)})},
			msg: "total key size too large (max 81920 bytes)",
		},
		{
			name: "enqueue payload at limit",
			req:  AtomicWriteRequest{Enqueues: []EnqueueRequest{{Payload: make([]byte, MaxValueSizeBytes)}}},
		},
		{
			name: "enqueue payload too large",
			req:  AtomicWriteRequest{Enqueues: []EnqueueRequest{{Payload: make([]byte, MaxValueSizeBytes+1)}}},
			msg:  "enqueue payload too large (max 65536 bytes)",
		},
		{
			// 12 * 65536 + 32760 + 2 * 4 = 819200
			name: "backoff schedule at limit",
			req: AtomicWriteRequest{Enqueues: fullEnqueues(EnqueueRequest{
				Payload: make([]byte, 32760), BackoffSchedule: []uint32{100, 200},
			})},
		},
		{
			// every backoff entry counts 4 bytes
			name: "backoff schedule too large",
			req: AtomicWriteRequest{Enqueues: fullEnqueues(EnqueueRequest{
				Payload: make([]byte, 32760), BackoffSchedule: []uint32{100, 200, 300},
			})},
			msg: "total mutation size too large (max 819200 bytes)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rid := openMemory(t)
			for i := range tt.req.Checks {
				if tt.req.Checks[i].Key == nil {
					tt.req.Checks[i].Key = key(keycodec.NewInt(int64(i)))
				}
			}
			vs, err := s.AtomicWrite(context.Background(), rid, tt.req)
			if tt.msg == "" {
				require.NoError(t, err)
				assert.NotNil(t, vs)
				return
			}
			requireTypeError(t, err, tt.msg)
		})
	}
}

func TestCountChecksAfterResourceLookup(t *testing.T) {
	s := New(DefaultFactory)
	checks := make([]CheckRequest, MaxChecks+1)
	for i := range checks {
		checks[i].Key = key(keycodec.NewInt(int64(i)))
	}
	_, err := s.AtomicWrite(context.Background(), 42, AtomicWriteRequest{Checks: checks})
	assert.True(t, IsBadResource(err))
}

// --------------------------------------------------------------------------
// Watch
// --------------------------------------------------------------------------

func TestWatch(t *testing.T) {
	s, rid := openMemory(t)
	k := key(keycodec.String("w"))

	wid, err := s.Watch(rid, []keycodec.Key{k})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, ok, err := s.WatchNext(ctx, wid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Changed)

	go func() {
		time.Sleep(20 * time.Millisecond)
		set(t, s, rid, k, 7)
	}()

	entries, ok, err = s.WatchNext(ctx, wid)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entries[0].Changed)
	require.NotNil(t, entries[0].Entry)
	assert.Equal(t, uint64(7), entries[0].Entry.Value.U64)

	require.NoError(t, s.Close(wid))
	_, _, err = s.WatchNext(ctx, wid)
	assert.True(t, IsBadResource(err))
}

func TestWatchEndsWithDatabase(t *testing.T) {
	s := New(DefaultFactory)
	rid, err := s.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)

	wid, err := s.Watch(rid, []keycodec.Key{key(keycodec.String("w"))})
	require.NoError(t, err)
	_, ok, err := s.WatchNext(context.Background(), wid)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok, _ := s.WatchNext(context.Background(), wid)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close(rid))

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after the database was closed")
	}
}

func TestWatchTooManyKeys(t *testing.T) {
	s, rid := openMemory(t)
	keys := make([]keycodec.Key, MaxWatchedKeys+1)
	for i := range keys {
		keys[i] = key(keycodec.NewInt(int64(i)))
	}
	_, err := s.Watch(rid, keys)
	requireTypeError(t, err, "too many keys (max 10)")
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

func TestQueue(t *testing.T) {
	s, rid := openMemory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.AtomicWrite(ctx, rid, AtomicWriteRequest{
		Enqueues: []EnqueueRequest{{Payload: []byte("job")}},
	})
	require.NoError(t, err)

	msg, err := s.DequeueNextMessage(ctx, rid)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "job", string(msg.Payload))

	require.NoError(t, s.FinishDequeuedMessage(ctx, msg.Handle, true))
	requireTypeError(t, s.FinishDequeuedMessage(ctx, msg.Handle, true), "Queue message not found")
}

func TestQueueDelay(t *testing.T) {
	// the store clock is frozen, the message becomes ready one second after t0
	t0 := time.Now()
	s, rid := openMemory(t, WithClock(func() time.Time { return t0 }))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.AtomicWrite(ctx, rid, AtomicWriteRequest{
		Enqueues: []EnqueueRequest{{Payload: []byte("later"), DelayMs: 1000}},
	})
	require.NoError(t, err)

	msg, err := s.DequeueNextMessage(ctx, rid)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "later", string(msg.Payload))
	// deadlines have millisecond precision
	assert.GreaterOrEqual(t, time.Since(t0), 999*time.Millisecond)

	dequeueNothing := func() {
		short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		again, err := s.DequeueNextMessage(short, rid)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, again)
	}

	// a leased message is delivered once
	dequeueNothing()

	require.NoError(t, s.FinishDequeuedMessage(ctx, msg.Handle, true))
	dequeueNothing()
}

func TestDequeueMetrics(t *testing.T) {
	s, rid := openMemory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok := metrics.GetOrCreateCounter(`txkv_requests_total{op="dequeue",result="ok"}`)
	before := ok.Get()

	_, err := s.AtomicWrite(ctx, rid, AtomicWriteRequest{Enqueues: []EnqueueRequest{{Payload: []byte("m")}}})
	require.NoError(t, err)
	msg, err := s.DequeueNextMessage(ctx, rid)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, s.FinishDequeuedMessage(ctx, msg.Handle, true))

	assert.Equal(t, before+1, ok.Get())
}

// closeTracker records when the store closes the database
type closeTracker struct {
	db.Database
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return c.Database.Close()
}

func TestMessageHandleKeepsDatabaseOpen(t *testing.T) {
	tests := []struct {
		name string
		done func(s IStore, hid ResourceID) error
	}{
		{
			name: "finish",
			done: func(s IStore, hid ResourceID) error {
				return s.FinishDequeuedMessage(context.Background(), hid, true)
			},
		},
		{
			name: "close",
			done: func(s IStore, hid ResourceID) error { return s.Close(hid) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tracked *closeTracker
			s := New(func(ctx context.Context, path string) (db.Database, error) {
				d, err := DefaultFactory(ctx, path)
				if err != nil {
					return nil, err
				}
				tracked = &closeTracker{Database: d}
				return tracked, nil
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			rid, err := s.OpenDatabase(ctx, ":memory:")
			require.NoError(t, err)
			_, err = s.AtomicWrite(ctx, rid, AtomicWriteRequest{Enqueues: []EnqueueRequest{{Payload: []byte("job")}}})
			require.NoError(t, err)
			msg, err := s.DequeueNextMessage(ctx, rid)
			require.NoError(t, err)
			require.NotNil(t, msg)

			require.NoError(t, s.Close(rid))
			assert.False(t, tracked.closed.Load())

			require.NoError(t, tt.done(s, msg.Handle))
			assert.True(t, tracked.closed.Load())
		})
	}
}

func TestDequeueUnknownDatabase(t *testing.T) {
	s := New(DefaultFactory)
	msg, err := s.DequeueNextMessage(context.Background(), 7)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestDequeueEndsWithDatabase(t *testing.T) {
	s := New(DefaultFactory)
	rid, err := s.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)

	type result struct {
		msg *DequeuedMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := s.DequeueNextMessage(context.Background(), rid)
		done <- result{msg, err}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close(rid))

	select {
	case r := <-done:
		assert.NoError(t, r.err)
		assert.Nil(t, r.msg)
	case <-time.After(5 * time.Second):
		t.Fatal("dequeue did not return after the database was closed")
	}
}

// --------------------------------------------------------------------------
// Factory
// --------------------------------------------------------------------------

func TestDefaultFactory(t *testing.T) {
	ctx := context.Background()

	memory, err := DefaultFactory(ctx, "")
	require.NoError(t, err)
	require.NoError(t, memory.Close())

	pebble, err := DefaultFactory(ctx, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, db.ImplPebble, pebble.GetInfo().DbType)
	require.NoError(t, pebble.Close())

	_, err = DefaultFactory(ctx, "raft://1")
	assert.Error(t, err)

	_, err = DefaultFactory(ctx, "tcp://localhost:1")
	assert.ErrorContains(t, err, "shard")

	_, err = DefaultFactory(ctx, "ftp://localhost")
	assert.Error(t, err)
}
