package serializer

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
}

func roundTrip(t *testing.T, s IRPCSerializer, msg *common.Message) common.Message {
	t.Helper()
	data, err := s.Serialize(*msg)
	require.NoError(t, err)

	var out common.Message
	require.NoError(t, s.Deserialize(data, &out))
	return out
}

func TestAtomicWriteRequest(t *testing.T) {
	deadline := time.UnixMilli(1_700_000_000_000).UTC()
	vs := db.Versionstamp{0, 0, 0, 0, 0, 0, 0, 7, 0, 0}
	write := db.AtomicWrite{
		Checks: []db.Check{{Key: []byte("a"), Versionstamp: &vs}, {Key: []byte("b")}},
		Mutations: []db.Mutation{
			{Key: []byte("a"), Kind: db.MutationSum, Value: &db.Value{Kind: db.ValueU64, U64: 1 << 60}},
			{Key: []byte("b"), Kind: db.MutationDelete},
		},
		Enqueues: []db.Enqueue{
			{Payload: []byte("default"), Deadline: deadline},
			{Payload: []byte("none"), Deadline: deadline, BackoffSchedule: []uint32{}},
			{Payload: []byte("custom"), Deadline: deadline, BackoffSchedule: []uint32{10, 20}, KeysIfUndelivered: [][]byte{[]byte("dlq")}},
		},
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, factory(), common.NewAtomicWriteRequest(write))
			require.Equal(t, common.MsgTAtomicWrite, out.MsgType)
			require.NotNil(t, out.Write)
			got := out.Write.ToAtomicWrite()

			require.Len(t, got.Checks, 2)
			require.NotNil(t, got.Checks[0].Versionstamp)
			assert.Equal(t, vs, *got.Checks[0].Versionstamp)
			assert.Nil(t, got.Checks[1].Versionstamp)

			require.Len(t, got.Mutations, 2)
			assert.Equal(t, uint64(1<<60), got.Mutations[0].Value.U64)
			assert.Nil(t, got.Mutations[1].Value)

			require.Len(t, got.Enqueues, 3)
			assert.Nil(t, got.Enqueues[0].BackoffSchedule, "default schedule")
			assert.NotNil(t, got.Enqueues[1].BackoffSchedule, "empty schedule")
			assert.Empty(t, got.Enqueues[1].BackoffSchedule)
			assert.Equal(t, []uint32{10, 20}, got.Enqueues[2].BackoffSchedule)
			assert.Equal(t, [][]byte{[]byte("dlq")}, got.Enqueues[2].KeysIfUndelivered)
			assert.True(t, deadline.Equal(got.Enqueues[2].Deadline))
		})
	}
}

func TestFailedCheckResponse(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, factory(), common.NewAtomicWriteResponse(nil, nil))
			assert.Nil(t, out.Versionstamp)
			assert.Empty(t, out.Err)
		})
	}
}

func TestErrorCodeSurvives(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, factory(), common.NewFinishResponse(db.ErrClosed))
			assert.Equal(t, common.ErrCodeClosed, out.ErrCode)
			assert.Equal(t, db.ErrClosed.Error(), out.Err)
		})
	}
}

func TestJSONUsesTypeNames(t *testing.T) {
	data, err := NewJSONSerializer().Serialize(*common.NewDequeueRequest(500))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg_type":"dequeue"`), string(data))
}

func TestDeserializeGarbage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			var msg common.Message
			assert.Error(t, factory().Deserialize([]byte("not a message"), &msg))
		})
	}
}

func TestByName(t *testing.T) {
	s, err := ByName("gob")
	require.NoError(t, err)
	assert.Equal(t, "gob", s.Name())

	_, err = ByName("binary")
	assert.Error(t, err)
}

func BenchmarkSerializers(b *testing.B) {
	entries := make([]db.Entry, 100)
	for i := range entries {
		entries[i] = db.Entry{Key: []byte("key-" + strings.Repeat("x", i%16)), Value: db.BytesValue(make([]byte, 256))}
	}
	msg := common.NewSnapshotReadResponse([]db.ReadRangeOutput{{Entries: entries}}, nil)

	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			s := factory()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				data, err := s.Serialize(*msg)
				if err != nil {
					b.Fatal(err)
				}
				var out common.Message
				if err := s.Deserialize(data, &out); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
