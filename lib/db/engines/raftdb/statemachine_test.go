package raftdb

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	"github.com/ValentinKolb/txKV/lib/db/engines/raftdb/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateMachine(t *testing.T) *StateMachine {
	fsm := NewStateMachine(1, 1, engine.NewInMemory(&engine.Options{GCInterval: -1}))
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

func update(t *testing.T, fsm *StateMachine, index uint64, cmd internal.Command) sm.Result {
	entries, err := fsm.Update([]sm.Entry{{Index: index, Cmd: cmd.Serialize()}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0].Result
}

func setCommand(key string, value uint64, ts time.Time) internal.Command {
	v := db.U64Value(value)
	return internal.Command{
		Type:      internal.CommandTAtomicWrite,
		Timestamp: ts.UnixMilli(),
		Write:     db.AtomicWrite{Mutations: []db.Mutation{{Key: []byte(key), Kind: db.MutationSet, Value: &v}}},
	}
}

func TestUpdateUsesLogIndexAsVersion(t *testing.T) {
	fsm := newTestStateMachine(t)

	res := update(t, fsm, 10, setCommand("k", 1, time.Now()))
	require.Equal(t, uint64(internal.ResultOK), res.Value)

	var vs db.Versionstamp
	copy(vs[:], res.Data)
	assert.Equal(t, "000000000000000a0000", vs.String())

	out, err := fsm.Lookup(internal.Query{
		Type:   internal.QueryTSnapshotRead,
		Ranges: []db.ReadRange{{Start: []byte("k"), End: []byte("k\x00"), Limit: 1}},
	})
	require.NoError(t, err)
	outputs := out.([]db.ReadRangeOutput)
	require.Len(t, outputs[0].Entries, 1)
	assert.Equal(t, vs, outputs[0].Entries[0].Versionstamp)
}

func TestUpdateCheckFailed(t *testing.T) {
	fsm := newTestStateMachine(t)
	update(t, fsm, 1, setCommand("k", 1, time.Now()))

	cmd := setCommand("k", 2, time.Now())
	cmd.Write.Checks = []db.Check{{Key: []byte("k")}}
	res := update(t, fsm, 2, cmd)
	assert.Equal(t, uint64(internal.ResultCheckFailed), res.Value)
}

func TestUpdateInvalidCommands(t *testing.T) {
	fsm := newTestStateMachine(t)

	entries, err := fsm.Update([]sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2, 3}},
		{Index: 3, Cmd: (&internal.Command{Type: 200}).Serialize()},
	})
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, uint64(internal.ResultError), e.Result.Value)
		assert.NotEmpty(t, e.Result.Data)
	}
}

func TestQueueCommands(t *testing.T) {
	fsm := newTestStateMachine(t)
	now := time.Now()

	enqueue := internal.Command{
		Type:      internal.CommandTAtomicWrite,
		Timestamp: now.UnixMilli(),
		Write: db.AtomicWrite{Enqueues: []db.Enqueue{{
			Payload: []byte("job"), Deadline: now, BackoffSchedule: []uint32{},
			KeysIfUndelivered: [][]byte{[]byte("dlq")},
		}}},
	}
	require.Equal(t, uint64(internal.ResultOK), update(t, fsm, 1, enqueue).Value)

	res := update(t, fsm, 2, internal.Command{Type: internal.CommandTClaim, Timestamp: now.UnixMilli()})
	require.Equal(t, uint64(internal.ResultOK), res.Value)
	id, payload, err := internal.DecodeClaim(res.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("job"), payload)

	// nothing left to claim
	res = update(t, fsm, 3, internal.Command{Type: internal.CommandTClaim, Timestamp: now.UnixMilli()})
	assert.Empty(t, res.Data)

	res = update(t, fsm, 4, internal.Command{Type: internal.CommandTFinish, Timestamp: now.UnixMilli(), MessageID: id})
	assert.Equal(t, uint64(internal.ResultOK), res.Value)

	res = update(t, fsm, 5, internal.Command{Type: internal.CommandTFinish, Timestamp: now.UnixMilli(), MessageID: id})
	assert.Equal(t, uint64(internal.ResultNotFound), res.Value)

	// the failed message was written to its undelivered key at the finish index
	out, err := fsm.Lookup(internal.Query{
		Type:   internal.QueryTSnapshotRead,
		Ranges: []db.ReadRange{{Start: []byte("dlq"), End: []byte("dlq\x00"), Limit: 1}},
	})
	require.NoError(t, err)
	entries := out.([]db.ReadRangeOutput)[0].Entries
	require.Len(t, entries, 1)
	assert.Equal(t, "00000000000000040000", entries[0].Versionstamp.String())
}

func TestCollectGarbageUsesCommandTime(t *testing.T) {
	fsm := newTestStateMachine(t)
	now := time.Now()

	expireAt := now.Add(time.Minute)
	cmd := setCommand("k", 1, now)
	cmd.Write.Mutations[0].ExpireAt = &expireAt
	update(t, fsm, 1, cmd)

	gc := internal.Command{Type: internal.CommandTCollectGarbage, Timestamp: now.Add(2 * time.Minute).UnixMilli()}
	require.Equal(t, uint64(internal.ResultOK), update(t, fsm, 2, gc).Value)

	info, err := fsm.Lookup(internal.Query{Type: internal.QueryTGetDBInfo})
	require.NoError(t, err)
	assert.Equal(t, db.ImplRaft, info.(db.DatabaseInfo).DbType)
	assert.Equal(t, 0, info.(db.DatabaseInfo).SizeBytes)
}

func TestSnapshotRoundTrip(t *testing.T) {
	source := newTestStateMachine(t)
	update(t, source, 1, setCommand("a", 1, time.Now()))

	ctx, err := source.PrepareSnapshot()
	require.NoError(t, err)

	// writes after PrepareSnapshot are not part of the snapshot
	update(t, source, 2, setCommand("b", 2, time.Now()))

	var buf bytes.Buffer
	require.NoError(t, source.SaveSnapshot(ctx, &buf, nil, nil))

	target := newTestStateMachine(t)
	require.NoError(t, target.RecoverFromSnapshot(&buf, nil, nil))

	out, err := target.Lookup(internal.Query{
		Type:   internal.QueryTSnapshotRead,
		Ranges: []db.ReadRange{{Start: []byte("a"), End: []byte("z"), Limit: 10}},
	})
	require.NoError(t, err)
	entries := out.([]db.ReadRangeOutput)[0].Entries
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("a"), entries[0].Key)

	// the next log index continues after the snapshot
	res := update(t, target, 2, setCommand("b", 2, time.Now()))
	assert.Equal(t, uint64(internal.ResultOK), res.Value)
}

func TestLookupInvalidQuery(t *testing.T) {
	fsm := newTestStateMachine(t)
	_, err := fsm.Lookup("not a query")
	assert.Error(t, err)
}
