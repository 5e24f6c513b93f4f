package raftdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	"github.com/ValentinKolb/txKV/lib/db/engines/raftdb/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// EngineFactory creates the local engine of a replica.
// The engine must be created with garbage collection disabled, collection runs are proposed through raft.
type EngineFactory func(shardID, replicaID uint64) (*engine.Engine, error)

// StateMachine is a state machine implementation for Dragonboat RAFT
type StateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    *engine.Engine // the actual data storage
}

// NewStateMachine wraps an engine. It is exported for tests, dragonboat uses DB.createStateMachine.
func NewStateMachine(shardID, replicaID uint64, e *engine.Engine) *StateMachine {
	return &StateMachine{replicaID: replicaID, shardID: shardID, engine: e}
}

// Lookup handles read-only queries on the local engine
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, fmt.Errorf("invalid Query type: %T", itf)
	}

	switch q.Type {
	case internal.QueryTSnapshotRead:
		return fsm.engine.SnapshotRead(context.Background(), q.Ranges, db.SnapshotReadOptions{})
	case internal.QueryTGetDBInfo:
		info := fsm.engine.GetInfo()
		info.DbType = db.ImplRaft
		info.SupportedFeatures = append(info.SupportedFeatures, db.FeatureEventualConsistency)
		return info, nil
	default:
		return nil, fmt.Errorf("unknown Query operation: %s", q.Type)
	}
}

// Update applies committed commands to the engine.
// The raft log index is used as the version of every command, so all replicas produce the same versionstamps.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = errorResult("empty command ignored")
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = errorResult(fmt.Sprintf("failed to deserialize command: %v", err))
			continue
		}

		entries[idx].Result = fsm.apply(&cmd, e.Index)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *StateMachine) apply(cmd *internal.Command, index uint64) sm.Result {
	now := cmd.Time()

	switch cmd.Type {
	case internal.CommandTAtomicWrite:
		res, err := fsm.engine.Apply(cmd.Write, index, now)
		if err != nil {
			return errorResult(err.Error())
		}
		if res == nil {
			return sm.Result{Value: uint64(internal.ResultCheckFailed)}
		}
		return sm.Result{Value: uint64(internal.ResultOK), Data: res.Versionstamp[:]}

	case internal.CommandTClaim:
		msg, err := fsm.engine.Claim(index, now)
		if err != nil {
			return errorResult(err.Error())
		}
		if msg == nil {
			return sm.Result{Value: uint64(internal.ResultOK)}
		}
		return sm.Result{Value: uint64(internal.ResultOK), Data: internal.EncodeClaim(msg.ID, msg.Payload)}

	case internal.CommandTFinish:
		err := fsm.engine.Finish(cmd.MessageID, cmd.Success, index, now)
		if errors.Is(err, engine.ErrMessageNotFound) {
			return sm.Result{Value: uint64(internal.ResultNotFound)}
		}
		if err != nil {
			return errorResult(err.Error())
		}
		return sm.Result{Value: uint64(internal.ResultOK)}

	case internal.CommandTCollectGarbage:
		if err := fsm.engine.CollectGarbage(index, now); err != nil {
			return errorResult(err.Error())
		}
		return sm.Result{Value: uint64(internal.ResultOK)}

	default:
		return errorResult(fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
}

func errorResult(msg string) sm.Result {
	return sm.Result{Value: uint64(internal.ResultError), Data: []byte(msg)}
}

// PrepareSnapshot captures the engine state at the current log index
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	return fsm.engine.Checkpoint()
}

// SaveSnapshot writes the prepared checkpoint to the writer
func (fsm *StateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	cp, ok := ctx.(*engine.Checkpoint)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	defer cp.Close()
	return cp.Encode(writer)
}

// RecoverFromSnapshot replaces the engine state with the snapshot
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.engine.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *StateMachine) Close() error {
	return fsm.engine.Close()
}
