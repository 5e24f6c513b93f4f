package raftdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	"github.com/ValentinKolb/txKV/lib/db/engines/raftdb/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries = 5
	log     = logger.GetLogger("raftdb")
)

// Options configures a raft backed database
type Options struct {
	// Timeout bounds every proposal and linearizable read
	Timeout time.Duration

	// GCInterval is the time between garbage collection proposals of the leader (0 = 1 sec)
	GCInterval time.Duration

	// NewEngine creates the local engine of the replica (nil = in-memory btree engine)
	NewEngine EngineFactory
}

// DB implements db.Database on top of a dragonboat shard.
// Writes and queue transitions are proposed to the shard, reads use SyncRead or StaleRead.
// Watches and dequeue wake-ups are served from the local replica.
type DB struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	replicaID uint64
	cs        *client.Session
	timeout   time.Duration

	newEngine EngineFactory
	local     atomic.Pointer[engine.Engine]
	ready     chan struct{}
	readyOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
	gcDone    chan struct{}
}

// Start starts a replica of the shard on the node host and returns the database on top of it.
// cfg.ShardID and cfg.ReplicaID select the replica.
func Start(nh *dragonboat.NodeHost, members map[uint64]string, join bool, cfg config.Config, opts Options) (*DB, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = time.Second
	}
	if opts.NewEngine == nil {
		opts.NewEngine = func(_, _ uint64) (*engine.Engine, error) {
			return engine.NewInMemory(&engine.Options{GCInterval: -1}), nil
		}
	}

	d := &DB{
		nh:        nh,
		shardID:   cfg.ShardID,
		replicaID: cfg.ReplicaID,
		cs:        nh.GetNoOPSession(cfg.ShardID),
		timeout:   opts.Timeout,
		newEngine: opts.NewEngine,
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
		gcDone:    make(chan struct{}),
	}

	if err := nh.StartConcurrentReplica(members, join, d.createStateMachine, cfg); err != nil {
		return nil, fmt.Errorf("failed to start shard %d: %w", cfg.ShardID, err)
	}

	go d.garbageCollector(opts.GCInterval)
	return d, nil
}

// createStateMachine is the dragonboat state machine factory of the shard
func (d *DB) createStateMachine(shardID, replicaID uint64) sm.IConcurrentStateMachine {
	e, err := d.newEngine(shardID, replicaID)
	if err != nil {
		log.Panicf("failed to create engine for shard %d replica %d: %v", shardID, replicaID, err)
	}
	d.local.Store(e)
	d.readyOnce.Do(func() { close(d.ready) })
	return NewStateMachine(shardID, replicaID, e)
}

// localEngine waits until the state machine was created
func (d *DB) localEngine(ctx context.Context) (*engine.Engine, error) {
	select {
	case <-d.ready:
		return d.local.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closed:
		return nil, db.ErrClosed
	}
}

func (d *DB) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// propose sends a command via SyncPropose and retries while the system is busy
func (d *DB) propose(ctx context.Context, cmd internal.Command) (sm.Result, error) {
	if d.isClosed() {
		return sm.Result{}, db.ErrClosed
	}
	cmd.Timestamp = time.Now().UnixMilli()
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		res, err := d.nh.SyncPropose(pctx, d.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(d.timeout / 10)
			continue
		}
		if err != nil {
			return sm.Result{}, err
		}
		if internal.ResultCode(res.Value) == internal.ResultError {
			return res, errors.New(string(res.Data))
		}
		return res, nil
	}
	return sm.Result{}, fmt.Errorf("proposal to shard %d timed out", d.shardID)
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// Strong reads use SyncRead, eventual reads use the faster StaleRead on the local replica.
func read[R any](ctx context.Context, d *DB, q internal.Query, stale bool) (R, error) {
	var zero R
	if d.isClosed() {
		return zero, db.ErrClosed
	}
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if stale {
			res, err = d.nh.StaleRead(d.shardID, q)
		} else {
			rctx, cancel := context.WithTimeout(ctx, d.timeout)
			res, err = d.nh.SyncRead(rctx, d.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(d.timeout / 10)
			continue
		}
		if err != nil {
			return zero, err
		}

		casted, ok := res.(R)
		if !ok {
			return zero, fmt.Errorf("unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, fmt.Errorf("read from shard %d timed out", d.shardID)
}

// --------------------------------------------------------------------------
// Interface Methods (docs see db/db.go)
// --------------------------------------------------------------------------

func (d *DB) SnapshotRead(ctx context.Context, ranges []db.ReadRange, opts db.SnapshotReadOptions) ([]db.ReadRangeOutput, error) {
	return read[[]db.ReadRangeOutput](ctx, d, internal.Query{
		Type:   internal.QueryTSnapshotRead,
		Ranges: ranges,
	}, opts.Consistency == db.ConsistencyEventual)
}

func (d *DB) AtomicWrite(ctx context.Context, w db.AtomicWrite) (*db.CommitResult, error) {
	res, err := d.propose(ctx, internal.Command{Type: internal.CommandTAtomicWrite, Write: w})
	if err != nil {
		return nil, err
	}
	if internal.ResultCode(res.Value) == internal.ResultCheckFailed {
		return nil, nil
	}
	if len(res.Data) != db.VersionstampSize {
		return nil, fmt.Errorf("invalid commit result of length %d", len(res.Data))
	}
	var out db.CommitResult
	copy(out.Versionstamp[:], res.Data)
	return &out, nil
}

// Watch watches the keys on the local replica. Changes become visible once the replica applied them.
func (d *DB) Watch(keys [][]byte) db.WatchStream {
	select {
	case <-d.ready:
		return d.local.Load().Watch(keys)
	default:
		return endedStream{}
	}
}

// DequeueNextMessage proposes claims until a message is leased.
// Between attempts it waits on the local replica for messages to become ready.
func (d *DB) DequeueNextMessage(ctx context.Context) (db.QueueMessageHandle, error) {
	local, err := d.localEngine(ctx)
	if errors.Is(err, db.ErrClosed) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for {
		res, err := d.propose(ctx, internal.Command{Type: internal.CommandTClaim})
		if errors.Is(err, db.ErrClosed) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(res.Data) > 0 {
			id, payload, err := internal.DecodeClaim(res.Data)
			if err != nil {
				return nil, err
			}
			return &messageHandle{d: d, id: id, payload: payload}, nil
		}

		if err := local.WaitReady(ctx); errors.Is(err, db.ErrClosed) {
			return nil, nil
		} else if err != nil {
			return nil, err
		}
		if d.isClosed() {
			return nil, nil
		}
	}
}

func (d *DB) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureSnapshotRead |
		db.FeatureAtomicWrite |
		db.FeatureWatch |
		db.FeatureQueue |
		db.FeatureExpiry |
		db.FeatureEventualConsistency
	return supported&feature == feature
}

func (d *DB) GetInfo() db.DatabaseInfo {
	info, err := read[db.DatabaseInfo](context.Background(), d, internal.Query{Type: internal.QueryTGetDBInfo}, true)
	if err != nil {
		log.Warningf("failed to read info of shard %d: %v", d.shardID, err)
		return db.DatabaseInfo{DbType: db.ImplRaft}
	}
	return info
}

// Close stops the garbage collector and the replica of this node
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		<-d.gcDone
		err = d.nh.StopShard(d.shardID)
		if errors.Is(err, dragonboat.ErrShardNotFound) {
			err = nil
		}
	})
	return err
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// garbageCollector proposes collection runs while this replica is the leader
func (d *DB) garbageCollector(interval time.Duration) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.closed:
			return
		case <-ticker.C:
			leaderID, _, valid, err := d.nh.GetLeaderID(d.shardID)
			if err != nil || !valid || leaderID != d.replicaID {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if _, err := d.propose(ctx, internal.Command{Type: internal.CommandTCollectGarbage}); err != nil && !errors.Is(err, db.ErrClosed) {
				log.Warningf("garbage collection proposal for shard %d failed: %v", d.shardID, err)
			}
			cancel()
		}
	}
}

// --------------------------------------------------------------------------
// Queue handles and streams
// --------------------------------------------------------------------------

type messageHandle struct {
	d       *DB
	id      uint64
	payload []byte
}

func (h *messageHandle) TakePayload(_ context.Context) ([]byte, error) {
	return h.payload, nil
}

func (h *messageHandle) Finish(ctx context.Context, success bool) error {
	res, err := h.d.propose(ctx, internal.Command{Type: internal.CommandTFinish, MessageID: h.id, Success: success})
	if err != nil {
		return err
	}
	if internal.ResultCode(res.Value) == internal.ResultNotFound {
		return engine.ErrMessageNotFound
	}
	return nil
}

// endedStream is returned for watches opened before the replica is ready
type endedStream struct{}

func (endedStream) Next(context.Context) ([]db.WatchKeyOutput, error) { return nil, io.EOF }
func (endedStream) Close() error                                      { return nil }
