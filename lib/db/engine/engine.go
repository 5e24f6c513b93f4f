package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage"
	"github.com/ValentinKolb/txKV/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval   = time.Second
	defaultLeaseTimeout = 30 * time.Second
)

var (
	log = logger.GetLogger("engine")

	// DefaultBackoffSchedule is used for enqueued messages without an explicit schedule (milliseconds)
	DefaultBackoffSchedule = []uint32{100, 1000, 5000, 30000, 60000}

	// ErrMessageNotFound is returned when finishing a message that is not leased (anymore)
	ErrMessageNotFound = errors.New("engine: queue message not found")
)

// --------------------------------------------------------------------------
// Core Engine structure
// --------------------------------------------------------------------------

// Engine implements db.Database on top of an ordered storage.Storage.
// Writes are serialized by a single mutex, reads use storage snapshots.
type Engine struct {
	impl  db.Implementation
	store storage.Storage
	clock func() time.Time

	// mu serializes all state changes (atomic writes, queue claims and finishes, gc)
	mu       sync.Mutex
	version  uint64        // last committed version
	queueSeq uint64        // last assigned queue message id
	leases   *util.MapHeap // message id -> lease deadline (unix ms)

	leaseTimeout time.Duration
	gcInterval   time.Duration

	watchers *broadcast // notified after every commit
	queue    *broadcast // notified when messages are enqueued or requeued

	closeOnce sync.Once
	closed    chan struct{}
	gcDone    chan struct{}
}

// Options configures the Engine
type Options struct {
	// Implementation is reported by GetInfo
	Implementation db.Implementation

	// GCInterval is the time between garbage collection runs (0 = default: 1 sec, <0 = disabled)
	GCInterval time.Duration

	// LeaseTimeout is the time a dequeued message may stay unfinished before it is redelivered (0 = default: 30 sec)
	LeaseTimeout time.Duration

	// Clock overrides time.Now
	Clock func() time.Time
}

// DefaultOptions returns the default engine options
func DefaultOptions() *Options {
	return &Options{
		Implementation: db.ImplBTree,
		GCInterval:     defaultGCInterval,
		LeaseTimeout:   defaultLeaseTimeout,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// New creates an engine on top of the given storage and restores its metadata.
// The engine takes ownership of the storage and closes it on Close.
func New(store storage.Storage, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	e := &Engine{
		impl:         opts.Implementation,
		store:        store,
		clock:        opts.Clock,
		leases:       util.NewMapHeap(),
		leaseTimeout: opts.LeaseTimeout,
		gcInterval:   opts.GCInterval,
		watchers:     newBroadcast(),
		queue:        newBroadcast(),
		closed:       make(chan struct{}),
		gcDone:       make(chan struct{}),
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.leaseTimeout <= 0 {
		e.leaseTimeout = defaultLeaseTimeout
	}
	if e.gcInterval == 0 {
		e.gcInterval = defaultGCInterval
	}
	if e.impl == "" {
		e.impl = db.ImplBTree
	}

	if err := e.restore(); err != nil {
		return nil, err
	}

	if e.gcInterval > 0 {
		go e.garbageCollector()
	} else {
		close(e.gcDone)
	}

	return e, nil
}

// restore reads the persisted counters and rebuilds the lease heap
//
// Thread-safety: must be called with e.mu held or before the engine is shared
func (e *Engine) restore() error {
	e.version, e.queueSeq = 0, 0
	e.leases = util.NewMapHeap()

	if v, err := e.store.Get(metaVersionKey); err == nil && len(v) == 8 {
		e.version = binary.BigEndian.Uint64(v)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if v, err := e.store.Get(metaQueueSeqKey); err == nil && len(v) == 8 {
		e.queueSeq = binary.BigEndian.Uint64(v)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	var scanErr error
	err := e.store.Scan([]byte{prefixRunning}, prefixEnd(prefixRunning), false, func(k, v []byte) bool {
		if len(k) != 9 {
			scanErr = errCorruptRecord
			return false
		}
		deadline, _, err := decodeRunning(v)
		if err != nil {
			scanErr = err
			return false
		}
		e.leases.Set(binary.BigEndian.Uint64(k[1:]), uint64(deadline))
		return true
	})
	if err != nil {
		return err
	}
	return scanErr
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// Version returns the last committed version
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Done is closed when the engine is closed
func (e *Engine) Done() <-chan struct{} {
	return e.closed
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func mapStorageErr(err error) error {
	if errors.Is(err, storage.ErrClosed) {
		return db.ErrClosed
	}
	return err
}

// --------------------------------------------------------------------------
// Database Interface - Features and Metadata
// --------------------------------------------------------------------------

func (e *Engine) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureSnapshotRead |
		db.FeatureAtomicWrite |
		db.FeatureWatch |
		db.FeatureQueue |
		db.FeatureExpiry |
		db.FeatureSnapshot
	return supported&feature == feature
}

// GetInfo returns statistics about the engine. Sizes are estimated from a sample.
func (e *Engine) GetInfo() db.DatabaseInfo {
	const sampleSize = 1000

	histogram := util.NewSizeHistogram()
	nowMs := toMillis(e.now())
	expiredBacklog := 0
	_ = e.store.Scan([]byte{prefixData}, prefixEnd(prefixData), false, func(k, v []byte) bool {
		histogram.AddSample(len(k) - 1 + len(v))
		if rec, err := decodeDataRecord(v); err == nil && rec.expired(nowMs) {
			expiredBacklog++
		}
		return histogram.Count() < sampleSize
	})

	queued := 0
	_ = e.store.Scan([]byte{prefixQueue}, prefixEnd(prefixQueue), false, func(_, _ []byte) bool {
		queued++
		return queued < sampleSize
	})

	e.mu.Lock()
	version, queueSeq, running := e.version, e.queueSeq, e.leases.Len()
	e.mu.Unlock()

	meta := &struct {
		Version         uint64 `json:"version"`
		QueueSeq        uint64 `json:"queue_seq"`
		QueuedMessages  int    `json:"queued_messages"`
		RunningMessages int    `json:"running_messages"`
		SampledEntries  int64  `json:"sampled_entries"`
		MedianEntrySize int    `json:"median_entry_size"`
		P99EntrySize    int    `json:"p99_entry_size"`
		ExpiredBacklog  int    `json:"expired_backlog"`
		Info            string `json:"info"`
	}{
		Version:         version,
		QueueSeq:        queueSeq,
		QueuedMessages:  queued,
		RunningMessages: running,
		SampledEntries:  histogram.Count(),
		MedianEntrySize: histogram.Percentile(50),
		P99EntrySize:    histogram.Percentile(99),
		ExpiredBacklog:  expiredBacklog,
		Info:            "Entry sizes and counts are sampled from at most 1000 records.",
	}

	return db.DatabaseInfo{
		SizeBytes: int(histogram.Count()) * histogram.AverageSize(),
		DbType:    e.impl,
		SupportedFeatures: []db.Feature{
			db.FeatureSnapshotRead, db.FeatureAtomicWrite,
			db.FeatureWatch, db.FeatureQueue,
			db.FeatureExpiry, db.FeatureSnapshot,
		},
		Metadata: meta,
	}
}

// Close stops the garbage collector, ends all watch streams and pending dequeues and closes the storage
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		<-e.gcDone

		e.mu.Lock()
		defer e.mu.Unlock()
		err = e.store.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Broadcast
// --------------------------------------------------------------------------

// broadcast wakes up all waiters at once by closing the current channel
type broadcast struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcast() *broadcast {
	return &broadcast{ch: make(chan struct{})}
}

// wait returns a channel that is closed on the next notify
func (b *broadcast) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcast) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}

// sleep waits for d, a broadcast, ctx or engine close. It returns the ctx error or db.ErrClosed.
func (e *Engine) sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closed:
		return db.ErrClosed
	}
}
