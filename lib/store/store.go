package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/store/selector"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Resources
// --------------------------------------------------------------------------

type resource interface {
	close()
}

// dbResource is an open database. The backend is closed when the resource was
// closed and the last request holding a reference released it.
type dbResource struct {
	db        db.Database
	path      string
	refs      atomic.Int64
	cancel    chan struct{}
	closeOnce sync.Once
}

func newDBResource(database db.Database, path string) *dbResource {
	r := &dbResource{db: database, path: path, cancel: make(chan struct{})}
	r.refs.Store(1)
	return r
}

// retain takes a reference, it fails once the resource is fully released
func (r *dbResource) retain() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *dbResource) release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if err := r.db.Close(); err != nil {
		log.Warningf("Closing database %q failed: %v", r.path, err)
	} else {
		log.Debugf("Database %q closed", r.path)
	}
}

// close fires the cancellation signal and drops the table reference
func (r *dbResource) close() {
	r.closeOnce.Do(func() {
		close(r.cancel)
		r.release()
	})
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

type Option func(*storeImpl)

// WithClock sets the clock used to compute expiry times and enqueue deadlines
func WithClock(now func() time.Time) Option {
	return func(s *storeImpl) {
		s.now = now
	}
}

type storeImpl struct {
	factory   DBFactory
	now       func() time.Time
	resources *xsync.MapOf[ResourceID, resource]
	nextID    atomic.Uint32
}

// New creates a store that opens databases with factory
func New(factory DBFactory, opts ...Option) IStore {
	s := &storeImpl{
		factory:   factory,
		now:       time.Now,
		resources: xsync.NewMapOf[ResourceID, resource](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *storeImpl) add(r resource) ResourceID {
	id := ResourceID(s.nextID.Add(1))
	s.resources.Store(id, r)
	return id
}

// getDB looks up a database and takes a reference on it
func (s *storeImpl) getDB(rid ResourceID) (*dbResource, error) {
	r, ok := s.resources.Load(rid)
	if !ok {
		return nil, badResource(rid)
	}
	res, ok := r.(*dbResource)
	if !ok || !res.retain() {
		return nil, badResource(rid)
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) OpenDatabase(ctx context.Context, path string) (ResourceID, error) {
	database, err := s.factory(ctx, path)
	if err != nil {
		return 0, internalError(err)
	}
	openDatabases.Inc()
	return s.add(newDBResource(database, path)), nil
}

func (s *storeImpl) Close(rid ResourceID) error {
	r, ok := s.resources.LoadAndDelete(rid)
	if !ok {
		return badResource(rid)
	}
	r.close()
	return nil
}

func (s *storeImpl) SnapshotRead(ctx context.Context, rid ResourceID, ranges []RangeRequest, consistency db.Consistency) (result [][]Entry, err error) {
	defer func(start time.Time) { observe("snapshot_read", start, err) }(time.Now())

	readRanges := make([]db.ReadRange, 0, len(ranges))
	for _, r := range ranges {
		rr, err := convertRange(r)
		if err != nil {
			return nil, err
		}
		readRanges = append(readRanges, rr)
	}

	res, err := s.getDB(rid)
	if err != nil {
		return nil, err
	}
	defer res.release()

	if err := checkReadBudget(readRanges); err != nil {
		return nil, err
	}

	outputs, err := res.db.SnapshotRead(ctx, readRanges, db.SnapshotReadOptions{Consistency: consistency})
	if err != nil {
		return nil, internalError(err)
	}

	result = make([][]Entry, len(outputs))
	for i, out := range outputs {
		result[i] = make([]Entry, 0, len(out.Entries))
		for _, e := range out.Entries {
			entry, err := decodeEntry(e)
			if err != nil {
				return nil, err
			}
			result[i] = append(result[i], entry)
		}
	}
	return result, nil
}

func (s *storeImpl) AtomicWrite(ctx context.Context, rid ResourceID, req AtomicWriteRequest) (versionstamp *string, err error) {
	defer func(start time.Time) { observe("atomic_write", start, err) }(time.Now())
	now := s.now()

	write := db.AtomicWrite{
		Checks:    make([]db.Check, 0, len(req.Checks)),
		Mutations: make([]db.Mutation, 0, len(req.Mutations)),
	}
	for _, c := range req.Checks {
		check, err := convertCheck(c)
		if err != nil {
			return nil, err
		}
		write.Checks = append(write.Checks, check)
	}
	for _, m := range req.Mutations {
		mutation, err := convertMutation(m, now)
		if err != nil {
			return nil, err
		}
		write.Mutations = append(write.Mutations, mutation)
	}

	res, err := s.getDB(rid)
	if err != nil {
		return nil, err
	}
	defer res.release()

	if len(req.Checks) > MaxChecks {
		return nil, typeError("too many checks (max %d)", MaxChecks)
	}
	if len(req.Mutations)+len(req.Enqueues) > MaxMutations {
		return nil, typeError("too many mutations (max %d)", MaxMutations)
	}

	for _, e := range req.Enqueues {
		enqueue, err := convertEnqueue(e, now)
		if err != nil {
			return nil, err
		}
		write.Enqueues = append(write.Enqueues, enqueue)
	}

	if err := checkWriteBudget(write); err != nil {
		return nil, err
	}

	commit, err := res.db.AtomicWrite(ctx, write)
	if err != nil {
		return nil, internalError(err)
	}
	if commit == nil {
		return nil, nil
	}
	vs := commit.Versionstamp.String()
	return &vs, nil
}

func (s *storeImpl) EncodeCursor(prefix, start, end, boundary keycodec.Key) (string, error) {
	sel, err := resolveSelector(prefix, start, end)
	if err != nil {
		return "", err
	}
	b, err := keycodec.Encode(boundary)
	if err != nil {
		return "", typeError("%s", err.Error())
	}
	cursor, err := selector.EncodeCursor(sel, b)
	if err != nil {
		return "", typeError("%s", err.Error())
	}
	return cursor, nil
}
