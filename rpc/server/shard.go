package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
)

// serverShard hosts one database together with the watch streams and
// queue messages that clients hold open on it
type serverShard struct {
	ID      uint64
	DB      db.Database
	Adapter IRPCServerAdapter

	nextID  atomic.Uint64
	watches *xsync.MapOf[uint64, *watchEntry]
	handles *xsync.MapOf[uint64, *handleEntry]
}

// watchEntry is a watch stream opened by a client
type watchEntry struct {
	stream   db.WatchStream
	lock     chan struct{} // one poll at a time
	lastUsed atomic.Int64
}

// handleEntry is a dequeued message waiting for Finish
type handleEntry struct {
	handle   db.QueueMessageHandle
	lastUsed atomic.Int64
}

func newServerShard(id uint64, database db.Database, adapter IRPCServerAdapter) *serverShard {
	return &serverShard{
		ID:      id,
		DB:      database,
		Adapter: adapter,
		watches: xsync.NewMapOf[uint64, *watchEntry](),
		handles: xsync.NewMapOf[uint64, *handleEntry](),
	}
}

// --------------------------------------------------------------------------
// Watch streams
// --------------------------------------------------------------------------

func (s *serverShard) addWatch(stream db.WatchStream) uint64 {
	id := s.nextID.Add(1)
	w := &watchEntry{stream: stream, lock: make(chan struct{}, 1)}
	w.lastUsed.Store(time.Now().UnixNano())
	s.watches.Store(id, w)
	return id
}

// acquireWatch locks the watch stream for one poll, the returned func releases it
func (s *serverShard) acquireWatch(ctx context.Context, id uint64) (*watchEntry, func(), bool) {
	w, ok := s.watches.Load(id)
	if !ok {
		return nil, nil, false
	}
	select {
	case w.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, false
	}
	w.lastUsed.Store(time.Now().UnixNano())
	return w, func() {
		w.lastUsed.Store(time.Now().UnixNano())
		<-w.lock
	}, true
}

func (s *serverShard) closeWatch(id uint64) bool {
	w, ok := s.watches.LoadAndDelete(id)
	if !ok {
		return false
	}
	_ = w.stream.Close()
	return true
}

// --------------------------------------------------------------------------
// Queue messages
// --------------------------------------------------------------------------

func (s *serverShard) addHandle(handle db.QueueMessageHandle) uint64 {
	id := s.nextID.Add(1)
	h := &handleEntry{handle: handle}
	h.lastUsed.Store(time.Now().UnixNano())
	s.handles.Store(id, h)
	return id
}

func (s *serverShard) takeHandle(id uint64) (db.QueueMessageHandle, bool) {
	h, ok := s.handles.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return h.handle, true
}

// --------------------------------------------------------------------------
// Cleanup
// --------------------------------------------------------------------------

// sweep closes watches and forgets handles that were not used for maxIdle.
// Forgotten messages are redelivered by the database once their lease expires.
func (s *serverShard) sweep(maxIdle time.Duration) (watches, handles int) {
	deadline := time.Now().Add(-maxIdle).UnixNano()

	s.watches.Range(func(id uint64, w *watchEntry) bool {
		if w.lastUsed.Load() < deadline && len(w.lock) == 0 && s.closeWatch(id) {
			watches++
		}
		return true
	})
	s.handles.Range(func(id uint64, h *handleEntry) bool {
		if h.lastUsed.Load() < deadline {
			if _, ok := s.takeHandle(id); ok {
				handles++
			}
		}
		return true
	})
	return watches, handles
}

// close closes every open watch and the database
func (s *serverShard) close() error {
	s.watches.Range(func(id uint64, _ *watchEntry) bool {
		s.closeWatch(id)
		return true
	})
	s.handles.Range(func(id uint64, _ *handleEntry) bool {
		s.handles.Delete(id)
		return true
	})
	return s.DB.Close()
}
