package store

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
)

// --------------------------------------------------------------------------
// Watch Resource
// --------------------------------------------------------------------------

// watchResource is an open watch. It ends when either the watch itself or the
// database it was opened on is closed.
type watchResource struct {
	stream    db.WatchStream
	dbCancel  <-chan struct{}
	cancel    chan struct{}
	lock      chan struct{} // serializes polls
	closeOnce sync.Once
}

func (w *watchResource) close() {
	w.closeOnce.Do(func() {
		close(w.cancel)
		if err := w.stream.Close(); err != nil {
			log.Debugf("Closing watch stream failed: %v", err)
		}
	})
}

// acquire waits for the poll lock. It returns false if the watch ended first.
func (w *watchResource) acquire(ctx context.Context) (bool, error) {
	select {
	case w.lock <- struct{}{}:
		return true, nil
	case <-w.dbCancel:
		return false, nil
	case <-w.cancel:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (w *watchResource) unlock() {
	<-w.lock
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Watch(rid ResourceID, keys []keycodec.Key) (wid ResourceID, err error) {
	defer func(start time.Time) { observe("watch", start, err) }(time.Now())

	res, err := s.getDB(rid)
	if err != nil {
		return 0, err
	}
	defer res.release()

	if len(keys) > MaxWatchedKeys {
		return 0, typeError("too many keys (max %d)", MaxWatchedKeys)
	}

	encoded := make([][]byte, 0, len(keys))
	for _, k := range keys {
		b, err := keycodec.Encode(k)
		if err != nil {
			return 0, typeError("%s", err.Error())
		}
		encoded = append(encoded, b)
	}
	for _, k := range encoded {
		if err := checkReadKeySize(k); err != nil {
			return 0, err
		}
	}

	openWatches.Inc()
	return s.add(&watchResource{
		stream:   res.db.Watch(encoded),
		dbCancel: res.cancel,
		cancel:   make(chan struct{}),
		lock:     make(chan struct{}, 1),
	}), nil
}

func (s *storeImpl) WatchNext(ctx context.Context, wid ResourceID) (entries []WatchEntry, ok bool, err error) {
	r, found := s.resources.Load(wid)
	if !found {
		return nil, false, badResource(wid)
	}
	w, isWatch := r.(*watchResource)
	if !isWatch {
		return nil, false, badResource(wid)
	}

	if locked, err := w.acquire(ctx); !locked {
		return nil, false, err
	}
	defer w.unlock()

	// the poll is cancelled by either signal
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.dbCancel:
		case <-w.cancel:
		case <-pollCtx.Done():
		}
		cancel()
	}()

	outputs, err := w.stream.Next(pollCtx)
	if errors.Is(err, io.EOF) || isSignalled(w.dbCancel) || isSignalled(w.cancel) {
		return nil, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, internalError(err)
	}

	entries = make([]WatchEntry, len(outputs))
	for i, out := range outputs {
		entries[i].Changed = out.Changed
		if out.Entry == nil {
			continue
		}
		entry, err := decodeEntry(*out.Entry)
		if err != nil {
			return nil, false, err
		}
		entries[i].Entry = &entry
	}
	return entries, true, nil
}

func isSignalled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
