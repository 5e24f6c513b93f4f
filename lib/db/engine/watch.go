package engine

import (
	"context"
	"io"
	"sync"

	"github.com/ValentinKolb/txKV/lib/db"
)

// watchStream reports changes of a fixed set of keys.
//
// The first poll returns immediately with the changes since the stream was
// opened. Every later poll blocks until at least one key differs from what
// the previous poll reported.
type watchStream struct {
	e    *Engine
	keys [][]byte

	mu     sync.Mutex
	last   []*db.Entry
	first  bool
	err    error // set if the baseline could not be read
	closed chan struct{}
	once   sync.Once
}

// Watch opens a watch stream for the keys
func (e *Engine) Watch(keys [][]byte) db.WatchStream {
	s := &watchStream{
		e:      e,
		keys:   keys,
		first:  true,
		closed: make(chan struct{}),
	}
	s.last, s.err = e.readKeys(keys)
	return s
}

func (s *watchStream) Next(ctx context.Context) ([]db.WatchKeyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, io.EOF
	}

	for {
		select {
		case <-s.closed:
			return nil, io.EOF
		case <-s.e.closed:
			return nil, io.EOF
		default:
		}

		// take the wake channel before reading so no commit is missed
		wake := s.e.watchers.wait()

		current, err := s.e.readKeys(s.keys)
		if err == db.ErrClosed {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		outputs, changed := diff(s.last, current)
		if changed || s.first {
			s.first = false
			s.last = current
			return outputs, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, io.EOF
		case <-s.e.closed:
			return nil, io.EOF
		}
	}
}

func (s *watchStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func diff(last, current []*db.Entry) ([]db.WatchKeyOutput, bool) {
	outputs := make([]db.WatchKeyOutput, len(current))
	anyChanged := false
	for i := range current {
		if sameVersion(last[i], current[i]) {
			continue
		}
		outputs[i] = db.WatchKeyOutput{Changed: true, Entry: current[i]}
		anyChanged = true
	}
	return outputs, anyChanged
}

func sameVersion(a, b *db.Entry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Versionstamp == b.Versionstamp
}
