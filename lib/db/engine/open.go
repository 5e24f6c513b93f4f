package engine

import (
	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage/btree"
	"github.com/ValentinKolb/txKV/lib/db/storage/pebble"
)

// NewInMemory creates an engine on an in-memory btree storage
func NewInMemory(opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Implementation = db.ImplBTree

	// restore can not fail on an empty in-memory store
	e, err := New(btree.New(), opts)
	if err != nil {
		panic(err)
	}
	return e
}

// OpenPebble creates an engine on a pebble storage at path
func OpenPebble(path string, opts *Options, pebbleOpts ...pebble.Option) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Implementation = db.ImplPebble

	store, err := pebble.Open(path, pebbleOpts...)
	if err != nil {
		return nil, err
	}
	e, err := New(store, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}
