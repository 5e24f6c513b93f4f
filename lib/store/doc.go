// Package store is the request layer on top of db.Database. It hands out numeric
// resource ids for open databases, watch streams and dequeued messages, converts
// tuple keys and hex versionstamps into their byte form and enforces the request
// limits defined in limits.go before anything reaches a backend.
//
// Key Components:
//
//   - IStore Interface: The operations a host exposes to scripts: open a database,
//     read ranges from a snapshot, commit atomic writes, watch keys, and
//     dequeue and finish queue messages. Every method returns an *Error carrying
//     a RetCode, so callers can tell bad input (TypeError) from unknown
//     resources (BadResource) and backend failures (Internal).
//
//   - DBFactory: Opens a db.Database for a path. DefaultFactory maps the empty path
//     and ":memory:" to an in-memory engine, file system paths to a pebble backed
//     engine and tcp, unix, http or quic urls to a remote shard served by
//     `txkv serve`.
//
//   - Resources: Closing a database ends all of its watch streams and pending
//     dequeues. Outstanding message handles stay valid until they are finished.
//
// Example:
//
//	s := store.New(store.DefaultFactory)
//	rid, err := s.OpenDatabase(ctx, "tcp://localhost:8080?shard=1")
//	...
//	vs, err := s.AtomicWrite(ctx, rid, store.AtomicWriteRequest{
//	    Mutations: []store.MutationRequest{{Key: key, Kind: "set", Value: &value}},
//	})
package store
