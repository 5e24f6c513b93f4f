package internal

import "github.com/ValentinKolb/txKV/lib/db"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTSnapshotRead QueryType = iota // Read ranges from one snapshot.
	QueryTGetDBInfo                     // Retrieve metadata about the engine underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTSnapshotRead:
		return "SnapshotRead"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Queries are executed on the local replica and never serialized.
type Query struct {
	Type   QueryType
	Ranges []db.ReadRange // only QueryTSnapshotRead
}
