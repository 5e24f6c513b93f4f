// Package common provides the types shared by the rpc client, server and transports.
//
// Key Components:
//
//   - Message: The single request and response type of the protocol. Its Type
//     selects the database operation (snapshot read, atomic write, watch, dequeue,
//     ...), only the fields of that operation are set.
//
//   - Wire types: Transport friendly forms of the db package types (read ranges,
//     mutations, enqueues, watch outputs) with converters in both directions.
//
//   - ErrorCode: Errors cross the wire as a message plus a code, so the client can
//     turn them back into db.ErrClosed, io.EOF (end of a watch) and the other
//     sentinel errors the store layer checks for.
//
//   - ServerConfig and ClientConfig: Shards, Dragonboat parameters and transport
//     settings, with String() renderers for startup logs.
//
//   - Logger: InitLoggers installs a Dragonboat logger factory that writes through
//     zerolog, so Dragonboat and txKV log in the same format.
package common
