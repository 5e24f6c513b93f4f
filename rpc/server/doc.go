// Package server implements the RPC server that exposes databases over a
// transport.
//
// A server hosts any number of shards. Each shard is one db.Database:
//
//   - memory: an in-memory btree engine
//   - pebble: a pebble engine in the directory of the shard
//   - raft: a dragonboat replicated engine, all raft shards share one NodeHost
//
// Requests are decoded with the configured serializer and dispatched by an
// IRPCServerAdapter. Watches and dequeues are long polls: the server blocks at
// most WaitMs and answers Ok=false if nothing happened. Open watch streams and
// unfinished queue messages are kept per shard under numeric ids and dropped
// after two idle minutes.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeMemory},
//	    {ShardID: 200, Type: common.ShardTypePebble, Path: "/data/200"},
//	  },
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConfig{Endpoint: ":8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewGOBSerializer())
//	if err := s.Serve(); err != nil {
//	  panic(err)
//	}
//
// Request durations and error codes are recorded as VictoriaMetrics metrics.
package server
