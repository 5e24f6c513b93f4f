// Package cmd implements the command-line interface of txKV.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server that hosts memory, pebble and raft shards
//   - kv: Reads, writes, watches and queue operations against a shard or a local database
//   - lock: Acquires and releases locks
//   - util: Shared flags, configuration and key parsing (internal use)
//
// Every flag can also be set as an environment variable TXKV_<FLAG>
// (e.g. TXKV_LOG_LEVEL=debug), .env and .env.local are loaded on start.
//
// See txkv --help for a list of all commands.
package cmd
