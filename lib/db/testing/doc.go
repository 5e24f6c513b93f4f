// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.Database interface.
//
// The package contains:
//   - testing: A conformance suite for snapshot reads, atomic writes, watches and queues
//   - benchmark: Performance tests for measuring throughput of common database operations
//
// Implementations that support db.FeatureSnapshot and implement Snapshotter
// are additionally tested for Save/Load round trips.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.Database {
//		return engine.NewInMemory(nil)
//	}
//
//	// Running the standard test suite
//	testing.RunDatabaseTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	testing.RunDatabaseBenchmarks(b, "MyDatabase", factory)
package testing
