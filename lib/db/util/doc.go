// Package util provides small helpers shared by the storage engines.
//
// The package contains:
//   - mapheap: a keyed min-heap used to track queue lease deadlines
//   - statistics: a SizeHistogram for reporting value size distributions
//   - functions: hash helpers for deriving stable numeric ids
package util
