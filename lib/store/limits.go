package store

// Budgets enforced by the request layer
const (
	MaxWriteKeySizeBytes      = 2048
	MaxReadKeySizeBytes       = MaxWriteKeySizeBytes + 1 // range reads append one byte
	MaxValueSizeBytes         = 65536
	MaxReadRanges             = 10
	MaxReadEntries            = 1000
	MaxChecks                 = 100
	MaxMutations              = 1000 // mutations and enqueues combined
	MaxWatchedKeys            = 10
	MaxTotalMutationSizeBytes = 800 * 1024
	MaxTotalKeySizeBytes      = 80 * 1024
)
