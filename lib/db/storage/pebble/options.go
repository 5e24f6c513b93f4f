package pebble

import "github.com/cockroachdb/pebble/vfs"

// Config holds the tunable parameters of a pebble store
type Config struct {
	// CacheSize is the block cache capacity in bytes
	CacheSize int64

	// MaxOpenFiles limits the number of open file descriptors (0 = pebble default)
	MaxOpenFiles int

	// SyncWrites syncs every committed batch to stable storage
	SyncWrites bool

	// FS overrides the filesystem, e.g. vfs.NewMem() for tests
	FS vfs.FS
}

// Option modifies a Config
type Option func(*Config)

// DefaultConfig returns the defaults used by Open
func DefaultConfig() *Config {
	return &Config{
		CacheSize:  64 << 20, // 64 MB
		SyncWrites: true,
	}
}

func WithCacheSize(size int64) Option {
	return func(c *Config) { c.CacheSize = size }
}

func WithMaxOpenFiles(n int) Option {
	return func(c *Config) { c.MaxOpenFiles = n }
}

func WithSyncWrites(sync bool) Option {
	return func(c *Config) { c.SyncWrites = sync }
}

// WithInMemory keeps all files in memory
func WithInMemory() Option {
	return func(c *Config) { c.FS = vfs.NewMem() }
}
