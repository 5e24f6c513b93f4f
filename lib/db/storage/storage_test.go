package storage_test

import (
	"testing"

	"github.com/ValentinKolb/txKV/lib/db/storage"
	"github.com/ValentinKolb/txKV/lib/db/storage/btree"
	"github.com/ValentinKolb/txKV/lib/db/storage/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factories(t *testing.T) map[string]func() storage.Storage {
	return map[string]func() storage.Storage{
		"btree": func() storage.Storage { return btree.New() },
		"pebble": func() storage.Storage {
			s, err := pebble.Open("mem", pebble.WithInMemory(), pebble.WithSyncWrites(false))
			require.NoError(t, err)
			return s
		},
	}
}

func put(t *testing.T, s storage.Storage, kv ...string) {
	b := s.NewBatch()
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, b.Set([]byte(kv[i]), []byte(kv[i+1])))
	}
	require.NoError(t, b.Commit())
}

func collect(t *testing.T, r storage.Reader, start, end []byte, reverse bool) []string {
	var keys []string
	require.NoError(t, r.Scan(start, end, reverse, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	return keys
}

func TestStorage(t *testing.T) {
	for name, factory := range factories(t) {
		t.Run(name, func(t *testing.T) {
			tests := []struct {
				name string
				fn   func(t *testing.T, s storage.Storage)
			}{
				{"GetMissing", func(t *testing.T, s storage.Storage) {
					_, err := s.Get([]byte("nope"))
					assert.ErrorIs(t, err, storage.ErrNotFound)
				}},
				{"SetGetDelete", func(t *testing.T, s storage.Storage) {
					put(t, s, "a", "1")
					v, err := s.Get([]byte("a"))
					require.NoError(t, err)
					assert.Equal(t, []byte("1"), v)

					b := s.NewBatch()
					require.NoError(t, b.Delete([]byte("a")))
					require.NoError(t, b.Commit())
					_, err = s.Get([]byte("a"))
					assert.ErrorIs(t, err, storage.ErrNotFound)
				}},
				{"ScanBounds", func(t *testing.T, s storage.Storage) {
					put(t, s, "a", "", "b", "", "c", "", "d", "")
					assert.Equal(t, []string{"b", "c"}, collect(t, s, []byte("b"), []byte("d"), false))
					assert.Equal(t, []string{"c", "b"}, collect(t, s, []byte("b"), []byte("d"), true))
					assert.Equal(t, []string{"a", "b", "c", "d"}, collect(t, s, nil, nil, false))
					assert.Equal(t, []string{"d", "c", "b", "a"}, collect(t, s, nil, nil, true))
					assert.Equal(t, []string{"d"}, collect(t, s, []byte("c\x00"), nil, false))
				}},
				{"ScanStop", func(t *testing.T, s storage.Storage) {
					put(t, s, "a", "", "b", "", "c", "")
					var n int
					require.NoError(t, s.Scan(nil, nil, false, func(_, _ []byte) bool {
						n++
						return n < 2
					}))
					assert.Equal(t, 2, n)
				}},
				{"SnapshotIsolation", func(t *testing.T, s storage.Storage) {
					put(t, s, "a", "1")
					snap, err := s.NewSnapshot()
					require.NoError(t, err)
					defer snap.Close()

					put(t, s, "a", "2", "b", "2")

					v, err := snap.Get([]byte("a"))
					require.NoError(t, err)
					assert.Equal(t, []byte("1"), v)
					assert.Equal(t, []string{"a"}, collect(t, snap, nil, nil, false))
				}},
				{"BatchClosed", func(t *testing.T, s storage.Storage) {
					b := s.NewBatch()
					require.NoError(t, b.Commit())
					assert.ErrorIs(t, b.Set([]byte("a"), nil), storage.ErrBatchClosed)
					assert.ErrorIs(t, b.Commit(), storage.ErrBatchClosed)
				}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					s := factory()
					defer s.Close()
					tt.fn(t, s)
				})
			}
		})
	}
}
