package common

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShards(t *testing.T) {
	shards, err := ParseShards("100=memory, 200=pebble:/data/kv,300=raft,400=raft:/data/r")
	require.NoError(t, err)
	assert.Equal(t, []ServerShard{
		{ShardID: 100, Type: ShardTypeMemory},
		{ShardID: 200, Type: ShardTypePebble, Path: "/data/kv"},
		{ShardID: 300, Type: ShardTypeRaft},
		{ShardID: 400, Type: ShardTypeRaft, Path: "/data/r"},
	}, shards)
}

func TestParseShardsInvalid(t *testing.T) {
	for _, in := range []string{"", "100", "x=memory", "100=pebble", "100=lstore"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseShards(in)
			assert.Error(t, err)
		})
	}
}

func TestHasRaftShard(t *testing.T) {
	c := ServerConfig{Shards: []ServerShard{{ShardID: 1, Type: ShardTypeMemory}}}
	assert.False(t, c.HasRaftShard())
	c.Shards = append(c.Shards, ServerShard{ShardID: 2, Type: ShardTypeRaft})
	assert.True(t, c.HasRaftShard())
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err      error
		code     ErrorCode
		sentinel error
	}{
		{err: nil, code: ErrCodeNone},
		{err: fmt.Errorf("write: %w", db.ErrClosed), code: ErrCodeClosed, sentinel: db.ErrClosed},
		{err: engine.ErrMessageNotFound, code: ErrCodeNotFound, sentinel: engine.ErrMessageNotFound},
		{err: io.EOF, code: ErrCodeEOF, sentinel: io.EOF},
		{err: errors.New("disk full"), code: ErrCodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, CodeOf(tt.err))

		remote := &RemoteError{Code: tt.code, Msg: "remote"}
		if tt.sentinel != nil {
			assert.ErrorIs(t, remote, tt.sentinel)
		} else {
			assert.Nil(t, remote.Unwrap())
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, logger.WARNING, level)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `["users", {"int": "42"}]`, want: `["users", 42n]`},
		{in: `["a", 1.5, true]`, want: `["a", 1.5, true]`},
		{in: `[{"bytes": "/wA="}]`, want: `[0xff00]`},
		{in: "users/alice", want: `["users", "alice"]`},
		{in: "", want: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			key, err := ParseKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key.String())

			// the json form parses back to the same key
			again, err := ParseKey(FormatKey(key))
			require.NoError(t, err)
			assert.Equal(t, key.String(), again.String())
		})
	}
}

func TestParseKeyInvalid(t *testing.T) {
	for _, in := range []string{`["a"`, `[null]`, `[{"int": "x"}]`, `[{"bytes": "%%"}]`} {
		_, err := ParseKey(in)
		assert.Error(t, err, in)
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue("u64", "7")
	require.NoError(t, err)
	assert.Equal(t, db.U64Value(7), v)
	assert.Equal(t, "7n", FormatValue(v))

	v, err = ParseValue("bytes", "hi")
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, FormatValue(v))

	_, err = ParseValue("u64", "seven")
	assert.Error(t, err)
	_, err = ParseValue("json", "{}")
	assert.Error(t, err)
}
