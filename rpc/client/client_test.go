package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	dbtesting "github.com/ValentinKolb/txKV/lib/db/testing"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/serializer"
	"github.com/ValentinKolb/txKV/rpc/server"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback is a client transport that hands requests straight to a server
type loopback struct {
	server *server.RPCServer
	closed atomic.Bool
}

func (l *loopback) Connect(common.ClientConfig) error { return nil }

func (l *loopback) Send(shardId uint64, req []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, errors.New("loopback closed")
	}
	return l.server.Handle(shardId, req), nil
}

func (l *loopback) Close() error {
	l.closed.Store(true)
	return l.server.Close()
}

// noopServerTransport lets the server be used without a listener
type noopServerTransport struct{}

func (noopServerTransport) RegisterHandler(transport.ServerHandleFunc) {}
func (noopServerTransport) Listen(common.ServerConfig) error           { return nil }
func (noopServerTransport) Close() error                               { return nil }

func newRemoteDatabase(t testing.TB, s serializer.IRPCSerializer) db.Database {
	srv := server.NewRPCServer(common.ServerConfig{TimeoutSecond: 5}, noopServerTransport{}, s)
	require.NoError(t, srv.AddShard(1, engine.NewInMemory(nil)))

	database, err := NewRPCDatabase(1, common.ClientConfig{TimeoutSecond: 5}, &loopback{server: srv}, s)
	require.NoError(t, err)
	return database
}

func TestRemoteDatabase(t *testing.T) {
	dbtesting.RunDatabaseTests(t, "GOB", func() db.Database {
		return newRemoteDatabase(t, serializer.NewGOBSerializer())
	})
	dbtesting.RunDatabaseTests(t, "JSON", func() db.Database {
		return newRemoteDatabase(t, serializer.NewJSONSerializer())
	})
}

func TestUnknownShard(t *testing.T) {
	s := serializer.NewGOBSerializer()
	srv := server.NewRPCServer(common.ServerConfig{TimeoutSecond: 5}, noopServerTransport{}, s)
	defer srv.Close()

	database, err := NewRPCDatabase(42, common.ClientConfig{TimeoutSecond: 5}, &loopback{server: srv}, s)
	require.NoError(t, err)

	_, err = database.SnapshotRead(context.Background(), []db.ReadRange{{Start: []byte{0}, End: []byte{0xff}, Limit: 1}}, db.SnapshotReadOptions{})
	var remote *common.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, common.ErrCodeShardNotFound, remote.Code)
}

func TestInfo(t *testing.T) {
	database := newRemoteDatabase(t, serializer.NewGOBSerializer())
	defer database.Close()

	assert.True(t, database.SupportsFeature(db.FeatureAtomicWrite|db.FeatureWatch|db.FeatureQueue))
	info := database.GetInfo()
	assert.Equal(t, db.ImplRemote, info.DbType)
	assert.Contains(t, info.SupportedFeatures, db.FeatureSnapshotRead)
}

func TestClosedDatabase(t *testing.T) {
	database := newRemoteDatabase(t, serializer.NewGOBSerializer())
	require.NoError(t, database.Close())

	_, err := database.AtomicWrite(context.Background(), db.AtomicWrite{})
	assert.ErrorIs(t, err, db.ErrClosed)

	handle, err := database.DequeueNextMessage(context.Background())
	assert.Nil(t, handle)
	assert.NoError(t, err)
}

func TestFinishTwice(t *testing.T) {
	database := newRemoteDatabase(t, serializer.NewGOBSerializer())
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := database.AtomicWrite(ctx, db.AtomicWrite{Enqueues: []db.Enqueue{{Payload: []byte("m"), Deadline: time.Now()}}})
	require.NoError(t, err)

	handle, err := database.DequeueNextMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, handle)

	payload, err := handle.TakePayload(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m", string(payload))

	require.NoError(t, handle.Finish(ctx, true))
	assert.ErrorIs(t, handle.Finish(ctx, true), engine.ErrMessageNotFound)
}
