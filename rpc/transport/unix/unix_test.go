package unix

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "txkv.sock")

	server := NewUnixServerTransport()
	server.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
	})

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: socket, WorkersPerConn: 4},
		})
	}()
	t.Cleanup(func() {
		require.NoError(t, server.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return socket
}

func clientConfig(socket string) common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{socket},
			RetryCount:             5,
			ConnectionsPerEndpoint: 2,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	socket := startServer(t)

	client := NewUnixClientTransport()
	// the listener may not be bound yet, Connect is retried
	require.Eventually(t, func() bool {
		return client.Connect(clientConfig(socket)) == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer client.Close()

	resp, err := client.Send(7, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "7:hello", string(resp))

	resp, err = client.Send(1, nil)
	require.NoError(t, err)
	assert.Equal(t, "1:", string(resp))
}

func TestConcurrentRequests(t *testing.T) {
	socket := startServer(t)

	client := NewUnixClientTransport()
	require.Eventually(t, func() bool {
		return client.Connect(clientConfig(socket)) == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 1000+i)
			resp, err := client.Send(uint64(i), payload)
			if assert.NoError(t, err) {
				assert.Equal(t, append([]byte(fmt.Sprintf("%d:", i)), payload...), resp)
			}
		}(i)
	}
	wg.Wait()
}

func TestConnectWithoutServer(t *testing.T) {
	client := NewUnixClientTransport()
	err := client.Connect(clientConfig(filepath.Join(t.TempDir(), "missing.sock")))
	assert.Error(t, err)
}
