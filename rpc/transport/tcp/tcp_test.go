package tcp

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTCPConf = common.TCPConf{TCPNoDelay: true, TCPKeepAliveSec: 30, TCPLingerSec: -1}

// freeAddr returns a loopback address with a port that was free a moment ago
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startServer(t *testing.T) string {
	t.Helper()
	addr := freeAddr(t)

	server := NewTCPServerTransport()
	server.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
	})

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport: common.ServerTransportConfig{
				Endpoint:       addr,
				WorkersPerConn: 4,
				TCPConf:        testTCPConf,
			},
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
	return addr
}

func connect(t *testing.T, addr string) transport.IRPCClientTransport {
	t.Helper()
	client := NewTCPClientTransport()
	config := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{addr},
			RetryCount:             5,
			ConnectionsPerEndpoint: 2,
			TCPConf:                testTCPConf,
		},
	}
	// the listener may not be bound yet
	require.Eventually(t, func() bool {
		return client.Connect(config) == nil
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRoundTrip(t *testing.T) {
	client := connect(t, startServer(t))

	resp, err := client.Send(100, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "100:hello", string(resp))

	resp, err = client.Send(2, nil)
	require.NoError(t, err)
	assert.Equal(t, "2:", string(resp))

	large := bytes.Repeat([]byte{0xab}, 1<<20)
	resp, err = client.Send(3, large)
	require.NoError(t, err)
	assert.Equal(t, append([]byte("3:"), large...), resp)
}

func TestConcurrentRequests(t *testing.T) {
	client := connect(t, startServer(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 100+i)
			resp, err := client.Send(uint64(i), payload)
			if assert.NoError(t, err) {
				assert.Equal(t, append([]byte(fmt.Sprintf("%d:", i)), payload...), resp)
			}
		}(i)
	}
	wg.Wait()
}

func TestConnectWithoutServer(t *testing.T) {
	client := NewTCPClientTransport()
	err := client.Connect(common.ClientConfig{
		TimeoutSecond: 1,
		Transport:     common.ClientTransportConfig{Endpoints: []string{freeAddr(t)}, RetryCount: 1},
	})
	assert.Error(t, err)
}

func TestTuneConnectionIgnoresOtherConns(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.NoError(t, tuneConnection(a, testTCPConf, common.SocketConf{ReadBufferSize: 1024}))
}
