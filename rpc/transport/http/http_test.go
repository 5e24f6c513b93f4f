package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	transport := &httpServerTransport{}
	transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte(strings.Repeat("x", int(shardId))), req...)
	})
	server := httptest.NewServer(transport.router())
	t.Cleanup(server.Close)
	return server
}

func TestRoundTrip(t *testing.T) {
	server := newTestServer(t)

	client := NewHttpClientTransport()
	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{server.URL}, RetryCount: 1},
	}))
	defer client.Close()

	resp, err := client.Send(3, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "xxxabc", string(resp))
}

func TestInvalidShard(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/abc", "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSendWithoutConnect(t *testing.T) {
	client := NewHttpClientTransport()
	_, err := client.Send(1, []byte("x"))
	assert.Error(t, err)
}
