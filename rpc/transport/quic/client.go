package quic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/quic-go/quic-go"
)

// NewQuicClientTransport creates a client transport that opens one QUIC stream per request
func NewQuicClientTransport() transport.IRPCClientTransport {
	return &quicClientTransport{}
}

type quicClientTransport struct {
	config    common.ClientConfig
	endpoints []*endpointConn
	counter   atomic.Uint32
}

// endpointConn holds the connection to one endpoint, redialed once it dies
type endpointConn struct {
	addr string
	mu   sync.Mutex
	conn quic.Connection
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *quicClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	_ = t.Close()

	t.config = config
	t.endpoints = make([]*endpointConn, len(config.Transport.Endpoints))
	var lastErr error
	established := 0
	for i, addr := range config.Transport.Endpoints {
		t.endpoints[i] = &endpointConn{addr: addr}
		ctx, cancel := t.requestContext()
		_, err := t.endpoints[i].get(ctx)
		cancel()
		if err != nil {
			Logger.Warningf("Failed to connect to %s: %v", addr, err)
			lastErr = err
			continue
		}
		established++
	}
	if established == 0 {
		return fmt.Errorf("failed to connect to any endpoint: %w", lastErr)
	}
	Logger.Infof("Connected to %d of %d endpoints using quic transport", established, len(t.endpoints))
	return nil
}

func (t *quicClientTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	if len(t.endpoints) == 0 {
		return nil, fmt.Errorf("quic transport not initialized")
	}

	retries := max(t.config.Transport.RetryCount, 1)
	var lastErr error
	for i := 0; i < retries; i++ {
		ep := t.endpoints[t.counter.Add(1)%uint32(len(t.endpoints))]
		resp, err := t.roundTrip(ep, shardId, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d to %s failed: %v", i+1, retries, ep.addr, err)
	}
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", retries, lastErr)
}

func (t *quicClientTransport) Close() error {
	for _, ep := range t.endpoints {
		ep.close()
	}
	t.endpoints = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *quicClientTransport) requestContext() (context.Context, context.CancelFunc) {
	if t.config.TimeoutSecond > 0 {
		return context.WithTimeout(context.Background(), time.Duration(t.config.TimeoutSecond)*time.Second)
	}
	return context.WithCancel(context.Background())
}

func (t *quicClientTransport) roundTrip(ep *endpointConn, shardId uint64, req []byte) ([]byte, error) {
	ctx, cancel := t.requestContext()
	defer cancel()

	conn, err := ep.get(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		ep.drop(conn)
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := writeRequest(stream, shardId, req); err != nil {
		stream.CancelRead(0)
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	// closing the send side marks the end of the request
	if err := stream.Close(); err != nil {
		return nil, err
	}

	resp, err := readAll(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

func (e *endpointConn) get(ctx context.Context) (quic.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		select {
		case <-e.conn.Context().Done():
			e.conn = nil
		default:
			return e.conn, nil
		}
	}

	conn, err := quic.DialAddr(ctx, e.addr, clientTLSConfig(), &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", e.addr, err)
	}
	e.conn = conn
	return conn, nil
}

func (e *endpointConn) drop(conn quic.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == conn {
		_ = conn.CloseWithError(0, "")
		e.conn = nil
	}
}

func (e *endpointConn) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		_ = e.conn.CloseWithError(0, "")
		e.conn = nil
	}
}
