package quic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/quic-go/quic-go"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	certValidity = 365 * 24 * time.Hour
	idleTimeout  = 5 * time.Minute
)

// NewQuicServerTransport creates a server transport answering one request per QUIC stream
func NewQuicServerTransport() transport.IRPCServerTransport {
	return &quicServerTransport{}
}

type quicServerTransport struct {
	handler transport.ServerHandleFunc

	mu       sync.Mutex
	listener *quic.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *quicServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *quicServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	cert, err := generateCertificate(certValidity)
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(config.Transport.Endpoint, serverTLSConfig(cert), &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 2,
	})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Transport.Endpoint, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return listener.Close()
	}
	t.listener = listener
	t.ctx, t.cancel = context.WithCancel(context.Background())
	ctx := t.ctx
	t.mu.Unlock()

	Logger.Infof("Starting QUIC server on %s", listener.Addr())

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				t.wg.Wait()
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(ctx, conn)
		}()
	}
}

func (t *quicServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.listener == nil {
		return nil
	}
	t.cancel()
	return t.listener.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection accepts streams until the connection or the server goes away
func (t *quicServerTransport) handleConnection(ctx context.Context, conn quic.Connection) {
	defer conn.CloseWithError(0, "")
	Logger.Debugf("Accepted connection from %s", conn.RemoteAddr())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			Logger.Debugf("Connection from %s closed: %v", conn.RemoteAddr(), err)
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			t.handleStream(stream)
		}()
	}
}

// handleStream reads one request and answers on the same stream
func (t *quicServerTransport) handleStream(stream quic.Stream) {
	defer stream.Close()

	shardID, req, err := readRequest(stream)
	if err != nil {
		Logger.Warningf("Failed to read request on stream %d: %v", stream.StreamID(), err)
		stream.CancelRead(1)
		return
	}

	start := time.Now()
	resp := t.handler(shardID, req)
	Logger.Debugf("Processed request for shard %d on stream %d took %s", shardID, stream.StreamID(), time.Since(start))

	if _, err := stream.Write(resp); err != nil {
		Logger.Warningf("Failed to write response on stream %d: %v", stream.StreamID(), err)
	}
}
