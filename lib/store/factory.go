package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	"github.com/ValentinKolb/txKV/rpc/client"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/serializer"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/ValentinKolb/txKV/rpc/transport/http"
	"github.com/ValentinKolb/txKV/rpc/transport/quic"
	"github.com/ValentinKolb/txKV/rpc/transport/tcp"
	"github.com/ValentinKolb/txKV/rpc/transport/unix"
)

const defaultRemoteTimeoutSecond = 5

// DefaultFactory opens the database behind path:
//
//   - "" or ":memory:" opens a fresh in-memory database
//   - tcp://host:port, unix:///socket, http(s)://host:port and quic://host:port
//     connect to a shard of a txkv server, the shard id is selected with ?shard=<id>
//   - any other path opens a pebble database in that directory
//
// Remote URLs accept the query parameters serializer (json|gob, default json), timeout (seconds)
// and retries.
func DefaultFactory(ctx context.Context, path string) (db.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if path == "" || path == ":memory:" {
		return engine.NewInMemory(nil), nil
	}

	if scheme, _, ok := strings.Cut(path, "://"); ok {
		switch scheme {
		case "tcp", "unix", "http", "https", "quic":
			return openRemote(path)
		case "raft":
			return nil, fmt.Errorf("raft shards are served by `txkv serve`, connect to the server instead: %s", path)
		default:
			return nil, fmt.Errorf("unsupported database url scheme %q", scheme)
		}
	}

	return engine.OpenPebble(path, &engine.Options{Implementation: db.ImplPebble})
}

// openRemote connects to the shard of a txkv server described by rawURL
func openRemote(rawURL string) (db.Database, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	query := u.Query()

	shardID, err := strconv.ParseUint(query.Get("shard"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("database url %q needs a numeric shard parameter (?shard=<id>)", rawURL)
	}

	s, err := serializer.ByName(query.Get("serializer"))
	if err != nil {
		return nil, err
	}

	config := common.ClientConfig{
		TimeoutSecond: defaultRemoteTimeoutSecond,
		Transport: common.ClientTransportConfig{
			RetryCount:             3,
			ConnectionsPerEndpoint: 1,
			TCPConf:                common.TCPConf{TCPNoDelay: true, TCPKeepAliveSec: 30, TCPLingerSec: -1},
		},
	}
	if v := query.Get("timeout"); v != "" {
		if config.TimeoutSecond, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", v, err)
		}
	}
	if v := query.Get("retries"); v != "" {
		if config.Transport.RetryCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid retries %q: %w", v, err)
		}
	}

	var t transport.IRPCClientTransport
	switch u.Scheme {
	case "tcp":
		t = tcp.NewTCPClientTransport()
		config.Transport.Endpoints = []string{u.Host}
	case "unix":
		t = unix.NewUnixClientTransport()
		config.Transport.Endpoints = []string{u.Host + u.Path}
	case "http", "https":
		t = http.NewHttpClientTransport()
		config.Transport.Endpoints = []string{(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()}
	case "quic":
		t = quic.NewQuicClientTransport()
		config.Transport.Endpoints = []string{u.Host}
	}

	log.Debugf("Connecting to shard %d at %s", shardID, config.Transport.Endpoints[0])
	return client.NewRPCDatabase(shardID, config, t, s)
}
