package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/serializer"
	"github.com/ValentinKolb/txKV/rpc/transport"
)

// defaultPollWait is the longest time a single long poll blocks on the server
const defaultPollWait = time.Second

// NewRPCDatabase creates a db.Database backed by a shard of a remote server
// The function takes a shard ID, a config, a transport and a serializer as parameters
// The transport is connected here and closed by Close
func NewRPCDatabase(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (db.Database, error) {

	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	pollWait := defaultPollWait
	if timeout := time.Duration(config.TimeoutSecond) * time.Second; timeout > 0 && timeout/2 < pollWait {
		pollWait = timeout / 2
	}

	return &rpcDatabase{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		pollWait: pollWait,
		closed:   make(chan struct{}),
	}, nil
}

type rpcDatabase struct {
	rpcClientAdapter
	pollWait time.Duration

	infoOnce sync.Once
	info     db.DatabaseInfo
	features db.Feature

	closeOnce sync.Once
	closed    chan struct{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Database)
// --------------------------------------------------------------------------

func (c *rpcDatabase) SnapshotRead(ctx context.Context, ranges []db.ReadRange, opts db.SnapshotReadOptions) ([]db.ReadRangeOutput, error) {
	resp, err := c.invoke(ctx, common.NewSnapshotReadRequest(ranges, opts.Consistency))
	if err != nil {
		return nil, err
	}
	// one (possibly empty) output per range
	outputs := resp.Outputs
	if len(outputs) < len(ranges) {
		outputs = append(outputs, make([]db.ReadRangeOutput, len(ranges)-len(outputs))...)
	}
	return outputs, nil
}

func (c *rpcDatabase) AtomicWrite(ctx context.Context, write db.AtomicWrite) (*db.CommitResult, error) {
	resp, err := c.invoke(ctx, common.NewAtomicWriteRequest(write))
	if err != nil {
		return nil, err
	}
	if resp.Versionstamp == nil {
		return nil, nil
	}
	return &db.CommitResult{Versionstamp: *resp.Versionstamp}, nil
}

func (c *rpcDatabase) Watch(keys [][]byte) db.WatchStream {
	s := &rpcWatchStream{db: c}
	resp, err := c.invoke(context.Background(), common.NewWatchRequest(keys))
	if err != nil {
		s.err = err
	} else {
		s.id = resp.ID
	}
	return s
}

func (c *rpcDatabase) DequeueNextMessage(ctx context.Context) (db.QueueMessageHandle, error) {
	for {
		if c.isClosed() {
			return nil, nil
		}
		wait, err := c.waitFor(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.invoke(ctx, common.NewDequeueRequest(wait.Milliseconds()))
		switch {
		case c.isClosed() || errors.Is(err, db.ErrClosed):
			return nil, nil
		case err != nil:
			return nil, err
		case resp.Ok:
			return &rpcMessageHandle{db: c, id: resp.ID, payload: resp.Payload}, nil
		}
	}
}

func (c *rpcDatabase) SupportsFeature(feature db.Feature) bool {
	c.loadInfo()
	return c.features&feature == feature
}

func (c *rpcDatabase) GetInfo() db.DatabaseInfo {
	c.loadInfo()
	return c.info
}

func (c *rpcDatabase) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *rpcDatabase) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// invoke sends req unless ctx is done or the database is closed
func (c *rpcDatabase) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	if c.isClosed() {
		return nil, db.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.call(req)
}

// waitFor returns how long the next long poll may block, bounded by the deadline of ctx
func (c *rpcDatabase) waitFor(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wait := c.pollWait
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = max(remaining, time.Millisecond)
		}
	}
	return wait, nil
}

// loadInfo fetches the database info once. The metadata stays raw json.
func (c *rpcDatabase) loadInfo() {
	c.infoOnce.Do(func() {
		c.info = db.DatabaseInfo{DbType: db.ImplRemote}
		resp, err := c.invoke(context.Background(), common.NewInfoRequest())
		if err != nil || resp.Info == nil {
			Logger.Warningf("failed to load info of shard %d: %v", c.shardId, err)
			return
		}
		c.features = resp.Info.Features
		c.info.SizeBytes = resp.Info.SizeBytes
		c.info.Metadata = map[string]interface{}{
			"backend": resp.Info.DbType,
			"remote":  json.RawMessage(resp.Info.Metadata),
		}
		for f := db.Feature(1); f != 0 && f <= resp.Info.Features; f <<= 1 {
			if resp.Info.Features&f != 0 {
				c.info.SupportedFeatures = append(c.info.SupportedFeatures, f)
			}
		}
	})
}

// --------------------------------------------------------------------------
// Watch Stream
// --------------------------------------------------------------------------

type rpcWatchStream struct {
	db  *rpcDatabase
	id  uint64
	err error

	closeOnce sync.Once
	ended     atomic.Bool
}

func (s *rpcWatchStream) Next(ctx context.Context) ([]db.WatchKeyOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	for {
		if s.ended.Load() || s.db.isClosed() {
			return nil, io.EOF
		}
		wait, err := s.db.waitFor(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := s.db.invoke(ctx, common.NewWatchNextRequest(s.id, wait.Milliseconds()))
		switch {
		case s.db.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, db.ErrClosed):
			s.ended.Store(true)
			return nil, io.EOF
		case err != nil:
			return nil, err
		case resp.Ok:
			return resp.Changes, nil
		}
	}
}

func (s *rpcWatchStream) Close() error {
	s.closeOnce.Do(func() {
		s.ended.Store(true)
		if s.err != nil || s.db.isClosed() {
			return
		}
		if _, err := s.db.invoke(context.Background(), common.NewWatchCloseRequest(s.id)); err != nil {
			Logger.Debugf("failed to close watch %d: %v", s.id, err)
		}
	})
	return nil
}

// --------------------------------------------------------------------------
// Queue Message Handle
// --------------------------------------------------------------------------

type rpcMessageHandle struct {
	db      *rpcDatabase
	id      uint64
	payload []byte
}

func (h *rpcMessageHandle) TakePayload(_ context.Context) ([]byte, error) {
	return h.payload, nil
}

func (h *rpcMessageHandle) Finish(ctx context.Context, success bool) error {
	_, err := h.db.invoke(ctx, common.NewFinishRequest(h.id, success))
	return err
}
