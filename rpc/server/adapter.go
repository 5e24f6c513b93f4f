package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/rpc/common"
)

// maxWait bounds a single long poll of WatchNext and Dequeue
const maxWait = 30 * time.Second

// NewDatabaseServerAdapter returns the adapter serving db.Database requests
func NewDatabaseServerAdapter(timeout time.Duration) IRPCServerAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &databaseServerAdapter{timeout: timeout}
}

type databaseServerAdapter struct {
	timeout time.Duration
}

func (a *databaseServerAdapter) Handle(req *common.Message, shard *serverShard) *common.Message {
	if shard == nil || shard.DB == nil {
		return common.NewErrorResponse(common.ErrCodeInternal, "handler: database is nil")
	}
	database := shard.DB

	switch req.MsgType {
	case common.MsgTSnapshotRead:
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		outputs, err := database.SnapshotRead(ctx, req.Ranges, db.SnapshotReadOptions{Consistency: req.Consistency})
		return common.NewSnapshotReadResponse(outputs, err)

	case common.MsgTAtomicWrite:
		// encoders may drop an empty write entirely
		write := req.Write
		if write == nil {
			write = &common.WriteRequest{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		commit, err := database.AtomicWrite(ctx, write.ToAtomicWrite())
		return common.NewAtomicWriteResponse(commit, err)

	case common.MsgTWatch:
		return common.NewWatchResponse(shard.addWatch(database.Watch(req.Keys)), nil)

	case common.MsgTWatchNext:
		return a.watchNext(req, shard)

	case common.MsgTWatchClose:
		shard.closeWatch(req.ID)
		return common.NewWatchCloseResponse(nil)

	case common.MsgTDequeue:
		return a.dequeue(req, shard)

	case common.MsgTFinish:
		handle, ok := shard.takeHandle(req.ID)
		if !ok {
			return common.NewErrorResponse(common.ErrCodeNotFound, fmt.Sprintf("queue message %d not found", req.ID))
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		return common.NewFinishResponse(handle.Finish(ctx, req.Success))

	case common.MsgTInfo:
		return common.NewInfoResponse(database.GetInfo())

	default:
		return common.NewErrorResponse(common.ErrCodeBadRequest,
			fmt.Sprintf("unsupported message type: %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Long polls
// --------------------------------------------------------------------------

func (a *databaseServerAdapter) waitContext(waitMs int64) (context.Context, context.CancelFunc) {
	wait := time.Duration(waitMs) * time.Millisecond
	if wait <= 0 || wait > maxWait {
		wait = maxWait
	}
	return context.WithTimeout(context.Background(), wait)
}

// watchNext polls the stream for at most WaitMs.
// Ok=false without error means that nothing changed while waiting.
func (a *databaseServerAdapter) watchNext(req *common.Message, shard *serverShard) *common.Message {
	ctx, cancel := a.waitContext(req.WaitMs)
	defer cancel()

	w, release, ok := shard.acquireWatch(ctx, req.ID)
	if !ok {
		if ctx.Err() != nil {
			return common.NewWatchNextResponse(nil, false, nil)
		}
		// unknown or swept streams have ended
		return common.NewWatchNextResponse(nil, false, io.EOF)
	}
	defer release()

	changes, err := w.stream.Next(ctx)
	switch {
	case err == nil:
		return common.NewWatchNextResponse(changes, true, nil)
	case errors.Is(err, io.EOF):
		shard.closeWatch(req.ID)
		return common.NewWatchNextResponse(nil, false, io.EOF)
	case ctx.Err() != nil:
		return common.NewWatchNextResponse(nil, false, nil)
	default:
		return common.NewWatchNextResponse(nil, false, err)
	}
}

// dequeue waits at most WaitMs for a queue message.
// Ok=false without error means that no message became ready while waiting.
func (a *databaseServerAdapter) dequeue(req *common.Message, shard *serverShard) *common.Message {
	ctx, cancel := a.waitContext(req.WaitMs)
	defer cancel()

	handle, err := shard.DB.DequeueNextMessage(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return common.NewDequeueResponse(0, nil, false, nil)
	case err != nil:
		return common.NewDequeueResponse(0, nil, false, err)
	case handle == nil:
		// the database was closed while waiting
		return common.NewDequeueResponse(0, nil, false, db.ErrClosed)
	}

	payload, err := handle.TakePayload(ctx)
	if err != nil {
		return common.NewDequeueResponse(0, nil, false, err)
	}
	return common.NewDequeueResponse(shard.addHandle(handle), payload, true, nil)
}
