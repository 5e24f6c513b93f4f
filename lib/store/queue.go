package store

import (
	"context"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
)

// queueResource is a dequeued message that has not been finished yet.
// It holds a reference on its database until it is finished or closed.
type queueResource struct {
	handle db.QueueMessageHandle
	db     *dbResource
}

// close drops an unfinished message, the backend redelivers it once the lease expires
func (q *queueResource) close() {
	q.db.release()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) DequeueNextMessage(ctx context.Context, rid ResourceID) (msg *DequeuedMessage, err error) {
	defer func(start time.Time) { observe("dequeue", start, err) }(time.Now())

	res, err := s.getDB(rid)
	if err != nil {
		// unknown and closed databases have no messages
		return nil, nil
	}
	defer res.release()

	// closing the database ends the wait
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-res.cancel:
		case <-waitCtx.Done():
		}
		cancel()
	}()

	handle, err := res.db.DequeueNextMessage(waitCtx)
	if isSignalled(res.cancel) && (handle == nil || err != nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, internalError(err)
	}
	if handle == nil {
		return nil, nil
	}

	payload, err := handle.TakePayload(ctx)
	if err != nil {
		return nil, internalError(err)
	}

	// the handle keeps the database open, the reference is dropped by finish or close
	res.retain()
	dequeued.Inc()
	return &DequeuedMessage{
		Payload: payload,
		Handle:  s.add(&queueResource{handle: handle, db: res}),
	}, nil
}

func (s *storeImpl) FinishDequeuedMessage(ctx context.Context, hid ResourceID, success bool) (err error) {
	defer func(start time.Time) { observe("finish", start, err) }(time.Now())

	var q *queueResource
	s.resources.Compute(hid, func(old resource, loaded bool) (resource, bool) {
		if qr, ok := old.(*queueResource); loaded && ok {
			q = qr
			return nil, true
		}
		return old, !loaded
	})
	if q == nil {
		return typeError("Queue message not found")
	}

	defer q.db.release()

	// the message will be redelivered by the backend if finishing fails
	if err := q.handle.Finish(ctx, success); err != nil {
		log.Debugf("Finishing queue message failed: %v", err)
	}
	return nil
}
