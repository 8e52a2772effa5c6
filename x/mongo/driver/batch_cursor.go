// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"sync"
	"time"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// killCursorsTimeout bounds how long a best-effort killCursors is allowed to run once the
// caller's own context has already been abandoned; the cursor is gone from the client's point
// of view regardless of whether the server ever hears about it.
const killCursorsTimeout = 10 * time.Second

// batchCursorState tracks a BatchCursor through its lifecycle: it starts Fresh with whatever
// batch the originating command already returned, yields that batch once, and from then on
// alternates between fetching a new batch with getMore and yielding it, until the server reports
// cursor id 0 (Drained) or the caller closes it early.
type batchCursorState uint8

const (
	bcFresh batchCursorState = iota
	bcYieldingFirst
	bcFetching
	bcYieldingNext
	bcDrained
	bcClosed
	bcDisposed
)

// BatchCursor turns a cursor-shaped command reply into a sequence of batches, issuing getMore
// as needed and killCursors on early termination. It is deliberately unaware of document
// decoding: callers pull raw bsoncore.Document batches via Batch and decode them as they choose,
// which lets the same BatchCursor back both an ordinary Cursor and a ChangeStreamCursor.
type BatchCursor struct {
	mu sync.Mutex

	binding Binding
	server  Server
	desc    description.SelectedServer
	ns      Namespace

	id          int64
	batch       []bsoncore.Document
	batchSize   int32
	limit       int32
	numReturned int32
	comment     bsoncore.Value
	maxTimeMS   int64

	postBatchResumeToken bson.Raw

	state batchCursorState
	err   error
}

// NewBatchCursor constructs a BatchCursor from the cursor subdocument of a find/aggregate reply,
// bound to binding (forked so the cursor's lifetime is independent of the caller's session
// handle) and pinned to the server the originating command ran against for any getMores.
func NewBatchCursor(cr CursorResponse, binding Binding, server Server) (*BatchCursor, error) {
	bc := &BatchCursor{
		binding:              binding.Fork(),
		server:               server,
		desc:                 cr.Desc,
		ns:                   cr.Namespace,
		id:                   cr.ID,
		batch:                cr.Batch,
		numReturned:          int32(len(cr.Batch)),
		postBatchResumeToken: cr.PostBatchResumeToken,
		state:                bcFresh,
	}
	return bc, nil
}

// ID returns the server-side cursor id, or 0 once the cursor is exhausted.
func (bc *BatchCursor) ID() int64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.id
}

// Err returns the error that caused the cursor to stop iterating, if any.
func (bc *BatchCursor) Err() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.err
}

// WireVersion returns the wire version range of the server this cursor was opened against, so a
// ChangeStreamCursor can decide whether it may rely on postBatchResumeToken/startAtOperationTime.
func (bc *BatchCursor) WireVersion() *description.VersionRange {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.desc.WireVersion
}

// PostBatchResumeToken returns the resume token attached to the most recently fetched batch, if
// the server supplied one (only aggregate $changeStream replies do).
func (bc *BatchCursor) PostBatchResumeToken() bson.Raw {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.postBatchResumeToken
}

// SetBatchSize sets the batch size requested on each subsequent getMore.
func (bc *BatchCursor) SetBatchSize(size int32) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.batchSize = size
}

// SetComment attaches a comment to be sent with each getMore; only document-shaped comments
// (bson.D, a map, or a struct) are retained; any other value is dropped, since getMore's comment
// field is BSON-any but this driver only ever sends structured comments.
func (bc *BatchCursor) SetComment(comment interface{}) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if comment == nil {
		bc.comment = bsoncore.Value{}
		return
	}
	t, data, err := bson.MarshalValue(comment)
	if err != nil || t != bsoncore.TypeEmbeddedDocument {
		bc.comment = bsoncore.Value{}
		return
	}
	bc.comment = bsoncore.Value{Type: t, Data: data}
}

// SetMaxTime sets the maxTimeMS sent with each getMore.
func (bc *BatchCursor) SetMaxTime(dur time.Duration) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.maxTimeMS = int64(dur / time.Millisecond)
}

// calcGetMoreBatchSize derives the batchSize to request on the next getMore given how many
// documents have already been returned against an optional overall limit. Once the limit has
// been met or exceeded the result is zero or negative and ok is false: no further getMore is sent.
func calcGetMoreBatchSize(bc BatchCursor) (int32, bool) {
	if bc.limit == 0 {
		return bc.batchSize, true
	}
	remaining := bc.limit - bc.numReturned
	if bc.batchSize != 0 {
		size := bc.batchSize
		if remaining < size {
			size = remaining
		}
		if size <= 0 {
			return size, false
		}
		return size, true
	}
	if remaining <= 0 {
		return remaining, false
	}
	return 0, true
}

// Next advances the cursor to the next batch, issuing a getMore if the current batch has
// already been yielded. It returns false once the cursor is drained, closed, or encounters an
// error; callers distinguish the two via Err.
func (bc *BatchCursor) Next(ctx context.Context) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	switch bc.state {
	case bcFresh:
		bc.state = bcYieldingFirst
		return true
	case bcYieldingFirst, bcYieldingNext:
		if bc.id == 0 {
			bc.state = bcDrained
			return false
		}
		size, ok := calcGetMoreBatchSize(*bc)
		if !ok {
			// The limit has already been satisfied; release the cursor rather than asking the
			// server for documents the caller will never see.
			bc.closeLocked(context.Background())
			return false
		}
		batch, postToken, err := bc.getMore(ctx, size)
		if err != nil {
			bc.err = err
			bc.state = bcClosed
			return false
		}
		bc.batch = batch
		bc.numReturned += int32(len(batch))
		if postToken != nil {
			bc.postBatchResumeToken = postToken
		}
		bc.state = bcYieldingNext
		if bc.id == 0 && len(batch) == 0 {
			bc.state = bcDrained
			return false
		}
		return len(batch) > 0 || bc.id != 0 && bc.retryEmptyLocked(ctx)
	default:
		return false
	}
}

// retryEmptyLocked is invoked when a getMore returned an empty batch but the cursor is still
// alive (a common shape for a tailable/change-stream getMore that simply found nothing new): it
// immediately issues another getMore rather than reporting Next as exhausted.
func (bc *BatchCursor) retryEmptyLocked(ctx context.Context) bool {
	for bc.id != 0 {
		size, ok := calcGetMoreBatchSize(*bc)
		if !ok {
			bc.closeLocked(context.Background())
			return false
		}
		batch, postToken, err := bc.getMore(ctx, size)
		if err != nil {
			bc.err = err
			bc.state = bcClosed
			return false
		}
		bc.batch = batch
		bc.numReturned += int32(len(batch))
		if postToken != nil {
			bc.postBatchResumeToken = postToken
		}
		if len(batch) > 0 {
			return true
		}
		if bc.id == 0 {
			bc.state = bcDrained
			return false
		}
		select {
		case <-ctx.Done():
			bc.err = ctx.Err()
			return false
		default:
		}
	}
	bc.state = bcDrained
	return false
}

// Batch returns the documents fetched by the most recent Next call.
func (bc *BatchCursor) Batch() []bsoncore.Document {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.batch
}

// Close disposes of the cursor, issuing a best-effort killCursors if the server still considers
// it open. Close never blocks past killCursorsTimeout regardless of ctx.
func (bc *BatchCursor) Close(ctx context.Context) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.closeLocked(ctx)
}

func (bc *BatchCursor) closeLocked(ctx context.Context) error {
	if bc.state == bcClosed || bc.state == bcDisposed || bc.state == bcDrained {
		bc.state = bcDisposed
		return nil
	}
	bc.state = bcClosed
	defer func() { bc.state = bcDisposed }()
	if bc.id == 0 {
		return nil
	}
	// killCursors gets its own fixed budget rather than inheriting ctx's deadline: by the time a
	// cursor is being disposed, the caller's context may already be canceled.
	killCtx, cancel := context.WithTimeout(context.Background(), killCursorsTimeout)
	defer cancel()
	err := bc.killCursors(killCtx)
	bc.id = 0
	return err
}
