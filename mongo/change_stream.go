// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/operation"
)

// ErrMissingResumeToken describes a change event missing its _id field, which a change stream
// relies on as an implicit resume token. Next does not return it: an event without a document
// _id is still yielded and leaves the recorded resume position unchanged.
var ErrMissingResumeToken = errors.New("mongo: change stream document missing resume token")

// resumeField identifies which field of the $changeStream stage a caller originally populated,
// so a rebuild preserves it per spec section 4.G's resume-token selection priority.
type resumeField uint8

const (
	resumeFieldNone resumeField = iota
	resumeFieldResumeAfter
	resumeFieldStartAfter
)

// ChangeStreamCursor presents a transparent, resumable iterator of raw change event documents.
// It wraps an inner driver.BatchCursor and, on a resumable error, rebuilds the $changeStream
// aggregation and replaces the inner cursor without the caller observing anything beyond a
// slightly longer Next call.
type ChangeStreamCursor struct {
	binding driver.Binding
	agg     *operation.Aggregate

	originalStage operation.ChangeStreamStageOptions
	usedField     resumeField

	inner *driver.BatchCursor

	postBatchResumeToken bson.Raw
	lastYieldedID        bson.Raw
	initialOpTime        *bson.Timestamp
	maxWireVersion       int32

	batch   []bsoncore.Document
	batchAt int
	current bsoncore.Document

	err    error
	closed bool
}

// newChangeStreamCursor wraps inner, capturing the options needed to rebuild the stream later.
// initialOperationTime, if non-nil, is the session operation time observed when inner was
// created; the caller passes it only when spec section 4.G's capture conditions already held at
// construction (no explicit resume token, wire version >= 7, empty first batch, no
// postBatchResumeToken).
func newChangeStreamCursor(
	inner *driver.BatchCursor,
	binding driver.Binding,
	agg *operation.Aggregate,
	stage operation.ChangeStreamStageOptions,
	usedField resumeField,
	maxWireVersion int32,
	initialOperationTime *bson.Timestamp,
) *ChangeStreamCursor {
	cs := &ChangeStreamCursor{
		binding:              binding,
		agg:                  agg,
		originalStage:        stage,
		usedField:            usedField,
		inner:                inner,
		postBatchResumeToken: inner.PostBatchResumeToken(),
		maxWireVersion:       maxWireVersion,
		initialOpTime:        initialOperationTime,
	}
	return cs
}

// Next advances to the next change event, transparently resuming the underlying cursor on a
// resumable error. It returns false once a non-resumable error occurs or the context is
// canceled; Err distinguishes the two.
func (cs *ChangeStreamCursor) Next(ctx context.Context) bool {
	if cs.closed {
		return false
	}
	for {
		if cs.batchAt < len(cs.batch) {
			cs.current = cs.batch[cs.batchAt]
			cs.batchAt++
			cs.recordPosition(cs.current)
			return true
		}

		if !cs.inner.Next(ctx) {
			if err := cs.inner.Err(); err != nil {
				if !isResumable(err) {
					cs.err = err
					cs.closed = true
					return false
				}
				if !cs.resume(ctx) {
					return false
				}
				continue
			}
			// A drained, non-resumable-await cursor has no more data right now; change streams
			// are always TailableAwait, so the server holding the connection open with no
			// events is the common case, not an error. Treat it as a resume trigger per spec
			// section 4.G.3.
			if !cs.resume(ctx) {
				return false
			}
			continue
		}

		cs.batch = cs.inner.Batch()
		cs.batchAt = 0
		if tok := cs.inner.PostBatchResumeToken(); tok != nil {
			cs.postBatchResumeToken = tok
		}
		if len(cs.batch) == 0 {
			cs.maybeCaptureInitialOperationTime()
			if !cs.resume(ctx) {
				return false
			}
		}
	}
}

// recordPosition updates the resume-token state from a just-yielded change event.
func (cs *ChangeStreamCursor) recordPosition(doc bsoncore.Document) {
	if id, err := doc.LookupErr("_id"); err == nil {
		if d, ok := id.DocumentOK(); ok {
			cs.lastYieldedID = bson.Raw(d)
		}
	}
}

// maybeCaptureInitialOperationTime captures session.operation_time once, the first time its
// capture conditions hold: no explicit resume token, wire version >= 7, an empty batch, and no
// postBatchResumeToken observed (spec section 4.G construction rule, re-checked after resume
// flow per section 4.G.3).
func (cs *ChangeStreamCursor) maybeCaptureInitialOperationTime() {
	if cs.initialOpTime != nil || cs.usedField != resumeFieldNone || cs.maxWireVersion < 7 {
		return
	}
	if cs.postBatchResumeToken != nil {
		return
	}
	if cs.binding.Session == nil || cs.binding.Session.OperationTime == nil {
		return
	}
	t := *cs.binding.Session.OperationTime
	cs.initialOpTime = &t
}

// isResumable reports whether err belongs to the resumable set of spec section 4.G: a
// driver.Error that is retryable or carries CursorNotFound, unless its code is on the
// non-resumable deny list. Any other error, including a server error with neither a retryable
// code nor a retryable label, is not resumable.
func isResumable(err error) bool {
	de, ok := err.(driver.Error)
	if !ok {
		return false
	}
	return de.Resumable()
}

// resume disposes the current inner cursor and rebuilds it via Aggregate.Resume with a new
// $changeStream stage chosen per the spec section 4.G priority order. It returns false (leaving
// Err set) if the rebuild itself fails.
func (cs *ChangeStreamCursor) resume(ctx context.Context) bool {
	_ = cs.inner.Close(ctx)

	stage := cs.buildResumeStage()
	cs.agg.Pipeline[0] = operation.BuildChangeStreamStage(stage)

	next, err := cs.agg.Resume(ctx, cs.binding)
	if err != nil {
		cs.err = err
		cs.closed = true
		return false
	}
	cs.inner = next
	cs.originalStage = stage
	if tok := next.PostBatchResumeToken(); tok != nil {
		cs.postBatchResumeToken = tok
	}
	cs.batch = nil
	cs.batchAt = 0
	cs.maybeCaptureInitialOperationTime()
	return true
}

// buildResumeStage selects the resume option per spec section 4.G's priority order:
// postBatchResumeToken, then the last yielded document's _id, then a captured operation time,
// else the unchanged original stage.
func (cs *ChangeStreamCursor) buildResumeStage() operation.ChangeStreamStageOptions {
	next := cs.originalStage
	next.ResumeAfter = nil
	next.StartAfter = nil
	next.StartAtOperationTime = nil

	switch {
	case cs.postBatchResumeToken != nil:
		if cs.usedField == resumeFieldStartAfter {
			next.StartAfter = cs.postBatchResumeToken
		} else {
			next.ResumeAfter = cs.postBatchResumeToken
		}
	case cs.lastYieldedID != nil:
		next.ResumeAfter = cs.lastYieldedID
		cs.usedField = resumeFieldResumeAfter
	case cs.initialOpTime != nil:
		next.StartAtOperationTime = cs.initialOpTime
	default:
		return cs.originalStage
	}
	return next
}

// Current returns the raw document for the event most recently yielded by Next.
func (cs *ChangeStreamCursor) Current() bsoncore.Document { return cs.current }

// Decode unmarshals the current event into val.
func (cs *ChangeStreamCursor) Decode(val interface{}) error {
	return bson.Unmarshal(cs.current, val)
}

// ResumeToken returns the resume token a caller could persist and later hand to ResumeAfter to
// continue this stream from its current position.
func (cs *ChangeStreamCursor) ResumeToken() bson.Raw {
	if cs.lastYieldedID != nil {
		return cs.lastYieldedID
	}
	return cs.postBatchResumeToken
}

// Err returns the error that stopped iteration, if any.
func (cs *ChangeStreamCursor) Err() error { return cs.err }

// Close disposes the change stream's current underlying cursor.
func (cs *ChangeStreamCursor) Close(ctx context.Context) error {
	if cs.closed {
		return nil
	}
	cs.closed = true
	return cs.inner.Close(ctx)
}
