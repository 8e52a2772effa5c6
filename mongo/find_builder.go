// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/operation"
)

// ErrFrozen is recorded by any FindBuilder mutator called after the builder has committed to an
// execution via Count, Size, Explain, or Iterate, and reported through Err; a second commit
// returns it directly.
var ErrFrozen = errors.New("mongo: find builder is frozen; commit already in progress")

// FindBuilder accumulates find options against a single collection and freezes the instant it
// commits to an execution. It produces at most one live cursor: it is not meant to be reused
// across queries.
type FindBuilder struct {
	coll *Collection

	filter     bsoncore.Document
	projection bsoncore.Document
	sort       bsoncore.Document
	hint       bsoncore.Value
	min        bsoncore.Document
	max        bsoncore.Document
	collation  *driver.Collation

	skip      int64
	limit     int64
	batchSize int32
	single    bool
	maxTimeMS int64

	returnKey       bool
	showRecordID    bool
	noCursorTimeout bool
	partialResults  bool
	tailable        bool
	awaitData       bool
	exhaust         bool

	comment        bsoncore.Value
	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
	retry          bool

	frozen bool
	err    error
}

func newFindBuilder(coll *Collection, filter bsoncore.Document) *FindBuilder {
	return &FindBuilder{
		coll:           coll,
		filter:         filter,
		readPreference: coll.readPreference,
		readConcern:    coll.readConcern,
		retry:          true,
	}
}

// Err returns the first error recorded by a mutator, if any — in particular ErrFrozen once the
// builder has committed.
func (fb *FindBuilder) Err() error { return fb.err }

func (fb *FindBuilder) mutate(set func()) *FindBuilder {
	if fb.err != nil {
		return fb
	}
	if fb.frozen {
		fb.err = ErrFrozen
		return fb
	}
	set()
	return fb
}

// Projection sets the projection document.
func (fb *FindBuilder) Projection(doc interface{}) *FindBuilder {
	return fb.mutate(func() {
		d, err := transformDocument(doc)
		if err != nil {
			fb.err = err
			return
		}
		fb.projection = d
	})
}

// Sort sets the sort document.
func (fb *FindBuilder) Sort(doc interface{}) *FindBuilder {
	return fb.mutate(func() {
		d, err := transformDocument(doc)
		if err != nil {
			fb.err = err
			return
		}
		fb.sort = d
	})
}

// Hint sets the index hint, either an index name (string) or an index specification document.
func (fb *FindBuilder) Hint(hint interface{}) *FindBuilder {
	return fb.mutate(func() {
		v, err := transformValue(hint)
		if err != nil {
			fb.err = err
			return
		}
		fb.hint = v
	})
}

// Min sets the min index bound document.
func (fb *FindBuilder) Min(doc interface{}) *FindBuilder {
	return fb.mutate(func() {
		d, err := transformDocument(doc)
		if err != nil {
			fb.err = err
			return
		}
		fb.min = d
	})
}

// Max sets the max index bound document.
func (fb *FindBuilder) Max(doc interface{}) *FindBuilder {
	return fb.mutate(func() { fb.max, fb.err = transformDocumentOrErr(doc) })
}

// Collation sets the collation.
func (fb *FindBuilder) Collation(c *driver.Collation) *FindBuilder {
	return fb.mutate(func() { fb.collation = c })
}

// Skip sets the number of documents to skip; negative values are rejected at commit time.
func (fb *FindBuilder) Skip(n int64) *FindBuilder {
	return fb.mutate(func() { fb.skip = n })
}

// Limit sets the client-side document cap. A negative value requests a single batch of
// abs(n) documents, matching the wire protocol's singleBatch convention.
func (fb *FindBuilder) Limit(n int64) *FindBuilder {
	return fb.mutate(func() { fb.limit = n })
}

// BatchSize sets the server batch-size hint.
func (fb *FindBuilder) BatchSize(n int32) *FindBuilder {
	return fb.mutate(func() { fb.batchSize = n })
}

// SingleBatch requests that the server return everything in its first batch.
func (fb *FindBuilder) SingleBatch(single bool) *FindBuilder {
	return fb.mutate(func() { fb.single = single })
}

// MaxTime sets the server-side time budget for the operation.
func (fb *FindBuilder) MaxTime(d time.Duration) *FindBuilder {
	return fb.mutate(func() { fb.maxTimeMS = int64(d / time.Millisecond) })
}

// ReturnKey requests index keys instead of full documents.
func (fb *FindBuilder) ReturnKey(v bool) *FindBuilder {
	return fb.mutate(func() { fb.returnKey = v })
}

// ShowRecordID adds a $recordId field to each returned document.
func (fb *FindBuilder) ShowRecordID(v bool) *FindBuilder {
	return fb.mutate(func() { fb.showRecordID = v })
}

// NoCursorTimeout disables the server's idle-cursor timeout.
func (fb *FindBuilder) NoCursorTimeout(v bool) *FindBuilder {
	return fb.mutate(func() { fb.noCursorTimeout = v })
}

// AllowPartialResults permits a partial result set from a sharded cluster with unavailable
// shards.
func (fb *FindBuilder) AllowPartialResults(v bool) *FindBuilder {
	return fb.mutate(func() { fb.partialResults = v })
}

// Tailable marks the cursor tailable over a capped collection.
func (fb *FindBuilder) Tailable(v bool) *FindBuilder {
	return fb.mutate(func() { fb.tailable = v })
}

// AwaitData marks a tailable cursor as blocking briefly for new data; meaningful only combined
// with Tailable.
func (fb *FindBuilder) AwaitData(v bool) *FindBuilder {
	return fb.mutate(func() { fb.awaitData = v })
}

// Exhaust requests the legacy exhaust cursor mode. It is unsupported by this driver's OP_MSG-only
// transport and always fails at commit time; the setter exists only so callers migrating from an
// exhaust-using client get a clear InvalidConfig error rather than silently ignored behavior.
func (fb *FindBuilder) Exhaust(v bool) *FindBuilder {
	return fb.mutate(func() { fb.exhaust = v })
}

// Comment attaches a comment to the operation for server-side logs.
func (fb *FindBuilder) Comment(comment interface{}) *FindBuilder {
	return fb.mutate(func() {
		v, err := transformValue(comment)
		if err != nil {
			fb.err = err
			return
		}
		fb.comment = v
	})
}

// ReadPreference overrides the collection's default read preference for this query.
func (fb *FindBuilder) ReadPreference(rp *readpref.ReadPref) *FindBuilder {
	return fb.mutate(func() { fb.readPreference = rp })
}

// ReadConcern overrides the collection's default read concern for this query.
func (fb *FindBuilder) ReadConcern(rc *readconcern.ReadConcern) *FindBuilder {
	return fb.mutate(func() { fb.readConcern = rc })
}

// RetryRequested controls whether the eventual execution is allowed one transparent retry on a
// retryable error. It defaults to true.
func (fb *FindBuilder) RetryRequested(v bool) *FindBuilder {
	return fb.mutate(func() { fb.retry = v })
}

// SortByField is a convenience equivalent to Sort(bson.D{{field, dir}}).
func (fb *FindBuilder) SortByField(field string, ascending bool) *FindBuilder {
	dir := int32(1)
	if !ascending {
		dir = -1
	}
	return fb.mutate(func() {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsoncore.AppendInt32Element(doc, field, dir)
		doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
		fb.sort = doc
	})
}

// IncludeFields is a convenience equivalent to a Projection including only the named fields.
func (fb *FindBuilder) IncludeFields(fields ...string) *FindBuilder {
	return fb.mutate(func() {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		for _, f := range fields {
			doc = bsoncore.AppendInt32Element(doc, f, 1)
		}
		doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
		fb.projection = doc
	})
}

// freeze commits the builder: it validates the accumulated options and returns the operation.Find
// it builds, atomically marking the builder unusable for further mutation.
func (fb *FindBuilder) freeze() (*operation.Find, error) {
	if fb.err != nil {
		return nil, fb.err
	}
	if fb.frozen {
		return nil, ErrFrozen
	}
	fb.frozen = true

	if fb.skip < 0 {
		return nil, fmt.Errorf("mongo: skip must be >= 0, got %d", fb.skip)
	}
	if fb.batchSize < 0 {
		return nil, fmt.Errorf("mongo: batchSize must be >= 0, got %d", fb.batchSize)
	}
	if fb.exhaust {
		return nil, fmt.Errorf("mongo: exhaust cursors are not supported")
	}
	if fb.awaitData && !fb.tailable {
		return nil, fmt.Errorf("mongo: awaitData requires tailable")
	}

	cursorType := operation.NonTailable
	switch {
	case fb.tailable && fb.awaitData:
		cursorType = operation.TailableAwait
	case fb.tailable:
		cursorType = operation.Tailable
	}

	rp := fb.readPreference

	return &operation.Find{
		Namespace:           fb.coll.namespace(),
		Filter:              fb.filter,
		Projection:          fb.projection,
		Sort:                fb.sort,
		Hint:                fb.hint,
		Min:                 fb.min,
		Max:                 fb.max,
		Collation:           fb.collation,
		Skip:                fb.skip,
		Limit:               fb.limit,
		BatchSize:           fb.batchSize,
		SingleBatch:         fb.single,
		MaxTimeMS:           fb.maxTimeMS,
		ReturnKey:           fb.returnKey,
		ShowRecordID:        fb.showRecordID,
		NoCursorTimeout:     fb.noCursorTimeout,
		AllowPartialResults: fb.partialResults,
		CursorType:          cursorType,
		Comment:             fb.comment,
		ReadPreference:      rp,
		ReadConcern:         fb.readConcern,
		RetryRequested:      fb.retry,
	}, nil
}

// Count freezes the builder and runs a count command over the filter, ignoring Skip and Limit.
func (fb *FindBuilder) Count(ctx context.Context) (int64, error) {
	if _, err := fb.freezeForDerived(); err != nil {
		return 0, err
	}
	return fb.count(ctx, 0, 0)
}

// Size freezes the builder and runs a count command over the filter, including Skip and Limit.
func (fb *FindBuilder) Size(ctx context.Context) (int64, error) {
	if _, err := fb.freezeForDerived(); err != nil {
		return 0, err
	}
	return fb.count(ctx, fb.skip, fb.limit)
}

func (fb *FindBuilder) count(ctx context.Context, skip, limit int64) (int64, error) {
	cnt := &operation.Count{
		Namespace:      fb.coll.namespace(),
		Filter:         fb.filter,
		Skip:           skip,
		Limit:          limit,
		Hint:           fb.hint,
		Collation:      fb.collation,
		MaxTimeMS:      fb.maxTimeMS,
		ReadPreference: fb.readPreference,
		ReadConcern:    fb.readConcern,
		RetryRequested: fb.retry,
	}
	return cnt.Execute(ctx, fb.coll.binding())
}

// freezeForDerived freezes the builder for Count/Size, which don't need a full find operation.
func (fb *FindBuilder) freezeForDerived() (struct{}, error) {
	if fb.err != nil {
		return struct{}{}, fb.err
	}
	if fb.frozen {
		return struct{}{}, ErrFrozen
	}
	fb.frozen = true
	if fb.skip < 0 {
		return struct{}{}, fmt.Errorf("mongo: skip must be >= 0, got %d", fb.skip)
	}
	return struct{}{}, nil
}

// ExplainVerbosity selects the detail level of an Explain commit.
type ExplainVerbosity string

// Explain verbosity levels.
const (
	ExplainQueryPlanner      ExplainVerbosity = "queryPlanner"
	ExplainAllPlansExecution ExplainVerbosity = "allPlansExecution"
)

// Explain freezes the builder, wraps the find it would have run in an explain command, and
// returns the server's raw explain plan.
func (fb *FindBuilder) Explain(ctx context.Context, verbosity ExplainVerbosity) (bsoncore.Document, error) {
	find, err := fb.freeze()
	if err != nil {
		return nil, err
	}
	return find.Explain(ctx, fb.coll.binding(), string(verbosity))
}

// Iterate freezes the builder, submits the find operation, and returns a Cursor over the first
// batch.
func (fb *FindBuilder) Iterate(ctx context.Context) (*Cursor, error) {
	find, err := fb.freeze()
	if err != nil {
		return nil, err
	}
	bc, err := find.Execute(ctx, fb.coll.binding())
	if err != nil {
		return nil, err
	}
	return newCursor(bc), nil
}
