// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"time"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/operation"
)

// AggregateOption configures an aggregate command built by Collection.Aggregate or
// Database.Aggregate.
type AggregateOption func(*operation.Aggregate)

// WithAggregateBatchSize sets the cursor batch size hint.
func WithAggregateBatchSize(n int32) AggregateOption {
	return func(a *operation.Aggregate) { a.BatchSize = n }
}

// WithAggregateCollation sets the collation.
func WithAggregateCollation(c *driver.Collation) AggregateOption {
	return func(a *operation.Aggregate) { a.Collation = c }
}

// WithAggregateMaxAwaitTime sets maxAwaitTimeMS, meaningful for a tailable-await cursor such as a
// change stream.
func WithAggregateMaxAwaitTime(d time.Duration) AggregateOption {
	return func(a *operation.Aggregate) { a.MaxAwaitTimeMS = int64(d / time.Millisecond) }
}

// WithAggregateComment attaches a comment to the operation for server-side logs.
func WithAggregateComment(comment interface{}) AggregateOption {
	return func(a *operation.Aggregate) {
		v, err := transformValue(comment)
		if err == nil {
			a.Comment = v
		}
	}
}

// WithAggregateRetry controls whether the execution is allowed one transparent retry on a
// retryable error. It defaults to true.
func WithAggregateRetry(v bool) AggregateOption {
	return func(a *operation.Aggregate) { a.RetryRequested = v }
}

// buildAggregate transforms pipeline and applies opts over ns's default read preference/concern.
func buildAggregate(
	ns driver.Namespace,
	pipeline interface{},
	rp *readpref.ReadPref,
	rc *readconcern.ReadConcern,
	opts ...AggregateOption,
) (*operation.Aggregate, error) {
	stages, err := transformPipelineStages(pipeline)
	if err != nil {
		return nil, err
	}
	agg := &operation.Aggregate{
		Namespace:      ns,
		Pipeline:       stages,
		ReadPreference: rp,
		ReadConcern:    rc,
		RetryRequested: true,
	}
	for _, opt := range opts {
		opt(agg)
	}
	return agg, nil
}

// ChangeStreamOption configures the $changeStream stage and surrounding aggregate command built
// by Collection.Watch or Database.Watch.
type ChangeStreamOption func(*changeStreamConfig)

type changeStreamConfig struct {
	stage operation.ChangeStreamStageOptions
	field resumeField
	agg   []AggregateOption
}

// WithFullDocument selects how much of the post-change document change events include.
func WithFullDocument(mode operation.FullDocumentMode) ChangeStreamOption {
	return func(c *changeStreamConfig) { c.stage.FullDocument = mode }
}

// WithAllChangesForCluster watches every database in the deployment; valid only on a Client-level
// or Database admin-level watch.
func WithAllChangesForCluster(v bool) ChangeStreamOption {
	return func(c *changeStreamConfig) { c.stage.AllChangesForCluster = v }
}

// WithResumeAfter resumes immediately after the event token identifies.
func WithResumeAfter(token bson.Raw) ChangeStreamOption {
	return func(c *changeStreamConfig) {
		c.stage.ResumeAfter = token
		c.field = resumeFieldResumeAfter
	}
}

// WithStartAfter resumes at or after the event token identifies, including an invalidate event
// token points at (unlike WithResumeAfter).
func WithStartAfter(token bson.Raw) ChangeStreamOption {
	return func(c *changeStreamConfig) {
		c.stage.StartAfter = token
		c.field = resumeFieldStartAfter
	}
}

// WithStartAtOperationTime begins the stream at the given cluster time, requires wire version 7+.
func WithStartAtOperationTime(ts bson.Timestamp) ChangeStreamOption {
	return func(c *changeStreamConfig) { c.stage.StartAtOperationTime = &ts }
}

// WithChangeStreamBatchSize sets the cursor batch size hint.
func WithChangeStreamBatchSize(n int32) ChangeStreamOption {
	return func(c *changeStreamConfig) { c.agg = append(c.agg, WithAggregateBatchSize(n)) }
}

// WithChangeStreamMaxAwaitTime sets how long the server may hold a getMore open awaiting new
// events before returning an empty batch.
func WithChangeStreamMaxAwaitTime(d time.Duration) ChangeStreamOption {
	return func(c *changeStreamConfig) { c.agg = append(c.agg, WithAggregateMaxAwaitTime(d)) }
}

// WithChangeStreamCollation sets the collation.
func WithChangeStreamCollation(collation *driver.Collation) ChangeStreamOption {
	return func(c *changeStreamConfig) { c.agg = append(c.agg, WithAggregateCollation(collation)) }
}

// defaultChangeStreamMaxAwaitTime matches the server's own default getMore await window so a
// caller who doesn't set one still gets a cursor that blocks briefly rather than busy-polling.
const defaultChangeStreamMaxAwaitTime = time.Second

// openChangeStream builds the $changeStream pipeline stage, prepends it to pipeline, runs the
// resulting aggregate, and wraps the resulting BatchCursor in a ChangeStreamCursor able to
// transparently resume.
func openChangeStream(
	ctx context.Context,
	client *Client,
	ns driver.Namespace,
	pipeline interface{},
	rp *readpref.ReadPref,
	rc *readconcern.ReadConcern,
	opts ...ChangeStreamOption,
) (*ChangeStreamCursor, error) {
	cfg := &changeStreamConfig{agg: []AggregateOption{WithAggregateMaxAwaitTime(defaultChangeStreamMaxAwaitTime)}}
	for _, opt := range opts {
		opt(cfg)
	}

	stages, err := transformPipelineStages(pipeline)
	if err != nil {
		return nil, err
	}
	fullPipeline := append([]bsoncore.Document{operation.BuildChangeStreamStage(cfg.stage)}, stages...)

	agg := &operation.Aggregate{
		Namespace:      ns,
		Pipeline:       fullPipeline,
		ReadPreference: rp,
		ReadConcern:    rc,
		RetryRequested: true,
	}
	for _, opt := range cfg.agg {
		opt(agg)
	}

	binding := client.binding()
	bc, err := agg.Execute(ctx, binding)
	if err != nil {
		return nil, err
	}

	var maxWireVersion int32
	if wv := bc.WireVersion(); wv != nil {
		maxWireVersion = wv.Max
	}

	var initialOpTime *bson.Timestamp
	if cfg.field == resumeFieldNone && maxWireVersion >= 7 && bc.PostBatchResumeToken() == nil &&
		len(bc.Batch()) == 0 && binding.Session != nil {
		initialOpTime = binding.Session.OperationTime
	}

	return newChangeStreamCursor(bc, binding, agg, cfg.stage, cfg.field, maxWireVersion, initialOpTime), nil
}
