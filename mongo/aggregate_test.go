// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"testing"
	"time"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/internal/assert"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
)

func TestBuildAggregate(t *testing.T) {
	ns := driver.Namespace{DB: "test", Collection: "coll"}
	pipeline := Pipeline{bson.D{{"$match", bson.D{{"x", 1}}}}}

	agg, err := buildAggregate(ns, pipeline, nil, nil, WithAggregateBatchSize(50), WithAggregateRetry(false))
	assert.Nil(t, err, "unexpected error: %v", err)
	assert.Equal(t, ns, agg.Namespace, "expected namespace to round-trip")
	assert.Equal(t, 1, len(agg.Pipeline), "expected one pipeline stage")
	assert.Equal(t, int32(50), agg.BatchSize, "expected WithAggregateBatchSize to set BatchSize")
	assert.False(t, agg.RetryRequested, "expected WithAggregateRetry(false) to clear RetryRequested")
}

func TestBuildAggregateDefaultsRetryToTrue(t *testing.T) {
	agg, err := buildAggregate(driver.Namespace{DB: "test"}, Pipeline{}, nil, nil)
	assert.Nil(t, err, "unexpected error: %v", err)
	assert.True(t, agg.RetryRequested, "expected RetryRequested to default to true")
}

func TestBuildAggregatePropagatesTransformError(t *testing.T) {
	_, err := buildAggregate(driver.Namespace{DB: "test"}, "not a pipeline", nil, nil)
	assert.NotNil(t, err, "expected an error for an unsupported pipeline type")
}

func TestChangeStreamOptionsConfigureStage(t *testing.T) {
	cfg := &changeStreamConfig{}
	tokenBytes, err := bson.Marshal(bson.D{{"_data", "abc"}})
	assert.Nil(t, err, "unexpected error marshaling resume token: %v", err)
	token := bson.Raw(tokenBytes)

	for _, opt := range []ChangeStreamOption{
		WithResumeAfter(token),
		WithChangeStreamBatchSize(10),
		WithChangeStreamMaxAwaitTime(2 * time.Second),
	} {
		opt(cfg)
	}

	assert.Equal(t, resumeFieldResumeAfter, cfg.field, "expected WithResumeAfter to record resumeFieldResumeAfter")
	assert.Equal(t, 2, len(cfg.agg), "expected two deferred AggregateOptions from batch size and max await time")
}
