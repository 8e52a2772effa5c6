// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"testing"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/internal/assert"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

func TestTransformDocument(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		doc, err := transformDocument(nil)
		assert.Nil(t, err, "unexpected error: %v", err)
		assert.Nil(t, doc, "expected a nil document for a nil input")
	})

	t.Run("bsoncore.Document passthrough", func(t *testing.T) {
		want := bsoncore.Document{}
		doc, err := transformDocument(want)
		assert.Nil(t, err, "unexpected error: %v", err)
		assert.Equal(t, want, doc, "expected the bsoncore.Document to pass through unchanged")
	})

	t.Run("bson.D", func(t *testing.T) {
		doc, err := transformDocument(bson.D{{"x", int32(1)}})
		assert.Nil(t, err, "unexpected error: %v", err)

		v, err := doc.LookupErr("x")
		assert.Nil(t, err, "expected transformed document to contain \"x\": %v", err)
		n, ok := v.Int32OK()
		assert.True(t, ok, "expected \"x\" to be an int32")
		assert.Equal(t, int32(1), n, "expected x=1, got %d", n)
	})

	t.Run("unmarshalable type", func(t *testing.T) {
		_, err := transformDocument(func() {})
		assert.NotNil(t, err, "expected an error transforming a func value")
	})
}

func TestTransformValue(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		v, err := transformValue(nil)
		assert.Nil(t, err, "unexpected error: %v", err)
		assert.True(t, v.IsZero(), "expected a zero Value for a nil input")
	})

	t.Run("string", func(t *testing.T) {
		v, err := transformValue("idx_name")
		assert.Nil(t, err, "unexpected error: %v", err)
		s, ok := v.StringValueOK()
		assert.True(t, ok, "expected a string value")
		assert.Equal(t, "idx_name", s, "expected %q, got %q", "idx_name", s)
	})
}

func TestTransformPipelineStages(t *testing.T) {
	t.Run("Pipeline", func(t *testing.T) {
		stages, err := transformPipelineStages(Pipeline{bson.D{{"$match", bson.D{{"x", 1}}}}})
		assert.Nil(t, err, "unexpected error: %v", err)
		assert.Equal(t, 1, len(stages), "expected exactly one stage")
	})

	t.Run("[]bson.D", func(t *testing.T) {
		stages, err := transformPipelineStages([]bson.D{{{"$limit", 1}}, {{"$skip", 1}}})
		assert.Nil(t, err, "unexpected error: %v", err)
		assert.Equal(t, 2, len(stages), "expected exactly two stages")
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := transformPipelineStages("not a pipeline")
		assert.NotNil(t, err, "expected an error for an unsupported pipeline type")
	})
}
