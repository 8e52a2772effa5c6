// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"errors"
	"testing"

	"github.com/driftdb/mongo-driver/internal/assert"
	"github.com/driftdb/mongo-driver/x/mongo/driver/operation"
)

func testCollection() *Collection {
	return &Collection{db: "test", name: "coll"}
}

func TestFindBuilderMutateAfterFreezeReturnsErrFrozen(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	if _, err := fb.freeze(); err != nil {
		t.Fatalf("freeze() returned unexpected error: %v", err)
	}

	fb.Skip(5)
	assert.True(t, errors.Is(fb.Err(), ErrFrozen), "expected ErrFrozen after mutating a frozen builder, got %v", fb.Err())
}

func TestFindBuilderFreezeRejectsNegativeSkip(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.Skip(-1)

	if _, err := fb.freeze(); err == nil {
		t.Fatalf("expected freeze() to reject a negative skip")
	}
}

func TestFindBuilderFreezeRejectsNegativeBatchSize(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.BatchSize(-1)

	if _, err := fb.freeze(); err == nil {
		t.Fatalf("expected freeze() to reject a negative batchSize")
	}
}

func TestFindBuilderFreezeRejectsExhaust(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.Exhaust(true)

	if _, err := fb.freeze(); err == nil {
		t.Fatalf("expected freeze() to reject an exhaust cursor")
	}
}

func TestFindBuilderFreezeRejectsAwaitDataWithoutTailable(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.AwaitData(true)

	if _, err := fb.freeze(); err == nil {
		t.Fatalf("expected freeze() to reject awaitData without tailable")
	}
}

func TestFindBuilderCursorType(t *testing.T) {
	tests := []struct {
		name      string
		tailable  bool
		awaitData bool
		want      operation.CursorType
	}{
		{"default", false, false, operation.NonTailable},
		{"tailable only", true, false, operation.Tailable},
		{"tailable and await", true, true, operation.TailableAwait},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fb := newFindBuilder(testCollection(), nil)
			fb.Tailable(tc.tailable)
			fb.AwaitData(tc.awaitData)

			find, err := fb.freeze()
			assert.Nil(t, err, "freeze() returned unexpected error: %v", err)
			assert.Equal(t, tc.want, find.CursorType, "expected cursor type %v, got %v", tc.want, find.CursorType)
		})
	}
}

func TestFindBuilderErrShortCircuitsFurtherMutators(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.err = errors.New("boom")

	fb.Skip(5)
	fb.Limit(5)

	assert.True(t, fb.err.Error() == "boom", "expected the original error to survive further mutator calls, got %v", fb.err)
	assert.Equal(t, int64(0), fb.skip, "expected Skip to be a no-op once err is set")
}

func TestFindBuilderFreezeIsIdempotentlyUnusable(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	if _, err := fb.freeze(); err != nil {
		t.Fatalf("first freeze() returned unexpected error: %v", err)
	}
	if _, err := fb.freeze(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected second freeze() to return ErrFrozen, got %v", err)
	}
}

func TestFindBuilderSortByField(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.SortByField("name", false)

	find, err := fb.freeze()
	assert.Nil(t, err, "freeze() returned unexpected error: %v", err)

	v, err := find.Sort.LookupErr("name")
	assert.Nil(t, err, "expected sort document to contain \"name\": %v", err)
	n, ok := v.Int32OK()
	assert.True(t, ok, "expected sort direction to be an int32")
	assert.Equal(t, int32(-1), n, "expected descending sort direction -1, got %d", n)
}

func TestFindBuilderIncludeFields(t *testing.T) {
	fb := newFindBuilder(testCollection(), nil)
	fb.IncludeFields("a", "b")

	find, err := fb.freeze()
	assert.Nil(t, err, "freeze() returned unexpected error: %v", err)

	for _, field := range []string{"a", "b"} {
		_, err := find.Projection.LookupErr(field)
		assert.Nil(t, err, "expected projection to include field %q: %v", field, err)
	}
}
