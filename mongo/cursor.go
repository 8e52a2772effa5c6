// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
)

// Cursor iterates the documents a find or aggregate operation returned, decoding each one into
// a caller-supplied value on demand. It is a thin decoding layer over a driver.BatchCursor: all
// of the batching and killCursors discipline live there. A find's limit travels to the server
// with the find command; neither Cursor nor BatchCursor truncates a batch against it.
type Cursor struct {
	bc *driver.BatchCursor

	batch   []bsoncore.Document
	batchAt int
	current bsoncore.Document
}

func newCursor(bc *driver.BatchCursor) *Cursor {
	return &Cursor{bc: bc}
}

// Next advances to the next document, fetching another batch from the server when the current
// one is exhausted. It returns false once the cursor is drained or an error occurs; Err
// distinguishes the two.
func (c *Cursor) Next(ctx context.Context) bool {
	for {
		if c.batchAt < len(c.batch) {
			c.current = c.batch[c.batchAt]
			c.batchAt++
			return true
		}
		if !c.bc.Next(ctx) {
			return false
		}
		c.batch = c.bc.Batch()
		c.batchAt = 0
	}
}

// Current returns the raw document Next most recently produced.
func (c *Cursor) Current() bsoncore.Document { return c.current }

// Decode unmarshals the current document into val.
func (c *Cursor) Decode(val interface{}) error {
	return bson.Unmarshal(c.current, val)
}

// All drains the cursor, decoding each document into a fresh element of results, which must be a
// pointer to a slice. It closes the cursor whether or not decoding succeeds.
func (c *Cursor) All(ctx context.Context, results interface{}) error {
	defer c.Close(ctx)

	sliceVal := reflect.ValueOf(results)
	if sliceVal.Kind() != reflect.Ptr || sliceVal.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("mongo: results argument must be a pointer to a slice")
	}
	sliceVal = sliceVal.Elem()
	elemType := sliceVal.Type().Elem()

	sliceVal.Set(sliceVal.Slice(0, 0))
	for c.Next(ctx) {
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(c.current, elem.Interface()); err != nil {
			return err
		}
		sliceVal.Set(reflect.Append(sliceVal, elem.Elem()))
	}
	return c.Err()
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error { return c.bc.Err() }

// Close releases the cursor's server-side resources.
func (c *Cursor) Close(ctx context.Context) error { return c.bc.Close(ctx) }

// ID returns the server cursor id backing this cursor, 0 once it has been exhausted or closed.
func (c *Cursor) ID() int64 { return c.bc.ID() }
