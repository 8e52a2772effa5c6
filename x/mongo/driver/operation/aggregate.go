// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"

	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// Aggregate builds and executes an aggregate command, producing a BatchCursor over its first
// batch. A change stream is simply an Aggregate whose Pipeline begins with a $changeStream
// stage (see ChangeStreamStage), built and rebuilt by the ChangeStreamCursor that owns it.
type Aggregate struct {
	Namespace      driver.Namespace
	Pipeline       []bsoncore.Document
	Collation      *driver.Collation
	BatchSize      int32
	MaxAwaitTimeMS int64
	Comment        bsoncore.Value

	ReadPreference *readpref.ReadPref
	ReadConcern    *readconcern.ReadConcern
	RetryRequested bool
}

// Execute runs the aggregate command through a RetryableRead context.
func (a *Aggregate) Execute(ctx context.Context, binding driver.Binding) (*driver.BatchCursor, error) {
	return a.execute(ctx, binding, a.RetryRequested)
}

// Resume re-runs the aggregate outside of RetryableRead's own retry loop: a ChangeStreamCursor
// calls this after it has already decided to rebuild its stream following a resumable error, so
// a second transparent retry here would only mask a genuine failure from the caller.
func (a *Aggregate) Resume(ctx context.Context, binding driver.Binding) (*driver.BatchCursor, error) {
	return a.execute(ctx, binding, false)
}

func (a *Aggregate) execute(ctx context.Context, binding driver.Binding, retry bool) (*driver.BatchCursor, error) {
	rr := driver.RetryableRead{Binding: binding, ReadPreference: a.ReadPreference, RetryRequested: retry}

	res, server, err := rr.Execute(ctx, func(ctx context.Context, conn driver.Connection, desc description.SelectedServer) (interface{}, error) {
		cmd, err := a.command(desc, binding)
		if err != nil {
			return nil, err
		}
		reply, err := driver.RoundTripCommand(ctx, conn, cmd)
		if err != nil {
			return nil, err
		}
		driver.UpdateClusterTimes(binding.Session, binding.Clock, reply)
		driver.UpdateOperationTime(binding.Session, reply)
		return driver.NewCursorResponse(reply, desc)
	})
	if err != nil {
		return nil, err
	}
	cr := res.(driver.CursorResponse)
	return driver.NewBatchCursor(cr, binding, server)
}

func (a *Aggregate) command(desc description.SelectedServer, binding driver.Binding) (bsoncore.Document, error) {
	target := a.Namespace.Collection
	if target == "" {
		target = "1"
	}

	pidx, pipeline := bsoncore.AppendArrayStart(nil)
	for i, stage := range a.Pipeline {
		pipeline = bsoncore.AppendDocumentElement(pipeline, itoa(i), stage)
	}
	pipeline, _ = bsoncore.AppendArrayEnd(pipeline, pidx)

	cidx, cursor := bsoncore.AppendDocumentStart(nil)
	if a.BatchSize != 0 {
		cursor = bsoncore.AppendInt32Element(cursor, "batchSize", a.BatchSize)
	}
	cursor, _ = bsoncore.AppendDocumentEnd(cursor, cidx)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "aggregate", target)
	dst = bsoncore.AppendArrayElement(dst, "pipeline", pipeline)
	dst = bsoncore.AppendDocumentElement(dst, "cursor", cursor)
	if a.MaxAwaitTimeMS > 0 {
		dst = bsoncore.AppendInt64Element(dst, "maxAwaitTimeMS", a.MaxAwaitTimeMS)
	}
	if !a.Comment.IsZero() {
		dst = bsoncore.AppendValueElement(dst, "comment", a.Comment)
	}
	if c := a.Collation.ToDocument(); c != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", c)
	}
	dst = driver.AppendReadConcern(dst, a.ReadConcern, binding.Session, desc)
	dst, err := driver.AppendSession(dst, binding.Session, desc)
	if err != nil {
		return nil, err
	}
	dst = driver.AppendClusterTime(dst, binding.Session, binding.Clock, desc)
	db := a.Namespace.DB
	if db == "" {
		db = "admin"
	}
	dst = bsoncore.AppendStringElement(dst, "$db", db)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
