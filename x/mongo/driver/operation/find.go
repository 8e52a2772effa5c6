// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation builds and executes the command operations the cursor and change-stream
// core run on top of: find, aggregate, and (via aggregate) $changeStream.
package operation

import (
	"context"

	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// CursorType selects the wire-protocol cursor flavor a find command requests, derived from the
// tailable/awaitData flag combination per spec section 4.D.
type CursorType uint8

// Cursor types.
const (
	NonTailable CursorType = iota
	Tailable
	TailableAwait
)

// Find builds and executes a find command, producing a BatchCursor over its first batch.
type Find struct {
	Namespace   driver.Namespace
	Filter      bsoncore.Document
	Projection  bsoncore.Document
	Sort        bsoncore.Document
	Hint        bsoncore.Value
	Min         bsoncore.Document
	Max         bsoncore.Document
	Collation   *driver.Collation
	Skip        int64
	Limit       int64
	BatchSize   int32
	SingleBatch bool
	MaxTimeMS   int64
	ReturnKey   bool
	ShowRecordID bool
	NoCursorTimeout bool
	AllowPartialResults bool
	CursorType  CursorType
	Comment     bsoncore.Value

	ReadPreference *readpref.ReadPref
	ReadConcern    *readconcern.ReadConcern
	RetryRequested bool
}

// Execute runs the find command through a RetryableRead context and returns a BatchCursor over
// the documents the server returned in its first batch.
func (f *Find) Execute(ctx context.Context, binding driver.Binding) (*driver.BatchCursor, error) {
	rr := driver.RetryableRead{Binding: binding, ReadPreference: f.ReadPreference, RetryRequested: f.RetryRequested}

	res, server, err := rr.Execute(ctx, func(ctx context.Context, conn driver.Connection, desc description.SelectedServer) (interface{}, error) {
		cmd, err := f.command(desc, binding)
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

// Explain runs this find wrapped in an explain command at the given verbosity ("queryPlanner" or
// "allPlansExecution") and returns the server's raw explain plan. It bypasses BatchCursor
// entirely since explain never returns a cursor-shaped reply.
func (f *Find) Explain(ctx context.Context, binding driver.Binding, verbosity string) (bsoncore.Document, error) {
	rr := driver.RetryableRead{Binding: binding, ReadPreference: f.ReadPreference, RetryRequested: f.RetryRequested}

	res, _, err := rr.Execute(ctx, func(ctx context.Context, conn driver.Connection, desc description.SelectedServer) (interface{}, error) {
		findCmd, err := f.command(desc, binding)
		if err != nil {
			return nil, err
		}
		idx, dst := bsoncore.AppendDocumentStart(nil)
		dst = bsoncore.AppendDocumentElement(dst, "explain", findCmd)
		dst = bsoncore.AppendStringElement(dst, "verbosity", verbosity)
		dst = bsoncore.AppendStringElement(dst, "$db", f.Namespace.DB)
		dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
		return driver.RoundTripCommand(ctx, conn, dst)
	})
	if err != nil {
		return nil, err
	}
	return res.(bsoncore.Document), nil
}

func (f *Find) command(desc description.SelectedServer, binding driver.Binding) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "find", f.Namespace.Collection)
	if f.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", f.Filter)
	}
	if f.Projection != nil {
		dst = bsoncore.AppendDocumentElement(dst, "projection", f.Projection)
	}
	if f.Sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", f.Sort)
	}
	if !f.Hint.IsZero() {
		dst = bsoncore.AppendValueElement(dst, "hint", f.Hint)
	}
	if f.Min != nil {
		dst = bsoncore.AppendDocumentElement(dst, "min", f.Min)
	}
	if f.Max != nil {
		dst = bsoncore.AppendDocumentElement(dst, "max", f.Max)
	}
	if f.Skip > 0 {
		dst = bsoncore.AppendInt64Element(dst, "skip", f.Skip)
	}
	if f.Limit != 0 {
		limit := f.Limit
		if limit < 0 {
			limit = -limit
			dst = bsoncore.AppendBooleanElement(dst, "singleBatch", true)
		}
		dst = bsoncore.AppendInt64Element(dst, "limit", limit)
	}
	if f.BatchSize != 0 {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", f.BatchSize)
	}
	if f.SingleBatch {
		dst = bsoncore.AppendBooleanElement(dst, "singleBatch", true)
	}
	if f.MaxTimeMS > 0 {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", f.MaxTimeMS)
	}
	if f.ReturnKey {
		dst = bsoncore.AppendBooleanElement(dst, "returnKey", true)
	}
	if f.ShowRecordID {
		dst = bsoncore.AppendBooleanElement(dst, "showRecordId", true)
	}
	switch f.CursorType {
	case Tailable:
		dst = bsoncore.AppendBooleanElement(dst, "tailable", true)
	case TailableAwait:
		dst = bsoncore.AppendBooleanElement(dst, "tailable", true)
		dst = bsoncore.AppendBooleanElement(dst, "awaitData", true)
	}
	if f.NoCursorTimeout {
		dst = bsoncore.AppendBooleanElement(dst, "noCursorTimeout", true)
	}
	if f.AllowPartialResults {
		dst = bsoncore.AppendBooleanElement(dst, "allowPartialResults", true)
	}
	if !f.Comment.IsZero() {
		dst = bsoncore.AppendValueElement(dst, "comment", f.Comment)
	}
	if c := f.Collation.ToDocument(); c != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", c)
	}
	dst = driver.AppendReadConcern(dst, f.ReadConcern, binding.Session, desc)
	dst, err := driver.AppendSession(dst, binding.Session, desc)
	if err != nil {
		return nil, err
	}
	dst = driver.AppendClusterTime(dst, binding.Session, binding.Clock, desc)
	dst = bsoncore.AppendStringElement(dst, "$db", f.Namespace.DB)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst, nil
}
