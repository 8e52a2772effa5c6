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

// Count builds and executes a count command. It shares RetryableRead with Find and Aggregate
// since a count against a secondary is just as retryable as a find.
type Count struct {
	Namespace driver.Namespace
	Filter    bsoncore.Document
	Skip      int64
	Limit     int64
	Hint      bsoncore.Value
	Collation *driver.Collation
	MaxTimeMS int64

	ReadPreference *readpref.ReadPref
	ReadConcern    *readconcern.ReadConcern
	RetryRequested bool
}

// Execute runs the count command and returns the server-reported document count.
func (c *Count) Execute(ctx context.Context, binding driver.Binding) (int64, error) {
	rr := driver.RetryableRead{Binding: binding, ReadPreference: c.ReadPreference, RetryRequested: c.RetryRequested}

	res, _, err := rr.Execute(ctx, func(ctx context.Context, conn driver.Connection, desc description.SelectedServer) (interface{}, error) {
		cmd, err := c.command(desc, binding)
		if err != nil {
			return nil, err
		}
		reply, err := driver.RoundTripCommand(ctx, conn, cmd)
		if err != nil {
			return nil, err
		}
		driver.UpdateClusterTimes(binding.Session, binding.Clock, reply)
		driver.UpdateOperationTime(binding.Session, reply)
		n, _ := reply.Lookup("n").AsInt64OK()
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (c *Count) command(desc description.SelectedServer, binding driver.Binding) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "count", c.Namespace.Collection)
	if c.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "query", c.Filter)
	}
	if c.Skip > 0 {
		dst = bsoncore.AppendInt64Element(dst, "skip", c.Skip)
	}
	if c.Limit != 0 {
		dst = bsoncore.AppendInt64Element(dst, "limit", c.Limit)
	}
	if !c.Hint.IsZero() {
		dst = bsoncore.AppendValueElement(dst, "hint", c.Hint)
	}
	if c.MaxTimeMS > 0 {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", c.MaxTimeMS)
	}
	if coll := c.Collation.ToDocument(); coll != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", coll)
	}
	dst = driver.AppendReadConcern(dst, c.ReadConcern, binding.Session, desc)
	dst, err := driver.AppendSession(dst, binding.Session, desc)
	if err != nil {
		return nil, err
	}
	dst = driver.AppendClusterTime(dst, binding.Session, binding.Clock, desc)
	dst = bsoncore.AppendStringElement(dst, "$db", c.Namespace.DB)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst, nil
}
