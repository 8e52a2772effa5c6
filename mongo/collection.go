// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
)

// Collection is a handle to a named collection within a Database. Every read against it goes
// through one of the three façade entry points: Find (component D, the freezing builder),
// Aggregate, or Watch (component G, the resumable change stream).
type Collection struct {
	client *Client
	db     string
	name   string

	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
}

// Name returns the collection's name, unqualified by its database.
func (c *Collection) Name() string { return c.name }

// Database returns the Database this collection belongs to.
func (c *Collection) Database() *Database {
	return &Database{client: c.client, name: c.db, readPreference: c.readPreference, readConcern: c.readConcern}
}

// WithReadPreference returns a copy of c with its read preference overridden for subsequent
// operations.
func (c *Collection) WithReadPreference(rp *readpref.ReadPref) *Collection {
	clone := *c
	clone.readPreference = rp
	return &clone
}

// WithReadConcern returns a copy of c with its read concern overridden for subsequent
// operations.
func (c *Collection) WithReadConcern(rc *readconcern.ReadConcern) *Collection {
	clone := *c
	clone.readConcern = rc
	return &clone
}

func (c *Collection) namespace() driver.Namespace {
	return driver.Namespace{DB: c.db, Collection: c.name}
}

func (c *Collection) binding() driver.Binding {
	return c.client.binding()
}

// Find returns a FindBuilder over filter. The builder accumulates options until Count, Size,
// Explain, or Iterate commits it to a single execution; see FindBuilder.
func (c *Collection) Find(filter interface{}) *FindBuilder {
	doc, err := transformDocument(filter)
	fb := newFindBuilder(c, doc)
	if err != nil {
		fb.err = err
	}
	return fb
}

// Aggregate runs an aggregation pipeline against the collection and returns a Cursor over its
// output.
func (c *Collection) Aggregate(ctx context.Context, pipeline interface{}, opts ...AggregateOption) (*Cursor, error) {
	agg, err := buildAggregate(c.namespace(), pipeline, c.readPreference, c.readConcern, opts...)
	if err != nil {
		return nil, err
	}
	bc, err := agg.Execute(ctx, c.binding())
	if err != nil {
		return nil, err
	}
	return newCursor(bc), nil
}

// Watch opens a resumable change stream over the collection. pipeline may add further stages
// after the implicit leading $changeStream stage; pass Pipeline{} or nil for an unfiltered
// stream.
func (c *Collection) Watch(ctx context.Context, pipeline interface{}, opts ...ChangeStreamOption) (*ChangeStreamCursor, error) {
	if pipeline == nil {
		pipeline = Pipeline{}
	}
	return openChangeStream(ctx, c.client, c.namespace(), pipeline, c.readPreference, c.readConcern, opts...)
}
