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

// Database is a handle to a named database on a Client, carrying the read preference and read
// concern new Collections inherit unless they're overridden.
type Database struct {
	client *Client
	name   string

	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
}

// Name returns the database's name.
func (db *Database) Name() string { return db.name }

// Collection returns a handle to the named collection, inheriting the database's read
// preference and read concern.
func (db *Database) Collection(name string) *Collection {
	return &Collection{
		client:         db.client,
		db:             db.name,
		name:           name,
		readPreference: db.readPreference,
		readConcern:    db.readConcern,
	}
}

// WithReadPreference returns a copy of db with its default read preference overridden for
// Collections obtained from it afterward.
func (db *Database) WithReadPreference(rp *readpref.ReadPref) *Database {
	clone := *db
	clone.readPreference = rp
	return &clone
}

// WithReadConcern returns a copy of db with its default read concern overridden for Collections
// obtained from it afterward.
func (db *Database) WithReadConcern(rc *readconcern.ReadConcern) *Database {
	clone := *db
	clone.readConcern = rc
	return &clone
}

// Aggregate runs a database-level aggregation pipeline (one with no initial collection, such as
// $currentOp or $listLocalSessions) and returns a Cursor over its output.
func (db *Database) Aggregate(ctx context.Context, pipeline interface{}, opts ...AggregateOption) (*Cursor, error) {
	agg, err := buildAggregate(driver.Namespace{DB: db.name}, pipeline, db.readPreference, db.readConcern, opts...)
	if err != nil {
		return nil, err
	}
	bc, err := agg.Execute(ctx, db.client.binding())
	if err != nil {
		return nil, err
	}
	return newCursor(bc), nil
}

// Watch opens a database-level change stream over every collection in db.
func (db *Database) Watch(ctx context.Context, pipeline interface{}, opts ...ChangeStreamOption) (*ChangeStreamCursor, error) {
	return openChangeStream(ctx, db.client, driver.Namespace{DB: db.name}, pipeline, db.readPreference, db.readConcern, opts...)
}
