// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"testing"

	"github.com/driftdb/mongo-driver/internal/assert"
	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
)

func TestCollectionWithReadPreferenceDoesNotMutateOriginal(t *testing.T) {
	orig := &Collection{db: "test", name: "coll", readPreference: readpref.Primary()}
	clone := orig.WithReadPreference(readpref.SecondaryPreferred())

	assert.Equal(t, readpref.Primary().Mode(), orig.readPreference.Mode(), "expected the original collection's read preference to be untouched")
	assert.Equal(t, readpref.SecondaryPreferred().Mode(), clone.readPreference.Mode(), "expected the clone to carry the overridden read preference")
	assert.True(t, orig != clone, "expected WithReadPreference to return a distinct Collection")
}

func TestCollectionWithReadConcernDoesNotMutateOriginal(t *testing.T) {
	orig := &Collection{db: "test", name: "coll", readConcern: readconcern.Local()}
	clone := orig.WithReadConcern(readconcern.Majority())

	assert.NotNil(t, orig.readConcern, "expected original read concern to remain set")
	assert.NotNil(t, clone.readConcern, "expected clone's read concern to be set")
}

func TestCollectionNamespace(t *testing.T) {
	c := &Collection{db: "test", name: "coll"}
	ns := c.namespace()
	assert.Equal(t, "test", ns.DB, "expected DB %q, got %q", "test", ns.DB)
	assert.Equal(t, "coll", ns.Collection, "expected Collection %q, got %q", "coll", ns.Collection)
}

func TestDatabaseCollectionInheritsReadPreference(t *testing.T) {
	db := &Database{name: "test", readPreference: readpref.SecondaryPreferred()}
	coll := db.Collection("coll")

	assert.Equal(t, readpref.SecondaryPreferred().Mode(), coll.readPreference.Mode(), "expected Collection to inherit Database's read preference")
	assert.Equal(t, "coll", coll.Name(), "expected collection name %q, got %q", "coll", coll.Name())
}
