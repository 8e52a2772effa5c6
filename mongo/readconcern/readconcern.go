// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readconcern defines the consistency and isolation guarantees requested of a read.
package readconcern

import "github.com/driftdb/mongo-driver/x/bsonx/bsoncore"

// ReadConcern requests a level of consistency and isolation for reads.
type ReadConcern struct {
	level string
}

// Local returns the "local" read concern: return the most recent data without guaranteeing it
// has been written to a majority of replica set members.
func Local() *ReadConcern { return &ReadConcern{level: "local"} }

// Majority returns the "majority" read concern: return data acknowledged by a majority.
func Majority() *ReadConcern { return &ReadConcern{level: "majority"} }

// Snapshot returns the "snapshot" read concern, used for multi-document transactions and
// snapshot reads.
func Snapshot() *ReadConcern { return &ReadConcern{level: "snapshot"} }

// Available returns the "available" read concern, used in sharded clusters to trade consistency
// for availability during a migration.
func Available() *ReadConcern { return &ReadConcern{level: "available"} }

// Linearizable returns the "linearizable" read concern.
func Linearizable() *ReadConcern { return &ReadConcern{level: "linearizable"} }

// Level returns the read concern's level string.
func (rc *ReadConcern) Level() string {
	if rc == nil {
		return ""
	}
	return rc.level
}

// Document renders rc as a readConcern document, or nil if rc is nil or unset.
func (rc *ReadConcern) Document() []byte {
	if rc == nil || rc.level == "" {
		return nil
	}
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendStringElement(doc, "level", rc.level)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}
