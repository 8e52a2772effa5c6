// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/internal/logger"
	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/session"
)

// Client is a handle onto a Topology: it carries the cluster clock every session on this client
// shares and the default read preference/concern a Database inherits unless it overrides them.
type Client struct {
	deployment driver.Deployment
	clock      *session.ClusterClock

	readPreference *readpref.ReadPref
	readConcern    *readconcern.ReadConcern
}

// NewClient wraps deployment (typically a *topology.Topology) in a Client.
func NewClient(deployment driver.Deployment) *Client {
	return &Client{
		deployment:     deployment,
		clock:          &session.ClusterClock{},
		readPreference: readpref.Primary(),
	}
}

// SetLogger installs l as the command logger for every operation run through this Client (and,
// since the core has no per-connection log routing, every other Client in the process). Pass
// nil to disable command logging.
func (c *Client) SetLogger(l *logger.Logger) { driver.SetLogger(l) }

// Database returns a handle to the named database, inheriting the client's read preference and
// read concern.
func (c *Client) Database(name string) *Database {
	return &Database{
		client:         c,
		name:           name,
		readPreference: c.readPreference,
		readConcern:    c.readConcern,
	}
}

// binding builds a fresh Binding for a single operation: a new causally-consistent session over
// the client's shared cluster clock. Sessions are not pooled or reused across calls since the
// result-streaming core only needs one per in-flight cursor.
func (c *Client) binding() driver.Binding {
	return driver.Binding{
		Deployment: c.deployment,
		Session:    session.NewClient(newSessionID(), true),
		Clock:      c.clock,
	}
}

// newSessionID generates a fresh logical session id document. A real driver draws this from a
// cryptographically random UUID; this core isn't responsible for session lifecycle management
// (spec section 1 names it an external collaborator), so an all-zero placeholder id is enough to
// exercise the lsid wire shape without pulling in a UUID dependency nothing else in this tree
// needs.
func newSessionID() bson.Raw {
	var uuid [16]byte
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendBinaryElement(doc, "id", 4, uuid[:])
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return bson.Raw(doc)
}
