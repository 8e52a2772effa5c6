// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver implements the result-streaming core shared by every read-style command: the
// server/connection contracts an operation runs against, the retryable-read execution context,
// and the batch cursor that turns a cursor-shaped reply into a locally iterable sequence of
// documents.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/internal/logger"
	"github.com/driftdb/mongo-driver/mongo/readconcern"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
	"github.com/driftdb/mongo-driver/x/mongo/driver/session"
)

// Namespace identifies a database and, optionally, a collection within it.
type Namespace struct {
	DB         string
	Collection string
}

// FullName renders the namespace as "db.collection".
func (ns Namespace) FullName() string {
	if ns.Collection == "" {
		return ns.DB
	}
	return ns.DB + "." + ns.Collection
}

// Collation specifies language-aware string comparison rules for an operation.
type Collation struct {
	Locale          string `bson:"locale,omitempty"`
	CaseLevel       bool   `bson:"caseLevel,omitempty"`
	CaseFirst       string `bson:"caseFirst,omitempty"`
	Strength        int    `bson:"strength,omitempty"`
	NumericOrdering bool   `bson:"numericOrdering,omitempty"`
	Alternate       string `bson:"alternate,omitempty"`
	MaxVariable     string `bson:"maxVariable,omitempty"`
	Backwards       bool   `bson:"backwards,omitempty"`
}

// ToDocument encodes the collation for inclusion in a command.
func (c *Collation) ToDocument() bsoncore.Document {
	if c == nil {
		return nil
	}
	data, err := bson.Marshal(c)
	if err != nil {
		return nil
	}
	return bsoncore.Document(data)
}

// Connection is a single request/response channel to a selected server: the "Channel" contract
// the core issues commands through. Implementations own their own framing, compression, and
// authentication; the core only ever calls WriteWireMessage/ReadWireMessage in pairs.
type Connection interface {
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Description() description.Server
	Close() error
	ID() string
}

// Server represents one member of a deployment that connections can be checked out from.
type Server interface {
	Connection(ctx context.Context) (Connection, error)
	Description() description.Server
	// MinRTT exposes the server's observed round trip time. RetryableRead does not consult it
	// when selecting a server for a retry.
	MinRTT() time.Duration
}

// Deployment is the server-selection half of the "Binding" contract: it selects a Server
// matching a selector. Forking into an independent handle sharing the same underlying session
// is done by Binding.Fork.
type Deployment interface {
	SelectServer(ctx context.Context, selector description.ServerSelector) (Server, error)
	Kind() description.TopologyKind
}

// Binding couples a Deployment with the session and cluster clock an operation should run
// with, and knows how to produce an independent handle over the same logical session so a
// cursor can outlive the call that created it.
type Binding struct {
	Deployment Deployment
	Session    *session.Client
	Clock      *session.ClusterClock
}

// Fork returns an independent Binding sharing the same Deployment and cluster clock but a
// forked Session handle, suitable for handing to a BatchCursor whose dispose lifetime is
// independent of the caller's.
func (b Binding) Fork() Binding {
	forked := b
	if b.Session != nil {
		forked.Session = b.Session.Fork()
	}
	return forked
}

// SelectServer is a convenience that selects a server using this binding's deployment.
func (b Binding) SelectServer(ctx context.Context, rp *readpref.ReadPref) (Server, error) {
	selector := createReadPrefSelector(rp)
	return b.Deployment.SelectServer(ctx, selector)
}

func createReadPrefSelector(rp *readpref.ReadPref, extra ...description.ServerSelector) description.ServerSelector {
	for _, s := range extra {
		if s != nil {
			return s
		}
	}
	if rp == nil {
		rp = readpref.Primary()
	}
	return description.CompositeSelector([]description.ServerSelector{
		rp.Selector(),
		description.LatencySelector(15 * time.Millisecond),
	})
}

// roundTrip writes wm and reads back the reply, wrapping any transport failure as a retryable
// driver.Error so RetryableRead can recognize it.
func roundTrip(ctx context.Context, conn Connection, wm []byte) ([]byte, error) {
	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, Error{Message: err.Error(), Labels: []string{NetworkError}, wrapped: err}
	}
	res, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, Error{Message: err.Error(), Labels: []string{NetworkError}, wrapped: err}
	}
	return res, nil
}

// roundTripDecode behaves like roundTrip but also decodes the reply into a result document or a
// server error.
func roundTripDecode(ctx context.Context, conn Connection, wm []byte) (bsoncore.Document, error) {
	res, err := roundTrip(ctx, conn, wm)
	if err != nil {
		return nil, err
	}
	return decodeOpMsg(res)
}

// Log is the package-level command logger, nil by default. A Client wires it up via SetLogger
// before issuing any commands; leaving it nil disables command logging entirely with no
// overhead beyond the nil check below.
var Log *logger.Logger

// SetLogger installs l as the package-wide command logger.
func SetLogger(l *logger.Logger) { Log = l }

// RoundTripCommand frames cmd as an OP_MSG, sends it on conn, and decodes the reply, surfacing
// any server error as an Error. Operation builders outside this package use this as their one
// entry point to the wire.
func RoundTripCommand(ctx context.Context, conn Connection, cmd bsoncore.Document) (bsoncore.Document, error) {
	if Log == nil || !Log.Is(logger.LevelDebug, logger.ComponentCommand) {
		return roundTripDecode(ctx, conn, buildOpMsg(cmd))
	}

	name := commandName(cmd)
	connID := conn.ID()
	Log.Print(logger.LevelDebug, &logger.CommandStartedMessage{Name: name, ConnectionID: connID, Command: bson.Raw(cmd)})

	start := time.Now()
	reply, err := roundTripDecode(ctx, conn, buildOpMsg(cmd))
	durMS := time.Since(start).Milliseconds()

	if err != nil {
		Log.Print(logger.LevelDebug, &logger.CommandFailedMessage{Name: name, ConnectionID: connID, DurationMS: durMS, Failure: err.Error()})
	} else {
		Log.Print(logger.LevelDebug, &logger.CommandSucceededMessage{Name: name, ConnectionID: connID, DurationMS: durMS, Reply: bson.Raw(reply)})
	}
	return reply, err
}

// commandName extracts a command document's first key, which by wire protocol convention names
// the command itself (e.g. "find", "aggregate", "count").
func commandName(cmd bsoncore.Document) string {
	elems, err := cmd.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

// AppendReadConcern appends a readConcern document to dst, folding in afterClusterTime for a
// causally consistent session. Exported for operation builders outside this package.
func AppendReadConcern(dst []byte, rc *readconcern.ReadConcern, sess *session.Client, desc description.SelectedServer) []byte {
	return addReadConcern(dst, rc, sess, desc)
}

// AppendSession appends session and transaction fields to dst. Exported for operation builders
// outside this package.
func AppendSession(dst []byte, sess *session.Client, desc description.SelectedServer) ([]byte, error) {
	return addSession(dst, sess, desc)
}

// AppendClusterTime appends the highest known $clusterTime to dst. Exported for operation
// builders outside this package.
func AppendClusterTime(dst []byte, sess *session.Client, clock *session.ClusterClock, desc description.SelectedServer) []byte {
	return addClusterTime(dst, sess, clock, desc)
}

// UpdateClusterTimes folds a reply's $clusterTime into sess and clock. Exported for operation
// builders outside this package.
func UpdateClusterTimes(sess *session.Client, clock *session.ClusterClock, response bsoncore.Document) {
	updateClusterTimes(sess, clock, response)
}

// UpdateOperationTime folds a reply's operationTime into sess. Exported for operation builders
// outside this package.
func UpdateOperationTime(sess *session.Client, response bsoncore.Document) {
	updateOperationTime(sess, response)
}

// decodeOpMsg parses an OP_MSG wire message and extracts the body document, surfacing a server
// error if the command failed.
func decodeOpMsg(wm []byte) (bsoncore.Document, error) {
	body, err := readOpMsgBody(wm)
	if err != nil {
		return nil, err
	}
	if err := body.Validate(); err != nil {
		return nil, fmt.Errorf("driver: malformed command reply: %w", err)
	}
	return body, extractError(body)
}

// addSession appends the lsid (and, inside a transaction, txnNumber/autocommit/startTransaction)
// fields a server expects to correlate commands with a logical session.
func addSession(dst []byte, sess *session.Client, desc description.SelectedServer) ([]byte, error) {
	if sess == nil || !description.SessionsSupported(desc.WireVersion) {
		return dst, nil
	}
	if sess.Terminated {
		return dst, session.ErrSessionEnded
	}
	dst = bsoncore.AppendDocumentElement(dst, "lsid", sess.SessionID)
	if sess.TransactionRunning() || sess.RetryingCommit {
		dst = bsoncore.AppendInt64Element(dst, "txnNumber", sess.TxnNumber)
		if sess.TransactionStarting() {
			dst = bsoncore.AppendBooleanElement(dst, "startTransaction", true)
		}
		dst = bsoncore.AppendBooleanElement(dst, "autocommit", false)
	}
	sess.ApplyCommand(desc)
	return dst, nil
}

// addClusterTime appends the highest $clusterTime known to either the clock or the session.
func addClusterTime(dst []byte, sess *session.Client, clock *session.ClusterClock, desc description.SelectedServer) []byte {
	if clock == nil && sess == nil {
		return dst
	}
	if !description.SessionsSupported(desc.WireVersion) {
		return dst
	}
	ct := clock.GetClusterTime()
	if sess != nil {
		ct = session.MaxClusterTime(ct, sess.ClusterTime)
	}
	if len(ct) == 0 {
		return dst
	}
	val, err := bsoncore.Document(ct).LookupErr("$clusterTime")
	if err != nil {
		return dst
	}
	return bsoncore.AppendValueElement(dst, "$clusterTime", val)
}

// addReadConcern appends a readConcern document, folding in afterClusterTime when the session
// is causally consistent and has observed an operation time.
func addReadConcern(dst []byte, rc *readconcern.ReadConcern, sess *session.Client, desc description.SelectedServer) []byte {
	data := rc.Document()
	if sess != nil && description.SessionsSupported(desc.WireVersion) && sess.Consistent && sess.OperationTime != nil {
		if data == nil {
			idx, empty := bsoncore.AppendDocumentStart(nil)
			empty, _ = bsoncore.AppendDocumentEnd(empty, idx)
			data = empty
		}
		idx, doc := bsoncore.AppendDocumentStart(nil)
		elems, _ := bsoncore.Document(data).Elements()
		for _, e := range elems {
			doc = bsoncore.AppendValueElement(doc, e.Key(), e.Value())
		}
		doc = bsoncore.AppendTimestampElement(doc, "afterClusterTime", sess.OperationTime.T, sess.OperationTime.I)
		doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
		data = doc
	}
	if data == nil {
		return dst
	}
	return bsoncore.AppendDocumentElement(dst, "readConcern", data)
}

// updateClusterTimes folds a reply's $clusterTime into the session and clock.
func updateClusterTimes(sess *session.Client, clock *session.ClusterClock, response bsoncore.Document) {
	val, err := response.LookupErr("$clusterTime")
	if err != nil {
		return
	}
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendValueElement(doc, "$clusterTime", val)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	if sess != nil {
		_ = sess.AdvanceClusterTime(bson.Raw(doc))
	}
	if clock != nil {
		clock.AdvanceClusterTime(bson.Raw(doc))
	}
}

// updateOperationTime folds a reply's operationTime into the session, used to satisfy causal
// consistency and to seed a change stream's initial operation time.
func updateOperationTime(sess *session.Client, response bsoncore.Document) {
	if sess == nil {
		return
	}
	v, err := response.LookupErr("operationTime")
	if err != nil {
		return
	}
	t, i := v.Timestamp()
	_ = sess.AdvanceOperationTime(&bson.Timestamp{T: t, I: i})
}

// errNoResponse is returned when a command reply contains no usable body document.
var errNoResponse = errors.New("driver: no response document")
