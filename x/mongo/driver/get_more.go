// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// getMore issues a single getMore against the cursor's pinned server and folds the reply back
// into the cursor's session/cluster-time state. batchSize of 0 omits the field, letting the
// server use its own default.
func (bc *BatchCursor) getMore(ctx context.Context, batchSize int32) ([]bsoncore.Document, bson.Raw, error) {
	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return nil, nil, Error{Message: err.Error(), Labels: []string{NetworkError}, wrapped: err}
	}
	defer conn.Close()

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt64Element(dst, "getMore", bc.id)
	dst = bsoncore.AppendStringElement(dst, "collection", bc.ns.Collection)
	if batchSize > 0 {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", batchSize)
	}
	if bc.maxTimeMS > 0 {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", bc.maxTimeMS)
	}
	if !bc.comment.IsZero() {
		dst = bsoncore.AppendValueElement(dst, "comment", bc.comment)
	}
	dst, err = addSession(dst, bc.binding.Session, bc.desc)
	if err != nil {
		return nil, nil, err
	}
	dst = addClusterTime(dst, bc.binding.Session, bc.binding.Clock, bc.desc)
	dst = bsoncore.AppendStringElement(dst, "$db", bc.ns.DB)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)

	reply, err := roundTripDecode(ctx, conn, buildOpMsg(dst))
	if err != nil {
		return nil, nil, err
	}
	updateClusterTimes(bc.binding.Session, bc.binding.Clock, reply)
	updateOperationTime(bc.binding.Session, reply)

	cr, err := NewCursorResponse(reply, bc.desc)
	if err != nil {
		return nil, nil, err
	}
	bc.id = cr.ID
	return cr.Batch, cr.PostBatchResumeToken, nil
}

// killCursors issues a best-effort killCursors for this cursor's id. Errors are returned for
// diagnostic logging only; the cursor is considered gone either way.
func (bc *BatchCursor) killCursors(ctx context.Context) error {
	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	cidx, cursors := bsoncore.AppendArrayStart(nil)
	cursors = bsoncore.AppendInt64Element(cursors, "0", bc.id)
	cursors, _ = bsoncore.AppendArrayEnd(cursors, cidx)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendStringElement(dst, "killCursors", bc.ns.Collection)
	dst = bsoncore.AppendArrayElement(dst, "cursors", cursors)
	dst = bsoncore.AppendStringElement(dst, "$db", bc.ns.DB)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)

	_, err = roundTripDecode(ctx, conn, buildOpMsg(dst))
	return err
}
