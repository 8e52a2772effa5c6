// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"fmt"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// CursorResponse is the parsed "cursor" subdocument common to find, aggregate, and getMore
// replies: an id, a namespace, a batch of raw documents under either firstBatch or nextBatch,
// and (for aggregate's $changeStream variant) a postBatchResumeToken.
type CursorResponse struct {
	ID                   int64
	Namespace             Namespace
	FirstBatch           bool
	Batch                []bsoncore.Document
	PostBatchResumeToken bson.Raw
	Desc                 description.SelectedServer
}

// NewCursorResponse parses the "cursor" subdocument out of response, as returned by find,
// aggregate, and getMore. The result's FirstBatch field records whether this response is a
// find/aggregate reply (whose batch key is "firstBatch") rather than a getMore reply ("nextBatch").
func NewCursorResponse(response bsoncore.Document, desc description.SelectedServer) (CursorResponse, error) {
	cur, err := response.LookupErr("cursor")
	if err != nil {
		return CursorResponse{}, fmt.Errorf("driver: command reply missing cursor field: %w", err)
	}
	curDoc, ok := cur.DocumentOK()
	if !ok {
		return CursorResponse{}, fmt.Errorf("driver: cursor field is not a document")
	}

	var cr CursorResponse
	cr.Desc = desc

	idVal, err := curDoc.LookupErr("id")
	if err == nil {
		id, _ := idVal.AsInt64OK()
		cr.ID = id
	}
	if nsVal, err := curDoc.LookupErr("ns"); err == nil {
		ns, _ := nsVal.StringValueOK()
		cr.Namespace = parseNamespace(ns)
	}

	batchKey := "nextBatch"
	if fb, err := curDoc.LookupErr("firstBatch"); err == nil {
		batchKey = "firstBatch"
		cr.FirstBatch = true
		_ = fb
	}
	if batchVal, err := curDoc.LookupErr(batchKey); err == nil {
		arr, ok := batchVal.ArrayOK()
		if !ok {
			return CursorResponse{}, fmt.Errorf("driver: cursor.%s is not an array", batchKey)
		}
		vals, err := arr.Values()
		if err != nil {
			return CursorResponse{}, err
		}
		cr.Batch = make([]bsoncore.Document, 0, len(vals))
		for _, v := range vals {
			doc, ok := v.DocumentOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("driver: cursor batch element is not a document")
			}
			cr.Batch = append(cr.Batch, doc)
		}
	}
	if tok, err := curDoc.LookupErr("postBatchResumeToken"); err == nil {
		if d, ok := tok.DocumentOK(); ok {
			cr.PostBatchResumeToken = bson.Raw(d)
		}
	}

	return cr, nil
}

func parseNamespace(full string) Namespace {
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return Namespace{DB: full[:i], Collection: full[i+1:]}
		}
	}
	return Namespace{DB: full}
}
