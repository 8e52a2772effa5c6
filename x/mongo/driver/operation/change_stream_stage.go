// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// FullDocumentMode controls how much of the post-change document a change stream includes.
type FullDocumentMode string

// Full document modes.
const (
	FullDocumentDefault      FullDocumentMode = "default"
	FullDocumentUpdateLookup FullDocumentMode = "updateLookup"
)

// ChangeStreamStageOptions configures the $changeStream pipeline stage, per spec section 4.F.
type ChangeStreamStageOptions struct {
	FullDocument          FullDocumentMode
	AllChangesForCluster  bool
	ResumeAfter           bson.Raw
	StartAfter            bson.Raw
	StartAtOperationTime  *bson.Timestamp
}

// BuildChangeStreamStage renders opts as a {$changeStream: {...}} pipeline stage. Fields are
// emitted only when set, per spec section 4.F.
func BuildChangeStreamStage(opts ChangeStreamStageOptions) bsoncore.Document {
	oidx, inner := bsoncore.AppendDocumentStart(nil)
	if opts.FullDocument != "" {
		inner = bsoncore.AppendStringElement(inner, "fullDocument", string(opts.FullDocument))
	}
	if opts.AllChangesForCluster {
		inner = bsoncore.AppendBooleanElement(inner, "allChangesForCluster", true)
	}
	if len(opts.StartAfter) > 0 {
		inner = bsoncore.AppendDocumentElement(inner, "startAfter", opts.StartAfter)
	}
	if opts.StartAtOperationTime != nil {
		inner = bsoncore.AppendTimestampElement(inner, "startAtOperationTime", opts.StartAtOperationTime.T, opts.StartAtOperationTime.I)
	}
	if len(opts.ResumeAfter) > 0 {
		inner = bsoncore.AppendDocumentElement(inner, "resumeAfter", opts.ResumeAfter)
	}
	inner, _ = bsoncore.AppendDocumentEnd(inner, oidx)

	idx, stage := bsoncore.AppendDocumentStart(nil)
	stage = bsoncore.AppendDocumentElement(stage, "$changeStream", inner)
	stage, _ = bsoncore.AppendDocumentEnd(stage, idx)
	return stage
}
