// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongo provides the freezing-builder façade over the result-streaming core in
// x/mongo/driver: Collection.Find returns a FindBuilder, Collection.Aggregate hands back a Cursor
// and Collection.Watch a ChangeStreamCursor, both decoding on top of a driver.BatchCursor.
package mongo

import (
	"fmt"
	"reflect"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// Pipeline is an ordered aggregation pipeline. Each stage is transformed independently, so a
// Pipeline can freely mix bson.D literals with marshalable stage structs.
type Pipeline []interface{}

// transformDocument converts any BSON-marshalable value (bson.D, bson.M, bson.Raw, a struct, a
// map, or nil) into a bsoncore.Document. A nil input produces a nil document, which callers
// treat as an unspecified optional document and leave out of the command.
func transformDocument(val interface{}) (bsoncore.Document, error) {
	if val == nil {
		return nil, nil
	}
	if doc, ok := val.(bsoncore.Document); ok {
		return doc, nil
	}
	if raw, ok := val.(bson.Raw); ok {
		return bsoncore.Document(raw), nil
	}
	data, err := bson.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("mongo: cannot transform type %s to a document: %w", reflect.TypeOf(val), err)
	}
	return bsoncore.Document(data), nil
}

// transformDocumentOrErr returns exactly what transformDocument returns, document and error, for
// use inside a builder mutator's closure.
func transformDocumentOrErr(val interface{}) (bsoncore.Document, error) {
	return transformDocument(val)
}

// transformValue converts val into a single BSON value, for places (hint, comment) that accept
// either a scalar or a document.
func transformValue(val interface{}) (bsoncore.Value, error) {
	if val == nil {
		return bsoncore.Value{}, nil
	}
	if v, ok := val.(bsoncore.Value); ok {
		return v, nil
	}
	t, data, err := bson.MarshalValue(val)
	if err != nil {
		return bsoncore.Value{}, fmt.Errorf("mongo: cannot transform type %s to a value: %w", reflect.TypeOf(val), err)
	}
	return bsoncore.Value{Type: t, Data: data}, nil
}

// transformPipelineStages converts a Pipeline, a []bson.D, or a []interface{} into the ordered
// slice of stage documents operation.Aggregate expects.
func transformPipelineStages(pipeline interface{}) ([]bsoncore.Document, error) {
	toStages := func(n int, at func(int) interface{}) ([]bsoncore.Document, error) {
		stages := make([]bsoncore.Document, n)
		for i := 0; i < n; i++ {
			doc, err := transformDocument(at(i))
			if err != nil {
				return nil, fmt.Errorf("mongo: pipeline stage %d: %w", i, err)
			}
			stages[i] = doc
		}
		return stages, nil
	}

	switch t := pipeline.(type) {
	case Pipeline:
		return toStages(len(t), func(i int) interface{} { return t[i] })
	case []bson.D:
		return toStages(len(t), func(i int) interface{} { return t[i] })
	case []interface{}:
		return toStages(len(t), func(i int) interface{} { return t[i] })
	default:
		return nil, fmt.Errorf("mongo: cannot transform type %s to an aggregation pipeline", reflect.TypeOf(pipeline))
	}
}
