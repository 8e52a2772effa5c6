// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package readpref

import (
	"strconv"
	"time"

	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

func buildReadPrefDoc(mode string, tagSets []TagSet, maxStaleness time.Duration, hasStaleness bool) []byte {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendStringElement(doc, "mode", mode)

	var sets [][]byte
	for _, ts := range tagSets {
		if len(ts) == 0 {
			continue
		}
		sidx, set := bsoncore.AppendDocumentStart(nil)
		for k, v := range ts {
			set = bsoncore.AppendStringElement(set, k, v)
		}
		set, _ = bsoncore.AppendDocumentEnd(set, sidx)
		sets = append(sets, set)
	}
	if len(sets) > 0 {
		aidx, arr := bsoncore.AppendArrayStart(nil)
		for i, set := range sets {
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), set)
		}
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
		doc = bsoncore.AppendArrayElement(doc, "tags", arr)
	}

	if hasStaleness {
		doc = bsoncore.AppendInt32Element(doc, "maxStalenessSeconds", int32(maxStaleness.Seconds()))
	}

	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}
