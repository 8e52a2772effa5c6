// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bson provides the document types (D, M, A) and the Marshal/Unmarshal entry points
// used to turn Go values into wire-ready documents and back. It is the default Serializer the
// driver core talks to; any type satisfying the same Marshal/Unmarshal contract can replace it.
package bson

import "github.com/driftdb/mongo-driver/x/bsonx/bsoncore"

// E represents a BSON document element, a (key, value) pair.
type E struct {
	Key   string
	Value interface{}
}

// D is an ordered BSON document. Use D when element order matters, such as for sort
// specifications or commands.
type D []E

// M is an unordered BSON document, suitable for filters where key order carries no meaning.
type M map[string]interface{}

// A is a BSON array.
type A []interface{}

// Raw is an already-encoded BSON document.
type Raw []byte

// Map converts d to an M, discarding order.
func (d D) Map() M {
	m := make(M, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

// Lookup finds key's value within the raw document.
func (r Raw) Lookup(key string) bsoncore.Value {
	return bsoncore.Document(r).Lookup(key)
}

// LookupErr finds key's value within the raw document, or returns an error if absent.
func (r Raw) LookupErr(key string) (bsoncore.Value, error) {
	return bsoncore.Document(r).LookupErr(key)
}

// Validate checks that r is a structurally well formed BSON document.
func (r Raw) Validate() error {
	return bsoncore.Document(r).Validate()
}

// String renders r in an extended-JSON-like form.
func (r Raw) String() string {
	return bsoncore.Document(r).String()
}

// Equal reports whether two raw documents hold identical bytes.
func (r Raw) Equal(other Raw) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of r.
func (r Raw) Copy() Raw {
	cp := make(Raw, len(r))
	copy(cp, r)
	return cp
}

// IsZero reports whether r is empty.
func (r Raw) IsZero() bool { return len(r) == 0 }
