// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// Marshaler is implemented by types that encode themselves directly to a BSON document.
type Marshaler interface {
	MarshalBSON() ([]byte, error)
}

// ValueMarshaler is implemented by types that encode themselves to a single BSON value.
type ValueMarshaler interface {
	MarshalBSONValue() (bsoncore.Type, []byte, error)
}

// Marshal encodes val, which must marshal to a document (a struct, map, D, M, or Raw), into its
// BSON byte representation.
func Marshal(val interface{}) ([]byte, error) {
	if val == nil {
		return bsoncore.BuildDocument(nil, nil), nil
	}
	if m, ok := val.(Marshaler); ok {
		return m.MarshalBSON()
	}
	t, data, err := marshalValue(reflect.ValueOf(val))
	if err != nil {
		return nil, err
	}
	if t != bsoncore.TypeEmbeddedDocument {
		return nil, fmt.Errorf("bson: cannot marshal %T as a document", val)
	}
	return data, nil
}

// MarshalValue encodes val as a single BSON value, returning its type tag and encoded bytes.
func MarshalValue(val interface{}) (bsoncore.Type, []byte, error) {
	if val == nil {
		return bsoncore.TypeNull, nil, nil
	}
	if vm, ok := val.(ValueMarshaler); ok {
		return vm.MarshalBSONValue()
	}
	return marshalValue(reflect.ValueOf(val))
}

func marshalValue(rv reflect.Value) (bsoncore.Type, []byte, error) {
	if !rv.IsValid() {
		return bsoncore.TypeNull, nil, nil
	}
	if vm, ok := rv.Interface().(ValueMarshaler); ok {
		return vm.MarshalBSONValue()
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return bsoncore.TypeNull, nil, nil
		}
		return marshalValue(rv.Elem())
	}

	switch v := rv.Interface().(type) {
	case Raw:
		return bsoncore.TypeEmbeddedDocument, bsoncore.Document(v), nil
	case D:
		return bsoncore.TypeEmbeddedDocument, marshalD(v), nil
	case M:
		return bsoncore.TypeEmbeddedDocument, marshalM(v), nil
	case A:
		return bsoncore.TypeArray, marshalA(v), nil
	case Timestamp:
		return bsoncore.TypeTimestamp, appendTimestamp(nil, v), nil
	case time.Time:
		return bsoncore.TypeDateTime, int64ToLE(v.UnixMilli()), nil
	case string:
		return bsoncore.TypeString, stringToLE(v), nil
	case bool:
		if v {
			return bsoncore.TypeBoolean, []byte{0x01}, nil
		}
		return bsoncore.TypeBoolean, []byte{0x00}, nil
	case int:
		return bsoncore.TypeInt64, int64ToLE(int64(v)), nil
	case int32:
		return bsoncore.TypeInt32, int32ToLE(v), nil
	case int64:
		return bsoncore.TypeInt64, int64ToLE(v), nil
	case float64:
		return bsoncore.TypeDouble, float64ToLE(v), nil
	case nil:
		return bsoncore.TypeNull, nil, nil
	}

	switch rv.Kind() {
	case reflect.Map:
		return bsoncore.TypeEmbeddedDocument, marshalMapReflect(rv), nil
	case reflect.Struct:
		return bsoncore.TypeEmbeddedDocument, marshalStruct(rv), nil
	case reflect.Slice, reflect.Array:
		return bsoncore.TypeArray, marshalSliceReflect(rv), nil
	case reflect.String:
		return bsoncore.TypeString, stringToLE(rv.String()), nil
	case reflect.Bool:
		if rv.Bool() {
			return bsoncore.TypeBoolean, []byte{0x01}, nil
		}
		return bsoncore.TypeBoolean, []byte{0x00}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return bsoncore.TypeInt64, int64ToLE(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return bsoncore.TypeInt64, int64ToLE(int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return bsoncore.TypeDouble, float64ToLE(rv.Float()), nil
	default:
		return 0, nil, fmt.Errorf("bson: unsupported type %s", rv.Type())
	}
}

func marshalD(d D) []byte {
	var elems []byte
	for _, e := range d {
		elems = appendElem(elems, e.Key, e.Value)
	}
	return bsoncore.BuildDocument(nil, elems)
}

func marshalM(m M) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var elems []byte
	for _, k := range keys {
		elems = appendElem(elems, k, m[k])
	}
	return bsoncore.BuildDocument(nil, elems)
}

func marshalMapReflect(rv reflect.Value) []byte {
	keys := rv.MapKeys()
	ks := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = fmt.Sprint(k.Interface())
	}
	sort.Strings(ks)
	idx := map[string]reflect.Value{}
	for _, k := range keys {
		idx[fmt.Sprint(k.Interface())] = rv.MapIndex(k)
	}
	var elems []byte
	for _, k := range ks {
		elems = appendElem(elems, k, idx[k].Interface())
	}
	return bsoncore.BuildDocument(nil, elems)
}

func marshalA(a A) []byte {
	var elems []byte
	for i, v := range a {
		elems = appendElem(elems, itoa(i), v)
	}
	return bsoncore.BuildDocument(nil, elems)
}

func marshalSliceReflect(rv reflect.Value) []byte {
	var elems []byte
	for i := 0; i < rv.Len(); i++ {
		elems = appendElem(elems, itoa(i), rv.Index(i).Interface())
	}
	return bsoncore.BuildDocument(nil, elems)
}

func marshalStruct(rv reflect.Value) []byte {
	t := rv.Type()
	var elems []byte
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		name, omitempty, skip := fieldName(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		elems = appendElem(elems, name, fv.Interface())
	}
	return bsoncore.BuildDocument(nil, elems)
}

func fieldName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("bson")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = strings.ToLower(f.Name)
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

func appendElem(dst []byte, key string, val interface{}) []byte {
	t, data, err := MarshalValue(val)
	if err != nil {
		t, data = bsoncore.TypeNull, nil
	}
	dst = bsoncore.AppendHeader(dst, t, key)
	return append(dst, data...)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func int32ToLE(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func int64ToLE(v int64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

func float64ToLE(v float64) []byte {
	bits := math.Float64bits(v)
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	return buf
}

func appendTimestamp(dst []byte, ts Timestamp) []byte {
	dst = append(dst, int32ToLE(int32(ts.I))...)
	dst = append(dst, int32ToLE(int32(ts.T))...)
	return dst
}

func stringToLE(s string) []byte {
	buf := append(int32ToLE(int32(len(s)+1)), []byte(s)...)
	return append(buf, 0x00)
}
