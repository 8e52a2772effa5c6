// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendDocumentStart reserves space for a document's length prefix and returns the index at
// which that length must later be patched in by AppendDocumentEnd.
func AppendDocumentStart(dst []byte) (int32, []byte) {
	idx := int32(len(dst))
	return idx, append(dst, 0x00, 0x00, 0x00, 0x00)
}

// AppendDocumentEnd writes the null terminator and patches the length prefix reserved at idx.
func AppendDocumentEnd(dst []byte, idx int32) ([]byte, error) {
	if int(idx) > len(dst)-4 {
		return dst, fmt.Errorf("invalid index %d for document of length %d", idx, len(dst))
	}
	dst = append(dst, 0x00)
	binary.LittleEndian.PutUint32(dst[idx:], uint32(len(dst)-int(idx)))
	return dst, nil
}

// BuildDocument appends elems (already-built elements) into a complete, length-prefixed
// document.
func BuildDocument(dst []byte, elems []byte) []byte {
	idx, dst := AppendDocumentStart(dst)
	dst = append(dst, elems...)
	dst, _ = AppendDocumentEnd(dst, idx)
	return dst
}

// AppendArrayStart reserves space for an array the same way AppendDocumentStart does.
func AppendArrayStart(dst []byte) (int32, []byte) { return AppendDocumentStart(dst) }

// AppendArrayEnd closes an array opened with AppendArrayStart.
func AppendArrayEnd(dst []byte, idx int32) ([]byte, error) { return AppendDocumentEnd(dst, idx) }

// AppendArrayElementStart appends the type byte and key for an embedded array element and
// reserves space for its length, returning the index to later close with AppendArrayEnd.
func AppendArrayElementStart(dst []byte, key string) (int32, []byte) {
	dst = appendKey(dst, TypeArray, key)
	return AppendArrayStart(dst)
}

// AppendHeader writes a type byte and a key (including its null terminator).
func AppendHeader(dst []byte, t Type, key string) []byte { return appendKey(dst, t, key) }

func appendKey(dst []byte, t Type, key string) []byte {
	dst = append(dst, byte(t))
	dst = append(dst, key...)
	return append(dst, 0x00)
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0x00)
}

// AppendStringElement appends a string-valued element.
func AppendStringElement(dst []byte, key, val string) []byte {
	dst = appendKey(dst, TypeString, key)
	dst = append(dst, make([]byte, 4)...)
	start := len(dst) - 4
	dst = appendCString(dst, val)
	binary.LittleEndian.PutUint32(dst[start:], uint32(len(dst)-start-4))
	return dst
}

// AppendInt32Element appends an int32-valued element.
func AppendInt32Element(dst []byte, key string, val int32) []byte {
	dst = appendKey(dst, TypeInt32, key)
	return appendInt32(dst, val)
}

func appendInt32(dst []byte, val int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(val))
	return append(dst, buf[:]...)
}

// AppendInt64Element appends an int64-valued element.
func AppendInt64Element(dst []byte, key string, val int64) []byte {
	dst = appendKey(dst, TypeInt64, key)
	return appendInt64(dst, val)
}

func appendInt64(dst []byte, val int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(val))
	return append(dst, buf[:]...)
}

// AppendDoubleElement appends a double-valued element.
func AppendDoubleElement(dst []byte, key string, val float64) []byte {
	dst = appendKey(dst, TypeDouble, key)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(val))
	return append(dst, buf[:]...)
}

// AppendBooleanElement appends a boolean-valued element.
func AppendBooleanElement(dst []byte, key string, val bool) []byte {
	dst = appendKey(dst, TypeBoolean, key)
	if val {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}

// AppendNullElement appends a null-valued element.
func AppendNullElement(dst []byte, key string) []byte {
	return appendKey(dst, TypeNull, key)
}

// AppendBinaryElement appends a binary-valued element with the given BSON binary subtype.
func AppendBinaryElement(dst []byte, key string, subtype byte, val []byte) []byte {
	dst = appendKey(dst, TypeBinary, key)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(val)))
	dst = append(dst, length[:]...)
	dst = append(dst, subtype)
	return append(dst, val...)
}

// AppendDocumentElement appends an already-encoded document as the value of key.
func AppendDocumentElement(dst []byte, key string, val []byte) []byte {
	dst = appendKey(dst, TypeEmbeddedDocument, key)
	return append(dst, val...)
}

// AppendArrayElement appends an already-encoded array as the value of key.
func AppendArrayElement(dst []byte, key string, val []byte) []byte {
	dst = appendKey(dst, TypeArray, key)
	return append(dst, val...)
}

// AppendDateTimeElement appends a UTC datetime (milliseconds since epoch) element.
func AppendDateTimeElement(dst []byte, key string, ms int64) []byte {
	dst = appendKey(dst, TypeDateTime, key)
	return appendInt64(dst, ms)
}

// AppendTimestampElement appends a BSON timestamp element: ordinal i within second t.
func AppendTimestampElement(dst []byte, key string, t, i uint32) []byte {
	dst = appendKey(dst, TypeTimestamp, key)
	dst = append(dst, make([]byte, 8)...)
	binary.LittleEndian.PutUint32(dst[len(dst)-8:], i)
	binary.LittleEndian.PutUint32(dst[len(dst)-4:], t)
	return dst
}

// AppendValueElement appends a pre-typed Value under key.
func AppendValueElement(dst []byte, key string, val Value) []byte {
	dst = appendKey(dst, val.Type, key)
	return append(dst, val.Data...)
}

// UpdateLength patches a previously reserved 4-byte little endian length field at idx.
func UpdateLength(dst []byte, idx, length int32) []byte {
	binary.LittleEndian.PutUint32(dst[idx:], uint32(length))
	return dst
}
