// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// opCode identifies the kind of a wire message, per the header every message carries.
type opCode int32

const (
	opMsg opCode = 2013
)

// msgFlags are the bits carried in an OP_MSG flagBits field. This driver only ever sends
// checksumless, single-section messages, so it neither sets nor expects ChecksumPresent.
type msgFlags uint32

const (
	msgExhaustAllowed msgFlags = 1 << 16
)

// sectionKind distinguishes an OP_MSG body section (kind 0) from a document sequence (kind 1);
// this driver only emits and reads kind 0 sections.
const sectionKindBody byte = 0

var requestIDCounter int32

// nextRequestID returns a process-unique request id for a new outgoing message.
func nextRequestID() int32 {
	return atomic.AddInt32(&requestIDCounter, 1)
}

// buildOpMsg frames body as a single-section OP_MSG wire message.
func buildOpMsg(body bsoncore.Document) []byte {
	var dst []byte
	idx := len(dst)
	dst = append(dst, make([]byte, 16)...) // messageLength, requestID, responseTo, opCode
	dst = appendInt32(dst, nextRequestID())
	dst = appendInt32(dst, 0)
	dst = appendInt32(dst, int32(opMsg))
	dst = appendInt32(dst, 0) // flagBits
	dst = append(dst, sectionKindBody)
	dst = append(dst, body...)
	binary.LittleEndian.PutUint32(dst[idx:], uint32(len(dst)-idx))
	return dst
}

func appendInt32(dst []byte, v int32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readInt32(src []byte) (int32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return int32(binary.LittleEndian.Uint32(src)), src[4:], true
}

// readOpMsgBody extracts the single body document from an OP_MSG reply, the only reply shape a
// server speaking the modern wire protocol returns for a command.
func readOpMsgBody(wm []byte) (bsoncore.Document, error) {
	length, rem, ok := readInt32(wm)
	if !ok {
		return nil, fmt.Errorf("driver: malformed wire message header")
	}
	if int(length) > len(wm) || length < 16 {
		return nil, fmt.Errorf("driver: wire message length %d invalid for %d available bytes", length, len(wm))
	}
	wm = wm[:length]
	_, rem, ok = readInt32(rem) // requestID
	if !ok {
		return nil, fmt.Errorf("driver: malformed wire message header")
	}
	_, rem, ok = readInt32(rem) // responseTo
	if !ok {
		return nil, fmt.Errorf("driver: malformed wire message header")
	}
	code, rem, ok := readInt32(rem)
	if !ok {
		return nil, fmt.Errorf("driver: malformed wire message header")
	}
	if opCode(code) != opMsg {
		return nil, fmt.Errorf("driver: unsupported opcode %d, server must speak OP_MSG", code)
	}
	_, rem, ok = readInt32(rem) // flagBits
	if !ok {
		return nil, fmt.Errorf("driver: malformed OP_MSG: missing flagBits")
	}

	var body bsoncore.Document
	for len(rem) > 0 {
		kind := rem[0]
		rem = rem[1:]
		switch kind {
		case sectionKindBody:
			docLen, _, ok := bsoncore.ReadLength(rem)
			if !ok || int(docLen) > len(rem) {
				return nil, fmt.Errorf("driver: malformed OP_MSG body section")
			}
			body = bsoncore.Document(rem[:docLen])
			rem = rem[docLen:]
		case 1:
			// Document sequence section: seqLength int32, identifier cstring, then documents
			// filling out the remainder of seqLength. This driver never requests one in a
			// command, so if a server attaches it to a reply, skip over it rather than fail.
			seqLen, after, ok := readInt32(rem)
			if !ok || int(seqLen) > len(rem)+4 {
				return nil, fmt.Errorf("driver: malformed OP_MSG document sequence section")
			}
			rem = after[seqLen-4:]
		default:
			return nil, fmt.Errorf("driver: unknown OP_MSG section kind %d", kind)
		}
	}
	if body == nil {
		return nil, errNoResponse
	}
	return body, nil
}
