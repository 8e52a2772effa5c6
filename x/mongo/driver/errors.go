// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"fmt"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// Error labels attached to Error.Labels, consulted by RetryableRead and by a resumable change
// stream deciding whether to reconnect.
const (
	NetworkError               = "NetworkError"
	RetryableError             = "RetryableError"
	ResumableChangeStreamError = "ResumableChangeStreamError"
)

// Server error codes this driver gives special treatment to. Numbers match the server's
// published error code list.
const (
	codeHostUnreachable         = 6
	codeHostNotFound            = 7
	codeNetworkTimeout          = 89
	codeShutdownInProgress      = 91
	codePrimarySteppedDown      = 189
	codeNotWritablePrimary      = 10107
	codeInterruptedAtShutdown  = 11600
	codeInterrupted             = 11601
	codeCursorNotFound           = 43
	codeCappedPositionLost       = 136
	codeCursorKilled             = 237
	codeChangeStreamFatalError   = 280
	codeChangeStreamHistoryLost  = 286
	codeStaleShardVersion        = 63
	codeStaleEpoch               = 150
	codeStaleConfig              = 13388
	codeIllegalOperation         = 20
)

// retryableCodes is the set of server error codes RetryableRead treats as eligible for a single
// transparent retry on a newly selected server.
var retryableCodes = map[int32]bool{
	codeHostUnreachable:        true,
	codeHostNotFound:           true,
	codeNetworkTimeout:         true,
	codeShutdownInProgress:     true,
	codePrimarySteppedDown:     true,
	codeNotWritablePrimary:     true,
	codeInterruptedAtShutdown:  true,
	codeInterrupted:            true,
	codeCursorNotFound:         true,
}

// nonResumableChangeStreamCodes lists the codes a change stream must NOT attempt to resume
// after, even when the code is otherwise retryable.
var nonResumableChangeStreamCodes = map[int32]bool{
	codeInterrupted:             true,
	codeCappedPositionLost:      true,
	codeCursorKilled:            true,
	codeIllegalOperation:        true,
	codeChangeStreamFatalError:  true,
	codeChangeStreamHistoryLost: true,
	codeStaleShardVersion:       true,
	codeStaleEpoch:              true,
	codeStaleConfig:             true,
}

// Error represents a command-level failure: a server reply with ok:0, or a transport failure
// that roundTrip wrapped so RetryableRead can see labels and a code.
type Error struct {
	Code    int32
	Message string
	Name    string
	Labels  []string
	Raw     bson.Raw
	wrapped error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap exposes a wrapped transport error for errors.Is/As.
func (e Error) Unwrap() error { return e.wrapped }

// HasErrorLabel reports whether label is present on this error.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Retryable reports whether RetryableRead should attempt exactly one retry after this error.
func (e Error) Retryable() bool {
	if e.HasErrorLabel(NetworkError) || e.HasErrorLabel(RetryableError) {
		return true
	}
	return retryableCodes[e.Code]
}

// Resumable reports whether a ChangeStreamCursor may attempt to resume after this error: any
// error that is itself Retryable, plus CursorNotFound, but never one of the codes listed in
// nonResumableChangeStreamCodes.
func (e Error) Resumable() bool {
	if nonResumableChangeStreamCodes[e.Code] {
		return false
	}
	if e.Code == codeCursorNotFound {
		return true
	}
	return e.Retryable()
}

// NewCommandResponseError wraps a malformed-response error with additional context.
func NewCommandResponseError(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// WriteConcernError represents a writeConcernError subdocument on a command reply.
type WriteConcernError struct {
	Code    int32
	Name    string
	Message string
}

func (wce WriteConcernError) Error() string { return wce.Message }

// extractError inspects a decoded command reply and returns a typed Error when ok is not 1.
func extractError(response bsoncore.Document) error {
	var errmsg, codeName string
	var code int32
	var labels []string
	var ok bool

	elems, err := response.Elements()
	if err != nil {
		return err
	}
	for _, elem := range elems {
		switch elem.Key() {
		case "ok":
			switch v := elem.Value(); v.Type {
			case bsoncore.TypeInt32:
				i, _ := v.Int32OK()
				ok = i == 1
			case bsoncore.TypeInt64:
				i, _ := v.Int64OK()
				ok = i == 1
			case bsoncore.TypeDouble:
				d, _ := v.DoubleOK()
				ok = d == 1
			default:
				ok = true
			}
		case "errmsg":
			errmsg, _ = elem.Value().StringValueOK()
		case "codeName":
			codeName, _ = elem.Value().StringValueOK()
		case "code":
			if i, set := elem.Value().Int32OK(); set {
				code = i
			}
		case "errorLabels":
			if arr, set := elem.Value().ArrayOK(); set {
				vals, _ := arr.Values()
				for _, v := range vals {
					if s, ok := v.StringValueOK(); ok {
						labels = append(labels, s)
					}
				}
			}
		}
	}
	if ok {
		return nil
	}
	return Error{Code: code, Message: errmsg, Name: codeName, Labels: labels, Raw: bson.Raw(response)}
}

// errTerminated is returned by a cursor or change stream once it has been closed or disposed,
// rejecting further Next calls.
var errTerminated = errors.New("driver: cursor has been closed")
