// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package assert provides the small set of test assertion helpers used across this module's
// test files, in place of pulling in an external assertion library for test-only code.
package assert

import (
	"reflect"
	"testing"
)

// Equal fails the test if want and got are not deeply equal.
func Equal(t *testing.T, want, got interface{}, msg string, args ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf(msg, args...)
	}
}

// True fails the test if cond is false.
func True(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// False fails the test if cond is true.
func False(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if cond {
		t.Fatalf(msg, args...)
	}
}

// Nil fails the test if val is a non-nil error (or other non-nil value).
func Nil(t *testing.T, val interface{}, msg string, args ...interface{}) {
	t.Helper()
	if val == nil {
		return
	}
	if rv := reflect.ValueOf(val); rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
		if rv.IsNil() {
			return
		}
	}
	t.Fatalf(msg, args...)
}

// NotNil fails the test if val is nil.
func NotNil(t *testing.T, val interface{}, msg string, args ...interface{}) {
	t.Helper()
	if val == nil {
		t.Fatalf(msg, args...)
		return
	}
	if rv := reflect.ValueOf(val); rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
		if rv.IsNil() {
			t.Fatalf(msg, args...)
		}
	}
}
