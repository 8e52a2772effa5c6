// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readpref defines read preference modes: which members of a deployment are eligible
// to serve a read.
package readpref

import (
	"time"

	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// Mode is a read preference mode.
type Mode uint8

// Read preference modes.
const (
	PrimaryMode Mode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

// TagSet is a set of tags a candidate server must carry.
type TagSet map[string]string

// ReadPref holds a read preference mode plus its optional tag sets and max staleness.
type ReadPref struct {
	mode         Mode
	tagSets      []TagSet
	maxStaleness time.Duration
	hasStaleness bool
}

// Primary returns the primary-only read preference, the default.
func Primary() *ReadPref { return &ReadPref{mode: PrimaryMode} }

// PrimaryPreferred returns a read preference that prefers the primary but tolerates secondaries.
func PrimaryPreferred(opts ...Option) *ReadPref { return newMode(PrimaryPreferredMode, opts...) }

// Secondary returns the secondary-only read preference.
func Secondary(opts ...Option) *ReadPref { return newMode(SecondaryMode, opts...) }

// SecondaryPreferred returns a read preference that prefers secondaries but tolerates the
// primary.
func SecondaryPreferred(opts ...Option) *ReadPref { return newMode(SecondaryPreferredMode, opts...) }

// Nearest returns a read preference that considers all members regardless of type.
func Nearest(opts ...Option) *ReadPref { return newMode(NearestMode, opts...) }

func newMode(m Mode, opts ...Option) *ReadPref {
	rp := &ReadPref{mode: m}
	for _, o := range opts {
		o(rp)
	}
	return rp
}

// Option configures a ReadPref.
type Option func(*ReadPref)

// WithTagSets attaches tag sets to a non-primary read preference.
func WithTagSets(tagSets ...TagSet) Option {
	return func(rp *ReadPref) { rp.tagSets = tagSets }
}

// WithMaxStaleness bounds how far behind the primary a secondary may lag.
func WithMaxStaleness(d time.Duration) Option {
	return func(rp *ReadPref) {
		rp.maxStaleness = d
		rp.hasStaleness = true
	}
}

// Mode returns rp's mode.
func (rp *ReadPref) Mode() Mode { return rp.mode }

// TagSets returns rp's tag sets.
func (rp *ReadPref) TagSets() []TagSet { return rp.tagSets }

// MaxStaleness returns rp's max staleness, if set.
func (rp *ReadPref) MaxStaleness() (time.Duration, bool) { return rp.maxStaleness, rp.hasStaleness }

// IsSecondaryOK reports whether this read preference permits reading from a secondary; per the
// driver's secondaryOk derivation, anything other than PrimaryMode does.
func (rp *ReadPref) IsSecondaryOK() bool {
	return rp != nil && rp.mode != PrimaryMode
}

// Document renders rp as the $readPreference document sent with a command, or nil for a nil
// ReadPref or PrimaryMode, the server's implicit default; every other mode is rendered.
func (rp *ReadPref) Document() []byte {
	if rp == nil {
		return nil
	}
	var mode string
	switch rp.mode {
	case PrimaryMode:
		return nil
	case PrimaryPreferredMode:
		mode = "primaryPreferred"
	case SecondaryMode:
		mode = "secondary"
	case SecondaryPreferredMode:
		mode = "secondaryPreferred"
	case NearestMode:
		mode = "nearest"
	}
	return buildReadPrefDoc(mode, rp.tagSets, rp.maxStaleness, rp.hasStaleness)
}

// Selector returns the server selector implied by this read preference. A real implementation
// would filter candidates by tag set and staleness; this selector filters by server kind only,
// deferring tag/staleness filtering to the server (acceptable for the single- and
// replica-set deployments this driver core targets).
func (rp *ReadPref) Selector() description.ServerSelector {
	return description.ServerSelectorFunc(func(t description.Topology, candidates []description.Server) ([]description.Server, error) {
		if rp == nil || rp.mode == PrimaryMode {
			out := make([]description.Server, 0, len(candidates))
			for _, s := range candidates {
				if s.Kind != description.RSSecondary {
					out = append(out, s)
				}
			}
			return out, nil
		}
		return candidates, nil
	})
}
