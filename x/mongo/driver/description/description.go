// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the server and topology descriptions that drive server selection:
// wire version, server kind, and the selector interfaces operations use to pick a channel.
package description

import (
	"time"

	"github.com/driftdb/mongo-driver/x/mongo/driver/address"
)

// ServerKind classifies a single server within a deployment.
type ServerKind uint32

// Server kinds.
const (
	Unknown ServerKind = iota
	Standalone
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	Mongos
	LoadBalancer
)

// TopologyKind classifies the deployment as a whole.
type TopologyKind uint32

// Topology kinds.
const (
	SingleTopology TopologyKind = iota
	ReplicaSet
	ReplicaSetNoPrimary
	ReplicaSetWithPrimary
	Sharded
)

// VersionRange represents an inclusive [Min, Max] wire version range a server supports.
type VersionRange struct {
	Min int32
	Max int32
}

// Includes reports whether v falls within the range.
func (vr VersionRange) Includes(v int32) bool { return v >= vr.Min && v <= vr.Max }

// Server holds the last known facts about a single server, as learned from a hello/isMaster
// handshake or heartbeat.
type Server struct {
	Addr              address.Address
	Kind              ServerKind
	WireVersion       *VersionRange
	MaxBatchCount     uint32
	SessionTimeoutMin int64
	LastError         error
	LastWriteDate     time.Time
}

// NewDefaultServer returns a placeholder Server description prior to any heartbeat.
func NewDefaultServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown}
}

// NewServerFromError returns a Server description recording a failed heartbeat/handshake.
func NewServerFromError(addr address.Address, err error) Server {
	return Server{Addr: addr, Kind: Unknown, LastError: err}
}

// SelectedServer decorates a Server description with the topology kind it was selected from;
// some wire-protocol fields (e.g. whether to set the secondaryOk flag) depend on both.
type SelectedServer struct {
	Server
	TopologyKind TopologyKind
}

// Topology summarizes a full deployment as last observed.
type Topology struct {
	Kind                   TopologyKind
	Servers                []Server
	SessionTimeoutMinutes  int64
}

// SessionsSupported reports whether a server at this wire version range supports logical
// sessions.
func SessionsSupported(wv *VersionRange) bool {
	return wv != nil && wv.Max >= 6
}

// ServerSelector chooses acceptable servers from a topology description.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc adapts a function to a ServerSelector.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements ServerSelector.
func (f ServerSelectorFunc) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	return f(t, candidates)
}

// CompositeSelector applies each selector in turn, narrowing the candidate set.
func CompositeSelector(selectors []ServerSelector) ServerSelector {
	return ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
		var err error
		for _, s := range selectors {
			candidates, err = s.SelectServer(t, candidates)
			if err != nil {
				return nil, err
			}
		}
		return candidates, nil
	})
}

// LatencySelector keeps this selector as a structural placeholder for latency-window filtering;
// a single bound server always passes it unchanged.
func LatencySelector(_ time.Duration) ServerSelector {
	return ServerSelectorFunc(func(_ Topology, candidates []Server) ([]Server, error) {
		return candidates, nil
	})
}
