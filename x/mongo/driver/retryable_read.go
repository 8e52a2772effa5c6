// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"time"

	"github.com/driftdb/mongo-driver/internal/csot"
	"github.com/driftdb/mongo-driver/mongo/readpref"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// minRetryableReadWireVersion is the lowest wire version a server must report before this
// driver will attempt a transparent retry of a read command against it.
const minRetryableReadWireVersion = 6

// defaultServerSelectionTimeout bounds how long SelectServer may block choosing a server before
// RetryableRead gives up, used when ServerSelectionTimeout is left at its zero value.
const defaultServerSelectionTimeout = 30 * time.Second

// ReadFunc is the operation a RetryableRead context executes against a selected connection. It
// must be idempotent: find, aggregate (including $changeStream), and getMore of a resumable
// cursor all qualify, per spec section 4.E.
type ReadFunc func(ctx context.Context, conn Connection, desc description.SelectedServer) (interface{}, error)

// RetryableRead is a scoped resource acquired around any read-style operation: it selects a
// server, executes the caller's operation, and on a retryable failure re-selects and executes
// exactly once more, provided the caller opted in and the originally selected server supported
// retryable reads. It never retries more than once regardless of how many retryable errors the
// second attempt encounters.
type RetryableRead struct {
	Binding        Binding
	ReadPreference *readpref.ReadPref
	RetryRequested bool

	// ServerSelectionTimeout bounds how long a single SelectServer call may block; it defaults
	// to defaultServerSelectionTimeout. A command's own context deadline, if tighter, still wins.
	ServerSelectionTimeout time.Duration
}

// Execute runs fn under this retry policy, releasing the connection it acquires on every exit
// path. It returns the server the successful (or final) attempt ran against, so the caller can
// pin a BatchCursor's getMores to it.
func (r RetryableRead) Execute(ctx context.Context, fn ReadFunc) (interface{}, Server, error) {
	server, desc, conn, err := r.selectAndConnect(ctx)
	if err != nil {
		return nil, nil, err
	}
	retryable := r.RetryRequested && desc.WireVersion != nil && desc.WireVersion.Max >= minRetryableReadWireVersion

	res, err := fn(ctx, conn, desc)
	conn.Close()
	if err == nil || !retryable {
		return res, server, err
	}

	driverErr, ok := err.(Error)
	if !ok || !driverErr.Retryable() {
		return res, server, err
	}

	server, desc, conn, selErr := r.selectAndConnect(ctx)
	if selErr != nil {
		// Selecting a server for the retry failed; surface the original error, since that is
		// what the caller's operation actually encountered.
		return nil, nil, err
	}
	res, err = fn(ctx, conn, desc)
	conn.Close()
	return res, server, err
}

func (r RetryableRead) selectAndConnect(ctx context.Context) (Server, description.SelectedServer, Connection, error) {
	timeout := r.ServerSelectionTimeout
	if timeout <= 0 {
		timeout = defaultServerSelectionTimeout
	}
	selCtx, cancel := csot.WithServerSelectionTimeout(ctx, timeout)
	defer cancel()

	selector := createReadPrefSelector(r.ReadPreference)
	server, err := r.Binding.Deployment.SelectServer(selCtx, selector)
	if err != nil {
		return nil, description.SelectedServer{}, nil, err
	}
	conn, err := server.Connection(ctx)
	if err != nil {
		return nil, description.SelectedServer{}, nil, Error{Message: err.Error(), Labels: []string{NetworkError}, wrapped: err}
	}
	desc := description.SelectedServer{
		Server:       conn.Description(),
		TopologyKind: r.Binding.Deployment.Kind(),
	}
	return server, desc, conn, nil
}
