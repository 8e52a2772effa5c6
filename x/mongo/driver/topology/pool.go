// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Checkout once the pool has been cleared.
var ErrPoolClosed = errors.New("topology: connection pool closed")

// connector dials and hands back a fully handshaken connection, supplied by Server so pool stays
// agnostic of authentication/TLS/hello details.
type connector func(ctx context.Context) (*Connection, error)

// pool bounds the number of live connections to a single server with a weighted semaphore and
// reuses idle connections LIFO, the way a short-lived find/aggregate/getMore workload wants its
// most-recently-used connection back first.
type pool struct {
	sem     *semaphore.Weighted
	connect connector

	mu     sync.Mutex
	idle   []*Connection
	closed bool
}

func newPool(maxSize int64, connect connector) *pool {
	return &pool{sem: semaphore.NewWeighted(maxSize), connect: connect}
}

// checkOut acquires a semaphore slot, reusing an idle connection if one is available, otherwise
// dialing a fresh one.
func (p *pool) checkOut(ctx context.Context) (*Connection, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.connect(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return conn, nil
}

// checkIn returns conn to the idle list, or closes it outright if the pool has since been
// cleared or conn is in a state that can't be reused.
func (p *pool) checkIn(conn *Connection, reusable bool) {
	p.mu.Lock()
	if p.closed || !reusable {
		p.mu.Unlock()
		_ = conn.Close()
		p.sem.Release(1)
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.sem.Release(1)
}

// clear closes every idle connection and marks the pool closed; connections already checked out
// are closed by their holder's next checkIn.
func (p *pool) clear() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, conn := range idle {
		_ = conn.Close()
	}
}
