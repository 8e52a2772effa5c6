// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements the causal-consistency state a Session must carry across commands:
// cluster time, operation time, and (for change streams) the logical session id sent as lsid.
package session

import (
	"errors"
	"sync"

	"github.com/driftdb/mongo-driver/bson"
	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// ErrSessionEnded is returned when an operation is attempted on a session that has already
// been ended.
var ErrSessionEnded = errors.New("session has ended")

// ClusterClock tracks the highest $clusterTime observed across any session sharing a client.
type ClusterClock struct {
	mu          sync.Mutex
	clusterTime bson.Raw
}

// GetClusterTime returns the most recently observed cluster time document.
func (cc *ClusterClock) GetClusterTime() bson.Raw {
	if cc == nil {
		return nil
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.clusterTime
}

// AdvanceClusterTime updates the clock if candidate is newer than what is currently stored.
func (cc *ClusterClock) AdvanceClusterTime(candidate bson.Raw) {
	if cc == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.clusterTime = MaxClusterTime(cc.clusterTime, candidate)
}

// MaxClusterTime returns whichever of current/candidate carries the later $clusterTime.timestamp.
func MaxClusterTime(current, candidate bson.Raw) bson.Raw {
	if len(candidate) == 0 {
		return current
	}
	if len(current) == 0 {
		return candidate
	}
	ct, _ := clusterTimeValue(current)
	ca, _ := clusterTimeValue(candidate)
	if ca.Compare(ct) > 0 {
		return candidate
	}
	return current
}

func clusterTimeValue(doc bson.Raw) (bson.Timestamp, bool) {
	v, err := bsoncore.Document(doc).LookupErr("$clusterTime")
	if err != nil {
		return bson.Timestamp{}, false
	}
	d, ok := v.DocumentOK()
	if !ok {
		return bson.Timestamp{}, false
	}
	ts, err := d.LookupErr("clusterTime")
	if err != nil {
		return bson.Timestamp{}, false
	}
	t, i := ts.Timestamp()
	return bson.Timestamp{T: t, I: i}, true
}

// Client is a logical session: the causal-consistency and transaction state threaded through
// every command an operation sends on the server's behalf.
type Client struct {
	mu sync.Mutex

	SessionID bson.Raw
	ClusterTime bson.Raw
	OperationTime *bson.Timestamp
	Consistent bool
	Terminated bool

	TxnNumber      int64
	RetryingCommit bool
	txnState       txnState
}

type txnState uint8

const (
	txnNone txnState = iota
	txnStarting
	txnInProgress
)

// NewClient constructs a causally-consistent session bound to lsid.
func NewClient(lsid bson.Raw, consistent bool) *Client {
	return &Client{SessionID: lsid, Consistent: consistent}
}

// TransactionStarting reports whether the next command should start a transaction.
func (c *Client) TransactionStarting() bool { return c.txnState == txnStarting }

// TransactionRunning reports whether a transaction is in progress (started or starting).
func (c *Client) TransactionRunning() bool {
	return c.txnState == txnStarting || c.txnState == txnInProgress
}

// TransactionInProgress reports whether a transaction has already sent its first command.
func (c *Client) TransactionInProgress() bool { return c.txnState == txnInProgress }

// StartTransaction marks the next command as the first of a new transaction.
func (c *Client) StartTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TxnNumber++
	c.txnState = txnStarting
}

// ApplyCommand records that a command bearing this session's lsid has now been sent, advancing
// a starting transaction to in-progress.
func (c *Client) ApplyCommand(_ interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState == txnStarting {
		c.txnState = txnInProgress
	}
}

// AdvanceClusterTime folds candidate into the session's cluster time if it is newer.
func (c *Client) AdvanceClusterTime(candidate bson.Raw) error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClusterTime = MaxClusterTime(c.ClusterTime, candidate)
	return nil
}

// AdvanceOperationTime records t as the session's operation time if it is newer than what is
// already stored; per causal consistency, operation time must never regress.
func (c *Client) AdvanceOperationTime(t *bson.Timestamp) error {
	if c.Terminated {
		return ErrSessionEnded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OperationTime == nil || t.Compare(*c.OperationTime) > 0 {
		c.OperationTime = t
	}
	return nil
}

// EndSession marks the session as terminated; subsequent commands must not use it.
func (c *Client) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Terminated = true
}

// Fork returns an independent Client view over the same logical session. Drivers typically
// fork a session handle once per cursor so the cursor's dispose lifetime is independent of the
// caller's; state (operation time, cluster time) is shared via the pointer receiver semantics
// above only when callers intentionally share one *Client. Fork here returns a lightweight
// shallow copy suitable for a cursor that otherwise only reads causal-consistency fields.
func (c *Client) Fork() *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Client{
		SessionID:     c.SessionID,
		ClusterTime:   c.ClusterTime,
		OperationTime: c.OperationTime,
		Consistent:    c.Consistent,
	}
}
