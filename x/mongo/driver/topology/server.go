// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/address"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

const defaultMaxPoolSize = 100
const defaultDialTimeout = 10 * time.Second

// ServerConfig carries everything a Server needs to dial and handshake a connection: address,
// TLS, credentials, and the compressor preference order.
type ServerConfig struct {
	Addr         address.Address
	TLS          *TLSConfig
	Credential   *Credential
	Compressors  []string // preference order: "snappy", "zstd"
	MaxPoolSize  int64
	DialTimeout  time.Duration
	AppName      string
}

// Server is a single member of a Topology: a bounded connection pool plus the description last
// produced by a hello handshake. This driver does not run a background SDAM monitor (topology
// discovery is one of the spec's named external collaborators); the description is captured once
// per connection at handshake time and refreshed opportunistically whenever a new connection is
// dialed.
type Server struct {
	cfg    ServerConfig
	tlsCfg *tls.Config
	pool   *pool

	mu   sync.RWMutex
	desc description.Server

	rttMu  sync.Mutex
	rttSum time.Duration
	rttN   int64

	closed int32
}

// NewServer constructs a Server for cfg without dialing anything; the first call to Connection
// performs the initial handshake.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = defaultMaxPoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	tlsCfg, err := cfg.TLS.Build()
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, tlsCfg: tlsCfg, desc: description.NewDefaultServer(cfg.Addr)}
	s.pool = newPool(cfg.MaxPoolSize, s.dialAndHandshake)
	return s, nil
}

// Connection implements driver.Server by checking out a pooled connection, dialing and
// handshaking a new one if the pool has none idle.
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, ErrPoolClosed
	}
	start := time.Now()
	conn, err := s.pool.checkOut(ctx)
	if err != nil {
		return nil, err
	}
	s.recordRTT(time.Since(start))
	return &pooledConnection{Connection: conn, server: s}, nil
}

// Description implements driver.Server.
func (s *Server) Description() description.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// MinRTT implements driver.Server using a simple running average of observed checkout-to-ready
// latency; there is no windowed RTT sampler since there is no background monitor collecting
// heartbeats independently of application traffic.
func (s *Server) MinRTT() time.Duration {
	s.rttMu.Lock()
	defer s.rttMu.Unlock()
	if s.rttN == 0 {
		return 0
	}
	return s.rttSum / time.Duration(s.rttN)
}

func (s *Server) recordRTT(d time.Duration) {
	s.rttMu.Lock()
	s.rttSum += d
	s.rttN++
	s.rttMu.Unlock()
}

// Close clears the connection pool; it does not block on in-flight checkouts.
func (s *Server) Close() {
	atomic.StoreInt32(&s.closed, 1)
	s.pool.clear()
}

// dialAndHandshake dials a fresh TCP/TLS connection, runs hello to negotiate wire version and
// compression, authenticates if a credential is configured, and updates the server's cached
// description from the handshake reply.
func (s *Server) dialAndHandshake(ctx context.Context) (*Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, err := dialConnection(dialCtx, s.cfg.Addr, s.tlsCfg, s.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	reply, err := driver.RoundTripCommand(ctx, conn, buildHello(s.cfg.AppName, s.cfg.Compressors))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("topology: hello handshake: %w", err)
	}

	desc, negotiated := parseHelloReply(s.cfg.Addr, reply, s.cfg.Compressors)
	if err := conn.setCompressor(negotiated); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.desc = desc

	if s.cfg.Credential != nil {
		if err := authenticateSCRAM(ctx, conn, *s.cfg.Credential); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	s.mu.Lock()
	s.desc = desc
	s.mu.Unlock()

	return conn, nil
}

// buildHello builds the initial handshake command, advertising the compressors this driver
// supports in its configured preference order.
func buildHello(appName string, compressors []string) bsoncore.Document {
	cidx, client := bsoncore.AppendDocumentStart(nil)
	didx, driverDoc := bsoncore.AppendDocumentStart(nil)
	driverDoc = bsoncore.AppendStringElement(driverDoc, "name", "driftdb-mongo-driver")
	driverDoc = bsoncore.AppendStringElement(driverDoc, "version", "0.1.0")
	driverDoc, _ = bsoncore.AppendDocumentEnd(driverDoc, didx)
	client = bsoncore.AppendDocumentElement(client, "driver", driverDoc)
	if appName != "" {
		aidx, app := bsoncore.AppendDocumentStart(nil)
		app = bsoncore.AppendStringElement(app, "name", appName)
		app, _ = bsoncore.AppendDocumentEnd(app, aidx)
		client = bsoncore.AppendDocumentElement(client, "application", app)
	}
	client, _ = bsoncore.AppendDocumentEnd(client, cidx)

	caidx, compArr := bsoncore.AppendArrayStart(nil)
	for i, c := range compressors {
		compArr = bsoncore.AppendStringElement(compArr, itoa32(i), c)
	}
	compArr, _ = bsoncore.AppendArrayEnd(compArr, caidx)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "hello", 1)
	dst = bsoncore.AppendDocumentElement(dst, "client", client)
	dst = bsoncore.AppendArrayElement(dst, "compression", compArr)
	dst = bsoncore.AppendStringElement(dst, "$db", "admin")
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// parseHelloReply extracts the server description and picks the first mutually supported
// compressor, preserving this driver's preference order.
func parseHelloReply(addr address.Address, reply bsoncore.Document, preferred []string) (description.Server, compressorID) {
	desc := description.NewDefaultServer(addr)
	desc.Kind = description.Standalone

	if maxWV, ok := reply.Lookup("maxWireVersion").AsInt64OK(); ok {
		minWV, _ := reply.Lookup("minWireVersion").AsInt64OK()
		desc.WireVersion = &description.VersionRange{Min: int32(minWV), Max: int32(maxWV)}
	}
	if setName, ok := reply.Lookup("setName").StringValueOK(); ok && setName != "" {
		if isPrimary, _ := reply.Lookup("ismaster").BooleanOK(); isPrimary {
			desc.Kind = description.RSPrimary
		} else if isSecondary, _ := reply.Lookup("secondary").BooleanOK(); isSecondary {
			desc.Kind = description.RSSecondary
		} else {
			desc.Kind = description.RSOther
		}
	}
	if msg, ok := reply.Lookup("msg").StringValueOK(); ok && msg == "isdbgrid" {
		desc.Kind = description.Mongos
	}
	if maxBatch, ok := reply.Lookup("maxWriteBatchSize").AsInt64OK(); ok {
		desc.MaxBatchCount = uint32(maxBatch)
	}
	if timeoutMin, ok := reply.Lookup("logicalSessionTimeoutMinutes").AsInt64OK(); ok {
		desc.SessionTimeoutMin = timeoutMin
	}

	negotiated := compressorNoop
	if arr, ok := reply.Lookup("compression").ArrayOK(); ok {
		serverSupported := map[string]bool{}
		vals, _ := arr.Values()
		for _, v := range vals {
			if s, ok := v.StringValueOK(); ok {
				serverSupported[s] = true
			}
		}
		for _, c := range preferred {
			if serverSupported[c] {
				switch c {
				case "snappy":
					negotiated = compressorSnappy
				case "zstd":
					negotiated = compressorZstd
				}
				break
			}
		}
	}

	return desc, negotiated
}

func itoa32(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [8]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// pooledConnection wraps a checked-out *Connection so Close returns it to the pool instead of
// tearing down the socket; a transport error observed by the caller still tears it down, since a
// connection a command failed on can't be trusted to be at a clean message boundary.
type pooledConnection struct {
	*Connection
	server  *Server
	broken  bool
}

func (p *pooledConnection) Close() error {
	p.server.pool.checkIn(p.Connection, !p.broken)
	return nil
}

func (p *pooledConnection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if err := p.Connection.WriteWireMessage(ctx, wm); err != nil {
		p.broken = true
		return err
	}
	return nil
}

func (p *pooledConnection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	wm, err := p.Connection.ReadWireMessage(ctx)
	if err != nil {
		p.broken = true
	}
	return wm, err
}
