// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements the driver.Connection/Server/Deployment contracts concretely: a
// TCP connection speaking OP_MSG (optionally OP_COMPRESSED), a semaphore-bounded connection pool
// per server, and a static-seed-list deployment that hands out servers by read preference. It is
// the "external collaborator" the core spec treats as given.
package topology

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/driftdb/mongo-driver/internal"
	"github.com/driftdb/mongo-driver/x/mongo/driver/address"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// compressorID identifies the OP_COMPRESSED payload codec, per the wire protocol's
// compressorId byte.
type compressorID uint8

const (
	compressorNoop compressorID = 0
	compressorSnappy compressorID = 1
	compressorZstd compressorID = 2
)

const opCompressed int32 = 2012
const opMsg int32 = 2013

var connIDCounter int64

// Connection is a single TCP connection to one mongod/mongos, framing and unframing OP_MSG wire
// messages and transparently compressing outgoing/decompressing incoming payloads once a
// compressor has been negotiated during the handshake.
type Connection struct {
	nc         net.Conn
	addr       address.Address
	id         string
	desc       description.Server
	compressor compressorID
	zstdEnc    *zstd.Encoder
	zstdDec    *zstd.Decoder
}

// dialConnection opens a TCP (or TLS, when cfg is non-nil) connection to addr. It performs no
// handshake; the caller (Server.connect) runs hello/auth over the returned Connection.
func dialConnection(ctx context.Context, addr address.Address, tlsCfg *tls.Config, dialTimeout time.Duration) (*Connection, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	var nc net.Conn
	var err error
	if tlsCfg != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
		nc, err = tlsDialer.DialContext(ctx, addr.Network(), addr.String())
	} else {
		nc, err = dialer.DialContext(ctx, addr.Network(), addr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("topology: dial %s: %w", addr, err)
	}
	id := strconv.FormatInt(atomic.AddInt64(&connIDCounter, 1), 10)
	return &Connection{nc: nc, addr: addr, id: addr.String() + "[" + id + "]"}, nil
}

// setCompressor records the compressor this connection negotiated with the server during
// hello, preparing any stateful codec (zstd keeps an encoder/decoder pair; snappy is stateless).
func (c *Connection) setCompressor(id compressorID) error {
	c.compressor = id
	if id == compressorZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return err
		}
		c.zstdEnc, c.zstdDec = enc, dec
	}
	return nil
}

// WriteWireMessage implements driver.Connection. wm is a fully framed OP_MSG message as built by
// the driver package; it is wrapped in OP_COMPRESSED when a compressor was negotiated.
func (c *Connection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}
	out := wm
	if c.compressor != compressorNoop {
		var err error
		out, err = c.compress(wm)
		if err != nil {
			return fmt.Errorf("topology: compress: %w", err)
		}
	}
	_, err := c.nc.Write(out)
	return err
}

// compress rewraps wm's body (everything after its 16-byte header) as an OP_COMPRESSED message.
func (c *Connection) compress(wm []byte) ([]byte, error) {
	if len(wm) < 16 {
		return nil, fmt.Errorf("wire message too short to compress")
	}
	originalOpCode := int32(binary.LittleEndian.Uint32(wm[12:16]))
	uncompressed := wm[16:]

	var payload []byte
	switch c.compressor {
	case compressorSnappy:
		payload = snappy.Encode(nil, uncompressed)
	case compressorZstd:
		payload = c.zstdEnc.EncodeAll(uncompressed, nil)
	default:
		return wm, nil
	}

	dst := make([]byte, 16, 25+len(payload))
	dst = appendInt32(dst, 0) // requestID, rewritten below
	dst = appendInt32(dst, 0) // responseTo
	dst = appendInt32(dst, opCompressed)
	dst = appendInt32(dst, originalOpCode)
	dst = appendInt32(dst, int32(len(uncompressed)))
	dst = append(dst, byte(c.compressor))
	dst = append(dst, payload...)
	binary.LittleEndian.PutUint32(dst[0:4], uint32(len(dst)))
	copy(dst[4:16], wm[4:16])
	return dst, nil
}

func appendInt32(dst []byte, v int32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// ReadWireMessage implements driver.Connection, transparently decompressing an OP_COMPRESSED
// reply back into the OP_MSG bytes the driver package expects. A plain net.Conn read doesn't
// observe context cancellation on its own (only a deadline), which matters for a tailable-await
// getMore that can otherwise sit blocked on the socket well past the caller giving up; a
// CancellationListener races the read against ctx and closes the connection to unblock it.
func (c *Connection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(dl)
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}

	if ctx.Done() != nil {
		listener := internal.NewCancellationListener()
		go listener.Listen(ctx, func() { _ = c.nc.Close() })
		defer listener.StopListening()
	}

	var header [16]byte
	if _, err := readFull(c.nc, header[:]); err != nil {
		return nil, err
	}
	length := int32(binary.LittleEndian.Uint32(header[0:4]))
	if length < 16 {
		return nil, fmt.Errorf("topology: invalid wire message length %d", length)
	}
	rest := make([]byte, length-16)
	if _, err := readFull(c.nc, rest); err != nil {
		return nil, err
	}
	wm := append(header[:], rest...)

	opCode := int32(binary.LittleEndian.Uint32(wm[12:16]))
	if opCode != opCompressed {
		return wm, nil
	}
	return c.decompress(wm)
}

func (c *Connection) decompress(wm []byte) ([]byte, error) {
	body := wm[16:]
	if len(body) < 9 {
		return nil, fmt.Errorf("topology: malformed OP_COMPRESSED message")
	}
	originalOpCode := int32(binary.LittleEndian.Uint32(body[0:4]))
	uncompressedSize := int32(binary.LittleEndian.Uint32(body[4:8]))
	compressor := compressorID(body[8])
	payload := body[9:]

	var uncompressed []byte
	var err error
	switch compressor {
	case compressorSnappy:
		uncompressed, err = snappy.Decode(make([]byte, 0, uncompressedSize), payload)
	case compressorZstd:
		uncompressed, err = c.zstdDec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
	case compressorNoop:
		uncompressed = payload
	default:
		return nil, fmt.Errorf("topology: unknown compressor id %d", compressor)
	}
	if err != nil {
		return nil, fmt.Errorf("topology: decompress: %w", err)
	}

	out := make([]byte, 16, 16+len(uncompressed))
	copy(out, wm[:16])
	binary.LittleEndian.PutUint32(out[12:16], uint32(originalOpCode))
	out = append(out, uncompressed...)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out, nil
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Description implements driver.Connection.
func (c *Connection) Description() description.Server { return c.desc }

// ID implements driver.Connection.
func (c *Connection) ID() string { return c.id }

// Close implements driver.Connection.
func (c *Connection) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Close()
}
