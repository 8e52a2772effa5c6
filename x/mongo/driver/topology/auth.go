// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"

	"github.com/xdg-go/scram"

	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
	"github.com/driftdb/mongo-driver/x/mongo/driver"
)

// Credential holds the SCRAM-SHA-256 identity a Connection authenticates with after its hello
// handshake. This driver speaks SCRAM-SHA-256 only; it is the default and minimum mechanism any
// server supporting wire version 6+ offers.
type Credential struct {
	Username   string
	Password   string
	AuthSource string
}

const saslMaxSteps = 10

// authenticateSCRAM runs the SCRAM-SHA-256 conversation over conn using the already-established
// OP_MSG round trip, per RFC 5802 as adapted by the MongoDB wire protocol's saslStart/
// saslContinue commands.
func authenticateSCRAM(ctx context.Context, conn driver.Connection, cred Credential) error {
	client, err := scram.SHA256.NewClient(cred.Username, cred.Password, "")
	if err != nil {
		return fmt.Errorf("topology: scram client: %w", err)
	}
	conv := client.NewConversation()

	authSource := cred.AuthSource
	if authSource == "" {
		authSource = "admin"
	}

	clientFirst, err := conv.Step("")
	if err != nil {
		return fmt.Errorf("topology: scram client-first: %w", err)
	}

	payload := []byte(clientFirst)
	var conversationID int32
	started := false

	for step := 0; step < saslMaxSteps; step++ {
		var cmd bsoncore.Document
		if !started {
			cmd = buildSaslStart(authSource, payload)
		} else {
			cmd = buildSaslContinue(authSource, conversationID, payload)
		}

		reply, err := driver.RoundTripCommand(ctx, conn, cmd)
		if err != nil {
			return fmt.Errorf("topology: authentication failed: %w", err)
		}

		if !started {
			id, ok := reply.Lookup("conversationId").Int32OK()
			if !ok {
				return fmt.Errorf("topology: saslStart reply missing conversationId")
			}
			conversationID = id
			started = true
		}

		done, _ := reply.Lookup("done").BooleanOK()
		_, serverPayload, _ := reply.Lookup("payload").BinaryOK()

		if len(serverPayload) > 0 || !done {
			next, err := conv.Step(string(serverPayload))
			if err != nil {
				return fmt.Errorf("topology: scram step: %w", err)
			}
			payload = []byte(next)
		} else {
			payload = nil
		}

		if done {
			if !conv.Done() {
				return fmt.Errorf("topology: server ended SCRAM conversation early")
			}
			return nil
		}
	}
	return fmt.Errorf("topology: SCRAM conversation exceeded %d steps", saslMaxSteps)
}

func buildSaslStart(authSource string, payload []byte) bsoncore.Document {
	oidx, opts := bsoncore.AppendDocumentStart(nil)
	opts = bsoncore.AppendBooleanElement(opts, "skipEmptyExchange", true)
	opts, _ = bsoncore.AppendDocumentEnd(opts, oidx)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslStart", 1)
	dst = bsoncore.AppendStringElement(dst, "mechanism", "SCRAM-SHA-256")
	dst = bsoncore.AppendBinaryElement(dst, "payload", 0x00, payload)
	dst = bsoncore.AppendInt32Element(dst, "autoAuthorize", 1)
	dst = bsoncore.AppendDocumentElement(dst, "options", opts)
	dst = bsoncore.AppendStringElement(dst, "$db", authSource)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func buildSaslContinue(authSource string, conversationID int32, payload []byte) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslContinue", 1)
	dst = bsoncore.AppendInt32Element(dst, "conversationId", conversationID)
	dst = bsoncore.AppendBinaryElement(dst, "payload", 0x00, payload)
	dst = bsoncore.AppendStringElement(dst, "$db", authSource)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}
