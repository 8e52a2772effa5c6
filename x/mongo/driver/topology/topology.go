// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"

	"github.com/driftdb/mongo-driver/x/mongo/driver"
	"github.com/driftdb/mongo-driver/x/mongo/driver/description"
)

// Config describes a deployment as a static seed list: one ServerConfig per member, handshaken
// lazily on first use. This driver does not discover topology changes after startup (server
// discovery is one of the spec's named external collaborators); a seed list sized to the
// deployment's actual members is the operator's responsibility, mirroring a direct connection or
// a fixed replica-set URI.
type Config struct {
	Seeds []ServerConfig
	Kind  description.TopologyKind
}

// Topology is the concrete driver.Deployment: a fixed set of Servers, selected by read
// preference via description.ServerSelector against each Server's last handshake description.
type Topology struct {
	servers []*Server
	kind    description.TopologyKind
}

// New constructs a Topology from cfg, building one Server per seed without dialing any of them.
func New(cfg Config) (*Topology, error) {
	if len(cfg.Seeds) == 0 {
		return nil, fmt.Errorf("topology: at least one seed is required")
	}
	kind := cfg.Kind
	if kind == 0 && len(cfg.Seeds) > 1 {
		kind = description.ReplicaSetWithPrimary
	}
	t := &Topology{kind: kind}
	for _, seedCfg := range cfg.Seeds {
		s, err := NewServer(seedCfg)
		if err != nil {
			return nil, err
		}
		t.servers = append(t.servers, s)
	}
	return t, nil
}

// Kind implements driver.Deployment.
func (t *Topology) Kind() description.TopologyKind { return t.kind }

// SelectServer implements driver.Deployment. It forces a handshake on any server that hasn't
// connected yet (so selectors that inspect wire version see real data), then narrows the
// candidate set with selector and hands back the first match.
func (t *Topology) SelectServer(ctx context.Context, selector description.ServerSelector) (driver.Server, error) {
	if len(t.servers) == 0 {
		return nil, fmt.Errorf("topology: no servers configured")
	}

	descs := make([]description.Server, len(t.servers))
	for i, s := range t.servers {
		d := s.Description()
		if d.Kind == description.Unknown {
			if err := t.warm(ctx, s); err != nil {
				d = description.NewServerFromError(d.Addr, err)
			} else {
				d = s.Description()
			}
		}
		descs[i] = d
	}

	topDesc := description.Topology{Kind: t.kind, Servers: descs}
	candidates, err := selector.SelectServer(topDesc, descs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("topology: no server found matching selector")
	}

	chosen := candidates[0]
	for _, s := range t.servers {
		if s.cfg.Addr == chosen.Addr {
			return s, nil
		}
	}
	return nil, fmt.Errorf("topology: selected address %s not among configured servers", chosen.Addr)
}

// warm forces a handshake by checking out and immediately releasing a connection, populating the
// server's description for a selector that needs wire version or kind.
func (t *Topology) warm(ctx context.Context, s *Server) error {
	conn, err := s.Connection(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close tears down every server's connection pool.
func (t *Topology) Close() {
	for _, s := range t.servers {
		s.Close()
	}
}
