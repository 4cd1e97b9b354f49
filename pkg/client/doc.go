/*
Package client provides the Go client for a running QCFractal server.

FractalClient wraps the wire protocol with one typed method per
operation, mirroring the storage socket's signatures. Code written
against the queue manager's Client interface runs unchanged over the
wire or against an embedded socket.

# Architecture

	┌──────────────────── APPLICATION CODE ────────────────────┐
	│                                                          │
	│  c, err := client.NewFractalClient(client.Config{        │
	│      Address:  "fractal.example.edu:7777",               │
	│      Username: "reader",                                 │
	│      Password: "...",                                    │
	│  })                                                      │
	│  ids, meta, err := c.AddMolecules(...)                   │
	│                                                          │
	└────────────────────────┬─────────────────────────────────┘
	                         │
	┌────────────────────────▼──── pkg/client ─────────────────┐
	│                                                          │
	│  typed method -> args struct -> one JSON line            │
	│  response line -> Meta envelope + typed data             │
	│                                                          │
	│  lazy dial, serialized calls, redial after errors        │
	└────────────────────────┬─────────────────────────────────┘
	                         │ TCP, optional TLS
	                         ▼
	                  API server (pkg/api)

# Core Behavior

Handshake:
  - NewFractalClient performs the information operation before
    returning, so a bad address or bad credentials fail at
    construction, not on the first real call

Connection:
  - Dials lazily and keeps one connection open across calls
  - Calls serialize on an internal lock; one client is safe to share
  - A transport error drops the connection; the next call redials,
    so a client outlives server restarts

Errors:
  - A failed response envelope becomes a Go error carrying the
    server's description, alongside the envelope for callers that
    want the partial counts

# Usage

	c, err := client.NewFractalClient(client.Config{
		Address:  "localhost:7777",
		Username: "manager",
		Password: password,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	ids, meta, err := c.AddMolecules(map[string]*types.Molecule{
		"water": mol,
	})
	if err != nil {
		return err
	}
	if len(meta.Duplicates) > 0 {
		// already stored; ids map still resolves every label
	}

Against a TLS server on a self-signed pair:

	c, err := client.NewFractalClient(client.Config{
		Address:     "fractal.example.edu:7777",
		TLS:         true,
		TLSInsecure: true,
	})

# Integration Points

This package integrates with:

  - pkg/api: operation names and wire argument structs
  - pkg/queue: FractalClient satisfies the manager's Client interface
  - pkg/types: document types and the Meta envelope
  - cmd/qcfractal: manager subcommand connects through this client

# Design Patterns

Socket Mirroring:
  - Method signatures match the storage socket's, so deployments can
    swap between embedded and remote modes without code changes

Per-Request Credentials:
  - Credentials are config, not session state; nothing to refresh

Fail-Fast Construction:
  - The constructor's handshake surfaces connectivity and
    authentication problems where they are cheapest to handle
*/
package client
