/*
Package api implements the QCFractal wire protocol server: a TCP
listener that authenticates newline-delimited JSON requests and
dispatches them to the storage socket.

Every request names one operation, carries credentials, and bundles its
arguments as raw JSON. Every response carries the storage metadata
envelope plus an operation-specific data payload. The protocol has no
sessions and no per-connection state beyond the socket itself, so a
client may hold one connection open or dial per call.

# Architecture

	┌───────────────────────── API SERVER ─────────────────────────┐
	│                                                              │
	│   TCP listener (optional TLS)                                │
	│        │                                                     │
	│        ▼  one goroutine per connection                       │
	│   ┌──────────────────────────────────────────────┐           │
	│   │ handleConnection                             │           │
	│   │   scan line -> Request                       │           │
	│   │   VerifyUser(username, password, permission) │           │
	│   │   handlers[operation](ctx, req)              │           │
	│   │   Response + '\n'                            │           │
	│   └──────────────────────┬───────────────────────┘           │
	│                          │                                   │
	│                          ▼                                   │
	│                  storage.BoltSocket                          │
	│                                                              │
	│   Permission classes:                                        │
	│     read     information, get_*                              │
	│     write    add_*, del_*, update_procedure                  │
	│     compute  queue_submit, queue_get, queue_reset_status,    │
	│              service CRUD                                    │
	│     queue    queue_get_next, mark complete/error, hooks,     │
	│              record write-back, manager_update               │
	└──────────────────────────────────────────────────────────────┘

# Wire Format

One JSON document per line in each direction:

	-> {"operation":"get_molecules","username":"u","password":"p",
	    "args":{"data":["af3f...","9c1b..."],"index":"hash"}}
	<- {"meta":{"success":true,"n_found":2,...},"data":[...]}

Request frames are capped at 32 MiB, which bounds a molecule batch
without letting a stray client exhaust the server.

# Core Components

Server:
  - Owns the listener, the handler table, and the storage socket
  - Start binds, Stop drains connections through a WaitGroup
  - SetTLSConfig(cert, key) before Start upgrades the listener

Request / Response:
  - Request carries operation, credentials, and raw args
  - Response carries the Meta envelope and raw data
  - Argument structs in this package mirror the storage queries with
    snake_case wire tags

Authentication:
  - Each operation maps to one permission class
  - VerifyUser runs per request against the storage user table
  - Admin accounts and bypass mode short-circuit the check

# Usage

	srv := api.NewServer(socket, api.Config{
		Address: "0.0.0.0:7777",
		Name:    "production",
		Version: version,
	})
	if err := srv.SetTLSConfig(certFile, keyFile); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

# Integration Points

This package integrates with:

  - pkg/storage: every handler is a thin shim over a socket method
  - pkg/client: FractalClient speaks this protocol from the far end
  - pkg/types: Meta envelope and document types on the wire
  - pkg/metrics: per-operation request counters and latency histograms,
    health component registration
  - cmd/qcfractal: server subcommand builds and runs the Server

# Design Patterns

Handler Table:
  - Operations dispatch through a map built once at construction
  - Unknown operations fail closed with an error response, never a
    dropped connection

Per-Request Credentials:
  - No session state to invalidate or replicate
  - A credential change takes effect on the next request

Error Responses:
  - Handler errors become Meta failures on the wire, not transport
    errors; the connection stays usable for the next request
*/
package api
