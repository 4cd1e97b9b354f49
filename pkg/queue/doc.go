/*
Package queue implements the compute side of QCFractal: the queue
manager that leases tasks from a server and the adapters that run them
on a compute backend.

A manager is a pump between two interfaces. On one side the Client
interface serves tasks and accepts results; the embedded storage socket
satisfies it for single-process deployments and the remote client
satisfies it over the wire, with the manager unaware of which it holds.
On the other side the Adapter interface hands task specs to a compute
backend and drains finished outcomes.

# Architecture

	┌────────────────────── QUEUE MANAGER ─────────────────────┐
	│                                                          │
	│   Client (server or socket)        Adapter (backend)     │
	│        ▲          │                    ▲        │        │
	│        │          │ QueueGetNext       │ Submit │ Poll   │
	│        │          ▼                    │        ▼        │
	│  ┌─────┴────────────────────────────────────────────┐    │
	│  │                 Update cycle                     │    │
	│  │                                                  │    │
	│  │  1. harvest: Poll outcomes                       │    │
	│  │       success -> UpdateRecordData, MarkComplete, │    │
	│  │                  fire deferred hooks             │    │
	│  │       failure -> QueueMarkError                  │    │
	│  │  2. lease: top up to max_tasks                   │    │
	│  │       base record already COMPLETE ->            │    │
	│  │           acknowledge without recomputing        │    │
	│  │       otherwise -> Adapter.Submit                │    │
	│  │  3. heartbeat: ManagerUpdate(counter deltas)     │    │
	│  └──────────────────────────────────────────────────┘    │
	│                                                          │
	│  Backends:                                               │
	│    pool      local subprocesses, semaphore-bounded       │
	│    dask      TCP bridge to a distributed scheduler       │
	│    fireworks HTTP launchpad                              │
	└──────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Runs the update cycle on a ticker (default 15s)
  - Tracks in-flight tasks and their deferred hooks
  - Accumulates counter deltas between heartbeats
  - Backs off exponentially when the server is unreachable
  - Start/Stop for long-lived runs, AwaitResults for one-shot runs

Adapter:
  - Submit hands one task spec to the backend and returns immediately
  - Poll drains outcomes finished since the last call
  - Cancel aborts in-flight tasks
  - Selected once by BuildAdapter from config, no fallback probing

Engine:
  - One task spec in, one result payload out
  - ExecEngine shells out: spec on stdin, JSON payload on stdout
  - The pool adapter runs engines on bounded local goroutines

# Failure Semantics

Task failures and transport failures are kept apart. A task that fails
inside the backend becomes a failed outcome: the manager marks the task
errored on the server and moves on. A transport failure (server down,
scheduler unreachable) aborts the update cycle instead; the backoff
timer stretches the next attempt and the accumulated counters survive
until a heartbeat gets through.

Stopping a manager returns what it still holds: in-flight tasks are
reset to WAITING on the server so another manager can pick them up,
counted under the returned counter. Exit callbacks then run in reverse
registration order, each guarded against panics.

# Usage

Long-lived manager against a remote server:

	adapter, err := queue.BuildAdapter(queue.AdapterConfig{
		Kind:    queue.AdapterPool,
		Program: "psi4-json",
		Workers: 8,
	})
	if err != nil {
		return err
	}

	m := queue.NewManager(client, adapter, queue.ManagerConfig{
		Cluster:  "slurm",
		Tag:      "openff",
		MaxTasks: 200,
	})
	m.Start()
	defer m.Stop()

One-shot run that drains the queue and exits:

	m := queue.NewManager(client, adapter, queue.ManagerConfig{})
	if err := m.AwaitResults(); err != nil {
		return err
	}
	m.Stop()

# Integration Points

This package integrates with:

  - pkg/storage: BoltSocket satisfies Client for embedded deployments
  - pkg/client: FractalClient satisfies Client over the wire
  - pkg/types: task, hook, and counter documents
  - pkg/metrics: task throughput counters
  - cmd/qcfractal: manager subcommand wires config to BuildAdapter

# Design Patterns

Harvest Before Lease:
  - Outcomes drain first so their capacity frees up in the same cycle
  - A full adapter never blocks result write-back

Deferred Hooks:
  - Hooks ride along with the leased task and fire only after its
    record write-back and completion both succeed
  - Batched into one HandleHooks call per cycle

Counter Deltas:
  - The manager reports increments, never totals
  - A failed heartbeat restores its delta for the next attempt, so
    counts are never lost, only delayed
*/
package queue
