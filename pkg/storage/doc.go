/*
Package storage provides BoltDB-backed persistence for quantum chemistry
records, the task queue, and user accounts.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for molecules, option
sets, collections, results, procedures, tasks, services, managers, and
users. All data is serialized as JSON and stored in separate buckets,
with natural-key index buckets giving every record class its
deduplication guarantee.

# Architecture

The socket uses BoltDB (bbolt) for embedded, transactional storage with
zero external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltSocket                      │           │
	│  │  - File: <name>.fractal.db                 │           │
	│  │  - Format: B+tree with MVCC                │           │
	│  │  - Transactions: ACID with fsync           │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Document Buckets                │           │
	│  │  ┌──────────────────────────────┐          │           │
	│  │  │ molecules      (UUID)        │          │           │
	│  │  │ options        (UUID)        │          │           │
	│  │  │ collections    (UUID)        │          │           │
	│  │  │ results        (UUID)        │          │           │
	│  │  │ procedures     (UUID)        │          │           │
	│  │  │ task_queue     (UUID)        │          │           │
	│  │  │ service_queue  (UUID)        │          │           │
	│  │  │ queue_managers (name)        │          │           │
	│  │  │ users          (username)    │          │           │
	│  │  └──────────────────────────────┘          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Index Buckets                   │           │
	│  │  idx_molecule_hash  hash+id -> id          │           │
	│  │  idx_options        program+name -> id     │           │
	│  │  idx_collections    collection+name -> id  │           │
	│  │  idx_results        6-tuple -> id          │           │
	│  │  idx_procedures     hash_index -> id       │           │
	│  │  idx_services       hash_index -> id       │           │
	│  │  idx_task_base      kind+target -> id      │           │
	│  │  idx_task_status    status/nanos/id -> id  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Transaction Management              │           │
	│  │  - Read: db.View() - concurrent reads      │           │
	│  │  - Write: db.Update() - serialized writes  │           │
	│  │  - Rollback: automatic on error            │           │
	│  │  - Commit: automatic on success + fsync    │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

BoltSocket:
  - Implements the Store interface using BoltDB
  - Single database file per server
  - Automatic bucket creation and schema version stamp on open
  - Thread-safe via BoltDB's transaction model

Natural Keys:
  - molecules: content fingerprint over the canonical payload
  - options: (program, name)
  - collections: (collection, name)
  - results: (program, driver, method, basis, options, molecule),
    lowercased on write and on query
  - procedures, services: caller-supplied hash_index
  - tasks: (kind, target id) of the base record, one task per record
  - managers: manager name
  - users: username

Transaction Model:
  - Read transactions: db.View(), concurrent consistent snapshots
  - Write transactions: db.Update(), serialized atomic commits
  - Every batch operation is one transaction: a batch either fully
    commits or leaves no trace

# Write Semantics

Add operations answer positionally: element i of the input maps to
element i of the returned ids. An element that fails validation keeps
its slot with an empty id and a note in meta.validation_errors. An
element that matches an existing row keeps its slot with the existing
id and a note in meta.duplicates. Duplicates are never errors; the
caller asked for the record to exist and it does.

Molecules go further: a fingerprint match is only trusted after a
field-by-field payload comparison. A fingerprint match with a differing
payload is reported per element in meta.errors and the element is never
stored.

The task queue is stricter still: at most one task per base record.
Submitting a second task for the same record merges the new hooks into
the queued task and reports a duplicate.

# Task State Machine

	WAITING ──lease──> RUNNING ──complete──> COMPLETE
	   ▲                  │
	   │                  └──────error─────> ERROR
	   └────────────reset_status───────┘

Leasing scans idx_task_status under the WAITING prefix. Keys embed the
zero-padded creation nanos, so BoltDB's byte ordering is submission
ordering and the oldest tasks lease first. The scan and the flip to
RUNNING happen in one write transaction; two managers can never lease
the same task.

Transitions outside the arrows above are no-ops, not errors. A manager
reporting completion for a task another manager already completed is
normal traffic.

# Usage

Opening a socket:

	store, err := storage.NewBoltSocket(storage.Config{
		Path: "qcf_server.fractal.db",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

Molecules:

	ids, meta, err := store.AddMolecules(map[string]*types.Molecule{
		"water": {
			Symbols:  []string{"O", "H", "H"},
			Geometry: []float64{0, 0, 0.1173, 0, 0.7572, -0.4692, 0, -0.7572, -0.4692},
		},
	})
	mols, meta, err := store.GetMolecules([]string{ids["water"]}, "id")

Results and the queue:

	ids, meta, err := store.AddResults([]*types.Result{{
		Program: "psi4", Driver: "energy", Method: "b3lyp",
		Basis: "cc-pvdz", Options: "default", Molecule: molID,
		Status: types.RecordStatusIncomplete,
	}}, false)

	taskIDs, meta, err := store.QueueSubmit([]*types.Task{{
		Spec:       spec,
		BaseResult: types.RecordRef{Kind: types.RecordKindResults, ID: ids[0]},
	}})

	tasks, err := store.QueueGetNext(50, "")
	// ... compute ...
	err = store.UpdateRecordData(tasks[0].BaseResult, payload)
	n, err := store.QueueMarkComplete([]string{tasks[0].ID})

Users:

	added, err := store.AddUser("george", password, []string{"read", "write"})
	ok, reason, err := store.VerifyUser("george", password, "read")

# Integration Points

This package integrates with:

  - pkg/api: every wire operation maps to one Store method
  - pkg/queue: managers lease tasks and write results back
  - pkg/chem: molecule fingerprinting, comparison, and validation
  - pkg/types: all entity definitions and the response envelope

# Design Patterns

Positional Answers:
  - Batch adds return one id per input element, in order
  - Per-element failures never abort the batch
  - meta counters (n_inserted, duplicates, errors) summarize the batch

Index Discipline:
  - Every document write updates its index entries in the same
    transaction
  - Deletes clean their index entries, freeing the natural key

Collect Then Mutate:
  - Scans that lead to writes collect ids first and mutate after
  - BoltDB cursors do not survive mutation of the bucket under them

Schemaless Where It Matters:
  - Services are raw maps: the iteration loop owns their shape
  - Hooks mutate documents through a small update language (set,
    push, inc) against the JSON form

# Performance Characteristics

Read Operations:
  - Get by key: O(log n) via B+tree, typically < 1ms
  - Natural-key lookup: one index get plus one document get
  - Query scans: O(n) over the bucket with in-memory predicates,
    bounded by the limit clamp (default 1000)

Write Operations:
  - Insert/update: O(log n) per key, 1-5ms with fsync
  - Batch writes: single transaction, amortized fsync
  - Serialized: one writer at a time (BoltDB model)

The single-writer model is a fit for a lab-scale server: correctness of
deduplication matters far more than write concurrency, and a batch of a
thousand results still commits in one transaction.

# Troubleshooting

Database Locked:
  - Symptom: open blocks then fails after the 5s timeout
  - Cause: another process holds the file lock
  - Solution: one server per database file

Schema Version Mismatch:
  - Symptom: open fails with a schema version error
  - Cause: data file written by an incompatible release
  - Solution: upgrade the file offline, or start against a new path

Hash Collision Errors:
  - Symptom: add_molecules reports a per-element collision error
  - Cause: stored payload no longer matches its fingerprint or a
    genuine fingerprint collision
  - Solution: inspect the stored row by hash; never overwritten

# See Also

  - pkg/types for entity definitions and the response envelope
  - pkg/chem for the molecule identity contract
  - pkg/queue for the manager side of the task queue
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
