/*
Package types defines the core data structures used throughout QCFractal.

This package contains all fundamental types of the orchestration domain
model: molecules, option sets, collections, computed results, procedures,
queue tasks, services, queue-manager records, and users. These types are
shared by the storage socket, the queue manager, the API server, and the
client, and they define both the persisted document layout and the wire
format.

# Architecture

The types package is the foundation of QCFractal's data model. It defines:

  - Scientific records (Molecule, OptionSet, Collection)
  - Computation outputs (Result, Procedure) and their status lifecycle
  - The compute queue (Task, TaskStatus, RecordRef)
  - Post-completion hooks (Hook, FieldUpdate, DocumentRef)
  - Multi-step workflow documents (ServiceDocument)
  - Manager heartbeat records and counter deltas
  - User accounts and permission names
  - The response envelope (Meta)

All types are designed to be:
  - Serializable (JSON, both for the store and the wire)
  - Immutable where possible (molecules and option sets never mutate)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums, typed references)

# Core Types

Scientific records:
  - Molecule: Chemical structure; identity via canonical fingerprint
  - OptionSet: Named bag of computation options, keyed (program, name)
  - Collection: User-named grouping of records, keyed (collection, name)

Computation outputs:
  - Result: One computed (program, method, basis, options, molecule,
    driver) tuple; the 6-tuple is unique and lowercased
  - Procedure: Multi-step computation, deduplicated on hash_index
  - RecordStatus: INCOMPLETE, COMPLETE, ERROR

Queue:
  - Task: Unit of compute tied to exactly one Result or Procedure
  - TaskStatus: WAITING, RUNNING, COMPLETE, ERROR
  - RecordRef: (kind, id) pointer at the base record
  - TaskError: (id, message) pair for bulk error marking

Hooks and services:
  - Hook: Declarative post-completion update against one document
  - FieldUpdate: (op, field, value) with op in set, push, inc
  - DocumentRef: (collection, id); the collection named here is
    authoritative for dispatch
  - ServiceDocument: schemaless workflow document advanced by hooks

Operations:
  - Manager: Heartbeat record with monotonic counters
  - User: Account with bcrypt digest and permission set
  - Meta: Response envelope with positional outcome partitions

# Usage

Creating a Molecule:

	water := &types.Molecule{
		Name:                  "water",
		Symbols:               []string{"O", "H", "H"},
		Geometry:              []float64{0, 0, 0, 0.75, 0.58, 0, -0.75, 0.58, 0},
		MolecularCharge:       0,
		MolecularMultiplicity: 1,
	}

Creating a Result and its Task:

	result := &types.Result{
		Program:  "psi4",
		Driver:   "energy",
		Method:   "B3LYP",
		Basis:    "6-31g",
		Options:  "default",
		Molecule: water.ID,
		Status:   types.RecordStatusIncomplete,
	}

	task := &types.Task{
		Spec:       spec,
		Tag:        "openff",
		BaseResult: types.RecordRef{Kind: types.RecordKindResults, ID: result.ID},
		Hooks: []types.Hook{{
			Document: types.DocumentRef{Collection: types.CollectionServiceQueue, ID: svcID},
			Updates: []types.FieldUpdate{
				{Op: types.UpdatePush, Field: "completed", Value: result.ID},
				{Op: types.UpdateInc, Field: "remaining", Value: -1},
			},
		}},
	}

# State Machine

Tasks follow a state machine:

	WAITING → RUNNING → COMPLETE
	             ↓
	           ERROR

Valid transitions:
  - WAITING → RUNNING (leased by queue_get_next)
  - RUNNING → COMPLETE (manager write-back after adapter success)
  - RUNNING → ERROR (adapter failure, message stored on the task)
  - RUNNING → WAITING, ERROR → WAITING (operator reset_status)

Spurious transitions are no-ops: the store filters every update by the
current status, so a stale mark never fires.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type TaskStatus string
	  const (
	      TaskStatusWaiting TaskStatus = "WAITING"
	      TaskStatusRunning TaskStatus = "RUNNING"
	  )

Opaque Payload Pattern:

	Fields the core never interprets stay opaque:
	  - Task.Spec and Result.ReturnResult are json.RawMessage
	  - ServiceDocument is a raw map so hooks can touch any field

Positional Outcome Pattern:

	Batch operations answer element-by-element in input order; callers
	rely on that correspondence. Meta carries the partition counts and
	the duplicate/error/missing detail.

# Integration Points

This package integrates with:

  - pkg/storage: Persists all types to bbolt as JSON documents
  - pkg/chem: Computes Molecule fingerprints and payload equality
  - pkg/queue: Leases Tasks and writes Results back on completion
  - pkg/api: Wraps operations in the Meta envelope over the wire
  - pkg/client: Decodes the same envelope on the caller side

# Thread Safety

All types in this package are designed to be:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers

The storage layer serializes all writes through single-writer bbolt
transactions; in-process consumers must not mutate documents they share.

# See Also

  - pkg/storage for the persistence layer and identity rules
  - pkg/queue for the manager loop and adapter contract
  - pkg/api for the wire protocol
*/
package types
