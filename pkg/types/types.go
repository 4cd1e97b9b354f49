package types

import (
	"encoding/json"
	"time"
)

// Collection names as persisted in the store. Hook document references
// and the wire protocol use these strings verbatim.
const (
	CollectionMolecules     = "molecules"
	CollectionOptions       = "options"
	CollectionCollections   = "collections"
	CollectionResults       = "results"
	CollectionProcedures    = "procedures"
	CollectionTaskQueue     = "task_queue"
	CollectionServiceQueue  = "service_queue"
	CollectionQueueManagers = "queue_managers"
	CollectionUsers         = "users"
)

// Molecule is a chemical structure. Identity is content-derived: the
// canonical fingerprint over the payload, not the name. Immutable after
// creation.
type Molecule struct {
	ID                    string    `json:"id,omitempty"`
	MoleculeHash          string    `json:"molecule_hash,omitempty"`
	MolecularFormula      string    `json:"molecular_formula,omitempty"`
	Name                  string    `json:"name,omitempty"`
	Symbols               []string  `json:"symbols"`
	Geometry              []float64 `json:"geometry"`
	MolecularCharge       float64   `json:"molecular_charge"`
	MolecularMultiplicity int       `json:"molecular_multiplicity"`
	Comment               string    `json:"comment,omitempty"`
	CreatedOn             time.Time `json:"created_on,omitempty"`
	ModifiedOn            time.Time `json:"modified_on,omitempty"`
}

// OptionSet is a named bag of computation options. Natural key
// (program, name), unique. Immutable after creation.
type OptionSet struct {
	ID         string                 `json:"id,omitempty"`
	Program    string                 `json:"program"`
	Name       string                 `json:"name"`
	Keywords   map[string]interface{} `json:"keywords,omitempty"`
	CreatedOn  time.Time              `json:"created_on,omitempty"`
	ModifiedOn time.Time              `json:"modified_on,omitempty"`
}

// Collection is a user-named grouping of records, e.g. a dataset.
// Natural key (collection, name), unique. Overwrite merges Data keys.
type Collection struct {
	ID         string                 `json:"id,omitempty"`
	Collection string                 `json:"collection"`
	Name       string                 `json:"name"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedOn  time.Time              `json:"created_on,omitempty"`
	ModifiedOn time.Time              `json:"modified_on,omitempty"`
}

// RecordStatus is the lifecycle state of a Result or Procedure.
type RecordStatus string

const (
	RecordStatusIncomplete RecordStatus = "INCOMPLETE"
	RecordStatusComplete   RecordStatus = "COMPLETE"
	RecordStatusError      RecordStatus = "ERROR"
)

// Result is one computed (program, method, basis, options, molecule,
// driver) tuple. That 6-tuple is the natural key, unique, and all six
// fields are lowercased on write and on query.
type Result struct {
	ID           string             `json:"id,omitempty"`
	Program      string             `json:"program"`
	Driver       string             `json:"driver"`
	Method       string             `json:"method"`
	Basis        string             `json:"basis"`
	Options      string             `json:"options"`
	Molecule     string             `json:"molecule"`
	Status       RecordStatus       `json:"status,omitempty"`
	Properties   map[string]float64 `json:"properties,omitempty"`
	ReturnResult json.RawMessage    `json:"return_result,omitempty"`
	Provenance   *Provenance        `json:"provenance,omitempty"`
	CreatedOn    time.Time          `json:"created_on,omitempty"`
	ModifiedOn   time.Time          `json:"modified_on,omitempty"`
}

// Provenance records what produced a Result payload.
type Provenance struct {
	Creator string `json:"creator,omitempty"`
	Version string `json:"version,omitempty"`
	Routine string `json:"routine,omitempty"`
}

// Procedure is a multi-step computation record (optimization, torsion
// drive). Same lifecycle class as Result; deduplicated on HashIndex.
type Procedure struct {
	ID         string                 `json:"id,omitempty"`
	Procedure  string                 `json:"procedure"`
	Program    string                 `json:"program"`
	HashIndex  string                 `json:"hash_index"`
	Status     RecordStatus           `json:"status,omitempty"`
	Extras     map[string]interface{} `json:"extras,omitempty"`
	CreatedOn  time.Time              `json:"created_on,omitempty"`
	ModifiedOn time.Time              `json:"modified_on,omitempty"`
}

// RecordKind discriminates the target of a Task between the results and
// procedures collections.
type RecordKind string

const (
	RecordKindResults   RecordKind = "results"
	RecordKindProcedure RecordKind = "procedure"
)

// RecordRef points a Task at the Result or Procedure it computes.
type RecordRef struct {
	Kind RecordKind `json:"kind"`
	ID   string     `json:"id"`
}

// TaskStatus is the task state machine:
//
//	WAITING -> RUNNING -> COMPLETE
//	               \----> ERROR
//
// reset_status returns RUNNING or ERROR tasks to WAITING.
type TaskStatus string

const (
	TaskStatusWaiting  TaskStatus = "WAITING"
	TaskStatusRunning  TaskStatus = "RUNNING"
	TaskStatusComplete TaskStatus = "COMPLETE"
	TaskStatusError    TaskStatus = "ERROR"
)

// Task is one unit of compute tied to exactly one Result or Procedure.
// At most one Task ever exists per base_result; re-submission merges
// hooks into the existing row.
type Task struct {
	ID         string          `json:"id,omitempty"`
	Spec       json.RawMessage `json:"spec,omitempty"`
	Hooks      []Hook          `json:"hooks,omitempty"`
	Tag        string          `json:"tag,omitempty"`
	BaseResult RecordRef       `json:"base_result"`
	Status     TaskStatus      `json:"status,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedOn  time.Time       `json:"created_on,omitempty"`
	ModifiedOn time.Time       `json:"modified_on,omitempty"`
}

// TaskError pairs a task id with the failure message to store on it.
type TaskError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// UpdateOp is the operation of one declarative field update.
type UpdateOp string

const (
	UpdateSet  UpdateOp = "set"
	UpdatePush UpdateOp = "push"
	UpdateInc  UpdateOp = "inc"
)

// FieldUpdate is one (op, field, value) triple applied to a stored
// document. Push appends to an array field, inc adds to a numeric one.
type FieldUpdate struct {
	Op    UpdateOp    `json:"op"`
	Field string      `json:"field"`
	Value interface{} `json:"value,omitempty"`
}

// DocumentRef names the document a hook mutates. The collection in the
// reference is authoritative; hooks may target any collection.
type DocumentRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Hook is a post-completion callback: a batch of field updates against
// one referenced document, fired after its task completes.
type Hook struct {
	Document DocumentRef   `json:"document"`
	Updates  []FieldUpdate `json:"updates,omitempty"`
}

// ServiceDocument is a multi-step workflow document. It is schemaless
// beyond the identifying keys below; hook dispatch mutates arbitrary
// fields, so the store handles it as a raw map.
type ServiceDocument map[string]interface{}

// ID returns the server-assigned id, if set.
func (s ServiceDocument) ID() string {
	v, _ := s["id"].(string)
	return v
}

// SetID stamps the server-assigned id.
func (s ServiceDocument) SetID(id string) {
	s["id"] = id
}

// HashIndex returns the dedup key for the service queue.
func (s ServiceDocument) HashIndex() string {
	v, _ := s["hash_index"].(string)
	return v
}

// Status returns the service state field, if present.
func (s ServiceDocument) Status() string {
	v, _ := s["status"].(string)
	return v
}

// Manager is the heartbeat record of one QueueManager process. Natural
// key is the manager name; counters accumulate via compare-and-add.
type Manager struct {
	ID         string    `json:"id,omitempty"`
	Name       string    `json:"name"`
	Cluster    string    `json:"cluster,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Submitted  int       `json:"submitted"`
	Completed  int       `json:"completed"`
	Returned   int       `json:"returned"`
	Failures   int       `json:"failures"`
	CreatedOn  time.Time `json:"created_on,omitempty"`
	ModifiedOn time.Time `json:"modified_on,omitempty"`
}

// ManagerCounts is one tick's worth of counter deltas.
type ManagerCounts struct {
	Submitted int `json:"submitted,omitempty"`
	Completed int `json:"completed,omitempty"`
	Returned  int `json:"returned,omitempty"`
	Failures  int `json:"failures,omitempty"`
}

// Permission names for user accounts. Admin implies all others.
const (
	PermissionRead    = "read"
	PermissionWrite   = "write"
	PermissionCompute = "compute"
	PermissionQueue   = "queue"
	PermissionAdmin   = "admin"
)

// User is an account record. Password holds the bcrypt digest; the
// plaintext never persists.
type User struct {
	ID          string    `json:"id,omitempty"`
	Username    string    `json:"username"`
	Password    []byte    `json:"password"`
	Permissions []string  `json:"permissions"`
	CreatedOn   time.Time `json:"created_on,omitempty"`
	ModifiedOn  time.Time `json:"modified_on,omitempty"`
}
