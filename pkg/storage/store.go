package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// Sentinel errors for single-record operations. Batch operations never
// return these per element; they partition outcomes into the meta
// envelope instead.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate")
	ErrHashCollision = errors.New("molecule hash collision")
	ErrInvalidInput  = errors.New("invalid input")
	ErrSchemaVersion = errors.New("incompatible database schema version")
)

// ResultQuery selects results by the lowercased key fields. Empty
// slices match everything; Status defaults to COMPLETE when empty.
type ResultQuery struct {
	Program    []string
	Driver     []string
	Method     []string
	Basis      []string
	Options    []string
	Molecule   []string
	Status     []string
	Projection []string
	Limit      int
	Skip       int
}

// ProcedureQuery selects procedures.
type ProcedureQuery struct {
	ID        []string
	Procedure []string
	Program   []string
	HashIndex []string
	Status    []string
	Limit     int
	Skip      int
}

// ServiceQuery selects service documents.
type ServiceQuery struct {
	ID        []string
	HashIndex []string
	Status    []string
	Limit     int
	Skip      int
}

// Store is the persistence contract of the central service: typed
// document collections with identity rules, the task-queue state
// machine, hook dispatch, manager heartbeats, and user accounts.
type Store interface {
	// Molecules
	AddMolecules(mols map[string]*types.Molecule) (map[string]string, types.Meta, error)
	GetMolecules(values []string, index string) ([]*types.Molecule, types.Meta, error)
	DelMolecules(values []string, index string) (int, error)

	// Options
	AddOptions(data []*types.OptionSet) ([]string, types.Meta, error)
	GetOptions(program, name string, limit int) ([]*types.OptionSet, types.Meta, error)
	DelOption(program, name string) (int, error)

	// Collections
	AddCollection(collection, name string, data map[string]interface{}, overwrite bool) (string, types.Meta, error)
	GetCollections(collection, name string, limit int) ([]*types.Collection, types.Meta, error)
	DelCollection(collection, name string) (int, error)

	// Results
	AddResults(data []*types.Result, updateExisting bool) ([]string, types.Meta, error)
	GetResults(q ResultQuery) ([]*types.Result, types.Meta, error)
	GetResultsByID(ids []string, projection []string) ([]*types.Result, types.Meta, error)
	DelResults(ids []string) (int, error)

	// Procedures
	AddProcedures(data []*types.Procedure) ([]string, types.Meta, error)
	GetProcedures(q ProcedureQuery) ([]*types.Procedure, types.Meta, error)
	UpdateProcedure(hashIndex string, updates map[string]interface{}) (int, error)

	// Completion write-back for results and procedures alike
	UpdateRecordData(ref types.RecordRef, payload json.RawMessage) error
	RecordStatus(ref types.RecordRef) (types.RecordStatus, error)

	// Task queue
	QueueSubmit(tasks []*types.Task) ([]string, types.Meta, error)
	QueueGetNext(limit int, tag string) ([]*types.Task, error)
	QueueGetByID(ids []string, limit int) ([]*types.Task, error)
	QueueMarkComplete(ids []string) (int, error)
	QueueMarkError(errs []types.TaskError) (int, error)
	QueueResetStatus(ids []string) (int, error)

	// Hooks
	HandleHooks(hooks []types.Hook) error

	// Services
	AddServices(docs []types.ServiceDocument) ([]string, types.Meta, error)
	GetServices(q ServiceQuery) ([]types.ServiceDocument, types.Meta, error)
	UpdateServices(docs []types.ServiceDocument) (int, error)
	DelServices(ids []string) (int, error)

	// Queue managers
	ManagerUpdate(name, cluster, tag string, counts types.ManagerCounts) (bool, error)
	GetManagers(names []string, modifiedAfter time.Time) ([]*types.Manager, types.Meta, error)

	// Users
	AddUser(username, password string, permissions []string) (bool, error)
	VerifyUser(username, password, permission string) (bool, string, error)
	RemoveUser(username string) (bool, error)

	// Utility
	Close() error
}
