package api

import (
	"encoding/json"
	"time"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// Operation constants for every wire operation.
const (
	OpInformation = "information"

	OpAddMolecules = "add_molecules"
	OpGetMolecules = "get_molecules"
	OpDelMolecules = "del_molecules"

	OpAddOptions = "add_options"
	OpGetOptions = "get_options"
	OpDelOptions = "del_options"

	OpAddCollection  = "add_collection"
	OpGetCollections = "get_collections"
	OpDelCollection  = "del_collection"

	OpAddResults     = "add_results"
	OpGetResults     = "get_results"
	OpGetResultsByID = "get_results_by_id"
	OpDelResults     = "del_results"

	OpAddProcedures   = "add_procedures"
	OpGetProcedures   = "get_procedures"
	OpUpdateProcedure = "update_procedure"

	OpAddServices    = "add_services"
	OpGetServices    = "get_services"
	OpUpdateServices = "update_services"
	OpDelServices    = "del_services"

	OpQueueSubmit       = "queue_submit"
	OpQueueGet          = "queue_get"
	OpQueueGetNext      = "queue_get_next"
	OpQueueMarkComplete = "queue_mark_complete"
	OpQueueMarkError    = "queue_mark_error"
	OpQueueResetStatus  = "queue_reset_status"

	OpHandleHooks  = "handle_hooks"
	OpUpdateRecord = "update_record"
	OpRecordStatus = "record_status"

	OpManagerUpdate = "manager_update"
	OpGetManagers   = "get_managers"
)

// opPermissions maps each operation to the permission it requires.
// Reads need read, data mutation needs write, task and service
// submission needs compute, and the manager-facing operations need
// queue. Admin implies all of them.
var opPermissions = map[string]string{
	OpInformation:    types.PermissionRead,
	OpGetMolecules:   types.PermissionRead,
	OpGetOptions:     types.PermissionRead,
	OpGetCollections: types.PermissionRead,
	OpGetResults:     types.PermissionRead,
	OpGetResultsByID: types.PermissionRead,
	OpGetProcedures:  types.PermissionRead,
	OpGetManagers:    types.PermissionRead,

	OpAddMolecules:    types.PermissionWrite,
	OpDelMolecules:    types.PermissionWrite,
	OpAddOptions:      types.PermissionWrite,
	OpDelOptions:      types.PermissionWrite,
	OpAddCollection:   types.PermissionWrite,
	OpDelCollection:   types.PermissionWrite,
	OpAddResults:      types.PermissionWrite,
	OpDelResults:      types.PermissionWrite,
	OpAddProcedures:   types.PermissionWrite,
	OpUpdateProcedure: types.PermissionWrite,

	OpQueueSubmit:      types.PermissionCompute,
	OpQueueGet:         types.PermissionCompute,
	OpQueueResetStatus: types.PermissionCompute,
	OpAddServices:      types.PermissionCompute,
	OpGetServices:      types.PermissionCompute,
	OpUpdateServices:   types.PermissionCompute,
	OpDelServices:      types.PermissionCompute,

	OpQueueGetNext:      types.PermissionQueue,
	OpQueueMarkComplete: types.PermissionQueue,
	OpQueueMarkError:    types.PermissionQueue,
	OpHandleHooks:       types.PermissionQueue,
	OpUpdateRecord:      types.PermissionQueue,
	OpRecordStatus:      types.PermissionQueue,
	OpManagerUpdate:     types.PermissionQueue,
}

// Request is one frame from client to server. Credentials ride on
// every request; the protocol has no sessions.
type Request struct {
	Operation string          `json:"operation"`
	Username  string          `json:"username,omitempty"`
	Password  string          `json:"password,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Response is one frame back. Meta always describes the outcome; Data
// carries the operation's payload when there is one.
type Response struct {
	Meta types.Meta      `json:"meta"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InformationData answers the information operation.
type InformationData struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	QueryLimit int    `json:"query_limit"`
}

// MoleculeAddArgs carries molecules keyed by caller-chosen labels. The
// response ids map uses the same labels.
type MoleculeAddArgs struct {
	Data map[string]*types.Molecule `json:"data"`
}

// MoleculeGetArgs selects molecules by id or by hash.
type MoleculeGetArgs struct {
	Index string   `json:"index"`
	Data  []string `json:"data"`
}

type OptionAddArgs struct {
	Data []*types.OptionSet `json:"data"`
}

type OptionGetArgs struct {
	Program string `json:"program"`
	Name    string `json:"name"`
	Limit   int    `json:"limit,omitempty"`
}

type CollectionAddArgs struct {
	Collection string                 `json:"collection"`
	Name       string                 `json:"name"`
	Data       map[string]interface{} `json:"data"`
	Overwrite  bool                   `json:"overwrite,omitempty"`
}

type CollectionGetArgs struct {
	Collection string `json:"collection"`
	Name       string `json:"name"`
	Limit      int    `json:"limit,omitempty"`
}

type ResultAddArgs struct {
	Data           []*types.Result `json:"data"`
	UpdateExisting bool            `json:"update_existing,omitempty"`
}

// ResultQueryArgs mirrors the store's result query. Empty filters
// match everything; status defaults to COMPLETE.
type ResultQueryArgs struct {
	Program    []string `json:"program,omitempty"`
	Driver     []string `json:"driver,omitempty"`
	Method     []string `json:"method,omitempty"`
	Basis      []string `json:"basis,omitempty"`
	Options    []string `json:"options,omitempty"`
	Molecule   []string `json:"molecule,omitempty"`
	Status     []string `json:"status,omitempty"`
	Projection []string `json:"projection,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Skip       int      `json:"skip,omitempty"`
}

type ResultByIDArgs struct {
	IDs        []string `json:"ids"`
	Projection []string `json:"projection,omitempty"`
}

type ProcedureAddArgs struct {
	Data []*types.Procedure `json:"data"`
}

type ProcedureQueryArgs struct {
	ID        []string `json:"id,omitempty"`
	Procedure []string `json:"procedure,omitempty"`
	Program   []string `json:"program,omitempty"`
	HashIndex []string `json:"hash_index,omitempty"`
	Status    []string `json:"status,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Skip      int      `json:"skip,omitempty"`
}

type ProcedureUpdateArgs struct {
	HashIndex string                 `json:"hash_index"`
	Updates   map[string]interface{} `json:"updates"`
}

type ServiceAddArgs struct {
	Data []types.ServiceDocument `json:"data"`
}

type ServiceQueryArgs struct {
	ID        []string `json:"id,omitempty"`
	HashIndex []string `json:"hash_index,omitempty"`
	Status    []string `json:"status,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Skip      int      `json:"skip,omitempty"`
}

type ServiceUpdateArgs struct {
	Data []types.ServiceDocument `json:"data"`
}

type QueueSubmitArgs struct {
	Data []*types.Task `json:"data"`
}

type QueueGetArgs struct {
	IDs   []string `json:"ids"`
	Limit int      `json:"limit,omitempty"`
}

type QueueNextArgs struct {
	Limit int    `json:"limit,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type QueueErrorArgs struct {
	Data []types.TaskError `json:"data"`
}

type HookArgs struct {
	Data []types.Hook `json:"data"`
}

type RecordUpdateArgs struct {
	Ref     types.RecordRef `json:"ref"`
	Payload json.RawMessage `json:"payload"`
}

type RecordStatusArgs struct {
	Ref types.RecordRef `json:"ref"`
}

type RecordStatusData struct {
	Status types.RecordStatus `json:"status"`
}

type ManagerUpdateArgs struct {
	Name    string              `json:"name"`
	Cluster string              `json:"cluster,omitempty"`
	Tag     string              `json:"tag,omitempty"`
	Counts  types.ManagerCounts `json:"counts"`
}

type ManagerUpdateData struct {
	Existed bool `json:"existed"`
}

type ManagerGetArgs struct {
	Names         []string  `json:"names,omitempty"`
	ModifiedAfter time.Time `json:"modified_after,omitempty"`
}

// IDListArgs is the shared shape of operations addressing records by
// id.
type IDListArgs struct {
	IDs []string `json:"ids"`
}

// CountData reports how many documents an operation touched.
type CountData struct {
	N int `json:"n"`
}

// errorResponse wraps a fatal failure into a bare envelope.
func errorResponse(description string) *Response {
	meta := types.NewMeta()
	meta.Fail(description)
	return &Response{Meta: meta}
}

// dataResponse pairs an envelope with a marshaled payload.
func dataResponse(meta types.Meta, v interface{}) *Response {
	if v == nil {
		return &Response{Meta: meta}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse("encode response: " + err.Error())
	}
	return &Response{Meta: meta, Data: data}
}

// okResponse is a bare success envelope.
func okResponse() *Response {
	meta := types.NewMeta()
	meta.Success = true
	return &Response{Meta: meta}
}
