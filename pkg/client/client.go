package client

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChayaSt/QCFractal/pkg/api"
	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

const (
	defaultAddress = "localhost:7777"
	defaultTimeout = 30 * time.Second
)

// Config parameterizes a FractalClient.
type Config struct {
	// Address of the server, host:port. Defaults to localhost:7777.
	Address string

	// Username and Password ride on every request; the protocol has no
	// sessions. Leave empty against a server running with security
	// bypassed.
	Username string
	Password string

	// TLS dials the server over TLS. TLSInsecure additionally skips
	// certificate verification, for servers on self-signed pairs.
	TLS         bool
	TLSInsecure bool

	// Timeout bounds each request round trip. Defaults to 30s.
	Timeout time.Duration
}

// FractalClient speaks the wire protocol to a running server. Calls
// serialize on an internal lock, so one client is safe to share across
// goroutines. The connection dials lazily and redials after transport
// errors, so a client outlives server restarts.
type FractalClient struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	serverName string
	queryLimit int
}

// NewFractalClient builds a client and performs the information
// handshake, verifying the server is reachable and the credentials
// hold the read permission.
func NewFractalClient(cfg Config) (*FractalClient, error) {
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &FractalClient{
		cfg:    cfg,
		logger: log.WithComponent("client"),
	}
	info, err := c.Information()
	if err != nil {
		// A failed envelope leaves the connection dialed; hang up
		// rather than leak it, the client is being discarded.
		c.Close()
		return nil, fmt.Errorf("server handshake failed: %w", err)
	}
	c.serverName = info.Name
	c.queryLimit = info.QueryLimit

	c.logger.Debug().
		Str("address", cfg.Address).
		Str("server", info.Name).
		Str("version", info.Version).
		Msg("Connected to server")
	return c, nil
}

// ServerName reports the name the server announced at handshake.
func (c *FractalClient) ServerName() string {
	return c.serverName
}

// QueryLimit reports the server's per-query document clamp.
func (c *FractalClient) QueryLimit() int {
	return c.queryLimit
}

// Close closes the connection. The client stays usable; the next call
// redials.
func (c *FractalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *FractalClient) dial() error {
	d := net.Dialer{Timeout: c.cfg.Timeout}
	var conn net.Conn
	var err error
	if c.cfg.TLS {
		conn, err = tls.DialWithDialer(&d, "tcp", c.cfg.Address, &tls.Config{
			InsecureSkipVerify: c.cfg.TLSInsecure,
			MinVersion:         tls.VersionTLS12,
		})
	} else {
		conn, err = d.Dial("tcp", c.cfg.Address)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.Address, err)
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 64*1024)
	return nil
}

// drop discards a connection whose framing can no longer be trusted.
func (c *FractalClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// call sends one request frame and decodes the response data into out
// when out is non-nil. A response with a failed envelope comes back as
// an error alongside the envelope itself.
func (c *FractalClient) call(op string, args, out interface{}) (types.Meta, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return types.Meta{}, fmt.Errorf("marshal args for %s: %w", op, err)
		}
		raw = data
	}
	frame, err := json.Marshal(&api.Request{
		Operation: op,
		Username:  c.cfg.Username,
		Password:  c.cfg.Password,
		Args:      raw,
	})
	if err != nil {
		return types.Meta{}, fmt.Errorf("marshal request for %s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dial(); err != nil {
			return types.Meta{}, err
		}
	}
	if c.cfg.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return types.Meta{}, fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := c.conn.Write(append(frame, '\n')); err != nil {
		c.drop()
		return types.Meta{}, fmt.Errorf("write %s request: %w", op, err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.drop()
		return types.Meta{}, fmt.Errorf("read %s response: %w", op, err)
	}

	var resp api.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.drop()
		return types.Meta{}, fmt.Errorf("decode %s response: %w", op, err)
	}
	if !resp.Meta.Success {
		return resp.Meta, fmt.Errorf("%s: %s", op, resp.Meta.ErrorDescription)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return resp.Meta, fmt.Errorf("decode %s data: %w", op, err)
		}
	}
	return resp.Meta, nil
}

// Information fetches the server's identity and query limit.
func (c *FractalClient) Information() (*api.InformationData, error) {
	var info api.InformationData
	if _, err := c.call(api.OpInformation, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AddMolecules stores molecules keyed by caller-chosen labels and
// returns server ids under the same labels. Duplicates resolve to the
// stored row's id.
func (c *FractalClient) AddMolecules(mols map[string]*types.Molecule) (map[string]string, types.Meta, error) {
	ids := map[string]string{}
	meta, err := c.call(api.OpAddMolecules, api.MoleculeAddArgs{Data: mols}, &ids)
	return ids, meta, err
}

// GetMolecules fetches molecules by "id" or by "hash".
func (c *FractalClient) GetMolecules(ids []string, index string) ([]*types.Molecule, types.Meta, error) {
	var mols []*types.Molecule
	meta, err := c.call(api.OpGetMolecules, api.MoleculeGetArgs{Index: index, Data: ids}, &mols)
	return mols, meta, err
}

// DelMolecules deletes molecules by id or hash and reports how many
// went away.
func (c *FractalClient) DelMolecules(ids []string, index string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpDelMolecules, api.MoleculeGetArgs{Index: index, Data: ids}, &count)
	return count.N, err
}

// AddOptions stores option sets, deduplicating on (program, name).
func (c *FractalClient) AddOptions(options []*types.OptionSet) ([]string, types.Meta, error) {
	var ids []string
	meta, err := c.call(api.OpAddOptions, api.OptionAddArgs{Data: options}, &ids)
	return ids, meta, err
}

// GetOptions queries option sets by program and name. Empty filters
// match everything.
func (c *FractalClient) GetOptions(program, name string, limit int) ([]*types.OptionSet, types.Meta, error) {
	var options []*types.OptionSet
	meta, err := c.call(api.OpGetOptions, api.OptionGetArgs{Program: program, Name: name, Limit: limit}, &options)
	return options, meta, err
}

// DelOption deletes one option set by its natural key.
func (c *FractalClient) DelOption(program, name string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpDelOptions, api.OptionGetArgs{Program: program, Name: name}, &count)
	return count.N, err
}

// AddCollection stores or, with overwrite, merges a collection.
func (c *FractalClient) AddCollection(collection, name string, data map[string]interface{}, overwrite bool) (string, types.Meta, error) {
	var id string
	meta, err := c.call(api.OpAddCollection, api.CollectionAddArgs{
		Collection: collection,
		Name:       name,
		Data:       data,
		Overwrite:  overwrite,
	}, &id)
	return id, meta, err
}

// GetCollections queries collections by type and name.
func (c *FractalClient) GetCollections(collection, name string, limit int) ([]*types.Collection, types.Meta, error) {
	var collections []*types.Collection
	meta, err := c.call(api.OpGetCollections, api.CollectionGetArgs{Collection: collection, Name: name, Limit: limit}, &collections)
	return collections, meta, err
}

// DelCollection deletes one collection by its natural key.
func (c *FractalClient) DelCollection(collection, name string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpDelCollection, api.CollectionGetArgs{Collection: collection, Name: name}, &count)
	return count.N, err
}

// AddResults stores result records, deduplicating on the six-field
// natural key. With updateExisting set, an existing row is refreshed
// in place.
func (c *FractalClient) AddResults(results []*types.Result, updateExisting bool) ([]string, types.Meta, error) {
	var ids []string
	meta, err := c.call(api.OpAddResults, api.ResultAddArgs{Data: results, UpdateExisting: updateExisting}, &ids)
	return ids, meta, err
}

// GetResults queries results by any combination of natural-key fields.
func (c *FractalClient) GetResults(q api.ResultQueryArgs) ([]*types.Result, types.Meta, error) {
	var results []*types.Result
	meta, err := c.call(api.OpGetResults, q, &results)
	return results, meta, err
}

// GetResultsByID fetches results by id, optionally projected to a
// field subset.
func (c *FractalClient) GetResultsByID(ids, projection []string) ([]*types.Result, types.Meta, error) {
	var results []*types.Result
	meta, err := c.call(api.OpGetResultsByID, api.ResultByIDArgs{IDs: ids, Projection: projection}, &results)
	return results, meta, err
}

// DelResults deletes results by id.
func (c *FractalClient) DelResults(ids []string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpDelResults, api.IDListArgs{IDs: ids}, &count)
	return count.N, err
}

// AddProcedures stores procedure records, deduplicating on hash_index.
func (c *FractalClient) AddProcedures(procs []*types.Procedure) ([]string, types.Meta, error) {
	var ids []string
	meta, err := c.call(api.OpAddProcedures, api.ProcedureAddArgs{Data: procs}, &ids)
	return ids, meta, err
}

// GetProcedures queries procedures by id, type, program, hash_index,
// or status.
func (c *FractalClient) GetProcedures(q api.ProcedureQueryArgs) ([]*types.Procedure, types.Meta, error) {
	var procs []*types.Procedure
	meta, err := c.call(api.OpGetProcedures, q, &procs)
	return procs, meta, err
}

// UpdateProcedure merges fields into the procedure with the given
// hash_index.
func (c *FractalClient) UpdateProcedure(hashIndex string, updates map[string]interface{}) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpUpdateProcedure, api.ProcedureUpdateArgs{HashIndex: hashIndex, Updates: updates}, &count)
	return count.N, err
}

// AddServices enqueues service documents, deduplicating on hash_index.
func (c *FractalClient) AddServices(docs []types.ServiceDocument) ([]string, types.Meta, error) {
	var ids []string
	meta, err := c.call(api.OpAddServices, api.ServiceAddArgs{Data: docs}, &ids)
	return ids, meta, err
}

// GetServices queries service documents.
func (c *FractalClient) GetServices(q api.ServiceQueryArgs) ([]types.ServiceDocument, types.Meta, error) {
	var docs []types.ServiceDocument
	meta, err := c.call(api.OpGetServices, q, &docs)
	return docs, meta, err
}

// UpdateServices writes service documents back whole, keyed by id.
func (c *FractalClient) UpdateServices(docs []types.ServiceDocument) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpUpdateServices, api.ServiceUpdateArgs{Data: docs}, &count)
	return count.N, err
}

// DelServices deletes service documents by id.
func (c *FractalClient) DelServices(ids []string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpDelServices, api.IDListArgs{IDs: ids}, &count)
	return count.N, err
}

// QueueSubmit enqueues compute tasks. Resubmitting a task for a record
// that already has one reports a duplicate and merges hooks.
func (c *FractalClient) QueueSubmit(tasks []*types.Task) ([]string, types.Meta, error) {
	var ids []string
	meta, err := c.call(api.OpQueueSubmit, api.QueueSubmitArgs{Data: tasks}, &ids)
	return ids, meta, err
}

// QueueGetByID fetches tasks by id regardless of status.
func (c *FractalClient) QueueGetByID(ids []string, limit int) ([]*types.Task, error) {
	var tasks []*types.Task
	_, err := c.call(api.OpQueueGet, api.QueueGetArgs{IDs: ids, Limit: limit}, &tasks)
	return tasks, err
}

// QueueGetNext leases up to limit waiting tasks, flipping them to
// RUNNING. A nonempty tag leases only matching tasks.
func (c *FractalClient) QueueGetNext(limit int, tag string) ([]*types.Task, error) {
	var tasks []*types.Task
	_, err := c.call(api.OpQueueGetNext, api.QueueNextArgs{Limit: limit, Tag: tag}, &tasks)
	return tasks, err
}

// QueueMarkComplete finishes tasks and reports how many actually
// flipped.
func (c *FractalClient) QueueMarkComplete(ids []string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpQueueMarkComplete, api.IDListArgs{IDs: ids}, &count)
	return count.N, err
}

// QueueMarkError marks tasks failed with their messages.
func (c *FractalClient) QueueMarkError(errors []types.TaskError) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpQueueMarkError, api.QueueErrorArgs{Data: errors}, &count)
	return count.N, err
}

// QueueResetStatus returns RUNNING or ERROR tasks to WAITING.
func (c *FractalClient) QueueResetStatus(ids []string) (int, error) {
	var count api.CountData
	_, err := c.call(api.OpQueueResetStatus, api.IDListArgs{IDs: ids}, &count)
	return count.N, err
}

// HandleHooks applies post-completion document updates.
func (c *FractalClient) HandleHooks(hooks []types.Hook) error {
	_, err := c.call(api.OpHandleHooks, api.HookArgs{Data: hooks}, nil)
	return err
}

// UpdateRecordData merges a finished compute payload into the record a
// task points at.
func (c *FractalClient) UpdateRecordData(ref types.RecordRef, payload json.RawMessage) error {
	_, err := c.call(api.OpUpdateRecord, api.RecordUpdateArgs{Ref: ref, Payload: payload}, nil)
	return err
}

// RecordStatus reports the lifecycle status of a Result or Procedure.
func (c *FractalClient) RecordStatus(ref types.RecordRef) (types.RecordStatus, error) {
	var data api.RecordStatusData
	_, err := c.call(api.OpRecordStatus, api.RecordStatusArgs{Ref: ref}, &data)
	return data.Status, err
}

// ManagerUpdate upserts a manager heartbeat, adding counter deltas.
// Reports whether the manager was already known.
func (c *FractalClient) ManagerUpdate(name, cluster, tag string, counts types.ManagerCounts) (bool, error) {
	var data api.ManagerUpdateData
	_, err := c.call(api.OpManagerUpdate, api.ManagerUpdateArgs{
		Name:    name,
		Cluster: cluster,
		Tag:     tag,
		Counts:  counts,
	}, &data)
	return data.Existed, err
}

// GetManagers lists manager heartbeat records, optionally filtered by
// name and modification cutoff.
func (c *FractalClient) GetManagers(names []string, modifiedAfter time.Time) ([]*types.Manager, types.Meta, error) {
	var managers []*types.Manager
	meta, err := c.call(api.OpGetManagers, api.ManagerGetArgs{Names: names, ModifiedAfter: modifiedAfter}, &managers)
	return managers, meta, err
}
