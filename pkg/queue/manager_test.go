package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// fakeClient serves a scripted task queue and records every write the
// manager makes against it.
type fakeClient struct {
	mu sync.Mutex

	queue    []*types.Task
	statuses map[string]types.RecordStatus

	completed []string
	errored   []types.TaskError
	reset     []string
	written   map[string]json.RawMessage
	hooks     []types.Hook

	heartbeats []types.ManagerCounts
	updateErr  error
}

func newFakeClient(tasks ...*types.Task) *fakeClient {
	return &fakeClient{
		queue:    tasks,
		statuses: make(map[string]types.RecordStatus),
		written:  make(map[string]json.RawMessage),
	}
}

func (c *fakeClient) QueueGetNext(limit int, tag string) ([]*types.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := limit
	if n > len(c.queue) {
		n = len(c.queue)
	}
	out := c.queue[:n]
	c.queue = c.queue[n:]
	return out, nil
}

func (c *fakeClient) QueueGetByID(ids []string, limit int) ([]*types.Task, error) {
	return nil, nil
}

func (c *fakeClient) QueueMarkComplete(ids []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, ids...)
	return len(ids), nil
}

func (c *fakeClient) QueueMarkError(errs []types.TaskError) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errored = append(c.errored, errs...)
	return len(errs), nil
}

func (c *fakeClient) QueueResetStatus(ids []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset = append(c.reset, ids...)
	return len(ids), nil
}

func (c *fakeClient) UpdateRecordData(ref types.RecordRef, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written[ref.ID] = payload
	return nil
}

func (c *fakeClient) RecordStatus(ref types.RecordRef) (types.RecordStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status, ok := c.statuses[ref.ID]; ok {
		return status, nil
	}
	return types.RecordStatusIncomplete, nil
}

func (c *fakeClient) HandleHooks(hooks []types.Hook) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hooks...)
	return nil
}

func (c *fakeClient) ManagerUpdate(name, cluster, tag string, counts types.ManagerCounts) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return false, c.updateErr
	}
	c.heartbeats = append(c.heartbeats, counts)
	return true, nil
}

// fakeAdapter accepts submissions and serves scripted outcomes. With
// autoComplete set every submission succeeds immediately.
type fakeAdapter struct {
	mu sync.Mutex

	submitted    map[string]json.RawMessage
	outcomes     []Outcome
	submitErr    error
	autoComplete bool
	closed       bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{submitted: make(map[string]json.RawMessage)}
}

func (a *fakeAdapter) Submit(id string, spec json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitErr != nil {
		return a.submitErr
	}
	a.submitted[id] = spec
	if a.autoComplete {
		a.outcomes = append(a.outcomes, Outcome{
			TaskID:  id,
			Success: true,
			Payload: json.RawMessage(`{"properties":{"scf_total_energy":-76.02}}`),
		})
	}
	return nil
}

func (a *fakeAdapter) Poll() ([]Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.outcomes
	a.outcomes = nil
	return out, nil
}

func (a *fakeAdapter) Cancel(ids []string) error { return nil }

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func testTask(id, recordID string, hooks ...types.Hook) *types.Task {
	return &types.Task{
		ID:         id,
		Spec:       json.RawMessage(`{"program":"psi4"}`),
		Hooks:      hooks,
		BaseResult: types.RecordRef{Kind: types.RecordKindResults, ID: recordID},
		Status:     types.TaskStatusWaiting,
	}
}

func TestManagerName(t *testing.T) {
	m := NewManager(newFakeClient(), newFakeAdapter(), ManagerConfig{Cluster: "slurm"})

	require.NotEmpty(t, m.Name())
	assert.True(t, strings.HasPrefix(m.Name(), "slurm-"), "name %q should embed the cluster", m.Name())

	// Without a cluster the original default applies.
	m = NewManager(newFakeClient(), newFakeAdapter(), ManagerConfig{})
	assert.True(t, strings.HasPrefix(m.Name(), "unknown-"), "name %q should embed the default cluster", m.Name())
}

func TestManagerLeaseAndHarvest(t *testing.T) {
	hook := types.Hook{
		Document: types.DocumentRef{Collection: types.CollectionServiceQueue, ID: "svc-1"},
		Updates:  []types.FieldUpdate{{Op: types.UpdateInc, Field: "iteration", Value: 1}},
	}
	client := newFakeClient(
		testTask("t1", "r1", hook),
		testTask("t2", "r2"),
	)
	adapter := newFakeAdapter()
	m := NewManager(client, adapter, ManagerConfig{Cluster: "test", MaxTasks: 10})

	// First cycle leases both tasks into the adapter.
	require.NoError(t, m.Update())
	assert.Len(t, adapter.submitted, 2)
	require.Len(t, client.heartbeats, 1)
	assert.Equal(t, types.ManagerCounts{Submitted: 2}, client.heartbeats[0])

	// One success, one failure comes back.
	adapter.mu.Lock()
	adapter.outcomes = []Outcome{
		{TaskID: "t1", Success: true, Payload: json.RawMessage(`{"properties":{"scf_total_energy":-76.02}}`)},
		{TaskID: "t2", Error: "scf did not converge"},
	}
	adapter.mu.Unlock()

	require.NoError(t, m.Update())

	assert.Equal(t, []string{"t1"}, client.completed)
	assert.JSONEq(t, `{"properties":{"scf_total_energy":-76.02}}`, string(client.written["r1"]))
	require.Len(t, client.errored, 1)
	assert.Equal(t, "t2", client.errored[0].ID)
	assert.Equal(t, "scf did not converge", client.errored[0].Message)

	// The success fired its deferred hook.
	require.Len(t, client.hooks, 1)
	assert.Equal(t, "svc-1", client.hooks[0].Document.ID)

	require.Len(t, client.heartbeats, 2)
	assert.Equal(t, types.ManagerCounts{Completed: 2, Returned: 1, Failures: 1}, client.heartbeats[1])
}

func TestManagerAcknowledgesCompleteRecords(t *testing.T) {
	hook := types.Hook{
		Document: types.DocumentRef{Collection: types.CollectionServiceQueue, ID: "svc-1"},
		Updates:  []types.FieldUpdate{{Op: types.UpdateSet, Field: "status", Value: "COMPLETE"}},
	}
	client := newFakeClient(testTask("t1", "r1", hook))
	client.statuses["r1"] = types.RecordStatusComplete

	adapter := newFakeAdapter()
	m := NewManager(client, adapter, ManagerConfig{Cluster: "test"})

	require.NoError(t, m.Update())

	// The task never reaches the adapter but is acknowledged and its
	// hooks still fire.
	assert.Empty(t, adapter.submitted)
	assert.Equal(t, []string{"t1"}, client.completed)
	require.Len(t, client.hooks, 1)
	assert.Equal(t, "svc-1", client.hooks[0].Document.ID)
}

func TestManagerAdapterRefusal(t *testing.T) {
	client := newFakeClient(testTask("t1", "r1"))
	adapter := newFakeAdapter()
	adapter.submitErr = errors.New("no such program: psi4")

	m := NewManager(client, adapter, ManagerConfig{Cluster: "test"})
	require.NoError(t, m.Update())

	require.Len(t, client.errored, 1)
	assert.Equal(t, "t1", client.errored[0].ID)
	assert.Contains(t, client.errored[0].Message, "no such program")
	require.Len(t, client.heartbeats, 1)
	assert.Equal(t, types.ManagerCounts{Failures: 1}, client.heartbeats[0])
}

func TestManagerHeartbeatRetainsCounts(t *testing.T) {
	client := newFakeClient(testTask("t1", "r1"))
	client.updateErr = errors.New("connection refused")

	adapter := newFakeAdapter()
	m := NewManager(client, adapter, ManagerConfig{Cluster: "test"})

	// The lease succeeds but the heartbeat cannot be delivered.
	err := m.Update()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manager update")

	// Once the server is back the counts from the failed cycle arrive
	// with the next heartbeat.
	client.mu.Lock()
	client.updateErr = nil
	client.mu.Unlock()

	require.NoError(t, m.Update())
	require.Len(t, client.heartbeats, 1)
	assert.Equal(t, 1, client.heartbeats[0].Submitted)
}

func TestManagerStopReturnsUnfinishedTasks(t *testing.T) {
	client := newFakeClient(testTask("t1", "r1"), testTask("t2", "r2"))
	adapter := newFakeAdapter()
	m := NewManager(client, adapter, ManagerConfig{Cluster: "test"})

	require.NoError(t, m.Update())
	require.Len(t, adapter.submitted, 2)

	var order []string
	m.AddExitCallback(func() { order = append(order, "first") })
	m.AddExitCallback(func() { panic("callback exploded") })
	m.AddExitCallback(func() { order = append(order, "last") })

	m.Stop()

	assert.True(t, adapter.closed)
	assert.ElementsMatch(t, []string{"t1", "t2"}, client.reset)

	// The final heartbeat carries the returned tasks.
	last := client.heartbeats[len(client.heartbeats)-1]
	assert.Equal(t, 2, last.Returned)

	// Callbacks ran in reverse order and the panic did not stop them.
	assert.Equal(t, []string{"last", "first"}, order)
}

func TestManagerStopTwice(t *testing.T) {
	m := NewManager(newFakeClient(), newFakeAdapter(), ManagerConfig{Cluster: "test"})

	m.Stop()
	assert.NotPanics(t, func() { m.Stop() })
}

// TestManagerBackoffRestartsAfterExhaustion pins the retry wait: once
// the exponential policy exhausts its elapsed budget it answers with
// its Stop sentinel, which must not collapse the wait to zero.
func TestManagerBackoffRestartsAfterExhaustion(t *testing.T) {
	m := NewManager(newFakeClient(), newFakeAdapter(), ManagerConfig{Cluster: "test"})

	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = time.Nanosecond
	m.boff = boff
	time.Sleep(time.Millisecond)
	require.Equal(t, backoff.Stop, boff.NextBackOff())

	wait := m.nextWait()
	assert.NotEqual(t, backoff.Stop, wait)
	assert.Greater(t, wait, time.Duration(0))
}

func TestManagerAwaitResults(t *testing.T) {
	client := newFakeClient(testTask("t1", "r1"))
	adapter := newFakeAdapter()
	adapter.autoComplete = true

	m := NewManager(client, adapter, ManagerConfig{Cluster: "test"})
	require.NoError(t, m.AwaitResults())

	assert.Equal(t, []string{"t1"}, client.completed)
	assert.JSONEq(t, `{"properties":{"scf_total_energy":-76.02}}`, string(client.written["r1"]))
}

func TestManagerRespectsMaxTasks(t *testing.T) {
	client := newFakeClient(
		testTask("t1", "r1"),
		testTask("t2", "r2"),
		testTask("t3", "r3"),
	)
	adapter := newFakeAdapter()
	m := NewManager(client, adapter, ManagerConfig{Cluster: "test", MaxTasks: 2})

	require.NoError(t, m.Update())
	assert.Len(t, adapter.submitted, 2)

	// Capacity only frees up once an outcome comes back.
	require.NoError(t, m.Update())
	assert.Len(t, adapter.submitted, 2)

	adapter.mu.Lock()
	adapter.outcomes = []Outcome{{TaskID: "t1", Success: true, Payload: json.RawMessage(`{}`)}}
	adapter.mu.Unlock()

	require.NoError(t, m.Update())
	assert.Len(t, adapter.submitted, 3)
}
