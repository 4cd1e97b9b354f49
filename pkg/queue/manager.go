package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/metrics"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

const defaultUpdateFrequency = 15 * time.Second

// Client is the store surface a manager consumes. The embedded socket
// satisfies it directly; the remote client satisfies it over the wire.
// A manager never knows which one it has.
type Client interface {
	QueueGetNext(limit int, tag string) ([]*types.Task, error)
	QueueGetByID(ids []string, limit int) ([]*types.Task, error)
	QueueMarkComplete(ids []string) (int, error)
	QueueMarkError(errors []types.TaskError) (int, error)
	QueueResetStatus(ids []string) (int, error)
	UpdateRecordData(ref types.RecordRef, payload json.RawMessage) error
	RecordStatus(ref types.RecordRef) (types.RecordStatus, error)
	HandleHooks(hooks []types.Hook) error
	ManagerUpdate(name, cluster, tag string, counts types.ManagerCounts) (bool, error)
}

// ManagerConfig parameterizes a queue manager.
type ManagerConfig struct {
	Cluster         string
	Tag             string
	MaxTasks        int
	UpdateFrequency time.Duration
}

// Manager pumps tasks between a server and a compute backend: lease
// waiting tasks, hand them to the adapter, harvest outcomes, write
// results back, and heartbeat counter deltas.
type Manager struct {
	client  Client
	adapter Adapter

	name    string
	cluster string
	tag     string

	maxTasks  int
	frequency time.Duration

	logger zerolog.Logger
	boff   backoff.BackOff

	mu     sync.Mutex
	active map[string]types.RecordRef
	hooks  map[string][]types.Hook
	counts types.ManagerCounts

	exitCallbacks []func()

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager wires a client to an adapter. The manager name embeds the
// cluster, the hostname, and a random suffix so heartbeats from
// different processes never collide.
func NewManager(client Client, adapter Adapter, cfg ManagerConfig) *Manager {
	cluster := cfg.Cluster
	if cluster == "" {
		cluster = "unknown"
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	name := fmt.Sprintf("%s-%s-%s", cluster, hostname, uuid.New().String()[:8])

	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 1000
	}
	frequency := cfg.UpdateFrequency
	if frequency <= 0 {
		frequency = defaultUpdateFrequency
	}

	return &Manager{
		client:    client,
		adapter:   adapter,
		name:      name,
		cluster:   cluster,
		tag:       cfg.Tag,
		maxTasks:  maxTasks,
		frequency: frequency,
		logger:    log.WithManager(name),
		boff:      backoff.NewExponentialBackOff(),
		active:    make(map[string]types.RecordRef),
		hooks:     make(map[string][]types.Hook),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Name returns the generated manager name.
func (m *Manager) Name() string {
	return m.name
}

// AddExitCallback registers a cleanup function. Callbacks run in
// reverse registration order during Stop, each guarded against panics.
func (m *Manager) AddExitCallback(fn func()) {
	m.exitCallbacks = append(m.exitCallbacks, fn)
}

// Start begins the update loop.
func (m *Manager) Start() {
	m.started = true
	m.logger.Info().
		Str("cluster", m.cluster).
		Str("tag", m.tag).
		Int("max_tasks", m.maxTasks).
		Dur("update_frequency", m.frequency).
		Msg("Queue manager starting")
	go m.run()
}

func (m *Manager) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Update(); err != nil {
				metrics.HeartbeatFailures.Inc()
				wait := m.nextWait()
				m.logger.Error().Err(err).Dur("retry_in", wait).Msg("Update cycle failed")
				select {
				case <-time.After(wait):
				case <-m.stopCh:
					return
				}
				continue
			}
			m.boff.Reset()
		case <-m.stopCh:
			return
		}
	}
}

// nextWait asks the backoff policy how long to hold off after a failed
// cycle. Once the policy's elapsed budget runs out NextBackOff returns
// the Stop sentinel, which time.After would treat as zero; reset the
// policy and start the schedule over instead.
func (m *Manager) nextWait() time.Duration {
	wait := m.boff.NextBackOff()
	if wait == backoff.Stop {
		m.boff.Reset()
		wait = m.boff.NextBackOff()
	}
	return wait
}

// Stop shuts the manager down: stop the loop, return unfinished tasks
// to the queue, heartbeat the final counters, run exit callbacks, and
// close the adapter. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(m.stop)
}

func (m *Manager) stop() {
	close(m.stopCh)
	if m.started {
		<-m.doneCh
	}

	if err := m.adapter.Close(); err != nil {
		m.logger.Error().Err(err).Msg("Failed to close adapter")
	}

	m.mu.Lock()
	var unfinished []string
	for id := range m.active {
		unfinished = append(unfinished, id)
	}
	m.active = make(map[string]types.RecordRef)
	m.hooks = make(map[string][]types.Hook)
	m.mu.Unlock()

	if len(unfinished) > 0 {
		n, err := m.client.QueueResetStatus(unfinished)
		if err != nil {
			m.logger.Error().Err(err).Int("tasks", len(unfinished)).Msg("Failed to return unfinished tasks")
		} else {
			m.logger.Info().Int("tasks", n).Msg("Returned unfinished tasks to the queue")
			m.addCounts(types.ManagerCounts{Returned: n})
		}
	}

	if err := m.heartbeat(); err != nil {
		m.logger.Error().Err(err).Msg("Final heartbeat failed")
	}

	m.runExitCallbacks()
	m.logger.Info().Msg("Queue manager stopped")
}

func (m *Manager) runExitCallbacks() {
	for i := len(m.exitCallbacks) - 1; i >= 0; i-- {
		func(fn func()) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Msg("Exit callback panicked")
				}
			}()
			fn()
		}(m.exitCallbacks[i])
	}
}

// Update runs one manager cycle: harvest finished outcomes, lease new
// tasks up to capacity, and heartbeat the counter deltas.
func (m *Manager) Update() error {
	if err := m.harvest(); err != nil {
		return err
	}
	if err := m.lease(); err != nil {
		return err
	}
	return m.heartbeat()
}

// AwaitResults drives update cycles until every task this manager holds
// has finished and the queue has nothing left to lease. Used for
// one-shot runs instead of Start.
func (m *Manager) AwaitResults() error {
	for {
		if err := m.Update(); err != nil {
			return err
		}
		m.mu.Lock()
		n := len(m.active)
		m.mu.Unlock()
		if n == 0 {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// harvest drains adapter outcomes and writes them back: record data
// plus task completion plus deferred hooks for successes, task errors
// for failures.
func (m *Manager) harvest() error {
	outcomes, err := m.adapter.Poll()
	if err != nil {
		return fmt.Errorf("adapter poll: %w", err)
	}
	if len(outcomes) == 0 {
		return nil
	}

	var fired []types.Hook
	for _, o := range outcomes {
		m.mu.Lock()
		ref, ok := m.active[o.TaskID]
		taskHooks := m.hooks[o.TaskID]
		delete(m.active, o.TaskID)
		delete(m.hooks, o.TaskID)
		m.mu.Unlock()

		if !ok {
			m.logger.Warn().Str("task_id", o.TaskID).Msg("Outcome for unknown task")
			continue
		}

		if !o.Success {
			m.addCounts(types.ManagerCounts{Completed: 1, Failures: 1})
			metrics.TasksFailed.Inc()
			m.logger.Warn().Str("task_id", o.TaskID).Str("error", o.Error).Msg("Task failed")
			if _, err := m.client.QueueMarkError([]types.TaskError{{ID: o.TaskID, Message: o.Error}}); err != nil {
				return fmt.Errorf("mark error: %w", err)
			}
			continue
		}

		if err := m.client.UpdateRecordData(ref, o.Payload); err != nil {
			return fmt.Errorf("record write-back for task %s: %w", o.TaskID, err)
		}
		if _, err := m.client.QueueMarkComplete([]string{o.TaskID}); err != nil {
			return fmt.Errorf("mark complete: %w", err)
		}
		fired = append(fired, taskHooks...)
		m.addCounts(types.ManagerCounts{Completed: 1, Returned: 1})
		metrics.TasksCompleted.Inc()
		m.logger.Debug().Str("task_id", o.TaskID).Msg("Task completed")
	}

	if len(fired) > 0 {
		if err := m.client.HandleHooks(fired); err != nil {
			return fmt.Errorf("handle hooks: %w", err)
		}
	}
	return nil
}

// lease tops the adapter up to max_tasks. A task whose base record is
// already complete is acknowledged without recomputing it.
func (m *Manager) lease() error {
	m.mu.Lock()
	capacity := m.maxTasks - len(m.active)
	m.mu.Unlock()
	if capacity <= 0 {
		return nil
	}

	tasks, err := m.client.QueueGetNext(capacity, m.tag)
	if err != nil {
		return fmt.Errorf("queue get next: %w", err)
	}

	for _, t := range tasks {
		status, err := m.client.RecordStatus(t.BaseResult)
		if err == nil && status == types.RecordStatusComplete {
			m.logger.Info().Str("task_id", t.ID).Msg("Base record already complete, acknowledging")
			if _, err := m.client.QueueMarkComplete([]string{t.ID}); err != nil {
				return fmt.Errorf("mark complete: %w", err)
			}
			if len(t.Hooks) > 0 {
				if err := m.client.HandleHooks(t.Hooks); err != nil {
					return fmt.Errorf("handle hooks: %w", err)
				}
			}
			continue
		}

		if err := m.adapter.Submit(t.ID, t.Spec); err != nil {
			m.logger.Error().Err(err).Str("task_id", t.ID).Msg("Adapter refused task")
			if _, markErr := m.client.QueueMarkError([]types.TaskError{{ID: t.ID, Message: err.Error()}}); markErr != nil {
				return fmt.Errorf("mark error: %w", markErr)
			}
			m.addCounts(types.ManagerCounts{Failures: 1})
			continue
		}

		m.mu.Lock()
		m.active[t.ID] = t.BaseResult
		if len(t.Hooks) > 0 {
			m.hooks[t.ID] = t.Hooks
		}
		m.mu.Unlock()
		m.addCounts(types.ManagerCounts{Submitted: 1})
		metrics.TasksSubmitted.Inc()
	}
	return nil
}

// heartbeat reports accumulated counter deltas. On failure the deltas
// are restored so the next heartbeat carries them.
func (m *Manager) heartbeat() error {
	m.mu.Lock()
	counts := m.counts
	m.counts = types.ManagerCounts{}
	m.mu.Unlock()

	if _, err := m.client.ManagerUpdate(m.name, m.cluster, m.tag, counts); err != nil {
		m.addCounts(counts)
		return fmt.Errorf("manager update: %w", err)
	}
	return nil
}

func (m *Manager) addCounts(delta types.ManagerCounts) {
	m.mu.Lock()
	m.counts.Submitted += delta.Submitted
	m.counts.Completed += delta.Completed
	m.counts.Returned += delta.Returned
	m.counts.Failures += delta.Failures
	m.mu.Unlock()
}
