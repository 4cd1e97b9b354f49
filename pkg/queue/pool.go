package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ChayaSt/QCFractal/pkg/log"
)

const defaultTaskTimeout = time.Hour

// PoolAdapter runs tasks as local subprocesses bounded by a weighted
// semaphore. Submit returns immediately; the task runs as soon as a
// slot frees up.
type PoolAdapter struct {
	engine  Engine
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]context.CancelFunc
	done    []Outcome

	wg sync.WaitGroup
}

// NewPoolAdapter builds a pool running cfg.Program with cfg.Workers
// parallel slots. Workers defaults to the CPU count.
func NewPoolAdapter(cfg AdapterConfig) (*PoolAdapter, error) {
	if cfg.Program == "" {
		return nil, fmt.Errorf("pool adapter requires a program")
	}
	return newPoolAdapter(&ExecEngine{Program: cfg.Program}, cfg.Workers, cfg.TaskTimeout), nil
}

func newPoolAdapter(engine Engine, workers int, timeout time.Duration) *PoolAdapter {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	return &PoolAdapter{
		engine:  engine,
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		logger:  log.WithComponent("pool"),
		pending: make(map[string]context.CancelFunc),
	}
}

func (p *PoolAdapter) Submit(id string, spec json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)

	p.mu.Lock()
	if _, ok := p.pending[id]; ok {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("task %s already submitted", id)
	}
	p.pending[id] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.finish(Outcome{TaskID: id, Error: err.Error()})
			return
		}
		defer p.sem.Release(1)

		payload, err := p.engine.Run(ctx, spec)
		if err != nil {
			p.finish(Outcome{TaskID: id, Error: err.Error()})
			return
		}
		p.finish(Outcome{TaskID: id, Success: true, Payload: payload})
	}()
	return nil
}

func (p *PoolAdapter) finish(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, o.TaskID)
	p.done = append(p.done, o)
}

// Poll drains the finished outcomes accumulated since the last call.
func (p *PoolAdapter) Poll() ([]Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.done
	p.done = nil
	return out, nil
}

// Cancel aborts in-flight tasks. A canceled task surfaces through Poll
// as a failed outcome.
func (p *PoolAdapter) Cancel(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if cancel, ok := p.pending[id]; ok {
			cancel()
		}
	}
	return nil
}

// Close cancels everything in flight and waits for the workers to
// drain.
func (p *PoolAdapter) Close() error {
	p.mu.Lock()
	n := len(p.pending)
	for _, cancel := range p.pending {
		cancel()
	}
	p.mu.Unlock()

	if n > 0 {
		p.logger.Warn().Int("in_flight", n).Msg("Closing pool with tasks in flight")
	}
	p.wg.Wait()
	return nil
}
