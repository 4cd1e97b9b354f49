package metrics

import (
	"time"

	"github.com/ChayaSt/QCFractal/pkg/storage"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

// taskStatuses lists every queue status so stale gauge values reset to
// zero once a status empties out.
var taskStatuses = []types.TaskStatus{
	types.TaskStatusWaiting,
	types.TaskStatusRunning,
	types.TaskStatusComplete,
	types.TaskStatusError,
}

// Collector polls the storage socket and publishes document counts as
// gauges.
type Collector struct {
	socket *storage.BoltSocket
	stopCh chan struct{}
}

// NewCollector creates a collector over an open storage socket.
func NewCollector(socket *storage.BoltSocket) *Collector {
	return &Collector{
		socket: socket,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats, err := c.socket.Stats()
	if err != nil {
		return
	}

	MoleculesTotal.Set(float64(stats.Molecules))
	OptionsTotal.Set(float64(stats.Options))
	CollectionsTotal.Set(float64(stats.Collections))
	ResultsTotal.Set(float64(stats.Results))
	ProceduresTotal.Set(float64(stats.Procedures))
	ServicesTotal.Set(float64(stats.Services))
	ManagersTotal.Set(float64(stats.Managers))
	UsersTotal.Set(float64(stats.Users))

	for _, status := range taskStatuses {
		TasksTotal.WithLabelValues(string(status)).Set(float64(stats.Tasks[status]))
	}
}
