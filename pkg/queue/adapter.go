package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// AdapterKind names a compute backend implementation.
type AdapterKind string

const (
	AdapterPool      AdapterKind = "pool"
	AdapterDask      AdapterKind = "dask"
	AdapterFireworks AdapterKind = "fireworks"
)

// Outcome is one finished unit of compute as reported by an adapter.
// Payload carries the record write-back document on success; Error
// carries the failure message otherwise.
type Outcome struct {
	TaskID  string
	Success bool
	Payload json.RawMessage
	Error   string
}

// Adapter abstracts a compute backend behind submit and poll. Submit
// hands a task to the backend and returns immediately; Poll drains the
// outcomes that finished since the last call.
type Adapter interface {
	Submit(id string, spec json.RawMessage) error
	Poll() ([]Outcome, error)
	Cancel(ids []string) error
	Close() error
}

// AdapterConfig selects and parameterizes a backend. Only the fields
// for the selected kind matter.
type AdapterConfig struct {
	Kind AdapterKind `yaml:"kind"`

	// pool
	Workers     int           `yaml:"workers"`
	Program     string        `yaml:"program"`
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// dask
	SchedulerAddress string `yaml:"scheduler_address"`

	// fireworks
	LaunchpadURL string `yaml:"launchpad_url"`
}

// BuildAdapter constructs the backend the config names. The kind is
// decided here, once; there is no probing or fallback between
// backends.
func BuildAdapter(cfg AdapterConfig) (Adapter, error) {
	switch cfg.Kind {
	case AdapterPool:
		return NewPoolAdapter(cfg)
	case AdapterDask:
		return NewDaskAdapter(cfg)
	case AdapterFireworks:
		return NewFireworksAdapter(cfg)
	}
	return nil, fmt.Errorf("unknown adapter kind %q", cfg.Kind)
}
