package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Engine turns one task spec into a result payload. The pool adapter
// runs engines on local goroutines; remote adapters ship the spec to
// their backend instead.
type Engine interface {
	Run(ctx context.Context, spec json.RawMessage) (json.RawMessage, error)
}

// ExecEngine shells out to a compute program. The task spec is written
// to the program's stdin as JSON and the result payload is read from
// its stdout, which must also be JSON.
type ExecEngine struct {
	Program string
	Args    []string
}

func (e *ExecEngine) Run(ctx context.Context, spec json.RawMessage) (json.RawMessage, error) {
	cmd := exec.CommandContext(ctx, e.Program, e.Args...)
	cmd.Stdin = bytes.NewReader(spec)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %v: %s", e.Program, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", e.Program, err)
	}

	payload := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%s produced invalid JSON output", e.Program)
	}
	return payload, nil
}
