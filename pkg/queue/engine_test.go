package queue

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecEngineRoundTrip(t *testing.T) {
	requireBinary(t, "cat")

	e := &ExecEngine{Program: "cat"}
	spec := json.RawMessage(`{"program":"psi4","method":"b3lyp"}`)

	payload, err := e.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.JSONEq(t, string(spec), string(payload))
}

func TestExecEngineExitFailure(t *testing.T) {
	requireBinary(t, "false")

	e := &ExecEngine{Program: "false"}
	_, err := e.Run(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "false")
}

func TestExecEngineRejectsNonJSONOutput(t *testing.T) {
	requireBinary(t, "echo")

	e := &ExecEngine{Program: "echo", Args: []string{"not a json document"}}
	_, err := e.Run(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestExecEngineContextCancel(t *testing.T) {
	requireBinary(t, "sleep")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := &ExecEngine{Program: "sleep", Args: []string{"10"}}
	start := time.Now()
	_, err := e.Run(ctx, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation should not wait for the program")
}

func TestExecEngineMissingProgram(t *testing.T) {
	e := &ExecEngine{Program: "definitely-not-a-real-quantum-chemistry-code"}
	_, err := e.Run(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
}
