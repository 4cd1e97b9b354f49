package queue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLaunchpad implements the launchpad endpoints the adapter talks
// to, completing every firework as soon as it is submitted.
type fakeLaunchpad struct {
	mu       sync.Mutex
	finished []fireworkOutcome
	canceled []string
}

func (l *fakeLaunchpad) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fireworks", func(w http.ResponseWriter, r *http.Request) {
		var sub fireworkSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		l.mu.Lock()
		l.finished = append(l.finished, fireworkOutcome{
			FwID:    sub.FwID,
			State:   "COMPLETED",
			Payload: json.RawMessage(`{"properties":{"scf_total_energy":-76.02}}`),
		})
		l.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/v1/outcomes/drain", func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		out := l.finished
		l.finished = nil
		l.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"outcomes": out})
	})
	mux.HandleFunc("/api/v1/fireworks/cancel", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		l.mu.Lock()
		l.canceled = append(l.canceled, body.IDs...)
		l.mu.Unlock()
	})
	return mux
}

func TestFireworksAdapterSubmitAndPoll(t *testing.T) {
	pad := &fakeLaunchpad{}
	srv := httptest.NewServer(pad.handler())
	defer srv.Close()

	f, err := NewFireworksAdapter(AdapterConfig{Kind: AdapterFireworks, LaunchpadURL: srv.URL})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Submit("t1", json.RawMessage(`{"program":"psi4"}`)))

	out, err := f.Poll()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "t1", out[0].TaskID)
	assert.True(t, out[0].Success)
	assert.JSONEq(t, `{"properties":{"scf_total_energy":-76.02}}`, string(out[0].Payload))

	// The launchpad forgets entries once drained.
	out, err = f.Poll()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFireworksAdapterMapsFizzledState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"outcomes": []fireworkOutcome{
				{FwID: "t1", State: "FIZZLED", Error: "walltime exceeded"},
			},
		})
	}))
	defer srv.Close()

	f, err := NewFireworksAdapter(AdapterConfig{Kind: AdapterFireworks, LaunchpadURL: srv.URL})
	require.NoError(t, err)
	defer f.Close()

	out, err := f.Poll()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Success)
	assert.Equal(t, "walltime exceeded", out[0].Error)
}

func TestFireworksAdapterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "launchpad database down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := NewFireworksAdapter(AdapterConfig{Kind: AdapterFireworks, LaunchpadURL: srv.URL})
	require.NoError(t, err)
	defer f.Close()

	err = f.Submit("t1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launchpad database down")
}

func TestFireworksAdapterCancel(t *testing.T) {
	pad := &fakeLaunchpad{}
	srv := httptest.NewServer(pad.handler())
	defer srv.Close()

	f, err := NewFireworksAdapter(AdapterConfig{Kind: AdapterFireworks, LaunchpadURL: srv.URL})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Cancel([]string{"t1", "t2"}))
	require.NoError(t, f.Cancel(nil))

	pad.mu.Lock()
	defer pad.mu.Unlock()
	assert.Equal(t, []string{"t1", "t2"}, pad.canceled)
}

func TestFireworksAdapterTrimsTrailingSlash(t *testing.T) {
	pad := &fakeLaunchpad{}
	srv := httptest.NewServer(pad.handler())
	defer srv.Close()

	f, err := NewFireworksAdapter(AdapterConfig{Kind: AdapterFireworks, LaunchpadURL: srv.URL + "/"})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Submit("t1", json.RawMessage(`{}`)))
}
