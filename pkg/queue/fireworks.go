package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChayaSt/QCFractal/pkg/log"
)

// FireworksAdapter hands tasks to a launchpad service over HTTP. The
// launchpad tracks fireworks by the task id; workers pull from it on
// their own schedule, so polling here only drains finished entries.
type FireworksAdapter struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

type fireworkSubmission struct {
	FwID string          `json:"fw_id"`
	Spec json.RawMessage `json:"spec"`
}

type fireworkOutcome struct {
	FwID    string          `json:"fw_id"`
	State   string          `json:"state"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func NewFireworksAdapter(cfg AdapterConfig) (*FireworksAdapter, error) {
	if cfg.LaunchpadURL == "" {
		return nil, fmt.Errorf("fireworks adapter requires a launchpad url")
	}
	return &FireworksAdapter{
		baseURL: strings.TrimRight(cfg.LaunchpadURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithComponent("fireworks"),
	}, nil
}

func (f *FireworksAdapter) post(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := f.client.Post(f.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("launchpad: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("launchpad %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (f *FireworksAdapter) Submit(id string, spec json.RawMessage) error {
	return f.post("/api/v1/fireworks", fireworkSubmission{FwID: id, Spec: spec}, nil)
}

// Poll drains completed fireworks from the launchpad. Entries come
// back once; the launchpad forgets them after handing them over.
func (f *FireworksAdapter) Poll() ([]Outcome, error) {
	var resp struct {
		Outcomes []fireworkOutcome `json:"outcomes"`
	}
	if err := f.post("/api/v1/outcomes/drain", struct{}{}, &resp); err != nil {
		return nil, err
	}

	out := make([]Outcome, 0, len(resp.Outcomes))
	for _, o := range resp.Outcomes {
		out = append(out, Outcome{
			TaskID:  o.FwID,
			Success: o.State == "COMPLETED",
			Payload: o.Payload,
			Error:   o.Error,
		})
	}
	return out, nil
}

func (f *FireworksAdapter) Cancel(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return f.post("/api/v1/fireworks/cancel", map[string][]string{"ids": ids}, nil)
}

func (f *FireworksAdapter) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
