package queue

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChayaSt/QCFractal/pkg/log"
)

const daskDialTimeout = 10 * time.Second

// DaskAdapter hands tasks to a distributed scheduler over a persistent
// TCP connection carrying newline-delimited JSON frames. The scheduler
// owns execution; this side only submits, polls, and cancels.
type DaskAdapter struct {
	address string
	logger  zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

type daskRequest struct {
	Op   string          `json:"op"`
	ID   string          `json:"id,omitempty"`
	Spec json.RawMessage `json:"spec,omitempty"`
	IDs  []string        `json:"ids,omitempty"`
}

type daskOutcome struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type daskResponse struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Outcomes []daskOutcome `json:"outcomes,omitempty"`
}

func NewDaskAdapter(cfg AdapterConfig) (*DaskAdapter, error) {
	if cfg.SchedulerAddress == "" {
		return nil, fmt.Errorf("dask adapter requires a scheduler address")
	}
	return &DaskAdapter{
		address: cfg.SchedulerAddress,
		logger:  log.WithComponent("dask"),
	}, nil
}

// roundTrip sends one frame and reads one reply. The connection is
// dialed lazily and dropped on any transport error so the next call
// reconnects cleanly.
func (d *DaskAdapter) roundTrip(req daskRequest) (*daskResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		conn, err := net.DialTimeout("tcp", d.address, daskDialTimeout)
		if err != nil {
			return nil, fmt.Errorf("scheduler %s: %w", d.address, err)
		}
		d.conn = conn
		d.enc = json.NewEncoder(conn)
		d.dec = json.NewDecoder(conn)
		d.logger.Debug().Str("address", d.address).Msg("Connected to scheduler")
	}

	d.conn.SetDeadline(time.Now().Add(daskDialTimeout))
	if err := d.enc.Encode(req); err != nil {
		d.drop()
		return nil, fmt.Errorf("scheduler %s: %w", d.address, err)
	}

	var resp daskResponse
	if err := d.dec.Decode(&resp); err != nil {
		d.drop()
		return nil, fmt.Errorf("scheduler %s: %w", d.address, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("scheduler rejected %s: %s", req.Op, resp.Error)
	}
	return &resp, nil
}

func (d *DaskAdapter) drop() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
		d.enc = nil
		d.dec = nil
	}
}

func (d *DaskAdapter) Submit(id string, spec json.RawMessage) error {
	_, err := d.roundTrip(daskRequest{Op: "submit", ID: id, Spec: spec})
	return err
}

func (d *DaskAdapter) Poll() ([]Outcome, error) {
	resp, err := d.roundTrip(daskRequest{Op: "poll"})
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(resp.Outcomes))
	for _, o := range resp.Outcomes {
		out = append(out, Outcome{
			TaskID:  o.ID,
			Success: o.Success,
			Payload: o.Payload,
			Error:   o.Error,
		})
	}
	return out, nil
}

func (d *DaskAdapter) Cancel(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := d.roundTrip(daskRequest{Op: "cancel", IDs: ids})
	return err
}

func (d *DaskAdapter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop()
	return nil
}
