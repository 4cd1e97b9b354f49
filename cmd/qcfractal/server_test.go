package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/metrics"
	"github.com/ChayaSt/QCFractal/pkg/storage"
	"github.com/ChayaSt/QCFractal/pkg/types"
)

// TestMetricsStackPublishesStoreCounts verifies the stats collector
// runs alongside the metrics endpoint, so the document-count gauges
// track the store instead of sitting at zero.
func TestMetricsStackPublishesStoreCounts(t *testing.T) {
	log.Init(log.Config{Level: log.ErrorLevel})

	socket, err := storage.NewBoltSocket(storage.Config{
		Path:           filepath.Join(t.TempDir(), "test.fractal.db"),
		BypassSecurity: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close() })

	_, _, err = socket.AddMolecules(map[string]*types.Molecule{
		"w": {
			Symbols:  []string{"O", "H", "H"},
			Geometry: []float64{0, 0, 0, 0, 0, 1.73, 0, 1.68, -0.42},
		},
	})
	require.NoError(t, err)

	srv, collector := startMetricsStack(socket, "127.0.0.1:0", log.WithComponent("test"))
	t.Cleanup(func() {
		collector.Stop()
		srv.Close()
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.MoleculesTotal) >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("molecules gauge = %v, want >= 1", testutil.ToFloat64(metrics.MoleculesTotal))
}
