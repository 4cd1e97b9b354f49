package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAdapter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AdapterConfig
		want    interface{}
		wantErr string
	}{
		{
			name: "pool",
			cfg:  AdapterConfig{Kind: AdapterPool, Program: "psi4"},
			want: &PoolAdapter{},
		},
		{
			name: "dask",
			cfg:  AdapterConfig{Kind: AdapterDask, SchedulerAddress: "127.0.0.1:8786"},
			want: &DaskAdapter{},
		},
		{
			name: "fireworks",
			cfg:  AdapterConfig{Kind: AdapterFireworks, LaunchpadURL: "http://127.0.0.1:8000"},
			want: &FireworksAdapter{},
		},
		{
			name:    "pool without program",
			cfg:     AdapterConfig{Kind: AdapterPool},
			wantErr: "requires a program",
		},
		{
			name:    "dask without address",
			cfg:     AdapterConfig{Kind: AdapterDask},
			wantErr: "requires a scheduler address",
		},
		{
			name:    "fireworks without url",
			cfg:     AdapterConfig{Kind: AdapterFireworks},
			wantErr: "requires a launchpad url",
		},
		{
			name:    "unknown kind",
			cfg:     AdapterConfig{Kind: "parsl"},
			wantErr: "unknown adapter kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := BuildAdapter(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, adapter)
			assert.NoError(t, adapter.Close())
		})
	}
}
