package redisclient

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "connects", url: "redis://" + mr.Addr() + "/0"},
		{name: "bad url", url: "http://" + mr.Addr(), wantErr: "parse redis url"},
		{name: "unreachable", url: "redis://127.0.0.1:1/0", wantErr: "ping redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), &Config{URL: tt.url, PoolSize: 4}, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer client.Close()

			assert.Equal(t, 4, client.Options().PoolSize)
			assert.NoError(t, HealthCheck(context.Background(), client))
		})
	}
}

func TestHealthCheck_ServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := NewClient(context.Background(), &Config{URL: "redis://" + mr.Addr()}, logger)
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	assert.Error(t, HealthCheck(context.Background(), client))
}
