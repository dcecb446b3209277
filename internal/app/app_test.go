package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/config"
	"github.com/quarryd/quarry/internal/logger"
)

func TestAppStartsAndStops(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Worker.Concurrency = 2

	a, err := New(cfg, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestBuildStoresRejectsBadRedis(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Storage.Backend = config.BackendRedis

	_, err := New(cfg, logger.NewNop())
	require.Error(t, err)
}
