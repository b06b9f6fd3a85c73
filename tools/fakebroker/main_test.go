package main

import (
	"bytes"
	"context"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/bunnymq-client-go/internal/config"
	"github.com/Thejuampi/bunnymq-client-go/internal/logging"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.Address = "127.0.0.1:3000"

	require.NoError(t, flag.CommandLine.Set("addr", "127.0.0.1:4000"))
	require.NoError(t, flag.CommandLine.Set("auth", "a:1,b:2"))
	require.NoError(t, flag.CommandLine.Set("heartbeat", "250ms"))
	require.NoError(t, applyFlags(flag.CommandLine, cfg))

	assert.Equal(t, "127.0.0.1:4000", cfg.Broker.Address)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, cfg.Broker.Users)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.HeartbeatInterval)
	assert.Empty(t, cfg.Broker.WebSocketAddress)
}

func TestRunStopsWithContext(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &logs, "fakebroker", "test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, config.BrokerConfig{
			Address:          "127.0.0.1:0",
			WebSocketAddress: "127.0.0.1:0",
			AdminAddress:     "127.0.0.1:0",
		}, logger)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunReportsListenFailure(t *testing.T) {
	logger := logging.NewWithWriter(config.LoggingConfig{}, &bytes.Buffer{}, "fakebroker", "test")
	err := run(context.Background(), config.BrokerConfig{Address: "256.0.0.1:1"}, logger)
	assert.ErrorContains(t, err, "listening on")
}
