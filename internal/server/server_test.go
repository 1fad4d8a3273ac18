package server

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/config"
)

func testConfig(port string) *config.Config {
	return &config.Config{
		Port:             port,
		Env:              "development",
		LogLevel:         "error",
		ChainMock:        true,
		SettlementMock:   true,
		SchedulerWorkers: 1,
		SchedulerPoll:    50 * time.Millisecond,
	}
}

func TestRunReturnsWhenPortUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv, err := New(testConfig(strconv.Itoa(port)))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- srv.Run(context.Background()) }()

	select {
	case err := <-errc:
		require.Error(t, err)
		require.Contains(t, err.Error(), "server error")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the listener failed to bind")
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	srv, err := New(testConfig("0"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	// Let the HTTP listener and the runner come up before cancelling.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
