package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gb-murray/pcl-exchange/archive/grpccas"
)

func TestServeAndShutdown(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, t.TempDir(), 0, zap.NewNop()) }()

	client, err := grpccas.Dial(lis.Addr().String(), grpccas.DialOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	block := []byte(`{"@graph":[{"@id":"#envelope","action":"ack"}]}`)
	id, err := client.Put(context.Background(), block)
	require.NoError(t, err)
	got, err := client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(block), string(got))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	var errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"--bogus"}, &errOut))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("PCLX_CONFIG", "")
	t.Setenv("PCLX_LOG_LEVEL", "chatty")
	var errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, &errOut))
	assert.Contains(t, errOut.String(), "logging.level")
}
