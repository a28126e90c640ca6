package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	parent, stopParent := context.WithCancel(context.Background())
	// Canceling the parent ends the goroutine waiting for a second signal.
	defer stopParent()

	ctx, cancel := shutdownContext(parent, quietLogger())
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of SIGINT")
	}
}

func TestShutdownContext_ParentCancel(t *testing.T) {
	parent, stopParent := context.WithCancel(context.Background())

	ctx, cancel := shutdownContext(parent, quietLogger())
	defer cancel()

	stopParent()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of parent cancel")
	}
}

func TestShutdownContext_CancelFunc(t *testing.T) {
	ctx, cancel := shutdownContext(context.Background(), quietLogger())
	cancel()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
