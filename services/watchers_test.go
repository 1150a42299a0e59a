package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatcherSetKeepsExistingWithoutReplace(t *testing.T) {
	ws := newWatcherSet()
	defer ws.shutdown()

	block := make(chan struct{})
	started := ws.start("1", false, func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})
	assert.True(t, started)
	assert.False(t, ws.start("1", false, func(ctx context.Context) {}))
	close(block)
}

func TestWatcherSetReplaceCancelsPrevious(t *testing.T) {
	ws := newWatcherSet()
	defer ws.shutdown()

	firstCanceled := make(chan struct{})
	ws.start("1", true, func(ctx context.Context) {
		<-ctx.Done()
		close(firstCanceled)
	})
	assert.True(t, ws.start("1", true, func(ctx context.Context) { <-ctx.Done() }))

	select {
	case <-firstCanceled:
	case <-time.After(time.Second):
		t.Fatal("replaced watcher was not canceled")
	}
}

func TestWatcherSetCancelWaitsForExit(t *testing.T) {
	ws := newWatcherSet()

	finished := false
	ws.start("1", false, func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished = true
	})
	ws.cancel("1")
	assert.True(t, finished)

	// canceling a missing key is a no-op
	ws.cancel("missing")
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), 0))
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
}
