package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEveryTicks(t *testing.T) {
	var count atomic.Int32

	h := Every(context.Background(), 10*time.Millisecond, func() {
		count.Add(1)
	})
	defer h.Stop()

	assert.Eventually(t, func() bool {
		return count.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestEveryStop(t *testing.T) {
	var count atomic.Int32

	h := Every(context.Background(), 5*time.Millisecond, func() {
		count.Add(1)
	})

	assert.Eventually(t, func() bool {
		return count.Load() >= 1
	}, time.Second, time.Millisecond)

	h.Stop()
	<-h.Done()

	settled := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, count.Load(), "ticks after Stop")
}

func TestEveryContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := Every(ctx, 5*time.Millisecond, func() {})
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit on context cancel")
	}
}

func TestAfterRuns(t *testing.T) {
	var ran atomic.Bool

	h := After(context.Background(), 10*time.Millisecond, func() {
		ran.Store(true)
	})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
	assert.True(t, ran.Load())
}

func TestAfterStopPreventsRun(t *testing.T) {
	var ran atomic.Bool

	h := After(context.Background(), 50*time.Millisecond, func() {
		ran.Store(true)
	})
	h.Stop()
	<-h.Done()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, ran.Load(), "fn ran despite Stop")
}

func TestStopIdempotent(t *testing.T) {
	h := After(context.Background(), time.Hour, func() {})
	h.Stop()
	h.Stop()
	<-h.Done()
}
