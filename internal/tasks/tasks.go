// Package tasks runs cancellable background timers.
//
// The engine uses two shapes of deferred work: a repeating tick while the
// tray is folded (position safety checks) and a one-shot delay (auto-refold
// after a reveal, cache invalidation after a relocation). Both return a
// Handle whose Stop method cancels the work without waiting for it.
package tasks

import (
	"context"
	"sync"
	"time"
)

// Handle controls a scheduled task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the task. Safe to call multiple times and after the
// task has already finished.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
}

// Done returns a channel closed when the task goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Every runs fn every interval until the handle is stopped or ctx is
// cancelled. The first run happens after one full interval, not
// immediately.
func Every(ctx context.Context, interval time.Duration, fn func()) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return h
}

// After runs fn once after delay unless the handle is stopped or ctx is
// cancelled first. A stopped task never runs fn.
func After(ctx context.Context, delay time.Duration, fn func()) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			fn()
		}
	}()

	return h
}
