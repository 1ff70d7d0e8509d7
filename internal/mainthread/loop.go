// Package mainthread serializes panel mutations onto one locked OS thread.
//
// Panel slot geometry writes and fold state transitions must not interleave;
// the panel extension assumes a single writer. Loop pins a goroutine to an
// OS thread with runtime.LockOSThread and executes submitted functions in
// order on that thread.
//
// Call from within a running job deadlocks; jobs must not submit new jobs
// and wait on them.
package mainthread

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrLoopClosed is returned when work is submitted after Close.
var ErrLoopClosed = errors.New("mainthread loop is closed")

type job struct {
	fn   func() error
	done chan error
}

// Loop executes functions serially on a single locked OS thread.
type Loop struct {
	queue chan job

	closeOnce sync.Once
	closing   chan struct{}
}

// New creates a loop. Run must be called before work is submitted.
func New() *Loop {
	return &Loop{
		queue:   make(chan job),
		closing: make(chan struct{}),
	}
}

// Run locks the calling goroutine to its OS thread and processes jobs
// until Close. It blocks; callers run it on a dedicated goroutine.
func (l *Loop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case j := <-l.queue:
			j.done <- j.fn()
		case <-l.closing:
			return
		}
	}
}

// Call runs fn on the loop thread and waits for it to finish, returning
// fn's error. If ctx expires before the loop picks the job up, the job
// never runs and ctx's error is returned. Once running, fn always
// completes; a late ctx cancellation is ignored.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case l.queue <- j:
	case <-l.closing:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// The queue is unbuffered: a successful submit means the loop holds
	// the job and will always deposit a result, even if Close lands
	// while fn runs.
	return <-j.done
}

// Do runs fn on the loop thread without waiting for completion. Errors
// from fn are discarded; use Call when the result matters.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	return l.dispatch(ctx, fn)
}

func (l *Loop) dispatch(ctx context.Context, fn func()) error {
	j := job{fn: func() error { fn(); return nil }, done: make(chan error, 1)}

	select {
	case l.queue <- j:
		return nil
	case <-l.closing:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop after the job in flight, if any. Pending and
// future submissions fail with ErrLoopClosed.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
}
