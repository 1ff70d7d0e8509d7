// Package hiding owns the fold state machine.
//
// The state is driven entirely through the delimiter's declared width: the
// sentinel width pushes everything left of the delimiter off the panel,
// the compact width brings it back. Transitions are serialized by a single
// in-flight guard; a transition arriving while another runs is dropped,
// not queued. Every completed transition invalidates the scan caches and
// publishes an event.
package hiding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/events"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/mainthread"
	"github.com/trayfold/trayfold/internal/slots"
	"github.com/trayfold/trayfold/internal/tasks"
)

// State is the fold state. Exactly one value holds at any time.
type State int32

const (
	// Expanded means the delimiter sits at compact width and every item
	// is on the panel.
	Expanded State = iota

	// Hidden means the delimiter sits at sentinel width and the fold
	// zone is off the panel.
	Hidden
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	default:
		return "expanded"
	}
}

// errNoop marks a transition that found nothing to do. Not a failure.
var errNoop = errors.New("no-op transition")

// SafetyCheck reports whether collapsing the fold zone is currently safe.
type SafetyCheck interface {
	Safe(ctx context.Context) bool
}

// CacheInvalidator flushes the scan caches after a mutation.
type CacheInvalidator interface {
	Invalidate()
}

// Machine transitions between Expanded and Hidden.
type Machine struct {
	view    *slots.View
	loop    *mainthread.Loop
	safety  SafetyCheck
	caches  CacheInvalidator
	bus     *events.Bus
	metrics *monitoring.Metrics
	logger  *logging.Logger
	cfg     config.FoldConfig

	state    atomic.Int32
	inFlight atomic.Bool
	pinned   atomic.Bool

	mu     sync.Mutex
	rehide *tasks.Handle
	closed bool

	// OnHidden and OnExpanded run after a completed transition, off the
	// panel loop. The safety monitor's lifecycle hangs off them.
	OnHidden   func()
	OnExpanded func()
}

// NewMachine creates a machine in the Expanded state.
func NewMachine(
	view *slots.View,
	loop *mainthread.Loop,
	safety SafetyCheck,
	caches CacheInvalidator,
	bus *events.Bus,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
	cfg config.FoldConfig,
) *Machine {
	return &Machine{
		view:    view,
		loop:    loop,
		safety:  safety,
		caches:  caches,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// State returns the current fold state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Pinned reports whether the current reveal was pinned by the user.
func (m *Machine) Pinned() bool {
	return m.pinned.Load()
}

// Hide collapses the fold zone. Returns false when already Hidden, when
// another transition is in flight, when the safety check refuses, or when
// the width write fails. A refused hide publishes a warning event and
// leaves the state unchanged.
func (m *Machine) Hide(ctx context.Context) bool {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.metrics.RecordRefusal()
		return false
	}
	defer m.inFlight.Store(false)

	var unsafe bool
	err := m.loop.Call(ctx, func() error {
		if m.State() == Hidden {
			return errNoop
		}

		if !m.safety.Safe(ctx) {
			unsafe = true
			return errNoop
		}

		if err := m.view.SetDelimiterWidth(ctx, m.cfg.HiddenWidth); err != nil {
			return err
		}

		m.state.Store(int32(Hidden))
		return nil
	})

	if unsafe {
		m.logger.Warn("hide refused: delimiter at or past anchor")
		m.bus.Publish(events.Event{Type: events.TypePositionUnsafe, Reason: "refused-hide"})
		m.metrics.RecordRefusal()
		return false
	}
	if err != nil {
		if err != errNoop {
			m.logger.Error("hide failed", zap.Error(err))
		}
		return false
	}

	// Hiding is the user ending the reveal: drop the pin and any timer.
	m.pinned.Store(false)
	m.cancelRehide()

	m.caches.Invalidate()
	m.bus.Publish(events.Event{Type: events.TypeHidden})
	m.metrics.RecordTransition("hidden", true)
	m.logger.Info("fold zone hidden")

	if m.OnHidden != nil {
		m.OnHidden()
	}
	return true
}

// Show expands the fold zone. Returns false when already Expanded, when
// another transition is in flight, or when the width write fails. A
// successful show arms the auto-rehide timer unless rehide is disabled or
// the reveal is pinned.
func (m *Machine) Show(ctx context.Context) bool {
	return m.show(ctx, m.pinned.Load())
}

// Reveal expands the fold zone on behalf of the user. A pinned reveal
// suppresses auto-rehide until the next hide. Revealing while already
// Expanded still applies the pin and cancels a pending rehide.
func (m *Machine) Reveal(ctx context.Context, pinned bool) bool {
	if pinned {
		m.pinned.Store(true)
		m.cancelRehide()
	}

	if m.State() == Expanded {
		return pinned
	}
	return m.show(ctx, pinned)
}

// Toggle dispatches to whichever transition is valid for the current
// state.
func (m *Machine) Toggle(ctx context.Context) bool {
	if m.State() == Hidden {
		return m.Show(ctx)
	}
	return m.Hide(ctx)
}

// Close cancels the rehide timer and blocks further scheduling.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	handle := m.rehide
	m.rehide = nil
	m.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

func (m *Machine) show(ctx context.Context, pinned bool) bool {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.metrics.RecordRefusal()
		return false
	}
	defer m.inFlight.Store(false)

	err := m.loop.Call(ctx, func() error {
		if m.State() == Expanded {
			return errNoop
		}

		if err := m.view.SetDelimiterWidth(ctx, m.cfg.CompactWidth); err != nil {
			return err
		}

		m.state.Store(int32(Expanded))
		return nil
	})
	if err != nil {
		if err != errNoop {
			m.logger.Error("show failed", zap.Error(err))
		}
		return false
	}

	m.caches.Invalidate()
	m.bus.Publish(events.Event{Type: events.TypeShown})
	m.metrics.RecordTransition("shown", false)
	m.logger.Info("fold zone shown", zap.Bool("pinned", pinned))

	if m.OnExpanded != nil {
		m.OnExpanded()
	}

	if m.cfg.RehideEnabled && !pinned {
		m.armRehide()
	}
	return true
}

func (m *Machine) armRehide() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.rehide != nil {
		m.rehide.Stop()
	}

	m.rehide = tasks.After(context.Background(), m.cfg.RehideDelay, func() {
		m.Hide(context.Background())
	})
}

func (m *Machine) cancelRehide() {
	m.mu.Lock()
	handle := m.rehide
	m.rehide = nil
	m.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}
