// Package safety guards the anchor against the fold zone.
//
// The invariant: the delimiter's right edge stays strictly left of the
// anchor's left edge whenever the fold zone is or is about to be
// collapsed. A violation would let the collapsed zone swallow the anchor
// itself, leaving no way to reach the daemon from the panel.
//
// The check is deliberately forgiving about missing data: unresolved
// frames and cross-display placements count as safe, since both occur
// legitimately during startup settling and multi-display rearrangement.
// Sustained violations while hidden are debounced over consecutive ticks
// before a forced expand, because a user dragging icons produces unsafe
// intermediate positions that must not trigger spurious recovery.
package safety

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/events"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/mainthread"
	"github.com/trayfold/trayfold/internal/slots"
	"github.com/trayfold/trayfold/internal/tasks"
)

// SlotSource provides the two slot snapshots the check compares.
type SlotSource interface {
	Anchor(ctx context.Context) (slots.Slot, error)
	Delimiter(ctx context.Context) (slots.Slot, error)
}

// Monitor evaluates the position check, periodically while hidden.
type Monitor struct {
	view    SlotSource
	loop    *mainthread.Loop
	bus     *events.Bus
	metrics *monitoring.Metrics
	logger  *logging.Logger

	interval  time.Duration
	threshold int
	expand    func(ctx context.Context) bool

	// counter is touched only from panel loop jobs.
	counter int

	mu   sync.Mutex
	task *tasks.Handle
}

// NewMonitor creates a monitor. expand is the forced recovery action,
// invoked off the panel loop after threshold consecutive unsafe ticks.
func NewMonitor(
	view SlotSource,
	loop *mainthread.Loop,
	bus *events.Bus,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
	cfg config.SafetyConfig,
	expand func(ctx context.Context) bool,
) *Monitor {
	return &Monitor{
		view:      view,
		loop:      loop,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		interval:  cfg.CheckInterval,
		threshold: cfg.UnsafeThreshold,
		expand:    expand,
	}
}

// Safe evaluates the position check once. Unreadable or unresolved
// frames and cross-display placement are safe; only a delimiter whose
// right edge sits at or past the anchor's left edge on the same display
// is unsafe.
func (m *Monitor) Safe(ctx context.Context) bool {
	anchor, err := m.view.Anchor(ctx)
	if err != nil {
		return true
	}

	delimiter, err := m.view.Delimiter(ctx)
	if err != nil {
		return true
	}

	return safe(delimiter, anchor)
}

func safe(delimiter, anchor slots.Slot) bool {
	if delimiter.Frame.IsZero() || anchor.Frame.IsZero() {
		return true
	}

	if delimiter.Display.ID != "" && anchor.Display.ID != "" &&
		delimiter.Display.ID != anchor.Display.ID {
		return true
	}

	return delimiter.Frame.Right() < anchor.Frame.Left()
}

// Check runs one monitoring tick: evaluate, count consecutive failures,
// and after the threshold force exactly one expand with a warning event.
func (m *Monitor) Check(ctx context.Context) {
	var fire bool
	err := m.loop.Call(ctx, func() error {
		if m.Safe(ctx) {
			m.counter = 0
			return nil
		}

		m.counter++
		m.metrics.RecordUnsafeTick()

		if m.counter >= m.threshold {
			m.counter = 0
			fire = true
		}
		return nil
	})
	if err != nil || !fire {
		return
	}

	m.logger.Warn("delimiter drifted to or past the anchor; forcing expand")
	m.bus.Publish(events.Event{Type: events.TypePositionUnsafe, Reason: "auto-recovery"})
	m.metrics.RecordRecovery()
	m.expand(ctx)
}

// Start begins periodic checking. Idempotent while running. The counter
// starts from zero on every entry into monitoring.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task != nil {
		return
	}

	if err := m.loop.Do(ctx, func() { m.counter = 0 }); err != nil {
		m.logger.Warn("resetting unsafe counter", zap.Error(err))
	}

	m.task = tasks.Every(ctx, m.interval, func() {
		m.Check(context.Background())
	})
}

// Stop ends periodic checking. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	task := m.task
	m.task = nil
	m.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

// Running reports whether the periodic loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task != nil
}
