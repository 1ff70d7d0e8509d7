// Package relocate synthesizes the drag that moves a tray item across
// the separator.
//
// The panel offers no API for reordering foreign items, so the protocol
// replays the user's own gesture: a modifier-held press on the item, a
// glide to the far side of the separator, a release. The gesture is
// queued through the input portal and never confirmed; success means
// queued, and the cache flush afterwards lets the next scan observe
// whatever actually happened.
package relocate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/hiding"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/infrastructure/tracing"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/scan"
	"github.com/trayfold/trayfold/internal/shared/geometry"
	"github.com/trayfold/trayfold/internal/shared/id"
	"github.com/trayfold/trayfold/internal/slots"
	"github.com/trayfold/trayfold/internal/tasks"
)

// StateMachine is the slice of the hiding machine the mover drives.
type StateMachine interface {
	State() hiding.State
	Show(ctx context.Context) bool
	Hide(ctx context.Context) bool
	Pinned() bool
}

// Locator resolves an owner's live placement, bypassing every cache.
type Locator interface {
	Locate(ctx context.Context, key string) (scan.PositionedItem, bool, error)
}

// Invalidator flushes the scan caches after a mutation.
type Invalidator interface {
	Invalidate()
}

// SlotReader reads separator snapshots.
type SlotReader interface {
	Delimiter(ctx context.Context) (slots.Slot, error)
	Extra(ctx context.Context) (slots.Slot, bool, error)
}

// Mover carries out relocations.
type Mover struct {
	view    SlotReader
	machine StateMachine
	locator Locator
	caches  Invalidator
	gate    platform.PermissionGate
	synth   platform.Synthesizer
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	logger  *logging.Logger
	cfg     config.RelocateConfig
}

// NewMover creates a mover.
func NewMover(
	view SlotReader,
	machine StateMachine,
	locator Locator,
	caches Invalidator,
	gate platform.PermissionGate,
	synth platform.Synthesizer,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *logging.Logger,
	cfg config.RelocateConfig,
) *Mover {
	return &Mover{
		view:    view,
		machine: machine,
		locator: locator,
		caches:  caches,
		gate:    gate,
		synth:   synth,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Relocate drags the owner named by key into the target zone. The
// result is optimistic: true means the gesture was queued with live
// coordinates, not that the panel accepted the new order.
func (m *Mover) Relocate(ctx context.Context, key string, target scan.Zone) bool {
	span, ctx := m.tracer.StartSpan(ctx, "relocate")
	defer func() {
		span.Finish()
		m.tracer.Submit(span)
	}()

	ok := m.run(ctx, id.NewMoveID(), key, target)
	m.metrics.RecordRelocation(string(target), ok)
	return ok
}

func (m *Mover) run(ctx context.Context, moveID id.MoveID, key string, target scan.Zone) bool {
	switch target {
	case scan.ZoneVisible, scan.ZoneHidden, scan.ZoneAlwaysHidden:
	default:
		m.logger.Warn("relocation to unknown zone", zap.String("zone", string(target)))
		return false
	}

	if !m.gate.Trusted(ctx) {
		m.logger.Info("relocation refused without permission grant", zap.String("key", key))
		return false
	}

	item, found, err := m.locator.Locate(ctx, key)
	if err != nil || !found {
		m.logger.Warn("relocation target not resolvable",
			zap.String("move_id", moveID.String()),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}

	// A hidden item is not physically draggable while the zone is
	// collapsed; expand first and let the panel settle.
	expanded := false
	if target == scan.ZoneVisible && m.machine.State() == hiding.Hidden {
		if m.machine.Show(ctx) {
			expanded = true
		} else if m.machine.State() != hiding.Expanded {
			m.logger.Warn("relocation could not expand the fold zone",
				zap.String("move_id", moveID.String()))
			return false
		}
		if !m.settle(ctx) {
			m.restore(ctx, expanded)
			return false
		}

		// The collapse had pushed the item off screen; its earlier
		// coordinates are useless for the gesture. Read again now that
		// it is placed.
		item, found, err = m.locator.Locate(ctx, key)
		if err != nil || !found {
			m.logger.Warn("relocation target vanished after expand",
				zap.String("move_id", moveID.String()),
				zap.String("key", key),
				zap.Error(err),
			)
			m.restore(ctx, expanded)
			return false
		}
	}

	delimiter, err := m.view.Delimiter(ctx)
	if err != nil || delimiter.Frame.IsZero() {
		m.logger.Warn("relocation aborted: separator unresolved",
			zap.String("move_id", moveID.String()),
			zap.Error(err),
		)
		m.restore(ctx, expanded)
		return false
	}

	targetX, ok := m.targetX(ctx, delimiter, target)
	if !ok {
		m.restore(ctx, expanded)
		return false
	}

	// Items share the separator's panel row, so its vertical center is
	// theirs too.
	rowY := delimiter.Frame.MidY()
	from := geometry.Point{X: item.X + item.Width/2, Y: rowY}
	to := geometry.Point{X: targetX, Y: rowY}

	if err := m.synth.Drag(ctx, from, to); err != nil {
		m.logger.Warn("drag synthesis failed",
			zap.String("move_id", moveID.String()),
			zap.Error(err),
		)
		m.restore(ctx, expanded)
		return false
	}

	m.logger.Info("relocation queued",
		zap.String("move_id", moveID.String()),
		zap.String("key", item.Key()),
		zap.String("zone", string(target)),
		zap.Float64("from_x", from.X),
		zap.Float64("to_x", to.X),
	)

	// The gesture needs time to land before the caches stop lying, and
	// a borrowed expansion is returned only after that.
	tasks.After(context.Background(), m.cfg.InvalidateDelay, func() {
		m.caches.Invalidate()
		m.restore(context.Background(), expanded)
	})
	return true
}

func (m *Mover) targetX(ctx context.Context, delimiter slots.Slot, target scan.Zone) (float64, bool) {
	switch target {
	case scan.ZoneVisible:
		return delimiter.Frame.Right() + m.cfg.Margin, true
	case scan.ZoneHidden:
		return delimiter.Frame.Left() - m.cfg.Margin, true
	default:
		extra, enabled, err := m.view.Extra(ctx)
		if err != nil || !enabled || extra.Frame.IsZero() {
			m.logger.Warn("relocation aborted: always-hidden slot unavailable", zap.Error(err))
			return 0, false
		}
		return extra.Frame.Left() - m.cfg.Margin, true
	}
}

// settle waits for the panel to lay out the expanded zone.
func (m *Mover) settle(ctx context.Context) bool {
	select {
	case <-time.After(m.cfg.SettleDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// restore collapses the zone again when this relocation expanded it,
// unless the user pinned a reveal in the meantime.
func (m *Mover) restore(ctx context.Context, expanded bool) {
	if !expanded || m.machine.Pinned() {
		return
	}
	m.machine.Hide(ctx)
}
