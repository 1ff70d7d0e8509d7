// Package slots manages trayfold's reserved panel slots.
//
// Two slots exist at minimum: the anchor, trayfold's own always-visible
// icon, and the delimiter, whose declared width is toggled to collapse or
// expand the fold zone to its left. An optional extra delimiter marks an
// always-hidden zone further left and stays at sentinel width for the
// daemon's lifetime.
//
// Frames are read-only input from the panel; the declared width of the
// delimiter is the only thing this package mutates.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/shared/geometry"
)

// Role names a reserved slot's purpose.
type Role string

const (
	RoleAnchor         Role = "anchor"
	RoleDelimiter      Role = "delimiter"
	RoleExtraDelimiter Role = "extra-delimiter"
)

// Slot names registered with the panel extension. Stable across restarts
// so EnsureSlot reuses slots instead of stacking new ones.
const (
	anchorSlotName    = "trayfold/anchor"
	delimiterSlotName = "trayfold/delimiter"
	extraSlotName     = "trayfold/extra-delimiter"
)

// anchorWidth is the declared width of the anchor icon slot. The anchor
// is never resized; only the delimiter's width changes.
const anchorWidth = 24

// ErrFrameUnresolved is returned when the panel has not laid a slot out
// yet and no frame exists to read.
var ErrFrameUnresolved = errors.New("slot frame not resolved")

// Slot is a point-in-time snapshot of one reserved slot.
type Slot struct {
	Role          Role             `json:"role"`
	Ref           platform.SlotRef `json:"ref"`
	DeclaredWidth int              `json:"declared_width"`
	Frame         geometry.Rect    `json:"frame"`
	Display       geometry.Display `json:"display"`
}

// View owns the reserved slots and is the single writer of the
// delimiter's declared width.
type View struct {
	ws     platform.WindowSystem
	logger *logging.Logger

	mu           sync.Mutex
	anchorRef    platform.SlotRef
	delimiterRef platform.SlotRef
	extraRef     platform.SlotRef
	widths       map[platform.SlotRef]int
}

// NewView creates a view over the window system. Setup must run before
// any slot is read or written.
func NewView(ws platform.WindowSystem, logger *logging.Logger) *View {
	return &View{
		ws:     ws,
		logger: logger,
		widths: make(map[platform.SlotRef]int),
	}
}

// Setup registers the reserved slots. The delimiter starts at the compact
// width, matching the expanded state the daemon boots into. When the
// always-hidden zone is disabled, a stale extra delimiter left by a
// previous run is removed so it cannot keep folding items.
func (v *View) Setup(ctx context.Context, compactWidth, hiddenWidth int, alwaysHidden bool) error {
	anchor, err := v.ws.EnsureSlot(ctx, anchorSlotName, anchorWidth)
	if err != nil {
		return fmt.Errorf("register anchor: %w", err)
	}

	delimiter, err := v.ws.EnsureSlot(ctx, delimiterSlotName, compactWidth)
	if err != nil {
		return fmt.Errorf("register delimiter: %w", err)
	}

	v.mu.Lock()
	v.anchorRef = anchor
	v.delimiterRef = delimiter
	v.widths[anchor] = anchorWidth
	v.widths[delimiter] = compactWidth
	v.mu.Unlock()

	if alwaysHidden {
		extra, err := v.ws.EnsureSlot(ctx, extraSlotName, hiddenWidth)
		if err != nil {
			return fmt.Errorf("register extra delimiter: %w", err)
		}
		v.mu.Lock()
		v.extraRef = extra
		v.widths[extra] = hiddenWidth
		v.mu.Unlock()

		return nil
	}

	if extra, err := v.ws.EnsureSlot(ctx, extraSlotName, 0); err == nil {
		if err := v.ws.RemoveSlot(ctx, extra); err != nil {
			v.logger.Warn("removing stale extra delimiter", zap.Error(err))
		}
	}

	return nil
}

// Anchor reads the anchor slot's current frame and display.
func (v *View) Anchor(ctx context.Context) (Slot, error) {
	return v.snapshot(ctx, RoleAnchor, v.ref(RoleAnchor))
}

// Delimiter reads the delimiter slot's current frame and display.
func (v *View) Delimiter(ctx context.Context) (Slot, error) {
	return v.snapshot(ctx, RoleDelimiter, v.ref(RoleDelimiter))
}

// Extra reads the extra delimiter. ok is false when the always-hidden
// zone is disabled.
func (v *View) Extra(ctx context.Context) (Slot, bool, error) {
	ref := v.ref(RoleExtraDelimiter)
	if ref == "" {
		return Slot{}, false, nil
	}

	s, err := v.snapshot(ctx, RoleExtraDelimiter, ref)
	if err != nil {
		return Slot{}, false, err
	}
	return s, true, nil
}

// SetDelimiterWidth writes the delimiter's declared width.
func (v *View) SetDelimiterWidth(ctx context.Context, width int) error {
	ref := v.ref(RoleDelimiter)
	if ref == "" {
		return errors.New("delimiter not registered")
	}

	if err := v.ws.SetSlotWidth(ctx, ref, width); err != nil {
		return err
	}

	v.mu.Lock()
	v.widths[ref] = width
	v.mu.Unlock()
	return nil
}

// Boundary returns the single edge that divides hidden from visible: the
// delimiter frame's left edge. Items positioned left of it are in the
// fold zone. Returns ErrFrameUnresolved while the panel has not laid the
// delimiter out.
func (v *View) Boundary(ctx context.Context) (float64, error) {
	ref := v.ref(RoleDelimiter)
	if ref == "" {
		return 0, errors.New("delimiter not registered")
	}

	frame, err := v.ws.SlotFrame(ctx, ref)
	if err != nil {
		return 0, err
	}
	if frame.IsZero() {
		return 0, ErrFrameUnresolved
	}
	return frame.Left(), nil
}

// ExtraBoundary returns the always-hidden zone's dividing edge, the extra
// delimiter's left edge. ok is false when the zone is disabled.
func (v *View) ExtraBoundary(ctx context.Context) (float64, bool, error) {
	ref := v.ref(RoleExtraDelimiter)
	if ref == "" {
		return 0, false, nil
	}

	frame, err := v.ws.SlotFrame(ctx, ref)
	if err != nil {
		return 0, false, err
	}
	if frame.IsZero() {
		return 0, false, ErrFrameUnresolved
	}
	return frame.Left(), true, nil
}

func (v *View) ref(role Role) platform.SlotRef {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch role {
	case RoleAnchor:
		return v.anchorRef
	case RoleDelimiter:
		return v.delimiterRef
	case RoleExtraDelimiter:
		return v.extraRef
	default:
		return ""
	}
}

func (v *View) snapshot(ctx context.Context, role Role, ref platform.SlotRef) (Slot, error) {
	if ref == "" {
		return Slot{}, fmt.Errorf("%s not registered", role)
	}

	frame, err := v.ws.SlotFrame(ctx, ref)
	if err != nil {
		return Slot{}, err
	}

	display, err := v.ws.SlotDisplay(ctx, ref)
	if err != nil {
		// A slot without display attribution is still usable; the frame
		// carries the comparison data.
		display = geometry.Display{}
	}

	v.mu.Lock()
	width := v.widths[ref]
	v.mu.Unlock()

	return Slot{
		Role:          role,
		Ref:           ref,
		DeclaredWidth: width,
		Frame:         frame,
		Display:       display,
	}, nil
}
