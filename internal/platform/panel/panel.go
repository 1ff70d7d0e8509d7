// Package panel talks to the trayfold panel extension over the session bus.
//
// The extension owns org.trayfold.Panel1 and exposes slot registration,
// declared-width control, and geometry for both reserved slots and hosted
// StatusNotifier items. The daemon is a pure client; all layout happens in
// the extension.
package panel

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/shared/geometry"
)

const (
	// BusName is the well-known name the panel extension owns.
	BusName = "org.trayfold.Panel1"

	// ObjectPath is where the extension exports its interface.
	ObjectPath = "/org/trayfold/Panel1"

	iface = "org.trayfold.Panel1"
)

// Extension is a client for the panel extension's D-Bus interface.
type Extension struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	logger *logging.Logger
}

var _ platform.WindowSystem = (*Extension)(nil)

// New creates a client over an established session bus connection.
// The connection stays owned by the caller.
func New(conn *dbus.Conn, logger *logging.Logger) *Extension {
	return &Extension{
		conn:   conn,
		obj:    conn.Object(BusName, ObjectPath),
		logger: logger,
	}
}

// EnsureSlot registers a named slot with an initial declared width. The
// extension returns the existing slot id when the name is already taken
// by this client, so restarts reuse slots instead of stacking new ones.
func (e *Extension) EnsureSlot(ctx context.Context, name string, width int) (platform.SlotRef, error) {
	var id string
	err := e.obj.CallWithContext(ctx, iface+".EnsureSlot", 0, name, uint32(width)).Store(&id)
	if err != nil {
		return "", fmt.Errorf("ensure slot %s: %w", name, err)
	}

	e.logger.Debug("slot registered",
		zap.String("name", name),
		zap.String("slot", id),
		zap.Int("width", width))

	return platform.SlotRef(id), nil
}

// SetSlotWidth updates a slot's declared width.
func (e *Extension) SetSlotWidth(ctx context.Context, ref platform.SlotRef, width int) error {
	call := e.obj.CallWithContext(ctx, iface+".SetSlotWidth", 0, string(ref), uint32(width))
	if call.Err != nil {
		return fmt.Errorf("set slot %s width: %w", ref, call.Err)
	}

	e.logger.Debug("slot width set",
		zap.String("slot", string(ref)),
		zap.Int("width", width))

	return nil
}

// SlotFrame reads a slot's frame in screen coordinates. The extension
// reports all zeros until the slot has been laid out; that comes back as
// a zero Rect, not an error.
func (e *Extension) SlotFrame(ctx context.Context, ref platform.SlotRef) (geometry.Rect, error) {
	var x, y, w, h int32
	err := e.obj.CallWithContext(ctx, iface+".GetSlotGeometry", 0, string(ref)).Store(&x, &y, &w, &h)
	if err != nil {
		return geometry.Rect{}, fmt.Errorf("slot %s frame: %w", ref, err)
	}

	return geometry.Rect{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)}, nil
}

// SlotDisplay reports the display a slot is attributed to, identified by
// connector name. An empty name means the slot is not placed yet.
func (e *Extension) SlotDisplay(ctx context.Context, ref platform.SlotRef) (geometry.Display, error) {
	var name string
	var x, y, w, h int32
	err := e.obj.CallWithContext(ctx, iface+".GetSlotDisplay", 0, string(ref)).Store(&name, &x, &y, &w, &h)
	if err != nil {
		return geometry.Display{}, fmt.Errorf("slot %s display: %w", ref, err)
	}

	return geometry.Display{
		ID:     name,
		Bounds: geometry.Rect{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)},
	}, nil
}

// RemoveSlot unregisters a slot from the panel.
func (e *Extension) RemoveSlot(ctx context.Context, ref platform.SlotRef) error {
	call := e.obj.CallWithContext(ctx, iface+".RemoveSlot", 0, string(ref))
	if call.Err != nil {
		return fmt.Errorf("remove slot %s: %w", ref, call.Err)
	}
	return nil
}

// ItemFrame reads the frame of a hosted StatusNotifier item. The
// StatusNotifier protocol carries no layout, so item geometry comes from
// the extension that draws the items.
func (e *Extension) ItemFrame(ctx context.Context, service, path string) (geometry.Rect, error) {
	var x, y, w, h int32
	err := e.obj.CallWithContext(ctx, iface+".GetItemGeometry", 0, service, path).Store(&x, &y, &w, &h)
	if err != nil {
		return geometry.Rect{}, fmt.Errorf("item %s%s frame: %w", service, path, err)
	}

	return geometry.Rect{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)}, nil
}
