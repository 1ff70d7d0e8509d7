// Package platform defines the desktop capabilities the engine consumes.
//
// Four surfaces back the engine: the trayfold panel extension (slot geometry
// and declared widths), the StatusNotifier item tree (foreign tray items and
// their on-screen frames), the remote-input portal (permission and synthetic
// drags), and a permission-change feed. Each is an interface here so the
// engine can run against scripted fakes in tests; the godbus-backed
// implementations live in the panel, statusnotifier, and portal subpackages.
package platform

import (
	"context"

	"github.com/trayfold/trayfold/internal/shared/geometry"
)

// SlotRef identifies a reserved slot inside the panel extension.
type SlotRef string

// WindowSystem drives trayfold's reserved slots in the panel.
//
// Frames are reported in global screen coordinates. A zero Rect means the
// panel has not laid the slot out yet; callers treat that as unresolved,
// never as an error.
type WindowSystem interface {
	// EnsureSlot registers a named slot with the given declared width,
	// returning the existing ref if the slot is already registered.
	EnsureSlot(ctx context.Context, name string, width int) (SlotRef, error)

	// SetSlotWidth updates a slot's declared width.
	SetSlotWidth(ctx context.Context, ref SlotRef, width int) error

	// SlotFrame reads a slot's on-screen frame.
	SlotFrame(ctx context.Context, ref SlotRef) (geometry.Rect, error)

	// SlotDisplay reports which display a slot is laid out on. A zero
	// Display means the panel cannot attribute the slot yet.
	SlotDisplay(ctx context.Context, ref SlotRef) (geometry.Display, error)

	// RemoveSlot unregisters a slot.
	RemoveSlot(ctx context.Context, ref SlotRef) error
}

// TrayItem is one foreign StatusNotifier item.
//
// Service is the owning connection's unique bus name and is the stable
// process identity. Path distinguishes multiple items registered by one
// service.
type TrayItem struct {
	Service  string
	Path     string
	ID       string
	Title    string
	IconName string

	// IconPixmap holds raw ARGB32 bytes of the item's largest pixmap when
	// the item publishes no themed icon name.
	IconPixmap []byte

	Category string
	Status   string
}

// ItemTree enumerates foreign tray items and their geometry.
type ItemTree interface {
	// Services lists the bus names currently owning registered tray items.
	Services(ctx context.Context) ([]string, error)

	// HasItems reports whether a service has registered at least one item.
	HasItems(ctx context.Context, service string) (bool, error)

	// Items enumerates the items registered by one service. Items whose
	// properties cannot be resolved at all are skipped.
	Items(ctx context.Context, service string) ([]TrayItem, error)

	// ItemFrame reads an item's on-screen frame. A zero Rect means the
	// panel has not placed the item.
	ItemFrame(ctx context.Context, item TrayItem) (geometry.Rect, error)

	// Activate invokes the item's primary action.
	Activate(ctx context.Context, item TrayItem) error

	// Actions lists the method names an item supports, the fallback used
	// when Activate is not implemented by the owner.
	Actions(ctx context.Context, item TrayItem) ([]string, error)
}

// PermissionGate reports whether trayfold may read foreign items and
// synthesize input.
type PermissionGate interface {
	// Trusted reports the current grant without prompting.
	Trusted(ctx context.Context) bool

	// Request asks the user for the grant, prompting if needed.
	Request(ctx context.Context) (bool, error)

	// Changes delivers the new trust value whenever the grant flips,
	// so consumers react to revocation without a restart.
	Changes() <-chan bool
}

// Synthesizer posts synthetic input through the remote-input portal.
type Synthesizer interface {
	// Drag posts a modifier-held press, move, release sequence between two
	// screen points. A nil error means the gesture was queued, not that it
	// landed; the portal offers no delivery confirmation.
	Drag(ctx context.Context, from, to geometry.Point) error
}
