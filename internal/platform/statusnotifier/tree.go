// Package statusnotifier enumerates foreign tray items through the
// StatusNotifier protocol.
//
// The watcher's RegisteredStatusNotifierItems property is the source of
// truth for which services own items; item attributes are read from each
// owner's org.kde.StatusNotifierItem object. The protocol carries no
// layout, so on-screen frames come from a GeometrySource, in practice the
// trayfold panel extension.
package statusnotifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/shared/geometry"
)

const (
	// WatcherBusName is the well-known name of the StatusNotifierWatcher.
	WatcherBusName = "org.kde.StatusNotifierWatcher"

	// WatcherPath is the watcher's object path.
	WatcherPath = "/StatusNotifierWatcher"

	// WatcherInterface is the watcher's interface name.
	WatcherInterface = "org.kde.StatusNotifierWatcher"

	// ItemInterface is the per-item interface name.
	ItemInterface = "org.kde.StatusNotifierItem"

	// DefaultItemPath is assumed when an item registered by bare bus name.
	DefaultItemPath = "/StatusNotifierItem"

	propertiesGet = "org.freedesktop.DBus.Properties.Get"
)

// GeometrySource reports on-screen frames for hosted items.
type GeometrySource interface {
	ItemFrame(ctx context.Context, service, path string) (geometry.Rect, error)
}

// Tree reads the registered item set and per-item attributes.
type Tree struct {
	conn   *dbus.Conn
	geo    GeometrySource
	logger *logging.Logger
}

var _ platform.ItemTree = (*Tree)(nil)

// New creates a Tree over an established session bus connection.
func New(conn *dbus.Conn, geo GeometrySource, logger *logging.Logger) *Tree {
	return &Tree{conn: conn, geo: geo, logger: logger}
}

// Services lists the unique bus names that currently own registered items,
// sorted. A missing watcher yields an error; callers degrade to empty.
func (t *Tree) Services(ctx context.Context) ([]string, error) {
	entries, err := t.registered(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	services := make([]string, 0, len(entries))

	for _, entry := range entries {
		service, _ := splitItemName(entry)
		if service == "" {
			continue
		}
		if _, dup := seen[service]; dup {
			continue
		}
		seen[service] = struct{}{}
		services = append(services, service)
	}

	sort.Strings(services)
	return services, nil
}

// HasItems reports whether a service has registered at least one item.
func (t *Tree) HasItems(ctx context.Context, service string) (bool, error) {
	entries, err := t.registered(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if svc, _ := splitItemName(entry); svc == service {
			return true, nil
		}
	}
	return false, nil
}

// Items enumerates the items one service registered. Items whose identity
// cannot be read are skipped; other attribute failures leave the field
// empty but keep the item.
func (t *Tree) Items(ctx context.Context, service string) ([]platform.TrayItem, error) {
	entries, err := t.registered(ctx)
	if err != nil {
		return nil, err
	}

	var items []platform.TrayItem
	for _, entry := range entries {
		svc, path := splitItemName(entry)
		if svc != service {
			continue
		}

		item, err := t.buildItem(ctx, svc, path)
		if err != nil {
			t.logger.Debug("skipping unresolvable item",
				zap.String("service", svc),
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// ItemFrame reads an item's on-screen frame from the geometry source.
func (t *Tree) ItemFrame(ctx context.Context, item platform.TrayItem) (geometry.Rect, error) {
	return t.geo.ItemFrame(ctx, item.Service, item.Path)
}

// Activate invokes the item's primary action at its on-screen midpoint.
func (t *Tree) Activate(ctx context.Context, item platform.TrayItem) error {
	var x, y int32
	if frame, err := t.ItemFrame(ctx, item); err == nil && !frame.IsZero() {
		center := frame.Center()
		x, y = int32(center.X), int32(center.Y)
	}

	obj := t.conn.Object(item.Service, dbus.ObjectPath(item.Path))
	call := obj.CallWithContext(ctx, ItemInterface+".Activate", 0, x, y)
	if call.Err != nil {
		return fmt.Errorf("activate %s%s: %w", item.Service, item.Path, call.Err)
	}
	return nil
}

// Actions lists the item interface's method names by introspection, the
// fallback for owners that reject Activate.
func (t *Tree) Actions(ctx context.Context, item platform.TrayItem) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obj := t.conn.Object(item.Service, dbus.ObjectPath(item.Path))
	node, err := introspect.Call(obj)
	if err != nil {
		return nil, fmt.Errorf("introspect %s%s: %w", item.Service, item.Path, err)
	}

	var actions []string
	for _, ifc := range node.Interfaces {
		if ifc.Name != ItemInterface {
			continue
		}
		for _, m := range ifc.Methods {
			actions = append(actions, m.Name)
		}
	}
	return actions, nil
}

// registered reads the watcher's item list.
func (t *Tree) registered(ctx context.Context) ([]string, error) {
	obj := t.conn.Object(WatcherBusName, WatcherPath)

	var v dbus.Variant
	err := obj.CallWithContext(ctx, propertiesGet, 0, WatcherInterface, "RegisteredStatusNotifierItems").Store(&v)
	if err != nil {
		return nil, fmt.Errorf("registered items: %w", err)
	}

	entries, ok := v.Value().([]string)
	if !ok {
		return nil, fmt.Errorf("registered items: unexpected property type %T", v.Value())
	}
	return entries, nil
}

// buildItem reads one item's attributes. The Id property doubles as the
// resolvability probe; everything else is best effort.
func (t *Tree) buildItem(ctx context.Context, service, path string) (platform.TrayItem, error) {
	obj := t.conn.Object(service, dbus.ObjectPath(path))

	item := platform.TrayItem{Service: service, Path: path}

	v, err := t.prop(ctx, obj, "Id")
	if err != nil {
		return platform.TrayItem{}, err
	}
	v.Store(&item.ID)

	if v, err := t.prop(ctx, obj, "Title"); err == nil {
		v.Store(&item.Title)
	}
	if v, err := t.prop(ctx, obj, "IconName"); err == nil {
		v.Store(&item.IconName)
	}
	if v, err := t.prop(ctx, obj, "Category"); err == nil {
		v.Store(&item.Category)
	}
	if v, err := t.prop(ctx, obj, "Status"); err == nil {
		v.Store(&item.Status)
	}

	if item.IconName == "" {
		if v, err := t.prop(ctx, obj, "IconPixmap"); err == nil {
			item.IconPixmap = largestPixmap(v.Value())
		}
	}

	return item, nil
}

func (t *Tree) prop(ctx context.Context, obj dbus.BusObject, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, propertiesGet, 0, ItemInterface, name).Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("property %s: %w", name, err)
	}
	return v, nil
}

// splitItemName splits a watcher entry "<uniqueName>/<objectPath>" into its
// parts. Entries registered by bare bus name get the default item path.
func splitItemName(entry string) (service, path string) {
	service, rest, ok := strings.Cut(entry, "/")
	if !ok {
		return service, DefaultItemPath
	}
	return service, "/" + rest
}

// largestPixmap picks the bytes of the biggest frame in an IconPixmap
// property value, shaped as a(iiay): [width, height, argb bytes].
func largestPixmap(value any) []byte {
	frames, ok := value.([][]any)
	if !ok {
		return nil
	}

	var best []byte
	bestArea := int32(0)

	for _, frame := range frames {
		if len(frame) != 3 {
			continue
		}
		w, ok := frame[0].(int32)
		if !ok {
			continue
		}
		h, ok := frame[1].(int32)
		if !ok {
			continue
		}
		bytes, ok := frame[2].([]byte)
		if !ok {
			continue
		}
		if area := w * h; area > bestArea {
			bestArea = area
			best = bytes
		}
	}

	return best
}
