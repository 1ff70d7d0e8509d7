package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/events"
	"github.com/trayfold/trayfold/internal/hiding"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/infrastructure/tracing"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/platform/platformtest"
	"github.com/trayfold/trayfold/internal/scan"
	"github.com/trayfold/trayfold/internal/shared/geometry"
)

type fixture struct {
	engine *Engine
	ws     *platformtest.FakeWindowSystem
	tree   *platformtest.FakeItemTree
	gate   *platformtest.FakePermissionGate
	synth  *platformtest.FakeSynthesizer
	events chan events.Event

	anchor    platform.SlotRef
	delimiter platform.SlotRef
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Fold.RehideEnabled = false
	cfg.Safety.CheckInterval = 5 * time.Millisecond
	cfg.Relocate.SettleDelay = time.Millisecond
	cfg.Relocate.InvalidateDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	ws := platformtest.NewFakeWindowSystem()
	tree := platformtest.NewFakeItemTree()
	gate := platformtest.NewFakePermissionGate(true)
	synth := platformtest.NewFakeSynthesizer()

	eng := New(cfg, Deps{WindowSystem: ws, Tree: tree, Gate: gate, Synth: synth},
		monitoring.NewMetricsWith(prometheus.NewRegistry()),
		tracing.New("test", zap.NewNop()),
		logging.NewNop(),
	)
	require.NoError(t, eng.Start(ctx))
	t.Cleanup(func() { _ = eng.Close() })

	// Startup prewarm runs in the background; wait for its two scans so
	// call counting in tests starts from a quiet baseline.
	require.Eventually(t, func() bool { return tree.ServicesCalls() >= 2 },
		2*time.Second, time.Millisecond)

	anchor, err := eng.view.Anchor(ctx)
	require.NoError(t, err)
	delimiter, err := eng.view.Delimiter(ctx)
	require.NoError(t, err)

	ch := make(chan events.Event, 32)
	require.NoError(t, eng.Subscribe("probe", ch))

	return &fixture{
		engine:    eng,
		ws:        ws,
		tree:      tree,
		gate:      gate,
		synth:     synth,
		events:    ch,
		anchor:    anchor.Ref,
		delimiter: delimiter.Ref,
	}
}

func (f *fixture) placeSafe() {
	f.ws.SetFrame(f.anchor, geometry.Rect{X: 1500, Y: 0, Width: 24, Height: 24})
	f.ws.SetFrame(f.delimiter, geometry.Rect{X: 1400, Y: 0, Width: 20, Height: 24})
}

func (f *fixture) addItem(service, path, id, title string, x float64) platform.TrayItem {
	item := platform.TrayItem{Service: service, Path: path, ID: id, Title: title}
	f.tree.AddItem(item, geometry.Rect{X: x, Y: 4, Width: 24, Height: 24})
	return item
}

func waitEvent(t *testing.T, ch <-chan events.Event, want events.Type) events.Event {
	t.Helper()
	select {
	case evt := <-ch:
		require.Equal(t, want, evt.Type)
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", want)
		return events.Event{}
	}
}

func TestStartRegistersSlots(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, 24, f.ws.Width(f.anchor))
	assert.Equal(t, 20, f.ws.Width(f.delimiter))

	_, ok, err := f.engine.view.Extra(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "extra delimiter must not exist without the always-hidden zone")
}

func TestStartRegistersExtraSlot(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Fold.AlwaysHidden = true })

	extra, ok, err := f.engine.view.Extra(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10000, f.ws.Width(extra.Ref))
}

func TestToggleLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	f.placeSafe()
	ctx := context.Background()

	require.True(t, f.engine.Toggle(ctx))
	assert.Equal(t, hiding.Hidden, f.engine.State())
	assert.Equal(t, 10000, f.ws.Width(f.delimiter))
	waitEvent(t, f.events, events.TypeHidden)

	require.True(t, f.engine.Toggle(ctx))
	assert.Equal(t, hiding.Expanded, f.engine.State())
	assert.Equal(t, 20, f.ws.Width(f.delimiter))
	waitEvent(t, f.events, events.TypeShown)
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.placeSafe()
	ctx := context.Background()

	st := f.engine.Status(ctx)
	assert.Equal(t, "expanded", st.State)
	assert.False(t, st.Pinned)
	assert.False(t, st.Monitoring)
	assert.True(t, st.Trusted)
	assert.False(t, st.AlwaysHidden)

	require.True(t, f.engine.Hide(ctx))
	assert.Eventually(t, func() bool {
		st := f.engine.Status(ctx)
		return st.State == "hidden" && st.Monitoring
	}, 2*time.Second, 5*time.Millisecond, "hiding must start position monitoring")
}

func TestPositionedStampsZones(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Fold.AlwaysHidden = true })
	f.placeSafe()
	ctx := context.Background()

	extra, ok, err := f.engine.view.Extra(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	f.ws.SetFrame(extra.Ref, geometry.Rect{X: 800, Y: 0, Width: 20, Height: 24})

	f.addItem(":1.2", "/StatusNotifierItem", "updater", "Updater", 700)
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)
	f.addItem(":1.7", "/StatusNotifierItem", "volume", "Volume", 1450)

	items, err := f.engine.Positioned(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, scan.ZoneAlwaysHidden, items[0].Zone)
	assert.Equal(t, scan.ZoneHidden, items[1].Zone)
	assert.Equal(t, scan.ZoneVisible, items[2].Zone)
}

func TestPositionedUnresolvedSeparatorMeansVisible(t *testing.T) {
	f := newFixture(t, nil)
	// Separator frames never placed: the panel is still settling.
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	items, err := f.engine.Positioned(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, scan.ZoneVisible, items[0].Zone)
}

func TestRelocateRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.placeSafe()
	ctx := context.Background()
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	require.True(t, f.engine.Hide(ctx))
	waitEvent(t, f.events, events.TypeHidden)

	require.True(t, f.engine.Relocate(ctx, ":1.5/StatusNotifierItem", scan.ZoneVisible))
	waitEvent(t, f.events, events.TypeShown)

	drags := f.synth.Drags()
	require.Len(t, drags, 1)
	assert.InDelta(t, 1012, drags[0].From.X, 0.1)
	assert.InDelta(t, 1470, drags[0].To.X, 0.1, "drop lands right of the separator plus margin")

	// The deferred restore re-collapses once the panel had time to
	// apply the reorder.
	waitEvent(t, f.events, events.TypeHidden)
	assert.Equal(t, hiding.Hidden, f.engine.State())
}

func TestRelocatePinnedRevealStaysOpen(t *testing.T) {
	f := newFixture(t, nil)
	f.placeSafe()
	ctx := context.Background()
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	require.True(t, f.engine.Hide(ctx))
	waitEvent(t, f.events, events.TypeHidden)
	require.True(t, f.engine.Reveal(ctx, true))
	waitEvent(t, f.events, events.TypeShown)

	require.True(t, f.engine.Relocate(ctx, "nm-applet", scan.ZoneHidden))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, hiding.Expanded, f.engine.State(), "pinned expansion must survive relocation")
	assert.True(t, f.engine.Pinned())
}

func TestAutoRecoveryExpandsThroughMachine(t *testing.T) {
	f := newFixture(t, nil)
	f.placeSafe()
	ctx := context.Background()

	require.True(t, f.engine.Hide(ctx))
	waitEvent(t, f.events, events.TypeHidden)

	// The separator drifts onto the anchor while hidden.
	f.ws.SetFrame(f.delimiter, geometry.Rect{X: 1550, Y: 0, Width: 20, Height: 24})

	evt := waitEvent(t, f.events, events.TypePositionUnsafe)
	assert.Equal(t, "auto-recovery", evt.Reason)
	waitEvent(t, f.events, events.TypeShown)

	assert.Equal(t, hiding.Expanded, f.engine.State())
	assert.Equal(t, 20, f.ws.Width(f.delimiter))
	assert.False(t, f.engine.Status(ctx).Monitoring, "recovery must stop the monitor with the expansion")
}

func TestPermissionLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	owners, err := f.engine.Owners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)

	f.gate.SetTrusted(false)
	assert.Eventually(t, func() bool {
		owners, err := f.engine.Owners(ctx)
		return err == nil && len(owners) == 0
	}, 2*time.Second, 5*time.Millisecond, "revocation must flush cached results")

	calls := f.tree.ServicesCalls()
	f.gate.SetTrusted(true)
	assert.Eventually(t, func() bool {
		return f.tree.ServicesCalls() >= calls+2
	}, 2*time.Second, 5*time.Millisecond, "re-grant must prewarm both caches")

	owners, err = f.engine.Owners(ctx)
	require.NoError(t, err)
	assert.Len(t, owners, 1)
}

func TestSearchMatchesOwners(t *testing.T) {
	f := newFixture(t, nil)
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network Manager", 1000)
	f.addItem(":1.7", "/StatusNotifierItem", "volume", "Volume Control", 1450)

	owners, err := f.engine.Search(context.Background(), "net*")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "nm-applet", owners[0].OwnerID)
}

func TestActivatePressesItem(t *testing.T) {
	f := newFixture(t, nil)
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	require.NoError(t, f.engine.Activate(context.Background(), ":1.5/StatusNotifierItem"))

	activated := f.tree.Activated()
	require.Len(t, activated, 1)
	assert.Equal(t, ":1.5", activated[0].Service)
	assert.Equal(t, "/StatusNotifierItem", activated[0].Path)
}

func TestActivateResolvesOwnerIdentity(t *testing.T) {
	f := newFixture(t, nil)
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	require.NoError(t, f.engine.Activate(context.Background(), "nm-applet"))
	assert.Len(t, f.tree.Activated(), 1)
}

func TestActivateReportsExportedActions(t *testing.T) {
	f := newFixture(t, nil)
	item := f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)
	f.tree.ActivateErr = errors.New("unknown method Activate")
	f.tree.SetActions(item, []string{"SecondaryActivate", "ContextMenu"})

	err := f.engine.Activate(context.Background(), "nm-applet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SecondaryActivate")
	assert.Contains(t, err.Error(), "ContextMenu")
}

func TestActivateUnknownOwner(t *testing.T) {
	f := newFixture(t, nil)

	err := f.engine.Activate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestIconFromPixmap(t *testing.T) {
	f := newFixture(t, nil)
	pixmap := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	item := platform.TrayItem{
		Service:    ":1.5",
		Path:       "/StatusNotifierItem",
		ID:         "nm-applet",
		Title:      "Network",
		IconPixmap: pixmap,
	}
	f.tree.AddItem(item, geometry.Rect{X: 1000, Y: 4, Width: 24, Height: 24})

	data, contentType, err := f.engine.Icon(context.Background(), "nm-applet")
	require.NoError(t, err)
	assert.Equal(t, pixmap, data)
	assert.Equal(t, "image/png", contentType)
}

func TestIconUnknownOwner(t *testing.T) {
	f := newFixture(t, nil)

	_, _, err := f.engine.Icon(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestInvalidateForcesRescan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addItem(":1.5", "/StatusNotifierItem", "nm-applet", "Network", 1000)

	_, err := f.engine.Owners(ctx)
	require.NoError(t, err)
	calls := f.tree.ServicesCalls()

	_, err = f.engine.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, f.tree.ServicesCalls(), "second read must come from cache")

	f.engine.Invalidate()
	_, err = f.engine.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.tree.ServicesCalls())
}

func TestCloseRestoresSeparatorWidth(t *testing.T) {
	f := newFixture(t, nil)
	f.placeSafe()
	ctx := context.Background()

	require.True(t, f.engine.Hide(ctx))
	require.Equal(t, 10000, f.ws.Width(f.delimiter))

	require.NoError(t, f.engine.Close())
	assert.Equal(t, 20, f.ws.Width(f.delimiter), "shutdown must not strand the fold zone off screen")

	require.NoError(t, f.engine.Close(), "second close is a no-op")
}
