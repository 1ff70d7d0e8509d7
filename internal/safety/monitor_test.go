package safety

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayfold/trayfold/internal/events"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/mainthread"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/platform/platformtest"
	"github.com/trayfold/trayfold/internal/shared/geometry"
	"github.com/trayfold/trayfold/internal/slots"
)

type fixture struct {
	monitor   *Monitor
	ws        *platformtest.FakeWindowSystem
	view      *slots.View
	anchor    platform.SlotRef
	delimiter platform.SlotRef
	expands   *atomic.Int32
	events    chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	ws := platformtest.NewFakeWindowSystem()
	view := slots.NewView(ws, logging.NewNop())
	require.NoError(t, view.Setup(ctx, 20, 10000, false))

	anchor, err := view.Anchor(ctx)
	require.NoError(t, err)
	delimiter, err := view.Delimiter(ctx)
	require.NoError(t, err)

	loop := mainthread.New()
	go loop.Run()
	t.Cleanup(loop.Close)

	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })
	ch := make(chan events.Event, 16)
	require.NoError(t, bus.Subscribe("test", ch))

	var expands atomic.Int32
	cfg := config.SafetyConfig{CheckInterval: 5 * time.Millisecond, UnsafeThreshold: 3}

	monitor := NewMonitor(view, loop, bus, monitoring.NewMetricsWith(prometheus.NewRegistry()),
		logging.NewNop(), cfg, func(context.Context) bool {
			expands.Add(1)
			return true
		})
	t.Cleanup(monitor.Stop)

	return &fixture{
		monitor:   monitor,
		ws:        ws,
		view:      view,
		anchor:    anchor.Ref,
		delimiter: delimiter.Ref,
		expands:   &expands,
		events:    ch,
	}
}

func (f *fixture) placeSafe() {
	f.ws.SetFrame(f.anchor, geometry.Rect{X: 1500, Y: 0, Width: 24, Height: 24})
	f.ws.SetFrame(f.delimiter, geometry.Rect{X: 1400, Y: 0, Width: 20, Height: 24})
}

func (f *fixture) placeUnsafe() {
	f.ws.SetFrame(f.anchor, geometry.Rect{X: 1500, Y: 0, Width: 24, Height: 24})
	f.ws.SetFrame(f.delimiter, geometry.Rect{X: 1550, Y: 0, Width: 20, Height: 24})
}

func TestSafeWithUnresolvedFrames(t *testing.T) {
	f := newFixture(t)

	// No frames scripted: startup settling must count as safe.
	assert.True(t, f.monitor.Safe(context.Background()))
}

func TestSafeCrossDisplay(t *testing.T) {
	f := newFixture(t)
	f.placeUnsafe()
	f.ws.SetDisplay(f.anchor, geometry.Display{ID: "DP-1"})
	f.ws.SetDisplay(f.delimiter, geometry.Display{ID: "HDMI-1"})

	assert.True(t, f.monitor.Safe(context.Background()),
		"cross-display coordinates must not produce false positives")
}

func TestSafeEdgeComparison(t *testing.T) {
	tests := []struct {
		name       string
		delimiterX float64
		safe       bool
	}{
		{name: "strictly left of anchor", delimiterX: 1400, safe: true},
		{name: "right edge touching anchor", delimiterX: 1480, safe: false},
		{name: "past anchor", delimiterX: 1550, safe: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ws.SetFrame(f.anchor, geometry.Rect{X: 1500, Y: 0, Width: 24, Height: 24})
			f.ws.SetFrame(f.delimiter, geometry.Rect{X: tt.delimiterX, Y: 0, Width: 20, Height: 24})

			assert.Equal(t, tt.safe, f.monitor.Safe(context.Background()))
		})
	}
}

func TestCheckDebounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two unsafe ticks then a safe one: the counter must reset with no
	// recovery.
	f.placeUnsafe()
	f.monitor.Check(ctx)
	f.monitor.Check(ctx)

	f.placeSafe()
	f.monitor.Check(ctx)
	assert.Equal(t, int32(0), f.expands.Load())

	// Two more unsafe ticks: still below threshold after the reset.
	f.placeUnsafe()
	f.monitor.Check(ctx)
	f.monitor.Check(ctx)
	assert.Equal(t, int32(0), f.expands.Load())

	// Third consecutive unsafe tick: exactly one recovery.
	f.monitor.Check(ctx)
	assert.Equal(t, int32(1), f.expands.Load())

	select {
	case evt := <-f.events:
		assert.Equal(t, events.TypePositionUnsafe, evt.Type)
		assert.Equal(t, "auto-recovery", evt.Reason)
	case <-time.After(time.Second):
		t.Fatal("no warning event")
	}

	// The counter restarted: the next two ticks stay quiet.
	f.monitor.Check(ctx)
	f.monitor.Check(ctx)
	assert.Equal(t, int32(1), f.expands.Load())
}

func TestPeriodicRecovery(t *testing.T) {
	f := newFixture(t)
	f.placeUnsafe()

	f.monitor.Start(context.Background())
	assert.True(t, f.monitor.Running())

	assert.Eventually(t, func() bool {
		return f.expands.Load() >= 1
	}, time.Second, 5*time.Millisecond, "sustained drift never recovered")

	f.monitor.Stop()
	assert.False(t, f.monitor.Running())
}

func TestStartIdempotent(t *testing.T) {
	f := newFixture(t)
	f.placeSafe()

	ctx := context.Background()
	f.monitor.Start(ctx)
	f.monitor.Start(ctx)
	assert.True(t, f.monitor.Running())

	f.monitor.Stop()
	f.monitor.Stop()
	assert.False(t, f.monitor.Running())
}
