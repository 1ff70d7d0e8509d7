// Package engine composes the fold pipeline behind a single facade.
//
// The engine owns the panel loop, the slot view, the fold state machine,
// the safety monitor, the tray scanner with its caches, the relocation
// mover and the event bus, and ties their lifecycles together: entering
// Hidden starts position monitoring, leaving it stops monitoring, and an
// unsafe streak expands the tray through the same state machine any
// caller would use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/events"
	"github.com/trayfold/trayfold/internal/hiding"
	"github.com/trayfold/trayfold/internal/icons"
	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/infrastructure/tracing"
	"github.com/trayfold/trayfold/internal/mainthread"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/relocate"
	"github.com/trayfold/trayfold/internal/safety"
	"github.com/trayfold/trayfold/internal/scan"
	"github.com/trayfold/trayfold/internal/slots"
)

// ErrOwnerNotFound is returned when a key resolves to no known tray
// presence.
var ErrOwnerNotFound = errors.New("owner not found")

// Deps bundles the platform surfaces the engine drives. Production
// wiring passes the D-Bus implementations; tests pass platformtest
// fakes.
type Deps struct {
	WindowSystem platform.WindowSystem
	Tree         platform.ItemTree
	Gate         platform.PermissionGate
	Synth        platform.Synthesizer

	// ExcludeServices names bus endpoints owned by this process, kept
	// out of every scan.
	ExcludeServices []string
}

// Status is a point-in-time snapshot of the engine for status queries
// and stream replay.
type Status struct {
	State        string `json:"state"`
	Pinned       bool   `json:"pinned"`
	Monitoring   bool   `json:"monitoring"`
	Trusted      bool   `json:"trusted"`
	AlwaysHidden bool   `json:"always_hidden"`
}

// Engine is the facade the API layers call into.
type Engine struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	loop    *mainthread.Loop
	view    *slots.View
	bus     *events.Bus
	machine *hiding.Machine
	monitor *safety.Monitor
	scanner *scan.Scanner
	caches  *scan.Cache
	mover   *relocate.Mover
	icons   *icons.Service

	tree platform.ItemTree
	gate platform.PermissionGate

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
	closed      chan struct{}
}

// New wires the engine. Start must run before any operation is called.
func New(
	cfg *config.Config,
	deps Deps,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *logging.Logger,
) *Engine {
	loop := mainthread.New()
	view := slots.NewView(deps.WindowSystem, logger)
	bus := events.NewBus()

	scanner := scan.NewScanner(deps.Tree, deps.Gate, metrics, tracer, logger, deps.ExcludeServices)
	caches := scan.NewCache(scanner, cfg.Scan, metrics, logger)

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		loop:    loop,
		view:    view,
		bus:     bus,
		scanner: scanner,
		caches:  caches,
		icons:   icons.New(cfg.Icons, logger),
		tree:    deps.Tree,
		gate:    deps.Gate,
		closed:  make(chan struct{}),
	}

	// The monitor's recovery goes through the machine so it carries the
	// same re-entrancy guard, cache flush and event as a user expand.
	e.monitor = safety.NewMonitor(view, loop, bus, metrics, logger, cfg.Safety,
		func(ctx context.Context) bool { return e.machine.Show(ctx) })
	e.machine = hiding.NewMachine(view, loop, e.monitor, caches, bus, metrics, logger, cfg.Fold)
	e.machine.OnHidden = func() { e.monitor.Start(context.Background()) }
	e.machine.OnExpanded = e.monitor.Stop

	// Relocation reads positions through the scanner, never the caches:
	// a drag computed from stale coordinates lands in the wrong place.
	e.mover = relocate.NewMover(view, e.machine, scanner, caches, deps.Gate, deps.Synth,
		metrics, tracer, logger, cfg.Relocate)

	return e
}

// Start registers the panel slots, warms the caches if the portal grant
// is already held, and begins watching for grant changes.
func (e *Engine) Start(ctx context.Context) error {
	go e.loop.Run()

	if err := e.loop.Call(ctx, func() error {
		return e.view.Setup(ctx, e.cfg.Fold.CompactWidth, e.cfg.Fold.HiddenWidth, e.cfg.Fold.AlwaysHidden)
	}); err != nil {
		return fmt.Errorf("registering panel slots: %w", err)
	}

	if !e.monitor.Safe(ctx) {
		e.logger.Warn("separator sits at or past the anchor; folds will be refused until the panel is rearranged")
	}

	if e.gate.Trusted(ctx) {
		e.caches.Prewarm()
	} else {
		e.logger.Info("portal grant missing; tray reads stay empty until it is granted")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	e.cancelWatch = cancel
	e.watchDone = make(chan struct{})
	go e.watchPermission(watchCtx)

	e.logger.Info("engine started",
		zap.String("state", e.machine.State().String()),
		zap.Bool("always_hidden", e.cfg.Fold.AlwaysHidden),
	)
	return nil
}

// watchPermission reacts to portal grant flips for the life of the
// engine. A revocation must stop in-flight scans immediately, not at
// the next TTL expiry.
func (e *Engine) watchPermission(ctx context.Context) {
	defer close(e.watchDone)
	for {
		select {
		case <-ctx.Done():
			return
		case trusted, ok := <-e.gate.Changes():
			if !ok {
				return
			}
			if trusted {
				e.logger.Info("portal grant acquired; warming tray caches")
				e.caches.Prewarm()
				continue
			}
			e.logger.Warn("portal grant revoked; discarding tray caches")
			e.caches.InvalidateForRevocation()
		}
	}
}

// Close stops monitoring, restores the separator to its compact width
// and shuts the panel loop down. Safe to call more than once.
func (e *Engine) Close() error {
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
	}

	if e.cancelWatch != nil {
		e.cancelWatch()
		<-e.watchDone
	}
	e.monitor.Stop()
	e.machine.Close()

	// Leave the panel usable: a daemon exit must not strand the fold
	// zone off screen.
	if e.machine.State() == hiding.Hidden {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.loop.Call(ctx, func() error {
			return e.view.SetDelimiterWidth(ctx, e.cfg.Fold.CompactWidth)
		}); err != nil {
			e.logger.Warn("restoring separator width on shutdown", zap.Error(err))
		}
		cancel()
	}

	e.bus.Close()
	e.loop.Close()
	return nil
}

// State reports the current fold state.
func (e *Engine) State() hiding.State {
	return e.machine.State()
}

// Pinned reports whether the current expansion is pinned open.
func (e *Engine) Pinned() bool {
	return e.machine.Pinned()
}

// Status snapshots the engine for status queries.
func (e *Engine) Status(ctx context.Context) Status {
	return Status{
		State:        e.machine.State().String(),
		Pinned:       e.machine.Pinned(),
		Monitoring:   e.monitor.Running(),
		Trusted:      e.gate.Trusted(ctx),
		AlwaysHidden: e.cfg.Fold.AlwaysHidden,
	}
}

// Hide collapses the fold zone. False means the transition was refused,
// dropped as overlapping, or found nothing to do.
func (e *Engine) Hide(ctx context.Context) bool {
	return e.machine.Hide(ctx)
}

// Show expands the fold zone.
func (e *Engine) Show(ctx context.Context) bool {
	return e.machine.Show(ctx)
}

// Toggle flips between Hidden and Expanded.
func (e *Engine) Toggle(ctx context.Context) bool {
	return e.machine.Toggle(ctx)
}

// Reveal expands the fold zone, optionally pinning it open so the
// rehide timer and post-relocation restore leave it alone.
func (e *Engine) Reveal(ctx context.Context, pinned bool) bool {
	return e.machine.Reveal(ctx, pinned)
}

// Owners lists every foreign tray presence, cached.
func (e *Engine) Owners(ctx context.Context) ([]scan.Owner, error) {
	return e.caches.Owners(ctx)
}

// Positioned lists the tray left to right, each item stamped with the
// zone its coordinates place it in.
func (e *Engine) Positioned(ctx context.Context) ([]scan.PositionedItem, error) {
	items, err := e.caches.Positioned(ctx)
	if err != nil {
		return nil, err
	}
	e.stampZones(ctx, items)
	return items, nil
}

// stampZones derives each item's zone from the live separator edges.
// While the panel has not resolved the separator, nothing is off
// screen, so everything counts as visible.
func (e *Engine) stampZones(ctx context.Context, items []scan.PositionedItem) {
	boundary, err := e.view.Boundary(ctx)
	if err != nil {
		for i := range items {
			items[i].Zone = scan.ZoneVisible
		}
		return
	}
	extra, hasExtra, err := e.view.ExtraBoundary(ctx)
	if err != nil {
		hasExtra = false
	}
	for i := range items {
		items[i].Zone = scan.Classify(items[i].X, boundary, extra, hasExtra)
	}
}

// Search matches owners against a glob pattern, cached.
func (e *Engine) Search(ctx context.Context, pattern string) ([]scan.Owner, error) {
	return e.caches.Search(ctx, pattern)
}

// Relocate drags the owner named by key into the target zone. The
// result is optimistic; the panel applies the reorder asynchronously.
func (e *Engine) Relocate(ctx context.Context, key string, target scan.Zone) bool {
	return e.mover.Relocate(ctx, key, target)
}

// Icon resolves an owner's icon to raw image bytes and a content type.
func (e *Engine) Icon(ctx context.Context, key string) ([]byte, string, error) {
	owner, err := e.findOwner(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return e.icons.Bytes(ctx, owner)
}

// Activate presses the owner's primary action. When the item refuses
// the press, the error lists whatever methods the item does export so
// the caller can see what would work instead.
func (e *Engine) Activate(ctx context.Context, key string) error {
	owner, err := e.findOwner(ctx, key)
	if err != nil {
		return err
	}
	item := owner.Item()
	if item.Service == "" {
		return fmt.Errorf("owner %s carries no bus address", key)
	}

	if err := e.tree.Activate(ctx, item); err != nil {
		actions, aerr := e.tree.Actions(ctx, item)
		if aerr != nil || len(actions) == 0 {
			return fmt.Errorf("activating %s: %w", key, err)
		}
		return fmt.Errorf("activating %s: %w (item exports %s)", key, err, strings.Join(actions, ", "))
	}

	e.logger.Debug("activated tray item", zap.String("owner", owner.OwnerID))
	return nil
}

func (e *Engine) findOwner(ctx context.Context, key string) (scan.Owner, error) {
	owners, err := e.caches.Owners(ctx)
	if err != nil {
		return scan.Owner{}, err
	}
	for _, o := range owners {
		if o.Key() == key {
			return o, nil
		}
	}
	// Fall back to owner identity; sub-items sharing it are
	// interchangeable for icons and presses.
	for _, o := range owners {
		if o.OwnerID == key {
			return o, nil
		}
	}
	return scan.Owner{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, key)
}

// Invalidate flushes both scan caches.
func (e *Engine) Invalidate() {
	e.caches.Invalidate()
}

// Prewarm refreshes both scan caches in the background.
func (e *Engine) Prewarm() {
	e.caches.Prewarm()
}

// Trusted reports whether the portal grant is currently held.
func (e *Engine) Trusted(ctx context.Context) bool {
	return e.gate.Trusted(ctx)
}

// RequestPermission prompts for the portal grant if it is not held. The
// grant change itself arrives through the watcher, which prewarms.
func (e *Engine) RequestPermission(ctx context.Context) (bool, error) {
	granted, err := e.gate.Request(ctx)
	if err != nil {
		return false, fmt.Errorf("requesting portal grant: %w", err)
	}
	return granted, nil
}

// Subscribe registers an event channel under id.
func (e *Engine) Subscribe(id string, ch chan<- events.Event) error {
	return e.bus.Subscribe(id, ch)
}

// Unsubscribe removes a subscriber.
func (e *Engine) Unsubscribe(id string) error {
	return e.bus.Unsubscribe(id)
}

// EventStats reports bus delivery counters.
func (e *Engine) EventStats() events.Stats {
	return e.bus.Stats()
}
