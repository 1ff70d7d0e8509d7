// Package platformtest provides scripted in-memory platform implementations
// for engine tests. Tests set frames, items, and failures directly and
// inspect the calls the code under test made.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/shared/geometry"
)

// WidthWrite records one SetSlotWidth call.
type WidthWrite struct {
	Ref   platform.SlotRef
	Width int
}

type slotState struct {
	name    string
	width   int
	frame   geometry.Rect
	display geometry.Display
}

// FakeWindowSystem implements platform.WindowSystem over in-memory slots.
type FakeWindowSystem struct {
	mu          sync.Mutex
	slots       map[platform.SlotRef]*slotState
	byName      map[string]platform.SlotRef
	widthWrites []WidthWrite

	// FrameErr and WidthErr, when set, fail the corresponding calls.
	FrameErr error
	WidthErr error
}

func NewFakeWindowSystem() *FakeWindowSystem {
	return &FakeWindowSystem{
		slots:  make(map[platform.SlotRef]*slotState),
		byName: make(map[string]platform.SlotRef),
	}
}

func (f *FakeWindowSystem) EnsureSlot(_ context.Context, name string, width int) (platform.SlotRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ref, ok := f.byName[name]; ok {
		return ref, nil
	}

	ref := platform.SlotRef("slot-" + name)
	f.slots[ref] = &slotState{name: name, width: width}
	f.byName[name] = ref
	return ref, nil
}

func (f *FakeWindowSystem) SetSlotWidth(_ context.Context, ref platform.SlotRef, width int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WidthErr != nil {
		return f.WidthErr
	}

	s, ok := f.slots[ref]
	if !ok {
		return fmt.Errorf("unknown slot %s", ref)
	}

	s.width = width
	f.widthWrites = append(f.widthWrites, WidthWrite{Ref: ref, Width: width})
	return nil
}

func (f *FakeWindowSystem) SlotFrame(_ context.Context, ref platform.SlotRef) (geometry.Rect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FrameErr != nil {
		return geometry.Rect{}, f.FrameErr
	}

	s, ok := f.slots[ref]
	if !ok {
		return geometry.Rect{}, fmt.Errorf("unknown slot %s", ref)
	}
	return s.frame, nil
}

func (f *FakeWindowSystem) SlotDisplay(_ context.Context, ref platform.SlotRef) (geometry.Display, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[ref]
	if !ok {
		return geometry.Display{}, fmt.Errorf("unknown slot %s", ref)
	}
	return s.display, nil
}

func (f *FakeWindowSystem) RemoveSlot(_ context.Context, ref platform.SlotRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[ref]
	if !ok {
		return fmt.Errorf("unknown slot %s", ref)
	}

	delete(f.byName, s.name)
	delete(f.slots, ref)
	return nil
}

// SetFrame scripts the frame the panel reports for a slot.
func (f *FakeWindowSystem) SetFrame(ref platform.SlotRef, frame geometry.Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[ref]; ok {
		s.frame = frame
	}
}

// SetDisplay scripts the display a slot is attributed to.
func (f *FakeWindowSystem) SetDisplay(ref platform.SlotRef, d geometry.Display) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[ref]; ok {
		s.display = d
	}
}

// Width returns a slot's current declared width.
func (f *FakeWindowSystem) Width(ref platform.SlotRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[ref]; ok {
		return s.width
	}
	return 0
}

// WidthWrites returns all SetSlotWidth calls in order.
func (f *FakeWindowSystem) WidthWrites() []WidthWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WidthWrite, len(f.widthWrites))
	copy(out, f.widthWrites)
	return out
}

func itemKey(item platform.TrayItem) string {
	return item.Service + item.Path
}

// FakeItemTree implements platform.ItemTree over scripted items.
type FakeItemTree struct {
	mu         sync.Mutex
	items      map[string][]platform.TrayItem
	frames     map[string]geometry.Rect
	serviceErr map[string]error
	frameErr   map[string]error
	actions    map[string][]string
	activated  []platform.TrayItem

	servicesCalls atomic.Int32

	// ScanDelay stalls Services to widen the window for concurrent
	// refreshes in dedup tests.
	ScanDelay time.Duration

	// ServicesErr, when set, fails enumeration entirely.
	ServicesErr error

	// ActivateErr, when set, fails Activate without recording the press.
	ActivateErr error
}

func NewFakeItemTree() *FakeItemTree {
	return &FakeItemTree{
		items:      make(map[string][]platform.TrayItem),
		frames:     make(map[string]geometry.Rect),
		serviceErr: make(map[string]error),
		frameErr:   make(map[string]error),
		actions:    make(map[string][]string),
	}
}

// AddItem scripts one item with its on-screen frame.
func (f *FakeItemTree) AddItem(item platform.TrayItem, frame geometry.Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.Service] = append(f.items[item.Service], item)
	f.frames[itemKey(item)] = frame
}

// SetFrame re-scripts an item's frame.
func (f *FakeItemTree) SetFrame(item platform.TrayItem, frame geometry.Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[itemKey(item)] = frame
}

// FailService makes Items fail for one service.
func (f *FakeItemTree) FailService(service string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serviceErr[service] = err
}

// FailFrame makes ItemFrame fail for one item.
func (f *FakeItemTree) FailFrame(item platform.TrayItem, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameErr[itemKey(item)] = err
}

// SetActions scripts the action list reported for one item.
func (f *FakeItemTree) SetActions(item platform.TrayItem, actions []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[itemKey(item)] = actions
}

// ServicesCalls reports how many enumeration passes ran.
func (f *FakeItemTree) ServicesCalls() int {
	return int(f.servicesCalls.Load())
}

// Activated returns the items Activate was called on.
func (f *FakeItemTree) Activated() []platform.TrayItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.TrayItem, len(f.activated))
	copy(out, f.activated)
	return out
}

func (f *FakeItemTree) Services(ctx context.Context) ([]string, error) {
	f.servicesCalls.Add(1)

	if f.ScanDelay > 0 {
		select {
		case <-time.After(f.ScanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ServicesErr != nil {
		return nil, f.ServicesErr
	}

	services := make([]string, 0, len(f.items))
	for svc := range f.items {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services, nil
}

func (f *FakeItemTree) HasItems(_ context.Context, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[service]) > 0, nil
}

func (f *FakeItemTree) Items(_ context.Context, service string) ([]platform.TrayItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.serviceErr[service]; err != nil {
		return nil, err
	}

	out := make([]platform.TrayItem, len(f.items[service]))
	copy(out, f.items[service])
	return out, nil
}

func (f *FakeItemTree) ItemFrame(_ context.Context, item platform.TrayItem) (geometry.Rect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.frameErr[itemKey(item)]; err != nil {
		return geometry.Rect{}, err
	}
	return f.frames[itemKey(item)], nil
}

func (f *FakeItemTree) Activate(_ context.Context, item platform.TrayItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActivateErr != nil {
		return f.ActivateErr
	}
	f.activated = append(f.activated, item)
	return nil
}

func (f *FakeItemTree) Actions(_ context.Context, item platform.TrayItem) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions[itemKey(item)], nil
}

// FakePermissionGate implements platform.PermissionGate with a settable grant.
type FakePermissionGate struct {
	trusted atomic.Bool
	changes chan bool

	// RequestResult is what Request grants; RequestErr fails it.
	RequestResult bool
	RequestErr    error
}

func NewFakePermissionGate(trusted bool) *FakePermissionGate {
	g := &FakePermissionGate{
		changes:       make(chan bool, 8),
		RequestResult: true,
	}
	g.trusted.Store(trusted)
	return g
}

func (g *FakePermissionGate) Trusted(context.Context) bool {
	return g.trusted.Load()
}

func (g *FakePermissionGate) Request(context.Context) (bool, error) {
	if g.RequestErr != nil {
		return false, g.RequestErr
	}
	g.SetTrusted(g.RequestResult)
	return g.RequestResult, nil
}

func (g *FakePermissionGate) Changes() <-chan bool {
	return g.changes
}

// SetTrusted flips the grant and delivers a change notification.
func (g *FakePermissionGate) SetTrusted(v bool) {
	if g.trusted.Swap(v) == v {
		return
	}
	select {
	case g.changes <- v:
	default:
	}
}

// DragCall records one synthesized drag.
type DragCall struct {
	From geometry.Point
	To   geometry.Point
}

// FakeSynthesizer implements platform.Synthesizer and records drags.
type FakeSynthesizer struct {
	mu    sync.Mutex
	drags []DragCall

	// Err, when set, fails Drag.
	Err error
}

func NewFakeSynthesizer() *FakeSynthesizer {
	return &FakeSynthesizer{}
}

func (s *FakeSynthesizer) Drag(_ context.Context, from, to geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.drags = append(s.drags, DragCall{From: from, To: to})
	return nil
}

// Drags returns the recorded gestures in order.
func (s *FakeSynthesizer) Drags() []DragCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DragCall, len(s.drags))
	copy(out, s.drags)
	return out
}
