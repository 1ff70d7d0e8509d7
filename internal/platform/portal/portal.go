// Package portal drives the desktop remote-input portal.
//
// One RemoteInput value serves two roles: the permission gate (a
// RemoteDesktop session with pointer and keyboard access, combined with
// StatusNotifierWatcher presence on the bus) and the synthesizer that
// posts modifier-held drag gestures through an established session.
//
// Portal calls follow the request/response dance: each method returns a
// Request object path and the result arrives later as a Response signal
// on that path. A single signal pump dispatches responses to waiters and
// tracks session and watcher lifetime.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/platform/statusnotifier"
	"github.com/trayfold/trayfold/internal/shared/geometry"
	"github.com/trayfold/trayfold/internal/shared/id"
)

const (
	portalBusName = "org.freedesktop.portal.Desktop"
	portalPath    = "/org/freedesktop/portal/desktop"

	remoteDesktopInterface = "org.freedesktop.portal.RemoteDesktop"
	requestInterface       = "org.freedesktop.portal.Request"
	sessionInterface       = "org.freedesktop.portal.Session"

	deviceKeyboard = 1
	devicePointer  = 2

	// Linux input-event code for the left mouse button.
	btnLeft = 0x110

	// X keysym for the left Super key, held during slot drags so the
	// panel treats the gesture as a rearrange instead of a click.
	keySuperL = 0xffeb

	stateReleased = 0
	statePressed  = 1

	responseSuccess = 0

	dragSteps = 8
)

// ErrNoSession is returned by Drag before a session has been granted.
var ErrNoSession = errors.New("remote input session not established")

type response struct {
	code    uint32
	results map[string]dbus.Variant
}

// RemoteInput implements the permission gate and input synthesizer over
// the remote-input portal.
type RemoteInput struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	logger *logging.Logger

	mu      sync.Mutex
	session dbus.ObjectPath
	pending map[dbus.ObjectPath]chan response

	granted     atomic.Bool
	watcherUp   atomic.Bool
	lastTrusted atomic.Bool

	changes chan bool
	signals chan *dbus.Signal
}

var (
	_ platform.PermissionGate = (*RemoteInput)(nil)
	_ platform.Synthesizer    = (*RemoteInput)(nil)
)

// New creates a RemoteInput over an established session bus connection
// and starts its signal pump. The connection stays owned by the caller.
func New(conn *dbus.Conn, logger *logging.Logger) (*RemoteInput, error) {
	r := &RemoteInput{
		conn:    conn,
		obj:     conn.Object(portalBusName, dbus.ObjectPath(portalPath)),
		logger:  logger,
		pending: make(map[dbus.ObjectPath]chan response),
		changes: make(chan bool, 8),
		signals: make(chan *dbus.Signal, 64),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, fmt.Errorf("match portal responses: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(sessionInterface),
		dbus.WithMatchMember("Closed"),
	); err != nil {
		return nil, fmt.Errorf("match session closed: %w", err)
	}

	// Watcher presence is half of the trust decision: without it there
	// are no foreign items to act on.
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, statusnotifier.WatcherBusName),
	); err != nil {
		return nil, fmt.Errorf("match watcher presence: %w", err)
	}

	var hasOwner bool
	if err := conn.BusObject().CallWithContext(context.Background(),
		"org.freedesktop.DBus.NameHasOwner", 0, statusnotifier.WatcherBusName).Store(&hasOwner); err == nil {
		r.watcherUp.Store(hasOwner)
	}

	conn.Signal(r.signals)
	go r.run()

	return r, nil
}

// Trusted reports whether input synthesis is currently possible: a granted
// portal session plus a live StatusNotifierWatcher.
func (r *RemoteInput) Trusted(context.Context) bool {
	return r.granted.Load() && r.watcherUp.Load()
}

// Changes delivers the trust value each time it flips. The channel closes
// when the RemoteInput is closed.
func (r *RemoteInput) Changes() <-chan bool {
	return r.changes
}

// Request establishes a RemoteDesktop session with pointer and keyboard
// access, prompting the user if the desktop requires it. A denial returns
// false with no error.
func (r *RemoteInput) Request(ctx context.Context) (bool, error) {
	if r.Trusted(ctx) {
		return true, nil
	}

	sessionToken := requestToken()
	resp, err := r.portalRequest(ctx, "CreateSession", map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(sessionToken),
	})
	if err != nil {
		return false, err
	}
	if resp.code != responseSuccess {
		return false, nil
	}

	session, ok := sessionHandle(resp.results)
	if !ok {
		return false, fmt.Errorf("create session: no session handle in response")
	}

	resp, err = r.portalRequest(ctx, "SelectDevices", map[string]dbus.Variant{
		"types": dbus.MakeVariant(uint32(devicePointer | deviceKeyboard)),
	}, session)
	if err != nil {
		return false, err
	}
	if resp.code != responseSuccess {
		return false, nil
	}

	resp, err = r.portalRequest(ctx, "Start", map[string]dbus.Variant{}, session, "")
	if err != nil {
		return false, err
	}
	if resp.code != responseSuccess {
		return false, nil
	}

	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	r.granted.Store(true)
	r.pushTrusted()

	r.logger.Info("remote input session established", zap.String("session", string(session)))
	return true, nil
}

// Drag posts a Super-held press, move, release sequence between two screen
// points. A nil return means every event was queued with the portal; the
// gesture itself is not verified.
func (r *RemoteInput) Drag(ctx context.Context, from, to geometry.Point) error {
	session := r.currentSession()
	if session == "" {
		return ErrNoSession
	}

	if err := r.notifyKeysym(ctx, session, keySuperL, statePressed); err != nil {
		return fmt.Errorf("press modifier: %w", err)
	}
	defer func() {
		if err := r.notifyKeysym(ctx, session, keySuperL, stateReleased); err != nil {
			r.logger.Debug("release modifier", zap.Error(err))
		}
	}()

	if err := r.notifyMotion(ctx, session, from); err != nil {
		return fmt.Errorf("move to source: %w", err)
	}

	if err := r.notifyButton(ctx, session, btnLeft, statePressed); err != nil {
		return fmt.Errorf("press button: %w", err)
	}
	defer func() {
		if err := r.notifyButton(ctx, session, btnLeft, stateReleased); err != nil {
			r.logger.Debug("release button", zap.Error(err))
		}
	}()

	for i := 1; i <= dragSteps; i++ {
		f := float64(i) / dragSteps
		p := geometry.Point{
			X: from.X + (to.X-from.X)*f,
			Y: from.Y + (to.Y-from.Y)*f,
		}
		if err := r.notifyMotion(ctx, session, p); err != nil {
			return fmt.Errorf("drag step %d: %w", i, err)
		}
	}

	return nil
}

// Close tears down the session and stops the signal pump.
func (r *RemoteInput) Close() error {
	r.mu.Lock()
	session := r.session
	r.session = ""
	r.mu.Unlock()

	if session != "" {
		call := r.conn.Object(portalBusName, session).CallWithContext(
			context.Background(), sessionInterface+".Close", 0)
		if call.Err != nil {
			r.logger.Debug("close portal session", zap.Error(call.Err))
		}
	}

	r.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember("Response"),
	)
	r.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(sessionInterface),
		dbus.WithMatchMember("Closed"),
	)
	r.conn.RemoveMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, statusnotifier.WatcherBusName),
	)

	r.conn.RemoveSignal(r.signals)
	close(r.signals)
	close(r.changes)

	return nil
}

func (r *RemoteInput) run() {
	for signal := range r.signals {
		switch signal.Name {
		case requestInterface + ".Response":
			r.dispatchResponse(signal)
		case sessionInterface + ".Closed":
			r.handleSessionClosed(signal)
		case "org.freedesktop.DBus.NameOwnerChanged":
			r.handleNameOwnerChanged(signal)
		}
	}
}

func (r *RemoteInput) dispatchResponse(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	code, ok := signal.Body[0].(uint32)
	if !ok {
		return
	}
	results, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		results = nil
	}

	r.mu.Lock()
	ch := r.pending[signal.Path]
	delete(r.pending, signal.Path)
	r.mu.Unlock()

	if ch != nil {
		ch <- response{code: code, results: results}
	}
}

func (r *RemoteInput) handleSessionClosed(signal *dbus.Signal) {
	r.mu.Lock()
	match := signal.Path == r.session && r.session != ""
	if match {
		r.session = ""
	}
	r.mu.Unlock()

	if match {
		r.granted.Store(false)
		r.pushTrusted()
		r.logger.Warn("remote input session closed by portal")
	}
}

func (r *RemoteInput) handleNameOwnerChanged(signal *dbus.Signal) {
	if len(signal.Body) < 3 {
		return
	}

	name, ok := signal.Body[0].(string)
	if !ok || name != statusnotifier.WatcherBusName {
		return
	}
	newOwner, ok := signal.Body[2].(string)
	if !ok {
		return
	}

	r.watcherUp.Store(newOwner != "")
	r.pushTrusted()
}

// pushTrusted delivers a change notification when the combined trust value
// differs from the last one delivered.
func (r *RemoteInput) pushTrusted() {
	v := r.granted.Load() && r.watcherUp.Load()
	if r.lastTrusted.Swap(v) == v {
		return
	}

	select {
	case r.changes <- v:
	default:
	}
}

func (r *RemoteInput) currentSession() dbus.ObjectPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// portalRequest performs one request/response round trip: register the
// expected request path, call the method, then wait for the Response
// signal. Older portals return a handle different from the token-derived
// path; the waiter is re-keyed when that happens.
func (r *RemoteInput) portalRequest(ctx context.Context, method string, options map[string]dbus.Variant, args ...any) (response, error) {
	token := requestToken()
	options["handle_token"] = dbus.MakeVariant(token)

	expected := r.requestPath(token)
	ch := make(chan response, 1)

	r.mu.Lock()
	r.pending[expected] = ch
	r.mu.Unlock()

	callArgs := make([]any, 0, len(args)+1)
	callArgs = append(callArgs, args...)
	callArgs = append(callArgs, options)

	var handle dbus.ObjectPath
	err := r.obj.CallWithContext(ctx, remoteDesktopInterface+"."+method, 0, callArgs...).Store(&handle)
	if err != nil {
		r.mu.Lock()
		delete(r.pending, expected)
		r.mu.Unlock()
		return response{}, fmt.Errorf("%s: %w", method, err)
	}

	if handle != expected {
		r.mu.Lock()
		delete(r.pending, expected)
		r.pending[handle] = ch
		r.mu.Unlock()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, expected)
		delete(r.pending, handle)
		r.mu.Unlock()
		return response{}, ctx.Err()
	}
}

// requestPath derives the Request object path the portal will use for a
// token: the sender's unique name with ':' stripped and '.' replaced.
func (r *RemoteInput) requestPath(token string) dbus.ObjectPath {
	sender := ""
	if names := r.conn.Names(); len(names) > 0 {
		sender = names[0]
	}
	sender = strings.ReplaceAll(strings.TrimPrefix(sender, ":"), ".", "_")
	return dbus.ObjectPath(portalPath + "/request/" + sender + "/" + token)
}

func (r *RemoteInput) notifyMotion(ctx context.Context, session dbus.ObjectPath, p geometry.Point) error {
	// Stream 0 lets the compositor map absolute coordinates onto the
	// active output set.
	call := r.obj.CallWithContext(ctx, remoteDesktopInterface+".NotifyPointerMotionAbsolute", 0,
		session, map[string]dbus.Variant{}, uint32(0), p.X, p.Y)
	return call.Err
}

func (r *RemoteInput) notifyButton(ctx context.Context, session dbus.ObjectPath, button int32, state uint32) error {
	call := r.obj.CallWithContext(ctx, remoteDesktopInterface+".NotifyPointerButton", 0,
		session, map[string]dbus.Variant{}, button, state)
	return call.Err
}

func (r *RemoteInput) notifyKeysym(ctx context.Context, session dbus.ObjectPath, keysym int32, state uint32) error {
	call := r.obj.CallWithContext(ctx, remoteDesktopInterface+".NotifyKeyboardKeysym", 0,
		session, map[string]dbus.Variant{}, keysym, state)
	return call.Err
}

// sessionHandle extracts the session object path from request results.
// The portal historically encoded it as either a string or a path.
func sessionHandle(results map[string]dbus.Variant) (dbus.ObjectPath, bool) {
	v, ok := results["session_handle"]
	if !ok {
		return "", false
	}

	switch h := v.Value().(type) {
	case string:
		return dbus.ObjectPath(h), true
	case dbus.ObjectPath:
		return h, true
	default:
		return "", false
	}
}

func requestToken() string {
	return "trayfold_" + strings.ToLower(id.Default().GenerateString())
}
