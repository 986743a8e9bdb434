package device

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ZoneSet reports which zone namespaces have a complete handle mapping.
// *zone.Registry satisfies it.
type ZoneSet interface {
	Registered(ns *zone.Namespace) bool
}

// Config holds orchestrator dependencies.
type Config struct {
	// Zones is consulted before a session for an input class is installed.
	Zones ZoneSet

	// Diagnostics routes lifecycle and fault notifications.
	// Default: a new dispatcher.
	Diagnostics *diagnostic.Dispatcher

	// Clock supplies timestamps. Default: time.Now.
	Clock func() time.Time
}

// DeviceInfo describes a registered driver.
type DeviceInfo struct {
	Name              string     `json:"name"`
	Class             Class      `json:"class"`
	DefaultProperties Properties `json:"default_properties"`
}

// Orchestrator owns the connection lifecycle of every device class.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Connect, Reset and SetLED serialise on sessionMu.
//   - Read goroutines only take stateMu, never sessionMu.
type Orchestrator struct {
	zones ZoneSet
	diag  *diagnostic.Dispatcher
	clock func() time.Time

	sessionMu sync.Mutex

	stateMu  sync.RWMutex
	states   map[Class]State
	sessions map[Class]*session
	drivers  map[string]Driver

	tapMu  sync.RWMutex
	onEdge func(Edge)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewOrchestrator creates an orchestrator with every class Disconnected.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = diagnostic.NewDispatcher()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	o := &Orchestrator{
		zones:    cfg.Zones,
		diag:     cfg.Diagnostics,
		clock:    cfg.Clock,
		states:   make(map[Class]State),
		sessions: make(map[Class]*session),
		drivers:  make(map[string]Driver),
		logger:   noopLogger{},
	}
	for _, c := range Classes() {
		o.states[c] = Disconnected
	}
	return o
}

// SetLogger sets the logger for lifecycle messages.
func (o *Orchestrator) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	o.loggerMu.Lock()
	o.logger = l
	o.loggerMu.Unlock()
}

func (o *Orchestrator) log() Logger {
	o.loggerMu.RLock()
	defer o.loggerMu.RUnlock()
	return o.logger
}

// SetEdgeObserver installs a tap called with every accepted edge after the
// subscribed callback. It runs on the read goroutine and must not block.
func (o *Orchestrator) SetEdgeObserver(fn func(Edge)) {
	o.tapMu.Lock()
	o.onEdge = fn
	o.tapMu.Unlock()
}

// Diagnostics returns the dispatcher used for lifecycle notifications.
func (o *Orchestrator) Diagnostics() *diagnostic.Dispatcher {
	return o.diag
}

// Register adds a driver under its device name.
func (o *Orchestrator) Register(d Driver) error {
	if d == nil {
		return fmt.Errorf("%w: nil driver", ErrUnknownDevice)
	}
	if !slices.Contains(Classes(), d.Class()) {
		return fmt.Errorf("%w: %q", ErrInvalidClass, d.Class())
	}

	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	if _, dup := o.drivers[d.Name()]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateDevice, d.Name())
	}
	o.drivers[d.Name()] = d
	return nil
}

// Devices lists registered drivers sorted by name.
func (o *Orchestrator) Devices() []DeviceInfo {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	out := make([]DeviceInfo, 0, len(o.drivers))
	for _, d := range o.drivers {
		out = append(out, DeviceInfo{
			Name:              d.Name(),
			Class:             d.Class(),
			DefaultProperties: d.DefaultProperties().Clone(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SubscribeToEvents replaces the diagnostic routing table.
func (o *Orchestrator) SubscribeToEvents(handlers map[diagnostic.Kind]diagnostic.Handler) {
	o.diag.Subscribe(handlers)
}

// State returns the connection state of class.
func (o *Orchestrator) State(class Class) State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.states[class]
}

func (o *Orchestrator) setState(class Class, s State) {
	o.stateMu.Lock()
	prev := o.states[class]
	o.states[class] = s
	o.stateMu.Unlock()

	if prev != s {
		o.log().Debug("device state changed", "class", string(class), "from", prev.String(), "to", s.String())
	}
}

// Sessions returns a snapshot of every live or failed session.
func (o *Orchestrator) Sessions() []SessionInfo {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	out := make([]SessionInfo, 0, len(o.sessions))
	for _, c := range Classes() {
		if s, ok := o.sessions[c]; ok {
			out = append(out, s.info(o.states[c]))
		}
	}
	return out
}

// DeviceProperties returns the effective properties of the session for class.
func (o *Orchestrator) DeviceProperties(class Class) (Properties, error) {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	s, ok := o.sessions[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, class)
	}
	return s.props.Clone(), nil
}

// Connect opens a session for the device named deviceName.
//
// Configuration errors are returned synchronously and leave the class
// untouched. Once validation passes, driver failures are raised as
// diagnostics, the class returns to Disconnected, and Connect returns nil.
// ctx bounds the driver's Open only; the session outlives it until Reset.
func (o *Orchestrator) Connect(ctx context.Context, deviceName string, props Properties, subs Subscriptions) error {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	o.stateMu.RLock()
	drv, ok := o.drivers[deviceName]
	var class Class
	var existing bool
	if ok {
		class = drv.Class()
		_, existing = o.sessions[class]
		existing = existing || o.states[class] != Disconnected
	}
	o.stateMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceName)
	}
	if existing {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, class)
	}
	if err := o.validateSubscriptions(class, subs); err != nil {
		return err
	}

	effective := drv.DefaultProperties().Merge(props)
	o.setState(class, Connecting)

	worker, err := openWorker(ctx, drv, effective)
	if err != nil {
		kind := diagnostic.ConnectionError
		if errors.Is(err, ErrInvalidProperty) {
			kind = diagnostic.InvalidDevicePropertyError
		}
		o.log().Warn("device open failed", "device", deviceName, "class", string(class), "error", err)
		o.raise(kind, class, err.Error())
		o.setState(class, Disconnected)
		return nil
	}

	window, err := effective.Millis(PropDebounceTimeMs, 0)
	if err != nil {
		o.log().Warn("device property rejected", "device", deviceName, "error", err)
		o.raise(diagnostic.InvalidDevicePropertyError, class, err.Error())
		if cerr := worker.Close(); cerr != nil {
			o.log().Warn("closing rejected worker failed", "device", deviceName, "error", cerr)
		}
		o.setState(class, Disconnected)
		return nil
	}

	s := newSession(deviceName, class, effective, worker, subs, window, o.clock())

	o.stateMu.Lock()
	o.sessions[class] = s
	o.stateMu.Unlock()
	o.setState(class, Connected)

	o.log().Info("device connected", "device", deviceName, "class", string(class), "session", s.id)
	o.raise(diagnostic.Attach, class, fmt.Sprintf("%s connected", deviceName))

	go o.readLoop(s)
	return nil
}

// openWorker calls drv.Open, converting a panic into an error.
func openWorker(ctx context.Context, drv Driver, props Properties) (w Worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			w, err = nil, fmt.Errorf("driver %q panicked during open: %v", drv.Name(), r)
		}
	}()
	w, err = drv.Open(ctx, props)
	if err == nil && w == nil {
		err = fmt.Errorf("driver %q returned no worker", drv.Name())
	}
	return w, err
}

// validateSubscriptions checks that subs covers the class namespace exactly.
func (o *Orchestrator) validateSubscriptions(class Class, subs Subscriptions) error {
	ns := class.Namespace()
	if ns != nil {
		if o.zones == nil || !o.zones.Registered(ns) {
			return fmt.Errorf("%w: %s", ErrZonesNotRegistered, ns.Name())
		}

		var missing []zone.ID
		for _, id := range ns.Zones() {
			if subs[id] == nil {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return &IncompleteSubscriptionError{Class: class, Missing: missing}
		}
	}

	var extra []zone.ID
	for id := range subs {
		if ns == nil || !ns.Contains(id) {
			extra = append(extra, id)
		}
	}
	if len(extra) > 0 {
		sort.Slice(extra, func(i, j int) bool { return extra[i].String() < extra[j].String() })
		return &zone.UnknownZoneError{Zone: extra[0]}
	}
	return nil
}

// readLoop runs on the session's dedicated goroutine until Reset or a fatal
// fault.
func (o *Orchestrator) readLoop(s *session) {
	defer close(s.done)

	for {
		r, err := s.worker.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var rerr *ReadError
			if errors.As(err, &rerr) && !rerr.Fatal {
				s.faults.Add(1)
				kind := rerr.Kind
				if kind == "" {
					kind = s.class.ReadErrorKind()
				}
				o.raise(kind, s.class, rerr.Error())
				continue
			}
			o.fail(s, err)
			return
		}
		o.handleReading(s, r)
	}
}

func (o *Orchestrator) handleReading(s *session, r Reading) {
	if r.Notice != nil {
		o.raise(r.Notice.Kind, s.class, r.Notice.Message)
		return
	}

	cb, ok := s.subs[r.Zone]
	if !ok {
		s.faults.Add(1)
		o.raise(s.class.ReadErrorKind(), s.class, fmt.Sprintf("reading for unknown zone %s", r.Zone))
		return
	}

	now := o.clock()
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.settleEnded {
		return
	}
	ok, wait := s.filter.accept(r.Zone, r.State, now)
	if !ok {
		s.suppressed.Add(1)
		if wait > 0 {
			s.scheduleSettle(r.Zone, wait, func(id zone.ID) { o.settle(s, id) })
		}
		return
	}
	o.deliver(s, cb, r.Zone, r.State, now)
}

// settle runs when a zone's debounce window closes and delivers the level
// the device last reported if it differs from the last delivered one.
func (o *Orchestrator) settle(s *session, id zone.ID) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	delete(s.settling, id)
	if s.settleEnded {
		return
	}
	now := o.clock()
	state, ok := s.filter.settle(id, now)
	if !ok {
		return
	}
	o.deliver(s, s.subs[id], id, state, now)
}

// deliver invokes the zone callback and the edge tap. Caller holds
// s.deliverMu.
func (o *Orchestrator) deliver(s *session, cb Callback, id zone.ID, state zone.InputState, now time.Time) {
	func() {
		defer func() {
			if p := recover(); p != nil {
				o.log().Error("zone callback panic",
					"zone", id.String(),
					"panic", fmt.Sprint(p),
					"stack", string(debug.Stack()),
				)
			}
		}()
		cb(id, state)
	}()
	s.edges.Add(1)
	s.lastEdge.Store(now.UnixNano())

	o.tapMu.RLock()
	tap := o.onEdge
	o.tapMu.RUnlock()
	if tap != nil {
		tap(Edge{
			SessionID: s.id,
			Device:    s.device,
			Class:     s.class,
			Zone:      id,
			State:     state,
			Timestamp: now,
		})
	}
}

// fail ends a session after a fatal fault. The session stays installed in
// ConnectionError until Reset.
func (o *Orchestrator) fail(s *session, cause error) {
	o.log().Error("device connection lost", "device", s.device, "class", string(s.class), "error", cause)
	o.setState(s.class, ConnectionError)
	o.raise(diagnostic.ConnectionError, s.class, cause.Error())
	if s.detached.CompareAndSwap(false, true) {
		o.raise(diagnostic.Detach, s.class, fmt.Sprintf("%s disconnected", s.device))
	}
	if err := s.closeWorker(); err != nil {
		o.log().Warn("closing failed worker", "device", s.device, "error", err)
	}
	s.stopSettling()
}

// Reset stops every worker, waits for every read goroutine to exit, clears
// all subscriptions and returns every class to Disconnected. It is
// idempotent and safe with no sessions.
func (o *Orchestrator) Reset() {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	o.stateMu.Lock()
	sessions := o.sessions
	o.sessions = make(map[Class]*session)
	o.stateMu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			o.stop(s)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // stop never fails

	for _, c := range Classes() {
		o.setState(c, Disconnected)
	}
	if len(sessions) > 0 {
		o.log().Info("device sessions reset", "count", len(sessions))
	}
}

// Destroy is Reset under the name hosts use at teardown.
func (o *Orchestrator) Destroy() {
	o.Reset()
}

// stop cancels the session, closes its worker and joins its goroutine.
func (o *Orchestrator) stop(s *session) {
	s.cancel()
	if err := s.closeWorker(); err != nil {
		o.log().Warn("closing worker", "device", s.device, "error", err)
	}
	<-s.done
	s.stopSettling()

	if s.detached.CompareAndSwap(false, true) {
		o.raise(diagnostic.Detach, s.class, fmt.Sprintf("%s disconnected", s.device))
	}
}

// SetLED writes one LED of the connected LED device.
func (o *Orchestrator) SetLED(ctx context.Context, index int, c Color) error {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	o.stateMu.RLock()
	s, ok := o.sessions[LEDDevice]
	state := o.states[LEDDevice]
	o.stateMu.RUnlock()

	if !ok || state != Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, LEDDevice)
	}
	w, ok := s.worker.(LEDWriter)
	if !ok {
		return fmt.Errorf("%w: %s cannot set LEDs", ErrNotSupported, s.device)
	}
	if err := w.SetLED(ctx, index, c); err != nil {
		return fmt.Errorf("setting LED %d: %w", index, err)
	}
	return nil
}

// raise timestamps and dispatches a diagnostic on the calling goroutine.
func (o *Orchestrator) raise(kind diagnostic.Kind, class Class, message string) {
	o.diag.Dispatch(diagnostic.Event{
		Kind:        kind,
		DeviceClass: string(class),
		Message:     message,
		Timestamp:   o.clock(),
	})
}
