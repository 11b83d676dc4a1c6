// Package engine implements the alarm supervisor: it watches sensor objects
// on the bus backend, escalates triggered sensors into their alert groups,
// runs the prealert/alert countdowns and executes the actions bound to the
// resulting events. The engine owns no I/O of its own besides the Bus and the
// Journal it is handed.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/journal"
	"github.com/whisper-darkly/sentinel-backend/lkd"
)

// Engine wires the configuration document to the bus backend.
//
// Lock discipline: e.mu guards only the engine's own fields and is never held
// while an alert lock is taken. Alert locks may in turn consult the engine
// through lock-free paths (the suspension counter) or short e.mu sections, so
// no cycle exists.
type Engine struct {
	bus     Bus
	journal journal.Journal
	cfg     *config.Document
	tick    time.Duration

	modeObject Object
	modes      map[int]*Mode
	alerts     map[string]*Alert
	alertList  []*Alert
	sensors    []*Sensor
	sensorsBy  map[string]*Sensor

	// dispatch tables for bus notifications
	watchers          map[string][]*Sensor
	persistenceAlerts map[string]*Alert
	inhibitionAlerts  map[string]*Alert

	handlers map[string]ContextHandlerFunc

	suspended atomic.Int32 // alert status updates are batched while > 0

	switchMu    sync.Mutex // serialises mode switches end to end
	mu          sync.Mutex
	currentMode *Mode
	terminated  bool
	startedAt   time.Time
}

// New builds an engine from a validated configuration document. Nothing
// touches the bus until Start.
func New(cfg *config.Document, bus Bus, jnl journal.Journal) *Engine {
	e := &Engine{
		bus:               bus,
		journal:           jnl,
		cfg:               cfg,
		tick:              defaultTick,
		modes:             map[int]*Mode{},
		alerts:            map[string]*Alert{},
		sensorsBy:         map[string]*Sensor{},
		watchers:          map[string][]*Sensor{},
		persistenceAlerts: map[string]*Alert{},
		inhibitionAlerts:  map[string]*Alert{},
		handlers:          map[string]ContextHandlerFunc{},
	}
	e.registerBuiltinHandlers()

	e.modeObject = bus.Object(cfg.Modes.ObjectID)
	for _, mc := range cfg.Modes.Modes {
		e.modes[mc.Value] = newMode(e, mc)
	}
	for _, ac := range cfg.Alerts.Alerts {
		a := newAlert(e, ac)
		e.alerts[ac.Name] = a
		e.alertList = append(e.alertList, a)
		if ac.PersistenceObjectID != "" {
			e.persistenceAlerts[ac.PersistenceObjectID] = a
		}
		if ac.InhibitionObjectID != "" {
			e.inhibitionAlerts[ac.InhibitionObjectID] = a
		}
	}
	for _, sc := range cfg.Sensors {
		s := newSensor(e, sc, e.alerts[sc.Alert])
		e.sensors = append(e.sensors, s)
		e.sensorsBy[sc.Name] = s
		e.watchers[sc.WatchedObjectID] = append(e.watchers[sc.WatchedObjectID], s)
	}
	return e
}

// Start reads the initial state from the daemon and applies the current
// mode, arming or disarming every sensor accordingly.
func (e *Engine) Start() error {
	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	for _, s := range e.sensors {
		s.syncFromBus()
	}

	value, err := e.modeObject.Int()
	if err != nil {
		return fmt.Errorf("read mode object %s: %w", e.cfg.Modes.ObjectID, err)
	}
	e.applyModeValue(value)
	log.Printf("engine: started, %d sensors, %d alerts, %d modes",
		len(e.sensors), len(e.alertList), len(e.modes))
	return nil
}

// Stop disarms every sensor so the field is quiet while the daemon is down.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return
	}
	e.terminated = true
	e.mu.Unlock()

	log.Printf("engine: shutting down, disarming all sensors")
	for _, s := range e.sensors {
		s.setEnabled(false)
	}
}

func (e *Engine) isTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// StartedAt returns the moment Start was called.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// ---- bus notifications ----

// OnValueChanged routes a value-change notification to the entity watching
// the object. It is the engine's single entry point for bus pushes; panics in
// the handling chain are contained so one bad notification cannot take the
// connection down.
func (e *Engine) OnValueChanged(objectID string, value any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: panic handling change of %s: %v\n%s", objectID, r, debug.Stack())
		}
	}()

	if e.isTerminated() {
		return
	}

	if objectID == e.cfg.Modes.ObjectID {
		v, err := lkd.AsInt(value)
		if err != nil {
			log.Printf("engine: mode object: %v", err)
			return
		}
		e.applyModeValue(v)
		return
	}

	if sensors := e.watchers[objectID]; len(sensors) > 0 {
		for _, s := range sensors {
			s.onWatchedObjectChanged(value)
		}
		return
	}

	if a := e.persistenceAlerts[objectID]; a != nil {
		e.onPersistenceChanged(a, value)
		return
	}

	if a := e.inhibitionAlerts[objectID]; a != nil {
		// Inhibition only matters at join time; nothing to recompute here.
		log.Printf("engine: alert %s: inhibition is now %v", a.Name(), value)
		return
	}

	log.Printf("engine: ignoring change of unknown object %s", objectID)
}

// onPersistenceChanged reacts to an operator clearing an alert's persistence
// latch: the alert is force-stopped and every member latch released. Setting
// the latch externally is ignored.
func (e *Engine) onPersistenceChanged(a *Alert, value any) {
	latched, err := lkd.AsBool(value)
	if err != nil {
		log.Printf("engine: alert %s: persistence value: %v", a.Name(), err)
		return
	}
	if latched {
		return
	}
	log.Printf("engine: alert %s: persistence cleared by operator", a.Name())
	a.Stop()
}

// ---- modes ----

// applyModeValue switches the engine to the mode with the given code. Sensor
// arming runs inside a batching scope so alerts settle once, not per sensor.
func (e *Engine) applyModeValue(value int) {
	next := e.modes[value]
	if next == nil {
		log.Printf("engine: no mode with value %d, keeping current mode", value)
		return
	}

	e.switchMu.Lock()
	defer e.switchMu.Unlock()

	resume := e.SuspendAlertUpdates()
	defer resume()

	e.mu.Lock()
	previous := e.currentMode
	e.mu.Unlock()
	if previous == next {
		return
	}

	// The left bindings of the outgoing mode run before the swap, so
	// {mode.current} still names the mode being left.
	if previous != nil {
		previous.notifyLeft()
	}

	e.mu.Lock()
	e.currentMode = next
	e.mu.Unlock()
	log.Printf("engine: current mode is now %s", next.Name())

	for _, s := range e.sensors {
		if next.requires(s.Name()) {
			if !s.IsEnabled() {
				s.startActivationTimer()
			}
		} else {
			s.setEnabled(false)
		}
	}

	next.notifyEntered()
}

// CurrentMode returns the active mode, nil before the first mode sync.
func (e *Engine) CurrentMode() *Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentMode
}

func (e *Engine) currentModeName() string {
	if m := e.CurrentMode(); m != nil {
		return m.Name()
	}
	return ""
}

// RequestMode writes the mode object so the whole installation follows, then
// applies the switch locally without waiting for the notification echo.
func (e *Engine) RequestMode(name string) error {
	mc := e.cfg.ModeByName(name)
	if mc == nil {
		return fmt.Errorf("unknown mode %q", name)
	}
	if err := e.modeObject.SetInt(mc.Value); err != nil {
		return fmt.Errorf("write mode object: %w", err)
	}
	e.applyModeValue(mc.Value)
	return nil
}

// ---- batching ----

// SuspendAlertUpdates opens a batching scope: alert status updates are
// deferred until the returned resume function runs. Scopes nest; the
// outermost resume settles every dirty alert.
func (e *Engine) SuspendAlertUpdates() func() {
	e.suspended.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			if e.suspended.Add(-1) == 0 {
				for _, a := range e.alertList {
					a.UpdateStatus()
				}
			}
		})
	}
}

func (e *Engine) alertUpdatesSuspended() bool {
	return e.suspended.Load() > 0
}

// ---- lookups ----

func (e *Engine) sensorByName(name string) *Sensor {
	return e.sensorsBy[name]
}

func (e *Engine) sensorsOf(a *Alert) []*Sensor {
	var out []*Sensor
	for _, s := range e.sensors {
		if s.alert == a {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) record(entity journal.EntityKind, name, event, detail string) {
	if err := e.journal.Record(context.Background(), entity, name, event, detail); err != nil {
		log.Printf("engine: journal: %v", err)
	}
}

func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ---- snapshots for the HTTP API ----

// AlertSnapshot is a point-in-time view of one alert group.
type AlertSnapshot struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	InPrealert []string `json:"inPrealert"`
	InAlert    []string `json:"inAlert"`
	Paused     []string `json:"paused"`
	Inhibited  bool     `json:"inhibited"`
}

// SensorSnapshot is a point-in-time view of one sensor.
type SensorSnapshot struct {
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Kind              config.SensorKind `json:"type"`
	Alert             string            `json:"alert"`
	Enabled           bool              `json:"enabled"`
	Triggered         bool              `json:"triggered"`
	ActivationPending bool              `json:"activationPending"`
	Required          bool              `json:"required"`
}

// ModeSnapshot describes one configured mode.
type ModeSnapshot struct {
	Name    string   `json:"name"`
	Value   int      `json:"value"`
	Sensors []string `json:"sensors"`
	Current bool     `json:"current"`
}

func (a *Alert) snapshot() AlertSnapshot {
	inPrealert, inAlert, paused := a.memberNames()
	return AlertSnapshot{
		Name:       a.Name(),
		Status:     a.Status(),
		InPrealert: inPrealert,
		InAlert:    inAlert,
		Paused:     paused,
		Inhibited:  a.isInhibited(),
	}
}

// Alerts returns a snapshot of every alert group, sorted by name.
func (e *Engine) Alerts() []AlertSnapshot {
	out := make([]AlertSnapshot, 0, len(e.alertList))
	for _, a := range e.alertList {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AlertByName returns a snapshot of one alert group.
func (e *Engine) AlertByName(name string) (AlertSnapshot, bool) {
	a := e.alerts[name]
	if a == nil {
		return AlertSnapshot{}, false
	}
	return a.snapshot(), true
}

// StopAlert force-clears one alert group, the API equivalent of the operator
// clearing its persistence latch.
func (e *Engine) StopAlert(name string) error {
	a := e.alerts[name]
	if a == nil {
		return fmt.Errorf("unknown alert %q", name)
	}
	a.Stop()
	return nil
}

func (s *Sensor) snapshot() SensorSnapshot {
	return SensorSnapshot{
		Name:              s.Name(),
		Description:       s.cfg.Description,
		Kind:              s.cfg.Kind,
		Alert:             s.cfg.Alert,
		Enabled:           s.IsEnabled(),
		Triggered:         s.IsTriggered(),
		ActivationPending: s.isActivationPending(),
		Required:          s.isRequiredByCurrentMode(),
	}
}

// Sensors returns a snapshot of every sensor, sorted by name.
func (e *Engine) Sensors() []SensorSnapshot {
	out := make([]SensorSnapshot, 0, len(e.sensors))
	for _, s := range e.sensors {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SensorSnapshotByName returns a snapshot of one sensor.
func (e *Engine) SensorSnapshotByName(name string) (SensorSnapshot, bool) {
	s := e.sensorsBy[name]
	if s == nil {
		return SensorSnapshot{}, false
	}
	return s.snapshot(), true
}

// Modes lists the configured modes, flagging the current one.
func (e *Engine) Modes() []ModeSnapshot {
	current := e.CurrentMode()
	out := make([]ModeSnapshot, 0, len(e.cfg.Modes.Modes))
	for _, mc := range e.cfg.Modes.Modes {
		out = append(out, ModeSnapshot{
			Name:    mc.Name,
			Value:   mc.Value,
			Sensors: mc.Sensors,
			Current: current != nil && current.cfg == mc,
		})
	}
	return out
}
