package engine

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/journal"
)

// Status is the lifecycle state of an alert group.
type Status string

const (
	// StatusStopped: no sensor holds the alert.
	StatusStopped Status = "stopped"
	// StatusInitializing: at least one sensor is in prealert, none has
	// escalated yet.
	StatusInitializing Status = "initializing"
	// StatusActive: at least one sensor is in full alert.
	StatusActive Status = "active"
	// StatusPaused: the last sensor left an active alert but the
	// persistence object keeps it latched until an operator resets it.
	StatusPaused Status = "paused"
)

// Alert is the runtime state machine of one alert group. Sensors join the
// prealert set when they trigger, graduate to the alert set when their
// prealert countdown elapses and leave when their alert countdown elapses.
// The status is a pure function of the two sets plus the persistence latch.
//
// All mutations funnel through updateStatusLocked. Events produced there are
// collected while the lock is held and fired after it is released, so action
// execution never blocks the state machine.
type Alert struct {
	eng    *Engine
	cfg    *config.Alert
	events *eventManager

	persistenceObject Object // nil when the alert is not latching
	inhibitionObject  Object // nil when the alert cannot be inhibited

	mu            sync.Mutex
	status        Status
	inPrealert    map[*Sensor]bool
	inAlert       map[*Sensor]bool
	lastInAlert   map[*Sensor]bool // membership snapshot at the previous update
	pausedMembers map[*Sensor]bool // members latched when the alert went paused
	sensorTimers  map[*Sensor]*timer
	dirty         bool
}

func newAlert(eng *Engine, cfg *config.Alert) *Alert {
	a := &Alert{
		eng:          eng,
		cfg:          cfg,
		status:       StatusStopped,
		inPrealert:   map[*Sensor]bool{},
		inAlert:      map[*Sensor]bool{},
		lastInAlert:  map[*Sensor]bool{},
		sensorTimers: map[*Sensor]*timer{},
	}
	a.events = newEventManager(eng, fmt.Sprintf("alert %s", cfg.Name), cfg.Events, eng.cfg.Alerts.Events)
	if cfg.PersistenceObjectID != "" {
		a.persistenceObject = eng.bus.Object(cfg.PersistenceObjectID)
	}
	if cfg.InhibitionObjectID != "" {
		a.inhibitionObject = eng.bus.Object(cfg.InhibitionObjectID)
	}
	return a
}

func (a *Alert) Name() string { return a.cfg.Name }

// Status returns the current lifecycle state.
func (a *Alert) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// persistenceLatched reads the live latch value. Parking in the paused state
// requires the latch to actually be set, not merely configured: a failed
// latch write, or an external clear racing the last countdown, must drop the
// alert to stopped instead of stranding it paused with nothing left to clear.
func (a *Alert) persistenceLatched() bool {
	if a.persistenceObject == nil {
		return false
	}
	latched, err := a.persistenceObject.Bool()
	if err != nil {
		log.Printf("engine: alert %s: read persistence: %v", a.Name(), err)
		return false
	}
	return latched
}

// isInhibited reads the inhibition object. Inhibition is consulted at join
// time only; flipping it has no effect on sensors already in the alert.
func (a *Alert) isInhibited() bool {
	if a.inhibitionObject == nil {
		return false
	}
	inhibited, err := a.inhibitionObject.Bool()
	if err != nil {
		log.Printf("engine: alert %s: read inhibition: %v", a.Name(), err)
		return false
	}
	return inhibited
}

// AddSensor escalates a triggered sensor into the alert. Where it lands
// depends on the current status: a stopped or initializing alert takes it
// through prealert (or straight to alert when its prealert duration is zero),
// an active alert takes it directly and a paused alert re-activates.
func (a *Alert) AddSensor(s *Sensor) {
	if a.isInhibited() {
		log.Printf("engine: alert %s is inhibited, ignoring sensor %s", a.Name(), s.Name())
		return
	}

	a.mu.Lock()
	switch a.status {
	case StatusStopped, StatusInitializing:
		if !a.inPrealert[s] && !a.inAlert[s] {
			if s.cfg.PrealertDuration.ForMode(a.eng.currentModeName()) <= 0 {
				a.inAlert[s] = true
			} else {
				a.inPrealert[s] = true
			}
			a.dirty = true
		}
	case StatusActive, StatusPaused:
		if a.inAlert[s] {
			// Already contributing: push its alert countdown out.
			if t := a.sensorTimers[s]; t != nil {
				t.extend()
			}
		} else {
			a.inAlert[s] = true
			a.dirty = true
		}
	}
	pending := a.updateStatusLocked()
	a.mu.Unlock()
	a.firePending(pending)
}

// RemoveSensor drops a sensor from both membership sets, typically because
// it was disabled or its alert countdown elapsed.
func (a *Alert) RemoveSensor(s *Sensor) {
	a.mu.Lock()
	pending := a.removeSensorLocked(s)
	a.mu.Unlock()
	a.firePending(pending)
}

func (a *Alert) removeSensorLocked(s *Sensor) []Event {
	if a.inPrealert[s] || a.inAlert[s] {
		delete(a.inPrealert, s)
		delete(a.inAlert, s)
		a.dirty = true
	}
	return a.updateStatusLocked()
}

// Stop force-clears the alert regardless of membership. Used when an
// operator resets the persistence latch and at daemon shutdown.
func (a *Alert) Stop() {
	a.mu.Lock()
	if len(a.inPrealert) > 0 || len(a.inAlert) > 0 || a.status != StatusStopped {
		a.inPrealert = map[*Sensor]bool{}
		a.inAlert = map[*Sensor]bool{}
		a.dirty = true
	}
	pending := a.updateStatusLocked()
	a.mu.Unlock()
	a.firePending(pending)
}

// UpdateStatus re-evaluates the status machine. It exists for the engine's
// batching scope: alerts marked dirty while updates were suspended are
// refreshed here once the scope ends.
func (a *Alert) UpdateStatus() {
	a.mu.Lock()
	pending := a.updateStatusLocked()
	a.mu.Unlock()
	a.firePending(pending)
}

// onPrealertExpired graduates a sensor from prealert to alert when its
// prealert countdown elapses. The timer guard skips countdowns that were
// superseded while this callback was in flight.
func (a *Alert) onPrealertExpired(s *Sensor, t *timer) {
	a.mu.Lock()
	if a.sensorTimers[s] != t {
		a.mu.Unlock()
		return
	}
	if a.inPrealert[s] {
		delete(a.inPrealert, s)
		a.inAlert[s] = true
		a.dirty = true
	}
	pending := a.updateStatusLocked()
	a.mu.Unlock()
	a.firePending(pending)
}

// onAlertTimerDone removes a sensor whose alert countdown terminated. Stale
// timers (already replaced or stopped by the status machine) are ignored.
func (a *Alert) onAlertTimerDone(s *Sensor, t *timer) {
	a.mu.Lock()
	if a.sensorTimers[s] != t {
		a.mu.Unlock()
		return
	}
	delete(a.sensorTimers, s)
	pending := a.removeSensorLocked(s)
	a.mu.Unlock()
	a.firePending(pending)
}

// updateStatusLocked recomputes the status from the membership sets and
// returns the events the transition produced, to be fired once the lock is
// released. While the engine has alert updates suspended the alert stays
// dirty and nothing happens.
func (a *Alert) updateStatusLocked() []Event {
	if a.eng.alertUpdatesSuspended() || !a.dirty {
		return nil
	}
	a.dirty = false

	previous := a.status
	var next Status
	switch {
	case len(a.inAlert) > 0:
		next = StatusActive
	case len(a.inPrealert) > 0:
		next = StatusInitializing
	case previous == StatusActive && a.persistenceLatched():
		next = StatusPaused
	default:
		next = StatusStopped
	}

	// Entering the active state drains prealert: every pending sensor is
	// escalated along with the first one.
	if next == StatusActive {
		for s := range a.inPrealert {
			a.inAlert[s] = true
		}
		a.inPrealert = map[*Sensor]bool{}
	}

	joined, left := a.membershipDiffLocked()

	var events []Event
	switch {
	case previous == next:
		if next == StatusActive {
			events = appendMembershipEvents(events, joined, left)
		}
	case previous == StatusStopped && next == StatusInitializing:
		events = append(events, EventPrealertStarted)
	case previous == StatusStopped && next == StatusActive:
		// Zero prealert duration: the prealert phase is skipped entirely.
		events = appendMembershipEvents(events, joined, left)
		events = append(events, EventActivated)
	case previous == StatusInitializing && next == StatusActive:
		events = appendMembershipEvents(events, joined, left)
		events = append(events, EventActivated)
	case previous == StatusInitializing && next == StatusStopped:
		events = append(events, EventAborted, EventStopped)
	case previous == StatusActive && next == StatusPaused:
		events = appendMembershipEvents(events, joined, left)
		events = append(events, EventDeactivated, EventPaused)
	case previous == StatusActive && next == StatusStopped:
		events = appendMembershipEvents(events, joined, left)
		events = append(events, EventDeactivated, EventReset, EventStopped)
	case previous == StatusPaused && next == StatusActive:
		events = append(events, EventResumed)
		events = appendMembershipEvents(events, joined, left)
		events = append(events, EventActivated)
	case previous == StatusPaused && next == StatusStopped:
		events = append(events, EventReset, EventStopped)
	default:
		log.Printf("engine: alert %s: unsupported transition %s -> %s", a.Name(), previous, next)
	}

	a.applySideEffectsLocked(previous, next)

	switch next {
	case StatusPaused:
		if previous == StatusActive {
			a.pausedMembers = a.lastInAlert
		}
	default:
		a.pausedMembers = nil
	}

	// Snapshot for the next diff.
	a.lastInAlert = map[*Sensor]bool{}
	for s := range a.inAlert {
		a.lastInAlert[s] = true
	}
	if previous != next {
		log.Printf("engine: alert %s is now %s", a.Name(), next)
	}
	a.status = next
	return events
}

// membershipDiffLocked compares the alert set against the snapshot taken at
// the previous update.
func (a *Alert) membershipDiffLocked() (joined, left []*Sensor) {
	for s := range a.inAlert {
		if !a.lastInAlert[s] {
			joined = append(joined, s)
		}
	}
	for s := range a.lastInAlert {
		if !a.inAlert[s] {
			left = append(left, s)
		}
	}
	return joined, left
}

func appendMembershipEvents(events []Event, joined, left []*Sensor) []Event {
	if len(joined) > 0 {
		events = append(events, EventSensorJoined)
	}
	if len(left) > 0 {
		events = append(events, EventSensorLeft)
	}
	return events
}

// applySideEffectsLocked manages the persistence latch and the per-sensor
// countdowns that accompany a status update.
func (a *Alert) applySideEffectsLocked(previous, next Status) {
	if next == StatusActive {
		if a.persistenceObject != nil {
			if err := a.persistenceObject.SetBool(true); err != nil {
				log.Printf("engine: alert %s: set persistence: %v", a.Name(), err)
			}
		}
		for s := range a.inAlert {
			if s.persistenceObject != nil {
				if err := s.persistenceObject.SetBool(true); err != nil {
					log.Printf("engine: sensor %s: set persistence: %v", s.Name(), err)
				}
			}
		}
	}

	// The reset path: entering stopped releases every latch of the group so
	// the next intrusion starts from a clean slate.
	if next == StatusStopped && previous != StatusStopped {
		if a.persistenceObject != nil {
			if err := a.persistenceObject.SetBool(false); err != nil {
				log.Printf("engine: alert %s: clear persistence: %v", a.Name(), err)
			}
		}
		for _, s := range a.eng.sensorsOf(a) {
			if s.persistenceObject != nil {
				if err := s.persistenceObject.SetBool(false); err != nil {
					log.Printf("engine: sensor %s: clear persistence: %v", s.Name(), err)
				}
			}
		}
	}

	// Countdowns are scoped to the phase that started them. Leaving
	// initializing or active discards them wholesale; the loops below
	// re-create the ones the new phase needs.
	phaseChanged := previous != next
	if phaseChanged && (next == StatusStopped || next == StatusPaused || next == StatusActive) {
		for s, t := range a.sensorTimers {
			t.stop()
			delete(a.sensorTimers, s)
		}
	}
	// A sensor that left the sets takes its countdown with it, so a rejoin
	// starts a fresh one.
	for s, t := range a.sensorTimers {
		if !a.inPrealert[s] && !a.inAlert[s] {
			t.stop()
			delete(a.sensorTimers, s)
		}
	}

	switch next {
	case StatusInitializing:
		for s := range a.inPrealert {
			if a.sensorTimers[s] == nil {
				a.sensorTimers[s] = a.startPrealertTimerLocked(s)
			}
		}
	case StatusActive:
		for s := range a.inAlert {
			if a.sensorTimers[s] == nil {
				a.sensorTimers[s] = a.startAlertTimerLocked(s)
			}
		}
	}
}

func (a *Alert) startPrealertTimerLocked(s *Sensor) *timer {
	d := s.cfg.PrealertDuration.DurationForMode(a.eng.currentModeName())
	var t *timer
	t = newTimer(
		fmt.Sprintf("prealert of %s", s.Name()), d, a.eng.tick,
		timerCallbacks{
			onTimeoutReached: func(*timer) { a.onPrealertExpired(s, t) },
		})
	t.start()
	return t
}

func (a *Alert) startAlertTimerLocked(s *Sensor) *timer {
	d := s.cfg.AlertDuration.DurationForMode(a.eng.currentModeName())
	var t *timer
	t = newTimer(
		fmt.Sprintf("alert of %s", s.Name()), d, a.eng.tick,
		timerCallbacks{
			onTimeoutReached: func(*timer) { a.onAlertTimerDone(s, t) },
		})
	t.start()
	return t
}

// firePending executes event bindings and records the journal trail. Runs
// without the alert lock so actions can take as long as they need.
func (a *Alert) firePending(events []Event) {
	ctx := &EventContext{Engine: a.eng, Alert: a}
	for _, ev := range events {
		log.Printf("engine: alert %s: %s", a.Name(), ev)
		a.eng.record(journal.EntityAlert, a.Name(), string(ev), "")
		a.events.fire(ev, ctx)
	}
}

// memberNames lists the sensors per phase for the sensors-status context
// handler. The pause list holds the members latched when the alert went
// paused.
func (a *Alert) memberNames() (inPrealert, inAlert, inPause []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for s := range a.inPrealert {
		inPrealert = append(inPrealert, s.Name())
	}
	for s := range a.inAlert {
		inAlert = append(inAlert, s.Name())
	}
	for s := range a.pausedMembers {
		inPause = append(inPause, s.Name())
	}
	sort.Strings(inPrealert)
	sort.Strings(inAlert)
	sort.Strings(inPause)
	return inPrealert, inAlert, inPause
}
