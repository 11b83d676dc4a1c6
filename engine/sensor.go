package engine

import (
	"fmt"
	"log"
	"sync"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/journal"
	"github.com/whisper-darkly/sentinel-backend/lkd"
)

// Sensor is the runtime state of one configured sensor: its trigger state,
// its enablement mirror and its pending activation countdown.
//
// The engine is the only writer of the enabled object, so the enabled flag
// here mirrors the bus without re-reading it on every access. The trigger
// state is recomputed from each watched-object notification.
type Sensor struct {
	eng   *Engine
	cfg   *config.Sensor
	alert *Alert

	enabledObject     Object
	watchedObject     Object
	persistenceObject Object // nil when the sensor has none

	mu              sync.Mutex
	triggered       bool
	enabled         bool
	activationTimer *timer
}

func newSensor(eng *Engine, cfg *config.Sensor, alert *Alert) *Sensor {
	s := &Sensor{
		eng:           eng,
		cfg:           cfg,
		alert:         alert,
		enabledObject: eng.bus.Object(cfg.EnabledObjectID),
		watchedObject: eng.bus.Object(cfg.WatchedObjectID),
	}
	if cfg.PersistenceObjectID != "" {
		s.persistenceObject = eng.bus.Object(cfg.PersistenceObjectID)
	}
	return s
}

// syncFromBus reads the sensor's initial state from the daemon. Read errors
// leave the conservative defaults (released, disabled) in place.
func (s *Sensor) syncFromBus() {
	if enabled, err := s.enabledObject.Bool(); err != nil {
		log.Printf("engine: sensor %s: read enabled state: %v", s.Name(), err)
	} else {
		s.mu.Lock()
		s.enabled = enabled
		s.mu.Unlock()
	}

	value, err := s.watchedObject.Float()
	if err != nil {
		log.Printf("engine: sensor %s: read watched value: %v", s.Name(), err)
		return
	}
	s.mu.Lock()
	s.triggered = s.computeTriggerLocked(value)
	s.mu.Unlock()
}

func (s *Sensor) Name() string { return s.cfg.Name }

// Alert returns the alert group this sensor participates in.
func (s *Sensor) Alert() *Alert { return s.alert }

// IsTriggered reports the last observed trigger state.
func (s *Sensor) IsTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// IsEnabled reports whether the sensor is armed.
func (s *Sensor) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// isActivationPending reports whether an activation countdown is running.
func (s *Sensor) isActivationPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activationTimer != nil
}

// isRequiredByCurrentMode reports whether the current mode watches this
// sensor.
func (s *Sensor) isRequiredByCurrentMode() bool {
	m := s.eng.CurrentMode()
	return m != nil && m.requires(s.Name())
}

// activationDelay and friends resolve the sensor's mode-dependent settings
// against the current mode.
func (s *Sensor) activationDelay() float64 {
	return s.cfg.ActivationDelay.ForMode(s.eng.currentModeName())
}

// computeTriggerLocked derives the trigger state from a watched-object value.
// Callers hold s.mu.
func (s *Sensor) computeTriggerLocked(value float64) bool {
	switch s.cfg.Kind {
	case config.SensorFloat:
		// Hysteresis: entering the triggered band is immediate, leaving it
		// requires clearing the band by the hysteresis margin.
		if s.cfg.LowerBound != nil && value <= *s.cfg.LowerBound {
			return true
		}
		if s.cfg.UpperBound != nil && value >= *s.cfg.UpperBound {
			return true
		}
		if s.triggered {
			if s.cfg.LowerBound != nil && value <= *s.cfg.LowerBound+s.cfg.Hysteresis {
				return true
			}
			if s.cfg.UpperBound != nil && value >= *s.cfg.UpperBound-s.cfg.Hysteresis {
				return true
			}
		}
		return false
	default:
		return (value != 0) == s.cfg.TriggerOnTrue()
	}
}

// onWatchedObjectChanged recomputes the trigger state from the pushed value
// and escalates a released→triggered edge on an armed sensor to the alert.
func (s *Sensor) onWatchedObjectChanged(value any) {
	f, err := lkd.AsFloat(value)
	if err != nil {
		log.Printf("engine: sensor %s: watched value: %v", s.Name(), err)
		return
	}

	s.mu.Lock()
	was := s.triggered
	s.triggered = s.computeTriggerLocked(f)
	now := s.triggered
	enabled := s.enabled
	s.mu.Unlock()

	if was == now {
		return
	}
	log.Printf("engine: sensor %s is now %s", s.Name(), triggerWord(now))
	s.eng.record(journal.EntitySensor, s.Name(), "trigger", triggerWord(now))

	if now && enabled {
		s.alert.AddSensor(s)
	}
}

func triggerWord(triggered bool) string {
	if triggered {
		return "triggered"
	}
	return "released"
}

// setEnabled arms or disarms the sensor. Disarming removes it from its alert
// before the enabled object is written, so a trigger notification racing with
// the disable finds the sensor already gone. Arming clears any stale
// per-sensor persistence.
func (s *Sensor) setEnabled(value bool) {
	if !value {
		s.stopActivationTimer()
	}

	s.mu.Lock()
	current := s.enabled
	s.mu.Unlock()
	if current == value {
		return
	}

	if value {
		if err := s.enabledObject.SetBool(true); err != nil {
			log.Printf("engine: sensor %s: enable: %v", s.Name(), err)
			return
		}
		s.mu.Lock()
		s.enabled = true
		s.mu.Unlock()
		if s.persistenceObject != nil {
			if err := s.persistenceObject.SetBool(false); err != nil {
				log.Printf("engine: sensor %s: clear persistence: %v", s.Name(), err)
			}
		}
	} else {
		s.alert.RemoveSensor(s)
		if err := s.enabledObject.SetBool(false); err != nil {
			log.Printf("engine: sensor %s: disable: %v", s.Name(), err)
			return
		}
		s.mu.Lock()
		s.enabled = false
		s.mu.Unlock()
	}

	log.Printf("engine: sensor %s is now %s", s.Name(), enableWord(value))
	s.eng.record(journal.EntitySensor, s.Name(), enableWord(value), "")
}

func enableWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// startActivationTimer launches the activation countdown for this sensor,
// cancelling any previous one. The countdown pauses while the activation
// criterion is unsatisfied and restarts from the full delay once it is
// satisfied again.
func (s *Sensor) startActivationTimer() {
	s.mu.Lock()
	old := s.activationTimer

	delay := s.activationDelay()
	var t *timer
	t = newTimer(
		fmt.Sprintf("activation of %s", s.Name()),
		durationSeconds(delay), s.eng.tick,
		timerCallbacks{
			onIterate:        s.gateActivation,
			onTimeoutReached: func(*timer) { s.completeActivation(t) },
			onTerminated:     func(*timer) { s.forgetActivationTimer(t) },
		})
	s.activationTimer = t
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
	log.Printf("engine: sensor %s arms in %gs", s.Name(), delay)
	t.start()
}

// gateActivation pauses the countdown while the activation criterion is not
// satisfied. Resuming resets the timer so the full delay runs again.
func (s *Sensor) gateActivation(t *timer) {
	if s.eng.criterionSatisfied(s.cfg.Activation) {
		if t.isPaused() {
			t.reset()
		}
	} else if !t.isPaused() {
		t.pause()
	}
}

// completeActivation arms the sensor when the countdown elapses, unless a
// mode change in the meantime made it irrelevant.
func (s *Sensor) completeActivation(t *timer) {
	s.mu.Lock()
	stale := s.activationTimer != t
	s.mu.Unlock()
	if stale || !s.isRequiredByCurrentMode() {
		return
	}
	s.setEnabled(true)
}

func (s *Sensor) forgetActivationTimer(t *timer) {
	s.mu.Lock()
	if s.activationTimer == t {
		s.activationTimer = nil
	}
	s.mu.Unlock()
}

func (s *Sensor) stopActivationTimer() {
	s.mu.Lock()
	t := s.activationTimer
	s.mu.Unlock()
	if t != nil {
		t.stop()
	}
}
