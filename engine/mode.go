package engine

import (
	"fmt"
	"log"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/journal"
)

// Mode is the runtime view of one configured operating profile.
type Mode struct {
	eng    *Engine
	cfg    *config.Mode
	events *eventManager
}

func newMode(eng *Engine, cfg *config.Mode) *Mode {
	return &Mode{
		eng:    eng,
		cfg:    cfg,
		events: newEventManager(eng, fmt.Sprintf("mode %s", cfg.Name), cfg.Events, eng.cfg.Modes.Events),
	}
}

func (m *Mode) Name() string { return m.cfg.Name }

// Value is the integer code stored in the mode object.
func (m *Mode) Value() int { return m.cfg.Value }

// SensorNames lists the sensors watched while this mode is active.
func (m *Mode) SensorNames() []string { return m.cfg.Sensors }

func (m *Mode) requires(sensorName string) bool {
	for _, n := range m.cfg.Sensors {
		if n == sensorName {
			return true
		}
	}
	return false
}

func (m *Mode) notifyEntered() { m.notify(EventModeEntered) }

func (m *Mode) notifyLeft() { m.notify(EventModeLeft) }

func (m *Mode) notify(ev Event) {
	log.Printf("engine: mode %s: %s", m.Name(), ev)
	m.eng.record(journal.EntityMode, m.Name(), string(ev), "")
	m.events.fire(ev, &EventContext{Engine: m.eng, Mode: m})
}
