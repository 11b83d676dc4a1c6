package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/whisper-darkly/sentinel-backend/config"
)

// Event names an observable transition of an alert or a mode. The strings
// are the binding keys used in the configuration document.
type Event string

const (
	EventPrealertStarted Event = "prealert started"
	EventActivated       Event = "activated"
	EventDeactivated     Event = "deactivated"
	EventPaused          Event = "paused"
	EventResumed         Event = "resumed"
	EventStopped         Event = "stopped"
	EventAborted         Event = "aborted"
	EventReset           Event = "reset"
	EventSensorJoined    Event = "sensor joined"
	EventSensorLeft      Event = "sensor left"

	EventModeEntered Event = "entered"
	EventModeLeft    Event = "left"
)

// EventContext carries the entity an event fired for, for use by context
// handlers while expanding action templates.
type EventContext struct {
	Engine *Engine
	Alert  *Alert // nil for mode events
	Mode   *Mode  // nil for alert events
}

// eventManager resolves an event against a stack of bindings (entity-specific
// first, then repository-wide) and executes the bound actions. Action
// failures are logged and do not abort the remaining actions.
type eventManager struct {
	eng      *Engine
	owner    string
	bindings [][]*config.EventBinding
}

func newEventManager(eng *Engine, owner string, bindings ...[]*config.EventBinding) *eventManager {
	return &eventManager{eng: eng, owner: owner, bindings: bindings}
}

func (m *eventManager) fire(event Event, ctx *EventContext) {
	for _, layer := range m.bindings {
		for _, b := range layer {
			if b.Event != string(event) {
				continue
			}
			for _, a := range b.Actions {
				if err := m.eng.executeAction(a, ctx); err != nil {
					log.Printf("engine: %s: event %q: action %s: %v", m.owner, event, a.Type, err)
				}
			}
		}
	}
}

// executeAction expands the action's templates and submits the resulting
// document to the bus backend for execution.
func (e *Engine) executeAction(a *config.Action, ctx *EventContext) error {
	doc := make(map[string]any, len(a.Raw))
	for k, v := range a.Raw {
		doc[k] = v
	}

	switch a.Type {
	case "send-email":
		subject, err := e.expandTemplate(a.Subject, ctx)
		if err != nil {
			return err
		}
		body, err := e.expandTemplate(a.Body, ctx)
		if err != nil {
			return err
		}
		doc["subject"] = subject
		doc["body"] = body + emailTrailer()

	case "send-sms":
		value, err := e.expandTemplate(a.Value, ctx)
		if err != nil {
			return err
		}
		doc["value"] = value

	case "shell-cmd":
		cmd, err := e.expandTemplate(a.Cmd, ctx)
		if err != nil {
			return err
		}
		doc["cmd"] = cmd

	default:
		// Unknown types pass through verbatim; the daemon owns their
		// semantics.
	}

	return e.bus.ExecuteAction(doc)
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

func emailTrailer() string {
	return fmt.Sprintf(
		"\n\n--------------------------------------------------------\nThis email was sent by sentinel v%s on %s.",
		Version, time.Now().Format(time.RFC1123))
}
