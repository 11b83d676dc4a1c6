package config

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func yamlUnmarshal(t *testing.T, s string, v any) error {
	t.Helper()
	return yaml.Unmarshal([]byte(s), v)
}

const sampleDoc = `
parameters:
  location: Home
  prefix: "{location}.Alarm"
services:
  bus:
    host: bus.local
    port: 9090
modes:
  objectId: "{prefix}.Mode"
  events:
    - event: entered
      actions:
        - type: send-sms
          value: "now in {mode.current} mode"
  modes:
    - name: Presence
      value: 1
      sensors: []
    - name: Away
      value: 2
      sensors: [entrance, smoke]
alerts:
  events:
    - event: activated
      actions:
        - type: send-email
          to: operator@example.net
          subject: "{alert.name} at {location}"
          body: "Triggered: {alert.sensors-status}"
  alerts:
    - name: intrusion
      persistenceObjectId: "{prefix}.IntrusionPersist"
      inhibitionObjectId: "{prefix}.IntrusionInhibit"
    - name: fire
sensors:
  - name: entrance
    type: boolean
    alert: intrusion
    enabledObjectId: "{prefix}.EntranceEnabled"
    watchedObjectId: "{prefix}.EntranceDoor"
    persistenceObjectId: "{prefix}.EntrancePersist"
    activationDelay:
      default: 0
      Away: 30
    prealertDuration: 15
    alertDuration: 120
    activation:
      type: and
      children:
        - type: sensor
          sensor: smoke
          whenTriggered: false
        - type: sensor
          sensor: entrance
  - name: smoke
    type: float
    alert: fire
    enabledObjectId: "{prefix}.SmokeEnabled"
    watchedObjectId: "{prefix}.SmokeLevel"
    upperBound: 50
    hysteresis: 5
    activationDelay: 0
    prealertDuration: 0
    alertDuration: 60
`

func TestParseSampleDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := doc.Services.Bus.URL(); got != "ws://bus.local:9090/ws" {
		t.Errorf("bus URL = %q", got)
	}
	// Nested parameters resolve transitively.
	if got := doc.Modes.ObjectID; got != "Home.Alarm.Mode" {
		t.Errorf("mode object = %q", got)
	}
	if got := doc.AlertByName("intrusion").PersistenceObjectID; got != "Home.Alarm.IntrusionPersist" {
		t.Errorf("persistence object = %q", got)
	}

	entrance := doc.SensorByName("entrance")
	if entrance == nil {
		t.Fatal("entrance sensor missing")
	}
	if got := entrance.ActivationDelay.ForMode("Away"); got != 30 {
		t.Errorf("activationDelay for Away = %g, want 30", got)
	}
	if got := entrance.ActivationDelay.ForMode("Presence"); got != 0 {
		t.Errorf("activationDelay for Presence = %g, want 0", got)
	}
	if got := entrance.PrealertDuration.DurationForMode("Away"); got != 15*time.Second {
		t.Errorf("prealertDuration = %s", got)
	}

	crit := entrance.Activation
	if crit.Kind != CriterionAnd || len(crit.Children) != 2 {
		t.Fatalf("criterion = %+v", crit)
	}
	if crit.Children[0].WantsTriggered() {
		t.Error("whenTriggered: false not honoured")
	}
	if !crit.Children[1].WantsTriggered() {
		t.Error("whenTriggered default should be true")
	}

	if doc.ModeByValue(2).Name != "Away" {
		t.Error("ModeByValue(2) != Away")
	}
	if doc.ModeByName("Vacation") != nil {
		t.Error("ModeByName must return nil for unknown modes")
	}
}

func TestContextPlaceholdersSurviveResolve(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// {location} is a parameter, {alert.name} is expanded at event time.
	action := doc.Alerts.Events[0].Actions[0]
	if got := action.Subject; got != "{alert.name} at Home" {
		t.Errorf("subject = %q", got)
	}
	if raw := action.Raw["subject"]; raw != "{alert.name} at Home" {
		t.Errorf("raw subject = %q", raw)
	}
}

func TestParametersResolveInNameFields(t *testing.T) {
	const doc = `
parameters:
  zone: Garage
services:
  bus:
    host: localhost
    port: 1
modes:
  objectId: Mode
  modes:
    - name: "{zone}Watch"
      value: 1
      sensors: ["{zone}Door"]
alerts:
  alerts:
    - name: "{zone}Intrusion"
sensors:
  - name: "{zone}Door"
    type: boolean
    alert: "{zone}Intrusion"
    enabledObjectId: E
    watchedObjectId: W
    activationDelay: 0
    prealertDuration: 0
    alertDuration: 1
`
	parsed, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Names and the references to them must expand to the same string, or
	// validation would see dangling cross-references.
	if parsed.ModeByName("GarageWatch") == nil {
		t.Error("mode name not resolved")
	}
	if parsed.AlertByName("GarageIntrusion") == nil {
		t.Error("alert name not resolved")
	}
	s := parsed.SensorByName("GarageDoor")
	if s == nil {
		t.Fatal("sensor name not resolved")
	}
	if s.Alert != "GarageIntrusion" {
		t.Errorf("sensor alert reference = %q", s.Alert)
	}
	if got := parsed.ModeByName("GarageWatch").Sensors[0]; got != "GarageDoor" {
		t.Errorf("mode sensor reference = %q", got)
	}
}

func TestResolveRejectsCircularParameters(t *testing.T) {
	const doc = `
parameters:
  a: "{b}"
  b: "{a}"
services:
  bus:
    host: localhost
    port: 1
modes:
  objectId: Mode
  modes:
    - {name: Presence, value: 1, sensors: []}
alerts:
  alerts: []
sensors: []
`
	if _, err := Parse([]byte(doc)); err == nil ||
		!strings.Contains(err.Error(), "circular") {
		t.Fatalf("Parse = %v, want circular reference error", err)
	}
}

func TestModeValueRequiresDefault(t *testing.T) {
	var v ModeValue
	err := yamlUnmarshal(t, "Away: 30", &v)
	if err == nil || !strings.Contains(err.Error(), "default") {
		t.Fatalf("unmarshal = %v, want missing default error", err)
	}
}

func TestActionRequiresType(t *testing.T) {
	var a Action
	if err := yamlUnmarshal(t, "subject: hi", &a); err == nil {
		t.Fatal("action without type must be rejected")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	const doc = `
services:
  bus:
    host: ""
modes:
  objectId: Mode
  modes:
    - name: Away
      value: 2
      sensors: [ghost]
    - name: Away
      value: 2
      sensors: []
alerts:
  alerts:
    - name: intrusion
      events:
        - event: exploded
          actions:
            - type: send-sms
              value: boom
sensors:
  - name: entrance
    type: boolean
    alert: nothere
    enabledObjectId: E
    watchedObjectId: W
    activationDelay: -1
  - name: leak
    type: float
    alert: intrusion
    enabledObjectId: E2
    watchedObjectId: W2
    hysteresis: -2
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"host is required",
		"duplicate mode \"Away\"",
		"duplicate mode value 2",
		"unknown sensor \"ghost\"",
		"unknown event \"exploded\"",
		"unknown alert \"nothere\"",
		"activationDelay must not be negative",
		"needs a lower or upper bound",
		"hysteresis must not be negative",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error misses %q:\n%v", want, err)
		}
	}
}

func TestValidateFloatBounds(t *testing.T) {
	const doc = `
services:
  bus:
    host: localhost
    port: 1
modes:
  objectId: Mode
  modes:
    - {name: Presence, value: 1, sensors: []}
alerts:
  alerts:
    - name: fire
sensors:
  - name: probe
    type: float
    alert: fire
    enabledObjectId: E
    watchedObjectId: W
    lowerBound: 10
    upperBound: 5
`
	if _, err := Parse([]byte(doc)); err == nil ||
		!strings.Contains(err.Error(), "lower bound must be below upper bound") {
		t.Fatalf("Parse = %v, want bounds error", err)
	}
}
