// Package config holds the sentinel configuration document: the bus service
// endpoint, the operating modes, the alert groups and the sensors they watch.
// The document is loaded from YAML, has its {placeholder} parameters resolved
// and is integrity-checked before the engine is built from it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the root of the configuration tree.
type Document struct {
	// Parameters are expanded into every string field of the document as
	// {name} placeholders before validation (see Resolve).
	Parameters map[string]string `yaml:"parameters"`

	Services Services    `yaml:"services"`
	Modes    ModesBlock  `yaml:"modes"`
	Alerts   AlertsBlock `yaml:"alerts"`
	Sensors  []*Sensor   `yaml:"sensors"`
}

// Services describes the external collaborators of the daemon.
type Services struct {
	Bus BusService `yaml:"bus"`
}

// BusService locates the bus backend daemon.
type BusService struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// URL returns the WebSocket endpoint of the bus backend.
func (b BusService) URL() string {
	return fmt.Sprintf("ws://%s:%d/ws", b.Host, b.Port)
}

// ModesBlock declares the mode-value object, the repository-wide mode event
// bindings and the modes themselves.
type ModesBlock struct {
	ObjectID string          `yaml:"objectId"`
	Events   []*EventBinding `yaml:"events"`
	Modes    []*Mode         `yaml:"modes"`
}

// Mode is a named operating profile. Value is the integer written to the
// mode object; Sensors lists the sensors watched while the mode is active.
type Mode struct {
	Name    string          `yaml:"name"`
	Value   int             `yaml:"value"`
	Sensors []string        `yaml:"sensors"`
	Events  []*EventBinding `yaml:"events"`
}

// AlertsBlock declares the alert groups plus repository-wide event bindings
// shared by all of them.
type AlertsBlock struct {
	Events []*EventBinding `yaml:"events"`
	Alerts []*Alert        `yaml:"alerts"`
}

// Alert is a named alert group.
type Alert struct {
	Name                string          `yaml:"name"`
	PersistenceObjectID string          `yaml:"persistenceObjectId"`
	InhibitionObjectID  string          `yaml:"inhibitionObjectId"`
	Events              []*EventBinding `yaml:"events"`
}

// SensorKind discriminates the trigger computation of a sensor.
type SensorKind string

const (
	SensorBoolean SensorKind = "boolean"
	SensorFloat   SensorKind = "float"
)

// Sensor declares a single logical input and its participation in an alert.
type Sensor struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Kind        SensorKind `yaml:"type"`
	Alert       string     `yaml:"alert"`

	EnabledObjectID     string `yaml:"enabledObjectId"`
	WatchedObjectID     string `yaml:"watchedObjectId"`
	PersistenceObjectID string `yaml:"persistenceObjectId"`

	ActivationDelay  ModeValue `yaml:"activationDelay"`
	PrealertDuration ModeValue `yaml:"prealertDuration"`
	AlertDuration    ModeValue `yaml:"alertDuration"`

	Activation *Criterion `yaml:"activation"`

	// Boolean sensors: which polarity of the watched object counts as
	// triggered. Defaults to true.
	TriggerValue *bool `yaml:"triggerValue"`

	// Float sensors.
	LowerBound *float64 `yaml:"lowerBound"`
	UpperBound *float64 `yaml:"upperBound"`
	Hysteresis float64  `yaml:"hysteresis"`
}

// TriggerOnTrue reports the polarity of a boolean sensor.
func (s *Sensor) TriggerOnTrue() bool {
	return s.TriggerValue == nil || *s.TriggerValue
}

// ModeValue is a numeric setting with a mandatory default and optional
// per-mode overrides. Values are durations expressed in seconds.
//
// YAML accepts either a bare scalar (the default) or a mapping:
//
//	activationDelay: 30
//	activationDelay: {default: 0, Away: 30}
type ModeValue struct {
	Default float64
	ByMode  map[string]float64
}

// ForMode returns the value for the given mode name, falling back to the
// default when the mode has no specific value.
func (v ModeValue) ForMode(mode string) float64 {
	if val, ok := v.ByMode[mode]; ok {
		return val
	}
	return v.Default
}

// DurationForMode is ForMode converted to a time.Duration.
func (v ModeValue) DurationForMode(mode string) time.Duration {
	return time.Duration(v.ForMode(mode) * float64(time.Second))
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (v *ModeValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&v.Default)
	case yaml.MappingNode:
		var m map[string]float64
		if err := node.Decode(&m); err != nil {
			return err
		}
		v.ByMode = make(map[string]float64, len(m))
		hasDefault := false
		for name, val := range m {
			if name == "default" {
				v.Default = val
				hasDefault = true
				continue
			}
			v.ByMode[name] = val
		}
		if !hasDefault {
			return fmt.Errorf("mode-dependent value needs a 'default' entry")
		}
		return nil
	default:
		return fmt.Errorf("mode-dependent value must be a scalar or a mapping")
	}
}

// CriterionKind discriminates activation-criterion nodes.
type CriterionKind string

const (
	CriterionSensor CriterionKind = "sensor"
	CriterionAnd    CriterionKind = "and"
	CriterionOr     CriterionKind = "or"
)

// Criterion is a node of an activation-criterion tree: either a leaf
// referencing a sensor's trigger state, or an and/or combinator.
type Criterion struct {
	Kind CriterionKind `yaml:"type"`

	// Leaf fields.
	Sensor        string `yaml:"sensor"`
	WhenTriggered *bool  `yaml:"whenTriggered"` // defaults to true

	// Combinator field.
	Children []*Criterion `yaml:"children"`
}

// WantsTriggered reports whether the leaf requires the referenced sensor to
// be triggered (true) or released (false).
func (c *Criterion) WantsTriggered() bool {
	return c.WhenTriggered == nil || *c.WhenTriggered
}

// EventBinding maps an event type to the actions executed when it fires.
type EventBinding struct {
	Event   string    `yaml:"event"`
	Actions []*Action `yaml:"actions"`
}

// Action is a single action descriptor. Known types (send-email, send-sms,
// shell-cmd) have their template fields parsed out; any other type is kept
// verbatim in Raw and forwarded to the bus backend untouched.
type Action struct {
	Type string

	// send-email
	Subject string
	Body    string

	// send-sms
	Value string

	// shell-cmd
	Cmd string

	// Raw is the full descriptor as decoded, used for generic passthrough.
	Raw map[string]any
}

// UnmarshalYAML keeps the raw descriptor alongside the typed fields.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Raw = raw
	a.Type, _ = raw["type"].(string)
	if a.Type == "" {
		return fmt.Errorf("action needs a 'type'")
	}
	a.Subject, _ = raw["subject"].(string)
	a.Body, _ = raw["body"].(string)
	a.Value, _ = raw["value"].(string)
	a.Cmd, _ = raw["cmd"].(string)
	return nil
}

// Load reads, resolves and validates the configuration document at path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes, resolves and validates a configuration document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := doc.Resolve(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SensorByName returns the sensor declaration with the given name, or nil.
func (d *Document) SensorByName(name string) *Sensor {
	for _, s := range d.Sensors {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AlertByName returns the alert declaration with the given name, or nil.
func (d *Document) AlertByName(name string) *Alert {
	for _, a := range d.Alerts.Alerts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ModeByValue returns the mode whose integer code is value, or nil.
func (d *Document) ModeByValue(value int) *Mode {
	for _, m := range d.Modes.Modes {
		if m.Value == value {
			return m
		}
	}
	return nil
}

// ModeByName returns the mode with the given name, or nil.
func (d *Document) ModeByName(name string) *Mode {
	for _, m := range d.Modes.Modes {
		if m.Name == name {
			return m
		}
	}
	return nil
}
