package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// knownEvents lists the event names accepted in bindings, per entity kind.
var (
	knownAlertEvents = map[string]bool{
		"prealert started": true,
		"activated":        true,
		"deactivated":      true,
		"paused":           true,
		"resumed":          true,
		"stopped":          true,
		"aborted":          true,
		"reset":            true,
		"sensor joined":    true,
		"sensor left":      true,
	}
	knownModeEvents = map[string]bool{
		"entered": true,
		"left":    true,
	}
)

// Validate checks the integrity of the resolved document: unique names,
// resolvable cross-references and well-formed sensor declarations. All
// problems are reported at once.
func (d *Document) Validate() error {
	var errs *multierror.Error

	if d.Services.Bus.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("services.bus: host is required"))
	}
	if d.Modes.ObjectID == "" {
		errs = multierror.Append(errs, fmt.Errorf("modes: objectId is required"))
	}
	if len(d.Modes.Modes) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("modes: at least one mode is required"))
	}

	modeNames := map[string]bool{}
	modeValues := map[int]bool{}
	for _, m := range d.Modes.Modes {
		if m.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("modes: mode with empty name"))
			continue
		}
		if modeNames[m.Name] {
			errs = multierror.Append(errs, fmt.Errorf("modes: duplicate mode %q", m.Name))
		}
		modeNames[m.Name] = true
		if modeValues[m.Value] {
			errs = multierror.Append(errs, fmt.Errorf("modes: duplicate mode value %d", m.Value))
		}
		modeValues[m.Value] = true
		errs = multierror.Append(errs, validateBindings(fmt.Sprintf("mode %q", m.Name), m.Events, knownModeEvents))
	}
	errs = multierror.Append(errs, validateBindings("modes", d.Modes.Events, knownModeEvents))

	alertNames := map[string]bool{}
	for _, a := range d.Alerts.Alerts {
		if a.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("alerts: alert with empty name"))
			continue
		}
		if alertNames[a.Name] {
			errs = multierror.Append(errs, fmt.Errorf("alerts: duplicate alert %q", a.Name))
		}
		alertNames[a.Name] = true
		errs = multierror.Append(errs, validateBindings(fmt.Sprintf("alert %q", a.Name), a.Events, knownAlertEvents))
	}
	errs = multierror.Append(errs, validateBindings("alerts", d.Alerts.Events, knownAlertEvents))

	sensorNames := map[string]bool{}
	for _, s := range d.Sensors {
		if s.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("sensors: sensor with empty name"))
			continue
		}
		if sensorNames[s.Name] {
			errs = multierror.Append(errs, fmt.Errorf("sensors: duplicate sensor %q", s.Name))
		}
		sensorNames[s.Name] = true
		errs = multierror.Append(errs, d.validateSensor(s))
	}

	// Cross-references that need the full name sets.
	for _, m := range d.Modes.Modes {
		for _, name := range m.Sensors {
			if !sensorNames[name] {
				errs = multierror.Append(errs, fmt.Errorf("mode %q: unknown sensor %q", m.Name, name))
			}
		}
	}
	for _, s := range d.Sensors {
		errs = multierror.Append(errs, validateCriterion(s.Name, s.Activation, sensorNames))
	}

	return errs.ErrorOrNil()
}

func (d *Document) validateSensor(s *Sensor) error {
	var errs *multierror.Error

	prefix := fmt.Sprintf("sensor %q", s.Name)
	switch s.Kind {
	case SensorBoolean:
	case SensorFloat:
		if s.LowerBound == nil && s.UpperBound == nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: float sensor needs a lower or upper bound", prefix))
		}
		if s.LowerBound != nil && s.UpperBound != nil && *s.LowerBound >= *s.UpperBound {
			errs = multierror.Append(errs, fmt.Errorf("%s: lower bound must be below upper bound", prefix))
		}
		if s.Hysteresis < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: hysteresis must not be negative", prefix))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown type %q", prefix, s.Kind))
	}

	if s.Alert == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: alert is required", prefix))
	} else if d.AlertByName(s.Alert) == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown alert %q", prefix, s.Alert))
	}
	if s.EnabledObjectID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: enabledObjectId is required", prefix))
	}
	if s.WatchedObjectID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: watchedObjectId is required", prefix))
	}
	for _, mv := range []struct {
		name  string
		value ModeValue
	}{
		{"activationDelay", s.ActivationDelay},
		{"prealertDuration", s.PrealertDuration},
		{"alertDuration", s.AlertDuration},
	} {
		if mv.value.Default < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s must not be negative", prefix, mv.name))
		}
		for mode, v := range mv.value.ByMode {
			if v < 0 {
				errs = multierror.Append(errs, fmt.Errorf("%s: %s for mode %q must not be negative", prefix, mv.name, mode))
			}
			if d.ModeByName(mode) == nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %s references unknown mode %q", prefix, mv.name, mode))
			}
		}
	}

	return errs.ErrorOrNil()
}

func validateCriterion(sensorName string, c *Criterion, sensorNames map[string]bool) error {
	if c == nil {
		return nil
	}
	var errs *multierror.Error

	switch c.Kind {
	case CriterionSensor:
		if c.Sensor == "" {
			errs = multierror.Append(errs, fmt.Errorf("sensor %q: criterion leaf needs a sensor", sensorName))
		} else if !sensorNames[c.Sensor] {
			errs = multierror.Append(errs, fmt.Errorf("sensor %q: criterion references unknown sensor %q", sensorName, c.Sensor))
		}
	case CriterionAnd, CriterionOr:
		if len(c.Children) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("sensor %q: %s criterion needs children", sensorName, c.Kind))
		}
		for _, child := range c.Children {
			errs = multierror.Append(errs, validateCriterion(sensorName, child, sensorNames))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("sensor %q: unknown criterion type %q", sensorName, c.Kind))
	}

	return errs.ErrorOrNil()
}

func validateBindings(prefix string, bindings []*EventBinding, known map[string]bool) error {
	var errs *multierror.Error
	for _, b := range bindings {
		if !known[b.Event] {
			errs = multierror.Append(errs, fmt.Errorf("%s: unknown event %q", prefix, b.Event))
		}
		if len(b.Actions) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: event %q has no actions", prefix, b.Event))
		}
	}
	return errs.ErrorOrNil()
}
