package engine

import "github.com/whisper-darkly/sentinel-backend/config"

// criterionSatisfied evaluates an activation-criterion tree against the
// current trigger state of the referenced sensors. A nil tree is always
// satisfied. Leaves read the last observed trigger state, including that of
// disabled sensors.
func (e *Engine) criterionSatisfied(c *config.Criterion) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case config.CriterionSensor:
		s := e.sensorByName(c.Sensor)
		if s == nil {
			return false
		}
		return s.IsTriggered() == c.WantsTriggered()
	case config.CriterionAnd:
		for _, child := range c.Children {
			if !e.criterionSatisfied(child) {
				return false
			}
		}
		return true
	case config.CriterionOr:
		for _, child := range c.Children {
			if e.criterionSatisfied(child) {
				return true
			}
		}
		return false
	}
	return false
}
