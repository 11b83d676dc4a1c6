package config

import (
	"fmt"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.-]+)\}`)

// Resolve expands {name} placeholders from the Parameters block into every
// string field of the document. Placeholders that do not name a parameter
// are left untouched; action templates rely on this to carry their context
// placeholders (e.g. {alert.name}) through to event time. Parameter values
// may reference other parameters as long as the chain is acyclic.
func (d *Document) Resolve() error {
	for name := range d.Parameters {
		resolved, err := d.resolveParameter(name, nil)
		if err != nil {
			return err
		}
		d.Parameters[name] = resolved
	}

	walkStrings(d, d.substitute)
	return nil
}

func (d *Document) resolveParameter(name string, chain []string) (string, error) {
	for _, seen := range chain {
		if seen == name {
			return "", fmt.Errorf("parameter %q: circular reference", name)
		}
	}
	chain = append(chain, name)

	var resolveErr error
	out := placeholderRe.ReplaceAllStringFunc(d.Parameters[name], func(match string) string {
		if resolveErr != nil {
			return match
		}
		ref := match[1 : len(match)-1]
		if _, ok := d.Parameters[ref]; !ok {
			return match
		}
		resolved, err := d.resolveParameter(ref, chain)
		if err != nil {
			resolveErr = err
			return match
		}
		return resolved
	})
	return out, resolveErr
}

// substitute performs a single known-parameters pass over one string.
func (d *Document) substitute(s string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if value, ok := d.Parameters[match[1:len(match)-1]]; ok {
			return value
		}
		return match
	})
}

// walkStrings applies fn to every user-supplied string field of the tree.
func walkStrings(d *Document, fn func(string) string) {
	d.Services.Bus.Host = fn(d.Services.Bus.Host)
	d.Modes.ObjectID = fn(d.Modes.ObjectID)
	walkBindings(d.Modes.Events, fn)
	for _, m := range d.Modes.Modes {
		// Name fields resolve too, so a parameterised name and the
		// references to it expand to the same string.
		m.Name = fn(m.Name)
		for i := range m.Sensors {
			m.Sensors[i] = fn(m.Sensors[i])
		}
		walkBindings(m.Events, fn)
	}
	walkBindings(d.Alerts.Events, fn)
	for _, a := range d.Alerts.Alerts {
		a.Name = fn(a.Name)
		a.PersistenceObjectID = fn(a.PersistenceObjectID)
		a.InhibitionObjectID = fn(a.InhibitionObjectID)
		walkBindings(a.Events, fn)
	}
	for _, s := range d.Sensors {
		s.Name = fn(s.Name)
		s.Alert = fn(s.Alert)
		s.EnabledObjectID = fn(s.EnabledObjectID)
		s.WatchedObjectID = fn(s.WatchedObjectID)
		s.PersistenceObjectID = fn(s.PersistenceObjectID)
		walkCriterion(s.Activation, fn)
	}
}

func walkBindings(bindings []*EventBinding, fn func(string) string) {
	for _, b := range bindings {
		for _, a := range b.Actions {
			a.Subject = fn(a.Subject)
			a.Body = fn(a.Body)
			a.Value = fn(a.Value)
			a.Cmd = fn(a.Cmd)
			walkRaw(a.Raw, fn)
		}
	}
}

func walkRaw(raw map[string]any, fn func(string) string) {
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			raw[k] = fn(val)
		case map[string]any:
			walkRaw(val, fn)
		}
	}
}

func walkCriterion(c *Criterion, fn func(string) string) {
	if c == nil {
		return
	}
	c.Sensor = fn(c.Sensor)
	for _, child := range c.Children {
		walkCriterion(child, fn)
	}
}
