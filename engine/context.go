package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ContextHandlerFunc expands one template placeholder. opts holds the
// key=value options given inline in the placeholder.
type ContextHandlerFunc func(opts map[string]string, ctx *EventContext) (string, error)

// RegisterContextHandler makes a handler available to action templates under
// the given name. The built-in handlers (alert.name, alert.sensors-status,
// mode.current, mode.enabled-sensors) are registered when the engine is
// created; additional ones may be added before Start.
func (e *Engine) RegisterContextHandler(name string, fn ContextHandlerFunc) {
	e.handlers[name] = fn
}

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// expandTemplate substitutes every {handler opt=value ...} placeholder in s.
// An unknown handler name is a configuration error and fails the whole
// expansion, so the action it belongs to is skipped.
func (e *Engine) expandTemplate(s string, ctx *EventContext) (string, error) {
	var expandErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if expandErr != nil {
			return match
		}
		fields := strings.Fields(match[1 : len(match)-1])
		if len(fields) == 0 {
			expandErr = fmt.Errorf("empty placeholder in template %q", s)
			return match
		}
		name := fields[0]
		fn, ok := e.handlers[name]
		if !ok {
			expandErr = fmt.Errorf("unknown context handler %q", name)
			return match
		}
		opts := make(map[string]string, len(fields)-1)
		for _, f := range fields[1:] {
			k, v, found := strings.Cut(f, "=")
			if !found {
				expandErr = fmt.Errorf("handler %q: malformed option %q", name, f)
				return match
			}
			opts[k] = v
		}
		expanded, err := fn(opts, ctx)
		if err != nil {
			expandErr = fmt.Errorf("handler %q: %w", name, err)
			return match
		}
		return expanded
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

func boolOpt(opts map[string]string, name string, dflt bool) bool {
	v, ok := opts[name]
	if !ok {
		return dflt
	}
	return v == "true" || v == "yes" || v == "1"
}

// formatNames renders a name list either inline (comma-separated) or as a
// bulleted block, per the format option.
func formatNames(names []string, format string) (string, error) {
	sort.Strings(names)
	switch format {
	case "", "inline":
		return strings.Join(names, ", "), nil
	case "bulleted":
		var b strings.Builder
		for _, n := range names {
			b.WriteString("\n\t- ")
			b.WriteString(n)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}

func (e *Engine) registerBuiltinHandlers() {
	e.handlers["alert.name"] = func(opts map[string]string, ctx *EventContext) (string, error) {
		if ctx.Alert == nil {
			return "", fmt.Errorf("no alert in scope")
		}
		return ctx.Alert.Name(), nil
	}

	e.handlers["alert.sensors-status"] = func(opts map[string]string, ctx *EventContext) (string, error) {
		if ctx.Alert == nil {
			return "", fmt.Errorf("no alert in scope")
		}
		var names []string
		inPrealert, inAlert, inPause := ctx.Alert.memberNames()
		if boolOpt(opts, "inPrealert", true) {
			names = append(names, inPrealert...)
		}
		if boolOpt(opts, "inAlert", true) {
			names = append(names, inAlert...)
		}
		if boolOpt(opts, "inPause", true) {
			names = append(names, inPause...)
		}
		return formatNames(names, opts["format"])
	}

	e.handlers["mode.current"] = func(opts map[string]string, ctx *EventContext) (string, error) {
		m := e.CurrentMode()
		if m == nil {
			return "", fmt.Errorf("no current mode")
		}
		return m.Name(), nil
	}

	e.handlers["mode.enabled-sensors"] = func(opts map[string]string, ctx *EventContext) (string, error) {
		includesPending := boolOpt(opts, "includesPending", false)
		var names []string
		for _, s := range e.sensors {
			if s.IsEnabled() || (includesPending && s.isActivationPending()) {
				names = append(names, s.Name())
			}
		}
		return formatNames(names, opts["format"])
	}
}
