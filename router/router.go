// Package router registers all HTTP endpoints using vanilla net/http (Go 1.22+ mux).
package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/engine"
	"github.com/whisper-darkly/sentinel-backend/journal"
)

// BusProbe reports whether the bus backend connection is up. *lkd.Client
// satisfies it.
type BusProbe interface {
	IsConnected() bool
}

// New builds and returns the application HTTP handler.
//
//	GET  /api/health
//	GET  /api/mode                 current + configured modes
//	PUT  /api/mode                 {"mode":"Away"}
//	GET  /api/alerts
//	GET  /api/alerts/{name}
//	POST /api/alerts/{name}/stop   operator reset
//	GET  /api/sensors
//	GET  /api/sensors/{name}
//	GET  /api/events?limit=50      journal tail
//	GET  /api/config               resolved configuration document
func New(eng *engine.Engine, jnl journal.Journal, probe BusProbe, doc *config.Document) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", health(eng, probe))

	mux.HandleFunc("GET /api/mode", getMode(eng))
	mux.HandleFunc("PUT /api/mode", putMode(eng))

	mux.HandleFunc("GET /api/alerts", listAlerts(eng))
	mux.HandleFunc("GET /api/alerts/{name}", getAlert(eng))
	mux.HandleFunc("POST /api/alerts/{name}/stop", stopAlert(eng))

	mux.HandleFunc("GET /api/sensors", listSensors(eng))
	mux.HandleFunc("GET /api/sensors/{name}", getSensor(eng))

	mux.HandleFunc("GET /api/events", listEvents(jnl))

	mux.HandleFunc("GET /api/config", getConfig(doc))

	return mux
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ---- handlers ----

func health(eng *engine.Engine, probe BusProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connected := probe != nil && probe.IsConnected()

		active := 0
		for _, a := range eng.Alerts() {
			if a.Status == engine.StatusActive {
				active++
			}
		}

		mode := ""
		if m := eng.CurrentMode(); m != nil {
			mode = m.Name()
		}

		code := http.StatusOK
		if !connected {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":        statusStr(connected),
			"bus_connected": connected,
			"mode":          mode,
			"active_alerts": active,
			"uptime":        time.Since(eng.StartedAt()).Round(time.Second).String(),
			"version":       engine.Version,
		})
	}
}

func getMode(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := ""
		if m := eng.CurrentMode(); m != nil {
			current = m.Name()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"current": current,
			"modes":   eng.Modes(),
		})
	}
}

func putMode(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if body.Mode == "" {
			writeError(w, http.StatusBadRequest, "mode is required")
			return
		}
		if err := eng.RequestMode(body.Mode); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"current": body.Mode,
			"modes":   eng.Modes(),
		})
	}
}

func listAlerts(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Alerts())
	}
}

func getAlert(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := eng.AlertByName(r.PathValue("name"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown alert")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func stopAlert(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := eng.StopAlert(name); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		snap, _ := eng.AlertByName(name)
		writeJSON(w, http.StatusOK, snap)
	}
}

func listSensors(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Sensors())
	}
}

func getSensor(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := eng.SensorSnapshotByName(r.PathValue("name"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown sensor")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func listEvents(jnl journal.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 1000 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
				return
			}
			limit = n
		}
		entries, err := jnl.RecentEntries(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func getConfig(doc *config.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"modes":   doc.Modes.Modes,
			"alerts":  doc.Alerts.Alerts,
			"sensors": doc.Sensors,
		})
	}
}

func statusStr(connected bool) string {
	if connected {
		return "ok"
	}
	return "bus_disconnected"
}
