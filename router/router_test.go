package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/engine"
	"github.com/whisper-darkly/sentinel-backend/journal"
	"github.com/whisper-darkly/sentinel-backend/journal/sqlite"
)

// memBus is a minimal in-memory engine.Bus for wiring a real engine behind
// the handler under test.
type memBus struct {
	mu     sync.Mutex
	values map[string]any
}

func newMemBus() *memBus { return &memBus{values: map[string]any{}} }

func (b *memBus) set(id string, v any) {
	b.mu.Lock()
	b.values[id] = v
	b.mu.Unlock()
}

func (b *memBus) Object(id string) engine.Object { return memObject{bus: b, id: id} }

func (b *memBus) ExecuteAction(doc map[string]any) error { return nil }

type memObject struct {
	bus *memBus
	id  string
}

func (o memObject) ID() string { return o.id }

func (o memObject) get() any {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()
	return o.bus.values[o.id]
}

func (o memObject) Bool() (bool, error) {
	v, _ := o.get().(bool)
	return v, nil
}

func (o memObject) SetBool(v bool) error { o.bus.set(o.id, v); return nil }

func (o memObject) Float() (float64, error) {
	switch v := o.get().(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
	}
	return 0, nil
}

func (o memObject) SetFloat(v float64) error { o.bus.set(o.id, v); return nil }

func (o memObject) Int() (int, error) {
	f, err := o.Float()
	return int(f), err
}

func (o memObject) SetInt(v int) error { o.bus.set(o.id, v); return nil }

type fakeProbe bool

func (p fakeProbe) IsConnected() bool { return bool(p) }

const testConfig = `
services:
  bus:
    host: localhost
    port: 8081
modes:
  objectId: Mode
  modes:
    - name: Presence
      value: 1
      sensors: []
    - name: Away
      value: 2
      sensors: [entrance]
alerts:
  alerts:
    - name: intrusion
      persistenceObjectId: IntrusionPersistence
sensors:
  - name: entrance
    type: boolean
    alert: intrusion
    enabledObjectId: EntranceEnabled
    watchedObjectId: EntranceDoor
    activationDelay: 60
    prealertDuration: 15
    alertDuration: 120
`

func newTestHandler(t *testing.T, connected bool) (http.Handler, *engine.Engine) {
	t.Helper()
	doc, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	bus := newMemBus()
	bus.set("Mode", 1)
	bus.set("EntranceEnabled", false)
	bus.set("EntranceDoor", false)
	bus.set("IntrusionPersistence", false)

	jnl, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	eng := engine.New(doc, bus, jnl)
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(eng.Stop)

	return New(eng, jnl, fakeProbe(connected), doc), eng
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, true)
	rec := doRequest(t, h, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" || body["bus_connected"] != true {
		t.Errorf("health = %v", body)
	}
	if body["mode"] != "Presence" {
		t.Errorf("mode = %v", body["mode"])
	}
}

func TestHealthDisconnected(t *testing.T) {
	h, _ := newTestHandler(t, false)
	rec := doRequest(t, h, "GET", "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestModeRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t, true)

	rec := doRequest(t, h, "PUT", "/api/mode", `{"mode":"Away"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put mode: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, "GET", "/api/mode", "")
	var body struct {
		Current string                `json:"current"`
		Modes   []engine.ModeSnapshot `json:"modes"`
	}
	decode(t, rec, &body)
	if body.Current != "Away" {
		t.Errorf("current = %q", body.Current)
	}
	if len(body.Modes) != 2 {
		t.Fatalf("%d modes", len(body.Modes))
	}
	for _, m := range body.Modes {
		if m.Current != (m.Name == "Away") {
			t.Errorf("mode %s current flag = %v", m.Name, m.Current)
		}
	}
}

func TestPutModeRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t, true)
	if rec := doRequest(t, h, "PUT", "/api/mode", `{"mode":"Vacation"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown mode: %d", rec.Code)
	}
	if rec := doRequest(t, h, "PUT", "/api/mode", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty mode: %d", rec.Code)
	}
	if rec := doRequest(t, h, "PUT", "/api/mode", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("garbage: %d", rec.Code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, true)

	rec := doRequest(t, h, "GET", "/api/alerts", "")
	var alerts []engine.AlertSnapshot
	decode(t, rec, &alerts)
	if len(alerts) != 1 || alerts[0].Name != "intrusion" {
		t.Fatalf("alerts = %+v", alerts)
	}
	if alerts[0].Status != engine.StatusStopped {
		t.Errorf("status = %s", alerts[0].Status)
	}

	if rec := doRequest(t, h, "GET", "/api/alerts/intrusion", ""); rec.Code != http.StatusOK {
		t.Errorf("get alert: %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/api/alerts/flood", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert: %d", rec.Code)
	}
	if rec := doRequest(t, h, "POST", "/api/alerts/intrusion/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop alert: %d", rec.Code)
	}
	if rec := doRequest(t, h, "POST", "/api/alerts/flood/stop", ""); rec.Code != http.StatusNotFound {
		t.Errorf("stop unknown alert: %d", rec.Code)
	}
}

func TestSensorEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, true)

	rec := doRequest(t, h, "GET", "/api/sensors", "")
	var sensors []engine.SensorSnapshot
	decode(t, rec, &sensors)
	if len(sensors) != 1 || sensors[0].Name != "entrance" {
		t.Fatalf("sensors = %+v", sensors)
	}
	if sensors[0].Enabled || sensors[0].Required {
		t.Errorf("entrance should be idle under Presence: %+v", sensors[0])
	}

	if rec := doRequest(t, h, "GET", "/api/sensors/entrance", ""); rec.Code != http.StatusOK {
		t.Errorf("get sensor: %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/api/sensors/cellar", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown sensor: %d", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, true)

	// Starting the engine journals the initial mode entry.
	rec := doRequest(t, h, "GET", "/api/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events: %d", rec.Code)
	}
	var entries []journal.Entry
	decode(t, rec, &entries)
	found := false
	for _, e := range entries {
		if e.Entity == journal.EntityMode && e.Name == "Presence" && e.Event == "entered" {
			found = true
		}
	}
	if !found {
		t.Errorf("mode entry missing from %+v", entries)
	}

	if rec := doRequest(t, h, "GET", "/api/events?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0: %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/api/events?limit=nope", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=nope: %d", rec.Code)
	}
}

func TestConfigEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, true)
	rec := doRequest(t, h, "GET", "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("config: %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	for _, key := range []string{"modes", "alerts", "sensors"} {
		if _, ok := body[key]; !ok {
			t.Errorf("config response misses %q", key)
		}
	}
}
