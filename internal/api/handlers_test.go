package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gridsense/power-gateway/internal/engine"
	"github.com/gridsense/power-gateway/internal/hub"
	"github.com/gridsense/power-gateway/internal/notify"
	"github.com/gridsense/power-gateway/internal/recorder"
	"github.com/gridsense/power-gateway/internal/storage"
)

// setupServer wires the real stack against a temp database and returns
// a test server
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "gateway-api-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp db: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	db, err := storage.Open(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	broadcaster := hub.New()
	go broadcaster.Run()
	t.Cleanup(broadcaster.Stop)

	logDir, err := os.MkdirTemp("", "gateway-api-logs-*")
	if err != nil {
		t.Fatalf("Failed to create log dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(logDir) })

	var eng *engine.Engine
	rec, err := recorder.New(logDir, time.Second, recorder.SourceFunc(
		func(nodeID string) (float64, float64, float64, bool) {
			return eng.Telemetry(nodeID)
		}))
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	t.Cleanup(rec.StopAll)

	eng, err = engine.New(engine.DefaultConfig(), db, broadcaster, notify.New("", time.Second), rec)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	server := httptest.NewServer(NewRouter(NewHandler(eng, broadcaster, rec)))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestRegisterNode(t *testing.T) {
	server := setupServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/nodes", map[string]string{"nodeId": "node-1", "name": "Pump House"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Register: got %d, want 201", resp.StatusCode)
	}

	dup := doJSON(t, http.MethodPost, server.URL+"/api/nodes", map[string]string{"nodeId": "node-1"})
	defer dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("Duplicate register: got %d, want 409", dup.StatusCode)
	}

	missing := doJSON(t, http.MethodPost, server.URL+"/api/nodes", map[string]string{"name": "No ID"})
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Errorf("Register without nodeId: got %d, want 400", missing.StatusCode)
	}
}

func TestTelemetryValidation(t *testing.T) {
	server := setupServer(t)

	bad := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/telemetry", map[string]float64{"voltage": 230})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Partial telemetry: got %d, want 400", bad.StatusCode)
	}

	ok := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/telemetry",
		map[string]float64{"voltage": 230, "current": 5, "power": 1150})
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Errorf("Telemetry report: got %d, want 200", ok.StatusCode)
	}

	// The report created the node
	get := doJSON(t, http.MethodGet, server.URL+"/api/nodes/node-1/telemetry", nil)
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("Get telemetry: got %d, want 200", get.StatusCode)
	}
	var node storage.Node
	if err := json.NewDecoder(get.Body).Decode(&node); err != nil {
		t.Fatalf("Failed to decode node: %v", err)
	}
	if node.Power == nil || *node.Power != 1150 {
		t.Errorf("Power: got %v, want 1150", node.Power)
	}
}

func TestGetTelemetryUnknownNode(t *testing.T) {
	server := setupServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/nodes/ghost/telemetry", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Unknown node telemetry: got %d, want 404", resp.StatusCode)
	}
}

func TestRelayEndpoints(t *testing.T) {
	server := setupServer(t)

	// Unknown nodes read as off
	get := doJSON(t, http.MethodGet, server.URL+"/api/nodes/node-1/relay", nil)
	defer get.Body.Close()
	var cmd storage.RelayCommand
	if err := json.NewDecoder(get.Body).Decode(&cmd); err != nil {
		t.Fatalf("Failed to decode relay command: %v", err)
	}
	if cmd.State != "off" {
		t.Errorf("Default relay state: got %s, want off", cmd.State)
	}

	bad := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/relay", map[string]string{"state": "toggle"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Invalid relay state: got %d, want 400", bad.StatusCode)
	}

	set := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/relay", map[string]string{"state": "on"})
	defer set.Body.Close()
	if set.StatusCode != http.StatusOK {
		t.Errorf("Set relay: got %d, want 200", set.StatusCode)
	}

	again := doJSON(t, http.MethodGet, server.URL+"/api/nodes/node-1/relay", nil)
	defer again.Body.Close()
	var after storage.RelayCommand
	if err := json.NewDecoder(again.Body).Decode(&after); err != nil {
		t.Fatalf("Failed to decode relay command: %v", err)
	}
	if after.State != "on" {
		t.Errorf("Relay after set: got %s, want on", after.State)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	server := setupServer(t)

	add := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/schedules",
		map[string]string{"time": "06:30", "action": "on"})
	defer add.Body.Close()
	if add.StatusCode != http.StatusCreated {
		t.Fatalf("Add schedule: got %d, want 201", add.StatusCode)
	}
	var entry storage.ScheduleEntry
	if err := json.NewDecoder(add.Body).Decode(&entry); err != nil {
		t.Fatalf("Failed to decode schedule: %v", err)
	}
	if entry.ID == "" || entry.Time != "06:30" {
		t.Errorf("Schedule entry: got %+v", entry)
	}

	bad := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/schedules",
		map[string]string{"time": "late", "action": "on"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Invalid schedule time: got %d, want 400", bad.StatusCode)
	}

	missing := doJSON(t, http.MethodDelete, server.URL+"/api/nodes/node-1/schedules/ghost", nil)
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Remove missing schedule: got %d, want 404", missing.StatusCode)
	}

	remove := doJSON(t, http.MethodDelete, server.URL+"/api/nodes/node-1/schedules/"+entry.ID, nil)
	defer remove.Body.Close()
	if remove.StatusCode != http.StatusOK {
		t.Errorf("Remove schedule: got %d, want 200", remove.StatusCode)
	}
}

func TestTimerEndpoints(t *testing.T) {
	server := setupServer(t)

	bad := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/timer",
		map[string]interface{}{"duration": 0, "action": "on"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Zero duration timer: got %d, want 400", bad.StatusCode)
	}

	start := doJSON(t, http.MethodPost, server.URL+"/api/nodes/node-1/timer",
		map[string]interface{}{"duration": 60000, "action": "off"})
	defer start.Body.Close()
	if start.StatusCode != http.StatusOK {
		t.Fatalf("Start timer: got %d, want 200", start.StatusCode)
	}

	status := doJSON(t, http.MethodGet, server.URL+"/api/nodes/node-1/timer", nil)
	defer status.Body.Close()
	var ts engine.TimerStatus
	if err := json.NewDecoder(status.Body).Decode(&ts); err != nil {
		t.Fatalf("Failed to decode timer status: %v", err)
	}
	if !ts.Active || ts.Action != "off" {
		t.Errorf("Timer status: got %+v", ts)
	}

	cancel := doJSON(t, http.MethodDelete, server.URL+"/api/nodes/node-1/timer", nil)
	defer cancel.Body.Close()
	if cancel.StatusCode != http.StatusOK {
		t.Errorf("Cancel timer: got %d, want 200", cancel.StatusCode)
	}
}

func TestUpdateSettingsDistinguishesNull(t *testing.T) {
	server := setupServer(t)

	reg := doJSON(t, http.MethodPost, server.URL+"/api/nodes", map[string]string{"nodeId": "node-1"})
	reg.Body.Close()

	set := doJSON(t, http.MethodPut, server.URL+"/api/nodes/node-1/settings",
		map[string]interface{}{"threshold": 1500.0})
	defer set.Body.Close()
	if set.StatusCode != http.StatusOK {
		t.Fatalf("Set threshold: got %d, want 200", set.StatusCode)
	}

	clear := doJSON(t, http.MethodPut, server.URL+"/api/nodes/node-1/settings",
		map[string]interface{}{"threshold": nil})
	defer clear.Body.Close()
	if clear.StatusCode != http.StatusOK {
		t.Fatalf("Clear threshold: got %d, want 200", clear.StatusCode)
	}

	get := doJSON(t, http.MethodGet, server.URL+"/api/nodes/node-1/telemetry", nil)
	defer get.Body.Close()
	var node storage.Node
	if err := json.NewDecoder(get.Body).Decode(&node); err != nil {
		t.Fatalf("Failed to decode node: %v", err)
	}
	if node.Threshold != nil {
		t.Errorf("Threshold after null: got %v, want nil", *node.Threshold)
	}
}

func TestDownloadLogMissing(t *testing.T) {
	server := setupServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/nodes/node-1/log", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Missing log: got %d, want 404", resp.StatusCode)
	}
}

func TestTriggerAlert(t *testing.T) {
	server := setupServer(t)

	bad := doJSON(t, http.MethodPost, server.URL+"/api/alert", map[string]string{"nodeId": "node-1"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Alert without power: got %d, want 400", bad.StatusCode)
	}

	ok := doJSON(t, http.MethodPost, server.URL+"/api/alert",
		map[string]interface{}{"nodeId": "node-1", "power": 1800.0})
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Errorf("Trigger alert: got %d, want 200", ok.StatusCode)
	}
}
