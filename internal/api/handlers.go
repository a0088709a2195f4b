// Package api exposes the gateway's core operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/gridsense/power-gateway/internal/engine"
	"github.com/gridsense/power-gateway/internal/hub"
	"github.com/gridsense/power-gateway/internal/recorder"
)

// Handler holds the core collaborators the routes call into
type Handler struct {
	engine   *engine.Engine
	hub      *hub.Hub
	recorder *recorder.Recorder
}

func NewHandler(eng *engine.Engine, h *hub.Hub, rec *recorder.Recorder) *Handler {
	return &Handler{engine: eng, hub: h, recorder: rec}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the core error taxonomy onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// --- Nodes ---

func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Nodes())
}

func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"nodeId"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		badRequest(w, "nodeId is required")
		return
	}
	if req.Name == "" {
		req.Name = req.NodeID
	}

	if err := h.engine.Register(req.NodeID, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"nodeId": req.NodeID})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	// Threshold stays raw so "absent" and "null" (= disable) can be
	// told apart
	var req struct {
		Threshold  json.RawMessage `json:"threshold"`
		AutoCutoff *bool           `json:"autoCutoff"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	update := engine.SettingsUpdate{AutoCutoff: req.AutoCutoff}
	if len(req.Threshold) > 0 {
		update.ThresholdSet = true
		if string(req.Threshold) != "null" {
			var v float64
			if err := json.Unmarshal(req.Threshold, &v); err != nil {
				badRequest(w, "threshold must be a number or null")
				return
			}
			update.Threshold = &v
		}
	}

	if err := h.engine.UpdateSettings(chi.URLParam(r, "nodeID"), update); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) RenameNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	if err := h.engine.Rename(chi.URLParam(r, "nodeID"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Remove(chi.URLParam(r, "nodeID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// --- Telemetry ---

func (h *Handler) ReportTelemetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voltage *float64 `json:"voltage"`
		Current *float64 `json:"current"`
		Power   *float64 `json:"power"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Voltage == nil || req.Current == nil || req.Power == nil {
		badRequest(w, "voltage, current and power are required")
		return
	}

	if err := h.engine.ReportTelemetry(chi.URLParam(r, "nodeID"), *req.Voltage, *req.Current, *req.Power); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.GetNode(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// --- Relay ---

func (h *Handler) GetRelay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Relay(chi.URLParam(r, "nodeID")))
}

func (h *Handler) SetRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if err := h.engine.SetRelay(chi.URLParam(r, "nodeID"), req.State); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

// --- Schedules ---

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Schedules(chi.URLParam(r, "nodeID")))
}

func (h *Handler) AddSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time   string `json:"time"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	entry, err := h.engine.AddSchedule(chi.URLParam(r, "nodeID"), req.Time, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) RemoveSchedule(w http.ResponseWriter, r *http.Request) {
	err := h.engine.RemoveSchedule(chi.URLParam(r, "nodeID"), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		badRequest(w, "enabled is required")
		return
	}

	err := h.engine.SetScheduleEnabled(chi.URLParam(r, "nodeID"), chi.URLParam(r, "scheduleID"), *req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Timer ---

func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration int64  `json:"duration"` // milliseconds
		Action   string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if err := h.engine.StartTimer(chi.URLParam(r, "nodeID"), req.Duration, req.Action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handler) TimerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.TimerStatus(chi.URLParam(r, "nodeID")))
}

func (h *Handler) CancelTimer(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelTimer(chi.URLParam(r, "nodeID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Logs ---

func (h *Handler) DownloadLog(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	path := h.recorder.LogPath(nodeID)
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no log recorded for node"})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", nodeID+".csv"))
	http.ServeFile(w, r, path)
}

// --- Alerts ---

func (h *Handler) TriggerAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string   `json:"nodeId"`
		Power  *float64 `json:"power"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" || req.Power == nil {
		badRequest(w, "nodeId and power are required")
		return
	}

	h.engine.TriggerAlert(req.NodeID, *req.Power)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatched"})
}
