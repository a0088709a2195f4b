package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/gridsense/power-gateway/internal/storage"
)

// SettingsUpdate carries an optional settings change. ThresholdSet
// distinguishes "leave the threshold alone" from "clear it".
type SettingsUpdate struct {
	Threshold    *float64
	ThresholdSet bool
	AutoCutoff   *bool
}

// Register creates a node and cascades its relay command (off), empty
// schedule set and log recording. Fails with ErrConflict if the ID is
// already taken.
func (e *Engine) Register(nodeID, name string) error {
	e.mu.Lock()

	if _, ok := e.nodes[nodeID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("node %s: %w", nodeID, ErrConflict)
	}

	e.nodes[nodeID] = &storage.Node{NodeID: nodeID, Name: name}
	e.relays[nodeID] = &storage.RelayCommand{State: RelayOff, Timestamp: time.Now()}
	e.schedules[nodeID] = []*storage.ScheduleEntry{}

	err := e.saveNodesLocked()
	if err2 := e.saveRelaysLocked(); err == nil {
		err = err2
	}
	if err2 := e.saveSchedulesLocked(); err == nil {
		err = err2
	}
	e.mu.Unlock()

	e.logs.Start(nodeID)
	log.Printf("Registered node %s (%s)", nodeID, name)
	return err
}

// UpdateSettings changes a node's threshold and/or auto-cutoff flag
func (e *Engine) UpdateSettings(nodeID string, update SettingsUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}

	if update.ThresholdSet {
		n.Threshold = update.Threshold
	}
	if update.AutoCutoff != nil {
		n.AutoCutoff = *update.AutoCutoff
	}

	return e.saveNodesLocked()
}

// Rename changes a node's display name
func (e *Engine) Rename(nodeID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}

	n.Name = name
	return e.saveNodesLocked()
}

// Remove deletes a node and cascades: relay command, schedules and timer
// go with it, and log recording stops before Remove returns. Existing
// log files are retained.
func (e *Engine) Remove(nodeID string) error {
	e.mu.Lock()

	if _, ok := e.nodes[nodeID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}

	delete(e.nodes, nodeID)
	delete(e.relays, nodeID)
	delete(e.schedules, nodeID)
	delete(e.lastAlert, nodeID)

	if handle, ok := e.handles[nodeID]; ok {
		handle.Stop()
		delete(e.handles, nodeID)
	}
	delete(e.timers, nodeID)

	err := e.saveNodesLocked()
	if err2 := e.saveRelaysLocked(); err == nil {
		err = err2
	}
	if err2 := e.saveSchedulesLocked(); err == nil {
		err = err2
	}
	if err2 := e.saveTimersLocked(); err == nil {
		err = err2
	}
	e.mu.Unlock()

	// Outside the lock: the recorder waits for its write loop to
	// drain, and that loop reads telemetry through us.
	e.logs.Stop(nodeID)
	log.Printf("Removed node %s", nodeID)
	return err
}

// ReportTelemetry ingests a device report. Unknown node IDs are accepted
// and create a bare record: devices may report before registration, and
// no relay command is cascaded for them.
func (e *Engine) ReportTelemetry(nodeID string, voltage, current, power float64) error {
	e.mu.Lock()

	n, ok := e.nodes[nodeID]
	if !ok {
		n = &storage.Node{NodeID: nodeID, Name: nodeID}
		e.nodes[nodeID] = n
		log.Printf("First report from unregistered node %s", nodeID)
	}

	now := time.Now()
	n.Voltage = &voltage
	n.Current = &current
	n.Power = &power
	n.Timestamp = &now

	err := e.saveNodesLocked()

	// Inline threshold check bounds the cutoff/alert latency between
	// monitor ticks
	e.checkNodeLocked(n)
	e.mu.Unlock()

	e.hub.SensorData(nodeID, voltage, current, power)
	return err
}

// Telemetry returns a node's latest readings for the log recorder. ok is
// false until the node has reported at least once.
func (e *Engine) Telemetry(nodeID string) (voltage, current, power float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, exists := e.nodes[nodeID]
	if !exists || n.Voltage == nil || n.Current == nil || n.Power == nil {
		return 0, 0, 0, false
	}
	return *n.Voltage, *n.Current, *n.Power, true
}
