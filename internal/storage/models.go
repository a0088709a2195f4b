// Package storage provides SQLite-backed persistence for the power gateway.
package storage

import "time"

// Document domains. Each domain is persisted as one whole JSON document.
const (
	DomainNodes     = "nodes"
	DomainRelays    = "relays"
	DomainSchedules = "schedules"
	DomainTimers    = "timers"
)

// Node represents a registered power-monitoring node and its latest
// telemetry/settings snapshot. Voltage, current and power are nil until
// the node has reported at least once.
type Node struct {
	NodeID     string     `json:"nodeId"`
	Name       string     `json:"name"`
	Voltage    *float64   `json:"voltage,omitempty"`
	Current    *float64   `json:"current,omitempty"`
	Power      *float64   `json:"power,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"` // last report time
	Threshold  *float64   `json:"threshold"`           // nil disables monitoring
	AutoCutoff bool       `json:"autoCutoff"`
}

// RelayCommand is the gateway's desired on/off instruction for a node's
// switch. Devices poll it; the physical relay lags by up to one poll
// interval.
type RelayCommand struct {
	State     string    `json:"state"` // "on" or "off"
	Timestamp time.Time `json:"timestamp"`
}

// ScheduleEntry is a recurring time-of-day relay action for a node.
type ScheduleEntry struct {
	ID      string `json:"id"`
	Time    string `json:"time"` // "HH:mm", local wall clock
	Action  string `json:"action"`
	Enabled bool   `json:"enabled"`
}

// TimerRecord is a one-shot deferred relay action. At most one per node.
type TimerRecord struct {
	StartTime  time.Time `json:"startTime"`
	DurationMs int64     `json:"duration"`
	Action     string    `json:"action"`
	EndTime    time.Time `json:"endTime"`
}

// NodeTable is the persisted form of the node registry.
type NodeTable map[string]*Node

// RelayTable maps node ID to its current relay command.
type RelayTable map[string]*RelayCommand

// ScheduleTable maps node ID to its schedule entries.
type ScheduleTable map[string][]*ScheduleEntry

// TimerTable maps node ID to its armed timer, if any.
type TimerTable map[string]*TimerRecord
