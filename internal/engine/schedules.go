package engine

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gridsense/power-gateway/internal/storage"
)

// Schedules lists a node's schedule entries. Unknown nodes have an empty
// set.
func (e *Engine) Schedules(nodeID string) []*storage.ScheduleEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.schedules[nodeID]
	out := make([]*storage.ScheduleEntry, 0, len(entries))
	for _, entry := range entries {
		c := *entry
		out = append(out, &c)
	}
	return out
}

// AddSchedule creates a recurring relay action at a wall-clock minute.
// The time is normalized to "HH:mm" so the tick comparison is an exact
// string match.
func (e *Engine) AddSchedule(nodeID, at, action string) (*storage.ScheduleEntry, error) {
	if action != RelayOn && action != RelayOff {
		return nil, fmt.Errorf("schedule action %q: %w", action, ErrInvalidArgument)
	}
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("schedule time %q: %w", at, ErrInvalidArgument)
	}

	entry := &storage.ScheduleEntry{
		ID:      strconv.FormatInt(time.Now().UnixNano(), 10),
		Time:    parsed.Format("15:04"),
		Action:  action,
		Enabled: true,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.schedules[nodeID] = append(e.schedules[nodeID], entry)
	if err := e.saveSchedulesLocked(); err != nil {
		return entry, err
	}

	log.Printf("Schedule added for %s: %s at %s", nodeID, action, entry.Time)
	c := *entry
	return &c, nil
}

// RemoveSchedule deletes one schedule entry
func (e *Engine) RemoveSchedule(nodeID, scheduleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.schedules[nodeID]
	for i, entry := range entries {
		if entry.ID == scheduleID {
			e.schedules[nodeID] = append(entries[:i], entries[i+1:]...)
			log.Printf("Schedule %s removed for %s", scheduleID, nodeID)
			return e.saveSchedulesLocked()
		}
	}
	return fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
}

// SetScheduleEnabled toggles one schedule entry
func (e *Engine) SetScheduleEnabled(nodeID, scheduleID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range e.schedules[nodeID] {
		if entry.ID == scheduleID {
			entry.Enabled = enabled
			return e.saveSchedulesLocked()
		}
	}
	return fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
}

// evaluateSchedules fires every enabled entry matching the current
// wall-clock minute. The tick runs faster than a minute; the transition
// check guarantees at most one evaluation per minute, so an entry cannot
// re-fire within its matching minute. Duplicate entries for the same
// minute both fire, last write wins.
func (e *Engine) evaluateSchedules(now time.Time) {
	minute := now.Format("15:04")

	e.mu.Lock()
	defer e.mu.Unlock()

	if minute == e.lastMinute {
		return
	}
	e.lastMinute = minute

	fired := false
	for nodeID, entries := range e.schedules {
		for _, entry := range entries {
			if entry.Enabled && entry.Time == minute {
				e.setRelayLocked(nodeID, entry.Action)
				log.Printf("Schedule %s fired for %s: %s", entry.ID, nodeID, entry.Action)
				fired = true
			}
		}
	}

	if fired {
		if err := e.saveRelaysLocked(); err != nil {
			log.Printf("Failed to persist relay commands after schedule fire: %v", err)
		}
	}
}
