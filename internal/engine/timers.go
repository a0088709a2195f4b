package engine

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gridsense/power-gateway/internal/storage"
)

// TimerStatus is the externally visible state of a node's timer
type TimerStatus struct {
	Active        bool   `json:"active"`
	RemainingSecs int64  `json:"remainingTime,omitempty"`
	Action        string `json:"action,omitempty"`
}

// StartTimer arms a one-shot relay action for a node. An already armed
// timer for the same node is replaced atomically and its fire
// suppressed.
func (e *Engine) StartTimer(nodeID string, durationMs int64, action string) error {
	if durationMs <= 0 {
		return fmt.Errorf("timer duration %d: %w", durationMs, ErrInvalidArgument)
	}
	if action != RelayOn && action != RelayOff {
		return fmt.Errorf("timer action %q: %w", action, ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if handle, ok := e.handles[nodeID]; ok {
		handle.Stop()
	}

	now := time.Now()
	rec := &storage.TimerRecord{
		StartTime:  now,
		DurationMs: durationMs,
		Action:     action,
		EndTime:    now.Add(time.Duration(durationMs) * time.Millisecond),
	}
	e.timers[nodeID] = rec
	e.armLocked(nodeID, rec, time.Duration(durationMs)*time.Millisecond)

	log.Printf("Timer started for %s: %s in %dms", nodeID, action, durationMs)
	return e.saveTimersLocked()
}

// armLocked installs the live handle for a timer record
func (e *Engine) armLocked(nodeID string, rec *storage.TimerRecord, d time.Duration) {
	e.handles[nodeID] = time.AfterFunc(d, func() {
		e.fireTimer(nodeID, rec)
	})
}

// fireTimer runs when an armed timer elapses. The record identity check
// drops fires whose timer was cancelled or replaced after scheduling.
func (e *Engine) fireTimer(nodeID string, rec *storage.TimerRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.timers[nodeID]
	if !ok || current != rec {
		return
	}

	delete(e.timers, nodeID)
	delete(e.handles, nodeID)
	e.setRelayLocked(nodeID, rec.Action)

	if err := e.saveRelaysLocked(); err != nil {
		log.Printf("Failed to persist relay command after timer fire: %v", err)
	}
	if err := e.saveTimersLocked(); err != nil {
		log.Printf("Failed to persist timer table after fire: %v", err)
	}
	log.Printf("Timer fired for %s: relay %s", nodeID, rec.Action)
}

// TimerStatus reports remaining time in whole seconds, rounded up.
// Reading an entry that has already elapsed reclaims it in case the
// scheduled fire never ran.
func (e *Engine) TimerStatus(nodeID string) TimerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.timers[nodeID]
	if !ok {
		return TimerStatus{Active: false}
	}

	remaining := time.Until(rec.EndTime)
	if remaining <= 0 {
		if handle, ok := e.handles[nodeID]; ok {
			handle.Stop()
			delete(e.handles, nodeID)
		}
		delete(e.timers, nodeID)
		if err := e.saveTimersLocked(); err != nil {
			log.Printf("Failed to persist timer table after reclaim: %v", err)
		}
		log.Printf("Reclaimed elapsed timer for %s", nodeID)
		return TimerStatus{Active: false}
	}

	return TimerStatus{
		Active:        true,
		RemainingSecs: int64(math.Ceil(remaining.Seconds())),
		Action:        rec.Action,
	}
}

// CancelTimer disarms a node's timer. Cancelling an idle node is a no-op.
func (e *Engine) CancelTimer(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if handle, ok := e.handles[nodeID]; ok {
		handle.Stop()
		delete(e.handles, nodeID)
	}
	if _, ok := e.timers[nodeID]; !ok {
		return nil
	}
	delete(e.timers, nodeID)

	log.Printf("Timer cancelled for %s", nodeID)
	return e.saveTimersLocked()
}

// restoreTimers reconciles the persisted timer table with live handles
// after a restart. Entries whose end time already passed are discarded,
// never fired retroactively. Runs once from New, before any request is
// served.
func (e *Engine) restoreTimers() {
	changed := false
	for nodeID, rec := range e.timers {
		remaining := time.Until(rec.EndTime)
		if remaining <= 0 {
			log.Printf("Discarding expired timer for %s (ended %s)", nodeID, rec.EndTime.Format(time.RFC3339))
			delete(e.timers, nodeID)
			changed = true
			continue
		}
		e.armLocked(nodeID, rec, remaining)
		log.Printf("Restored timer for %s: %s in %s", nodeID, rec.Action, remaining.Round(time.Second))
	}

	if changed {
		if err := e.saveTimersLocked(); err != nil {
			log.Printf("Failed to persist timer table after restore: %v", err)
		}
	}
}
