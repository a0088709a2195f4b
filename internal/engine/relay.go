package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/gridsense/power-gateway/internal/storage"
)

// Relay returns the current relay command for a node. Unknown nodes get
// the default {off, now} without an entry being created; devices may
// poll before anything is registered.
func (e *Engine) Relay(nodeID string) storage.RelayCommand {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cmd, ok := e.relays[nodeID]; ok {
		return *cmd
	}
	return storage.RelayCommand{State: RelayOff, Timestamp: time.Now()}
}

// SetRelay records the desired relay state for a node. Last writer wins;
// every mutation stamps the current time.
func (e *Engine) SetRelay(nodeID, state string) error {
	if state != RelayOn && state != RelayOff {
		return fmt.Errorf("relay state %q: %w", state, ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.setRelayLocked(nodeID, state)
	return e.saveRelaysLocked()
}

// setRelayLocked mutates the command log in memory. Caller holds e.mu
// and persists.
func (e *Engine) setRelayLocked(nodeID, state string) {
	e.relays[nodeID] = &storage.RelayCommand{State: state, Timestamp: time.Now()}
	log.Printf("Relay command for %s -> %s", nodeID, state)
}
