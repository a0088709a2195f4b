package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/gridsense/power-gateway/internal/storage"
)

// checkThresholds runs one monitor tick over every node
func (e *Engine) checkThresholds() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, n := range e.nodes {
		e.checkNodeLocked(n)
	}
}

// checkNodeLocked evaluates one node's power against its threshold.
// Auto-cutoff is never gated by the alert cooldown: it re-applies on
// every tick for as long as the exceedance lasts, even if the relay was
// manually turned back on in between. The alert itself is rate-limited
// per node, and the cooldown timestamp moves only when an alert is
// actually dispatched.
func (e *Engine) checkNodeLocked(n *storage.Node) {
	if n.Threshold == nil || n.Power == nil {
		return
	}
	power, threshold := *n.Power, *n.Threshold
	if power <= threshold {
		return
	}

	if n.AutoCutoff {
		if cmd, ok := e.relays[n.NodeID]; !ok || cmd.State != RelayOff {
			e.setRelayLocked(n.NodeID, RelayOff)
			if err := e.saveRelaysLocked(); err != nil {
				log.Printf("Failed to persist auto-cutoff for %s: %v", n.NodeID, err)
			}
			log.Printf("Auto-cutoff for %s: %.1fW over %.1fW limit", n.NodeID, power, threshold)
		}
	}

	last, alerted := e.lastAlert[n.NodeID]
	if alerted && time.Since(last) < e.config.AlertCooldown {
		return
	}
	e.lastAlert[n.NodeID] = time.Now()

	e.hub.ThresholdAlert(n.NodeID, power, threshold)
	msg := fmt.Sprintf("Node %s power %.1fW exceeded threshold %.1fW", n.NodeID, power, threshold)
	go e.notifier.Notify(n.NodeID, power, threshold, msg)
}

// TriggerAlert dispatches one external notification on demand, bypassing
// the cooldown. Used by the manual alert endpoint to verify the
// notification channel end to end.
func (e *Engine) TriggerAlert(nodeID string, power float64) {
	threshold := 0.0
	e.mu.Lock()
	if n, ok := e.nodes[nodeID]; ok && n.Threshold != nil {
		threshold = *n.Threshold
	}
	e.mu.Unlock()

	msg := fmt.Sprintf("Manual alert for node %s at %.1fW", nodeID, power)
	go e.notifier.Notify(nodeID, power, threshold, msg)
}
