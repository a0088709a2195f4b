// Package hub fans out state-change events to connected websocket
// observers.
package hub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event types delivered on the push channel
const (
	EventSensorData     = "sensor_data"
	EventThresholdAlert = "threshold_alert"
)

// Message is the envelope every observer receives
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SensorPayload carries one telemetry report
type SensorPayload struct {
	NodeID  string  `json:"nodeId"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Power   float64 `json:"power"`
}

// AlertPayload carries one threshold exceedance
type AlertPayload struct {
	NodeID    string  `json:"nodeId"`
	Power     float64 `json:"power"`
	Threshold float64 `json:"threshold"`
}

// Hub maintains the set of active clients and broadcasts messages to
// them in emission order. There is no backlog: observers that connect
// late start with the next event.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stopChan   chan struct{}
}

func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

// Run services the hub channels. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("Observer connected: %s", client.conn.RemoteAddr())

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Observer disconnected: %s", client.conn.RemoteAddr())
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Saturated observer: drop this message for
					// them, the rest are unaffected
					log.Printf("Observer %s send buffer full, dropping message", client.conn.RemoteAddr())
				}
			}

		case <-h.stopChan:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Stop disconnects all observers and ends Run
func (h *Hub) Stop() {
	close(h.stopChan)
}

// SensorData broadcasts a telemetry report to all observers
func (h *Hub) SensorData(nodeID string, voltage, current, power float64) {
	h.emit(EventSensorData, SensorPayload{
		NodeID:  nodeID,
		Voltage: voltage,
		Current: current,
		Power:   power,
	})
}

// ThresholdAlert broadcasts a threshold exceedance to all observers
func (h *Hub) ThresholdAlert(nodeID string, power, threshold float64) {
	h.emit(EventThresholdAlert, AlertPayload{
		NodeID:    nodeID,
		Power:     power,
		Threshold: threshold,
	})
}

// emit marshals the envelope and hands it to the hub goroutine. Never
// blocks the caller: ticks and telemetry ingest must not stall on the
// broadcaster.
func (h *Hub) emit(eventType string, payload interface{}) {
	data, err := json.Marshal(&Message{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		log.Printf("Error marshalling %s event: %v", eventType, err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Printf("Broadcast queue full, dropping %s event", eventType)
	}
}
