// Package notify dispatches alert notifications to an external webhook.
// Delivery is fire-and-forget: failures are logged and never surfaced to
// whatever triggered the alert.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Payload is the JSON body posted to the webhook
type Payload struct {
	ID        string  `json:"id"`
	NodeID    string  `json:"nodeId"`
	Power     float64 `json:"power"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
}

// Webhook posts alerts to a configured URL
type Webhook struct {
	url        string
	httpClient *http.Client
}

// New creates a webhook notifier. An empty URL disables dispatch; Notify
// then only logs.
func New(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify posts one alert. Never retried, never returns an error.
func (w *Webhook) Notify(nodeID string, power, threshold float64, message string) {
	if w.url == "" {
		log.Printf("Alert (no webhook configured): %s", message)
		return
	}

	body, err := json.Marshal(&Payload{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		Power:     power,
		Threshold: threshold,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Failed to encode notification: %v", err)
		return
	}

	resp, err := w.httpClient.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Failed to deliver notification for %s: %v", nodeID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("Notification webhook returned %d for %s", resp.StatusCode, nodeID)
		return
	}
	log.Printf("Notification delivered for %s", nodeID)
}
