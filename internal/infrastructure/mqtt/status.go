package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status values carried on status topics.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Offline reasons.
const (
	ReasonUnexpected = "unexpected_disconnect"
	ReasonGraceful   = "graceful_shutdown"
)

// Status is the retained payload published on a status topic.
type Status struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Online reports whether s announces a live client.
func (s Status) Online() bool { return s.Status == StatusOnline }

// ParseStatus decodes a status payload.
func ParseStatus(payload []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(payload, &s); err != nil {
		return Status{}, fmt.Errorf("mqtt: parsing status: %w", err)
	}
	if s.Status != StatusOnline && s.Status != StatusOffline {
		return Status{}, fmt.Errorf("mqtt: unknown status %q", s.Status)
	}
	return s, nil
}

// StatusPayload encodes a status message.
func StatusPayload(status, clientID, reason string) []byte {
	return buildStatus(status, clientID, reason)
}

func buildStatus(status, clientID, reason string) []byte {
	payload, _ := json.Marshal(Status{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// buildOnlinePayload creates the payload for online status messages.
func buildOnlinePayload(clientID string) []byte {
	return buildStatus(StatusOnline, clientID, "")
}

// buildOfflinePayload creates the payload for offline status messages.
func buildOfflinePayload(clientID, reason string) []byte {
	return buildStatus(StatusOffline, clientID, reason)
}
