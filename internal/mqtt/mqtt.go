// Package mqtt connects the controller to an MQTT broker acting as the data bus.
//
// Data bus paths use dots (electrical.solar.279.panelPower) and map to topics
// under a configurable prefix (signalk/vessels/self/electrical/solar/279/panelPower).
package mqtt

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventStatus      = "STATUS"
	EventError       = "ERROR"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// SystemEvent represents a daemon lifecycle or status event.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "STATUS"
	Reason     string // e.g., "SIGTERM" (shutdown only)
	Message    string // status or error text
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// SystemPayload is the MQTT message payload for system events that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Message:   event.Message,
		},
	}
	return json.Marshal(payload)
}

// FormatOutput renders an output value as the payload written to the bus.
func FormatOutput(value int) []byte {
	return []byte(strconv.Itoa(value))
}

// TopicFor maps a dotted data bus path to an MQTT topic under prefix.
// A path that already contains '/' is used as a topic verbatim.
func TopicFor(prefix, path string) string {
	path = strings.TrimSpace(path)
	if !strings.Contains(path, "/") {
		path = strings.ReplaceAll(path, ".", "/")
	}
	if prefix == "" {
		return path
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strings.TrimPrefix(path, "/")
}
