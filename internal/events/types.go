package events

import "time"

// EventType identifies the kind of event being published.
type EventType string

const (
	// StatusChanged is published when a dashboard starts, finishes or fails
	// a refresh.
	StatusChanged EventType = "status"
	// AlertNew is published once per alert history record not seen before.
	AlertNew EventType = "alert"
	// InstanceRemoved is published after repeated auth failures remove an
	// instance.
	InstanceRemoved EventType = "instance_removed"
)

// Event is the payload published through the bus.
type Event struct {
	Type      EventType         `json:"type"`
	Instance  string            `json:"instance,omitempty"`
	System    string            `json:"system,omitempty"`
	Message   string            `json:"message,omitempty"`
	Payload   any               `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
