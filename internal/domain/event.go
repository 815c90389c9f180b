package domain

import "time"

type EventType string

const (
	EventStarted    EventType = "started"
	EventFailed     EventType = "failed"
	EventReady      EventType = "ready"
	EventDownloaded EventType = "downloaded"
	EventStopped    EventType = "stopped"
	EventExpired    EventType = "expired"
)

type Event struct {
	Type    EventType `json:"type"`
	TaskID  string    `json:"task_id"`
	Op      string    `json:"op"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
}
