package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusRunning TaskStatus = "In-progress"
	StatusFailed  TaskStatus = "Failed"
	StatusReady   TaskStatus = "Ready"
	StatusStopped TaskStatus = "Stopped"
)

// Task is the registry record of one asynchronous job. Its status is never
// stored here; it is derived from the workspace on every probe.
type Task struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	CreatedAt time.Time `json:"created_at"`
}

type Metadata struct {
	CreatedAt      time.Time
	Elapsed        time.Duration
	Status         TaskStatus
	FailureMessage string
	StoppedAt      time.Time
}

// Outcome is what a workspace probe observed.
type Outcome struct {
	Failed         bool
	FailureMessage string
	Done           bool
	ArtifactExists bool
}

// Status resolves the observed files into a task status. A failure record
// wins over a success marker.
func (o Outcome) Status() TaskStatus {
	switch {
	case o.Failed:
		return StatusFailed
	case o.Done && o.ArtifactExists:
		return StatusReady
	default:
		return StatusRunning
	}
}

// FormatElapsed renders d as HH:MM:SS. Hours are not capped at 24.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
