package realtime

import (
	"github.com/google/uuid"

	"github.com/afya-pulse/triage-api/internal/domain/report"
)

// Event names match what the dashboard subscribes to.
const (
	EventQueueUpdate   = "queue_update"
	EventOutbreakAlert = "OUTBREAK_ALERT"
)

type QueueUpdateType string

const (
	QueueAdd    QueueUpdateType = "ADD"
	QueueUpdate QueueUpdateType = "UPDATE"
	QueueRemove QueueUpdateType = "REMOVE"
)

// QueueDelta is one change to the active queue. Patient is the full
// persisted record for ADD and UPDATE; REMOVE carries only the id.
type QueueDelta struct {
	Type    QueueUpdateType      `json:"type"`
	ID      uuid.UUID            `json:"id"`
	Patient *report.HealthReport `json:"patient,omitempty"`
}

// OutbreakAlert is raised when the RED cluster heuristic trips for a
// location.
type OutbreakAlert struct {
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// Envelope is the wire frame: an event name plus its payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
