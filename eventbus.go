package fleet

import "time"

// Event is a worker lifecycle event.
type Event struct {
	Type      EventType `json:"type"`
	WorkerID  string    `json:"worker_id"`
	AgentName string    `json:"agent_name"`
	Profile   string    `json:"profile"`
	CountID   int       `json:"count_id"`
	Pid       int       `json:"pid,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Exit is set for events caused by a process exit
	Exit *ExitStatus `json:"exit,omitempty"`

	// Message is a human readable detail
	Message string `json:"message,omitempty"`
}

// EventType identifies the kind of event.
type EventType string

const (
	EventStarted       EventType = "started"
	EventSpawnFailed   EventType = "spawn_failed"
	EventStopRequested EventType = "stop_requested"
	EventExited        EventType = "exited"
	EventRestarting    EventType = "restarting"
	EventAbandoned     EventType = "abandoned"
	EventFleetFatal    EventType = "fleet_fatal"
)
