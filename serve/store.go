package serve

import (
	"time"

	fleet "github.com/everydev1618/agentfleet"
)

// Store persists worker lifecycle events for historical queries.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// InsertEvent records a worker lifecycle event.
	InsertEvent(e StoreEvent) error

	// ListEvents returns recent events, newest first. An empty agent
	// matches every agent.
	ListEvents(agent string, limit int) ([]StoreEvent, error)

	// CountRestarts returns how many restarts were recorded per agent.
	CountRestarts() (map[string]int, error)
}

// StoreEvent is a persisted worker lifecycle event.
type StoreEvent struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	WorkerID  string    `json:"worker_id"`
	AgentName string    `json:"agent_name"`
	Profile   string    `json:"profile"`
	CountID   int       `json:"count_id"`
	Pid       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// storeEventFrom flattens a fleet event for storage.
func storeEventFrom(ev fleet.Event) StoreEvent {
	se := StoreEvent{
		Type:      string(ev.Type),
		WorkerID:  ev.WorkerID,
		AgentName: ev.AgentName,
		Profile:   ev.Profile,
		CountID:   ev.CountID,
		Pid:       ev.Pid,
		Message:   truncate(ev.Message, 4096),
		Timestamp: ev.Timestamp,
	}
	if ev.Exit != nil {
		code := ev.Exit.Code
		se.ExitCode = &code
		se.Signal = ev.Exit.Signal
	}
	return se
}
