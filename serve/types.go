package serve

import (
	"time"

	fleet "github.com/everydev1618/agentfleet"
	"github.com/everydev1618/agentfleet/llm"
)

// --- API Response Types ---

// AgentResponse is the API representation of a supervised agent.
type AgentResponse struct {
	Name          string            `json:"name"`
	WorkerID      string            `json:"worker_id"`
	Profile       string            `json:"profile"`
	CountID       int               `json:"count_id"`
	State         string            `json:"state"`
	Online        bool              `json:"online"`
	Running       bool              `json:"running"`
	Pid           int               `json:"pid,omitempty"`
	Restarts      int               `json:"restarts"`
	LastRestartAt *time.Time        `json:"last_restart_at,omitempty"`
	LastExit      *fleet.ExitStatus `json:"last_exit,omitempty"`
	Process       *ProcessStats     `json:"process,omitempty"`
}

// ProcessStats is resource usage of a live worker process.
type ProcessStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// HealthResponse reports the control plane and model backend state.
type HealthResponse struct {
	Status       string            `json:"status"`
	Uptime       string            `json:"uptime"`
	AgentsOnline int               `json:"agents_online"`
	AgentsTotal  int               `json:"agents_total"`
	Model        *llm.HealthStatus `json:"model,omitempty"`
	HostMemPct   float64           `json:"host_mem_percent"`
	HostCPUPct   float64           `json:"host_cpu_percent"`
}

// ActionResponse acknowledges a stop or continue request.
type ActionResponse struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	State  string `json:"state"`
}

// ErrorResponse is an API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

func agentToResponse(reg fleet.Registration) AgentResponse {
	w := reg.Worker
	resp := AgentResponse{
		Name:     reg.Name,
		WorkerID: w.ID,
		Profile:  w.ProfilePath,
		CountID:  w.CountID,
		State:    string(w.State()),
		Online:   reg.Online,
		Running:  w.Running(),
		Pid:      w.Pid(),
		Restarts: w.Restarts(),
		LastExit: w.LastExit(),
	}
	if t := w.LastRestartAt(); !t.IsZero() {
		resp.LastRestartAt = &t
	}
	return resp
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
