package serve

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"

	fleet "github.com/everydev1618/agentfleet"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	actionTimeout     = 10 * time.Second
)

// handleListAgents returns every registered agent.
func (s *Server) handleListAgents(c *gin.Context) {
	regs := s.fleet.Directory().List()
	resp := make([]AgentResponse, 0, len(regs))
	for _, reg := range regs {
		resp = append(resp, agentToResponse(reg))
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetAgent returns one agent with live process stats when it runs.
func (s *Server) handleGetAgent(c *gin.Context) {
	reg, ok := s.lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "agent not found"})
		return
	}

	resp := agentToResponse(reg)
	if resp.Pid > 0 {
		resp.Process = processStats(resp.Pid)
	}
	c.JSON(http.StatusOK, resp)
}

// handleStopAgent interrupts a running agent. The supervisor will not
// restart it.
func (s *Server) handleStopAgent(c *gin.Context) {
	s.workerAction(c, "stop", (*fleet.Worker).Stop)
}

// handleContinueAgent restarts a stopped agent with its memory loaded.
func (s *Server) handleContinueAgent(c *gin.Context) {
	s.workerAction(c, "continue", (*fleet.Worker).Continue)
}

func (s *Server) workerAction(c *gin.Context, action string, fn func(*fleet.Worker, context.Context) error) {
	name := c.Param("name")
	reg, ok := s.lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "agent not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()

	if err := fn(reg.Worker, ctx); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fleet.ErrClosed):
			status = http.StatusGone
		case errors.Is(err, fleet.ErrNameTaken):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		s.logger.Warn("agent action failed", "agent", name, "action", action, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, ActionResponse{
		Name:   name,
		Action: action,
		State:  string(reg.Worker.State()),
	})
}

// handleHealth reports backend and host health. It answers 503 when the
// model backend is unreachable.
func (s *Server) handleHealth(c *gin.Context) {
	regs := s.fleet.Directory().List()
	resp := HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		AgentsTotal: len(regs),
	}
	for _, reg := range regs {
		if reg.Online {
			resp.AgentsOnline++
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.HostMemPct = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		resp.HostCPUPct = pcts[0]
	}

	code := http.StatusOK
	if s.health != nil {
		status := s.health.CheckHealth(c.Request.Context())
		resp.Model = &status
		switch {
		case !status.Available:
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		case status.Error != "":
			resp.Status = "degraded"
		}
	}
	c.JSON(code, resp)
}

// handleListEvents returns recorded lifecycle events, newest first.
// Query parameters: agent, limit.
func (s *Server) handleListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.store.ListEvents(c.Query("agent"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if events == nil {
		events = []StoreEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) lookup(name string) (fleet.Registration, bool) {
	for _, reg := range s.fleet.Directory().List() {
		if reg.Name == name {
			return reg, true
		}
	}
	return fleet.Registration{}, false
}

// processStats samples a worker process. It returns nil when the process is
// gone or unreadable.
func processStats(pid int) *ProcessStats {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	stats := &ProcessStats{}
	if pct, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	if info, err := p.MemoryInfo(); err == nil {
		stats.RSSBytes = info.RSS
	}
	return stats
}
