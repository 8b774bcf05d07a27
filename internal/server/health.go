package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/relaymesh/gateway/internal/fanout"
)

type processStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

type healthResponse struct {
	Status      string        `json:"status"`
	Connections int           `json:"connections"`
	Fanout      fanout.Health `json:"fanout"`
	Process     processStats  `json:"process"`
}

// handleHealthz reports the degraded-mode signal: fan-out state is
// surfaced here rather than failing requests, because local delivery
// keeps working while the backbone is down.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := s.bridge.Health()

	resp := healthResponse{
		Status:      "ok",
		Connections: s.manager.Count(),
		Fanout:      health,
		Process:     readProcessStats(),
	}
	if health.Degraded {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// readProcessStats best-efforts CPU and RSS for this process. A
// probe failure reports zeros; health must not fail because the
// stats source did.
func readProcessStats() processStats {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return processStats{}
	}
	stats := processStats{}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	return stats
}
