package api

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health reports whether the store is reachable, plus host memory and load.
// Unreachable upstreams degrade the status without failing the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: "ok"}
	status := http.StatusOK

	if h.backend != nil {
		if err := h.backend.HealthCheck(); err != nil {
			resp.Status = "unhealthy"
			resp.Store = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if h.upstreams != nil {
		resp.Upstreams = h.upstreams.Statuses()
		if status == http.StatusOK && !h.upstreams.Healthy() {
			resp.Status = "degraded"
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		resp.Load1 = avg.Load1
	}

	writeJSON(w, status, resp)
}
