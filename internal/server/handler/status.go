package handler

import (
	"net/http"

	"github.com/alanyoungcy/arbmonitor/internal/monitor"
)

// StatusProvider exposes the monitor's live status.
type StatusProvider interface {
	Status() monitor.Status
}

// StatusHandler serves the process mode and, when a monitor runs in this
// process, its cycle status.
type StatusHandler struct {
	mode    string
	monitor StatusProvider
}

// NewStatusHandler creates a StatusHandler. m is nil in server mode.
func NewStatusHandler(mode string, m StatusProvider) *StatusHandler {
	return &StatusHandler{mode: mode, monitor: m}
}

// GetStatus responds with the mode and monitor status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"mode": h.mode}
	if h.monitor != nil {
		resp["monitor"] = h.monitor.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}
