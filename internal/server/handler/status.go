package handler

import (
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/metrics"
)

// StatusHandler serves runtime metadata and pipeline counters.
type StatusHandler struct {
	Mode     string
	ChainID  int64
	Contract string
	metrics  *metrics.Metrics
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, chainID int64, contract string, m *metrics.Metrics) *StatusHandler {
	return &StatusHandler{Mode: mode, ChainID: chainID, Contract: contract, metrics: m}
}

// GetStatus responds with mode, chain, contract, and counter snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     h.Mode,
		"chain_id": h.ChainID,
		"contract": h.Contract,
		"counters": h.metrics.Snapshot(),
	})
}
