package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

var hashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// SignalHandler serves the signal ledger.
type SignalHandler struct {
	store  domain.SignalStore
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(store domain.SignalStore, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{store: store, logger: logHandler(logger, "signals")}
}

// ListSignals returns the most recent ledger rows, newest first.
// GET /api/signals?limit=&offset=&since=&until=
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	recs, err := h.store.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if recs == nil {
		recs = []domain.SignalRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": recs,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// GetSignal returns one ledger row by signal hash.
// GET /api/signals/{hash}
func (h *SignalHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("hash")
	if !hashPattern.MatchString(raw) {
		writeError(w, http.StatusBadRequest, "hash must be 0x followed by 64 hex characters")
		return
	}

	rec, err := h.store.Get(r.Context(), common.HexToHash(raw))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get signal failed",
			slog.String("hash", raw),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get signal")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
