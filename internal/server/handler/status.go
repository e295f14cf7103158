package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// StatusHandler serves the static facts a wallet needs before it signs.
type StatusHandler struct {
	Mode     string
	Exchange common.Address
	ChainID  int64
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, exchange common.Address, chainID int64) *StatusHandler {
	return &StatusHandler{Mode: mode, Exchange: exchange, ChainID: chainID}
}

// GetStatus responds with the mode, the exchange contract and its chain.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        h.Mode,
		"betContract": h.Exchange,
		"chainId":     h.ChainID,
	})
}
