package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/OstapBender-commits/ema-signal-bot/internal/middleware"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/services"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
)

const (
	defaultSignalLimit = 20
	maxSignalLimit     = 200
)

// ScannerStatus is the read-only view of the scanner.
type ScannerStatus interface {
	Status() []services.SymbolStatus
	Tracker() *signal.Tracker
}

// BreakerStats lists per-source circuit breaker counters.
type BreakerStats interface {
	GetAllStats() map[string]services.CircuitBreakerStats
}

type StatusHandler struct {
	scanner  ScannerStatus
	breakers BreakerStats
	history  services.SignalHistory
}

type StatusResponse struct {
	Day      string                                  `json:"day"`
	Sent     int                                     `json:"sent"`
	DailyCap int                                     `json:"daily_cap"`
	States   map[string]signal.State                 `json:"states"`
	Symbols  []services.SymbolStatus                 `json:"symbols"`
	Sources  map[string]services.CircuitBreakerStats `json:"sources,omitempty"`
}

// NewStatusHandler creates a handler. breakers and history may be nil.
func NewStatusHandler(scanner ScannerStatus, breakers BreakerStats, history services.SignalHistory) *StatusHandler {
	return &StatusHandler{scanner: scanner, breakers: breakers, history: history}
}

// GetStatus returns the daily counter, each symbol's state and the source
// breakers.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	snap := h.scanner.Tracker().Snapshot()
	resp := StatusResponse{
		Day:      snap.Day,
		Sent:     snap.Count,
		DailyCap: snap.DailyCap,
		States:   snap.Symbols,
		Symbols:  h.scanner.Status(),
	}
	if h.breakers != nil {
		resp.Sources = h.breakers.GetAllStats()
	}
	c.JSON(http.StatusOK, resp)
}

// GetSignals lists recorded signals, newest first.
// Query: symbol (optional), limit (default 20, at most 200).
func (h *StatusHandler) GetSignals(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal history is not enabled"})
		return
	}

	limit := defaultSignalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSignalLimit)
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))

	sigs, err := h.history.Recent(c.Request.Context(), symbol, limit)
	if err != nil {
		middleware.RecordError(c, err, "signal history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load signals"})
		return
	}
	if sigs == nil {
		sigs = []models.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": sigs, "count": len(sigs)})
}
