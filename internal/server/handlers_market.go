package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bobmcallan/papertrade/internal/models"
)

// handlePriceCurrent handles GET /api/prices/{ticker}.
func (s *Server) handlePriceCurrent(w http.ResponseWriter, r *http.Request, raw string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ticker, err := models.ParseTicker(raw)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	price, err := s.app.MarketData.GetCurrentPrice(r.Context(), ticker)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, price)
}

// handlePriceAt handles GET /api/prices/{ticker}/at?timestamp=RFC3339.
func (s *Server) handlePriceAt(w http.ResponseWriter, r *http.Request, raw string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ticker, err := models.ParseTicker(raw)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	ts, ok := parseOptionalTime(w, r, "timestamp")
	if !ok {
		return
	}
	if ts == nil {
		WriteError(w, http.StatusBadRequest, "timestamp query parameter is required")
		return
	}

	price, err := s.app.MarketData.GetPriceAt(r.Context(), ticker, *ts)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, price)
}

// handlePriceHistory handles GET /api/prices/{ticker}/history with start,
// end, and optional interval query parameters.
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request, raw string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ticker, err := models.ParseTicker(raw)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	start, ok := parseOptionalTime(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseOptionalTime(w, r, "end")
	if !ok {
		return
	}
	if start == nil || end == nil {
		WriteError(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}

	interval := models.PriceInterval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = models.IntervalDaily
	}
	switch interval {
	case models.IntervalDaily, models.IntervalHourly, models.IntervalRealtime:
	default:
		WriteError(w, http.StatusBadRequest, "invalid interval")
		return
	}

	series, err := s.app.MarketData.GetPriceHistory(r.Context(), ticker, *start, *end, interval)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if series == nil {
		series = []models.PricePoint{}
	}
	WriteJSON(w, http.StatusOK, series)
}

// handleRefreshStatus handles GET /api/refresh/status.
func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Refresh.Status())
}

// handleRefreshRun handles POST /api/refresh/run: triggers an immediate
// refresh cycle in the background.
func (s *Server) handleRefreshRun(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.app.Refresh.RunOnce(ctx); err != nil && !models.IsKind(err, models.KindConflict) {
			s.logger.Error().Err(err).Msg("manual refresh cycle failed")
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}
