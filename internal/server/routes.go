package server

import (
	"net/http"
	"strings"
	"time"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Portfolios and trading
	mux.HandleFunc("/api/portfolios", s.handlePortfolios)
	mux.HandleFunc("/api/portfolios/", s.routePortfolios)

	// Market data
	mux.HandleFunc("/api/prices/", s.routePrices)

	// Background refresher
	mux.HandleFunc("/api/refresh/status", s.handleRefreshStatus)
	mux.HandleFunc("/api/refresh/run", s.handleRefreshRun)
}

// routePortfolios dispatches /api/portfolios/{id}[/action].
func (s *Server) routePortfolios(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/portfolios/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		WriteError(w, http.StatusNotFound, "Portfolio id is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handlePortfolioGet(w, r, id)
	case "state":
		s.handlePortfolioState(w, r, id)
	case "transactions":
		s.handlePortfolioTransactions(w, r, id)
	case "deposit":
		s.handleDeposit(w, r, id)
	case "withdraw":
		s.handleWithdraw(w, r, id)
	case "buy":
		s.handleTrade(w, r, id, true)
	case "sell":
		s.handleTrade(w, r, id, false)
	default:
		WriteError(w, http.StatusNotFound, "Unknown portfolio action")
	}
}

// routePrices dispatches /api/prices/{ticker}[/at|/history].
func (s *Server) routePrices(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/prices/")
	parts := strings.SplitN(rest, "/", 2)
	ticker := parts[0]
	if ticker == "" {
		WriteError(w, http.StatusNotFound, "Ticker is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handlePriceCurrent(w, r, ticker)
	case "at":
		s.handlePriceAt(w, r, ticker)
	case "history":
		s.handlePriceHistory(w, r, ticker)
	default:
		WriteError(w, http.StatusNotFound, "Unknown price action")
	}
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
