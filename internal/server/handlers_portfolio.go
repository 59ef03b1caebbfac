package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// handlePortfolios handles /api/portfolios: POST creates, GET lists by owner.
func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePortfolioCreate(w, r)
	case http.MethodGet:
		s.handlePortfolioList(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

type createPortfolioRequest struct {
	OwnerID        string `json:"owner_id"`
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	OpeningBalance string `json:"opening_balance"`
}

func (s *Server) handlePortfolioCreate(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	balance, err := models.MoneyFromString(req.OpeningBalance, req.Currency)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	portfolio, err := s.app.Trading.CreatePortfolio(r.Context(), req.OwnerID, req.Name, req.Currency, balance)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, portfolio)
}

func (s *Server) handlePortfolioList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		WriteError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	portfolios, err := s.app.Trading.ListPortfolios(r.Context(), owner)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if portfolios == nil {
		portfolios = []*models.Portfolio{}
	}
	WriteJSON(w, http.StatusOK, portfolios)
}

func (s *Server) handlePortfolioGet(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	portfolio, err := s.app.Trading.GetPortfolio(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, portfolio)
}

// handlePortfolioState handles GET /api/portfolios/{id}/state[?as_of=RFC3339].
func (s *Server) handlePortfolioState(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	asOf, ok := parseOptionalTime(w, r, "as_of")
	if !ok {
		return
	}

	valuation, err := s.app.Trading.GetPortfolioState(r.Context(), id, asOf)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, valuation)
}

// handlePortfolioTransactions handles GET /api/portfolios/{id}/transactions
// with optional from, to, kinds, and limit query parameters.
func (s *Server) handlePortfolioTransactions(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var filter interfaces.TransactionFilter
	from, ok := parseOptionalTime(w, r, "from")
	if !ok {
		return
	}
	filter.From = from
	to, ok := parseOptionalTime(w, r, "to")
	if !ok {
		return
	}
	filter.To = to

	for _, k := range r.URL.Query()["kind"] {
		kind := models.TransactionKind(k)
		if !models.ValidTransactionKind(kind) {
			WriteError(w, http.StatusBadRequest, "invalid transaction kind: "+k)
			return
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	txns, err := s.app.Trading.ListTransactions(r.Context(), id, filter)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	WriteJSON(w, http.StatusOK, txns)
}

type cashRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Notes    string `json:"notes,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req cashRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	amount, err := models.MoneyFromString(req.Amount, req.Currency)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	tx, err := s.app.Trading.Deposit(r.Context(), id, amount, req.Notes)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req cashRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	amount, err := models.MoneyFromString(req.Amount, req.Currency)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	tx, err := s.app.Trading.Withdraw(r.Context(), id, amount, req.Notes)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tx)
}

type tradeRequest struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
	AsOf     string `json:"as_of,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// handleTrade handles POST /api/portfolios/{id}/buy and .../sell.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, id string, buy bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req tradeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var asOf *time.Time
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid as_of timestamp")
			return
		}
		t = t.UTC()
		asOf = &t
	}

	var tx *models.Transaction
	var err error
	if buy {
		tx, err = s.app.Trading.ExecuteBuy(r.Context(), id, models.Ticker(req.Ticker), req.Quantity, asOf, req.Notes)
	} else {
		tx, err = s.app.Trading.ExecuteSell(r.Context(), id, models.Ticker(req.Ticker), req.Quantity, asOf, req.Notes)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tx)
}

// parseOptionalTime reads an RFC3339 query parameter. The bool result is
// false only when the value was present and malformed (a 400 has been
// written).
func parseOptionalTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid "+name+" timestamp")
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
