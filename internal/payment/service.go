// Package payment provides the HTTP handlers for opening payment sessions,
// proposing and confirming settlement plans, and reading the ledger.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockpay/internal/allocation"
	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/receipt"
	"github.com/atmx/stockpay/internal/session"
	"github.com/atmx/stockpay/internal/settlement"
	"github.com/atmx/stockpay/internal/store"
	"github.com/atmx/stockpay/internal/symbol"
)

// Service exposes payment sessions over HTTP.
type Service struct {
	sessions *session.Manager
	prices   pricing.Source
	receipts *receipt.Renderer
}

// NewService creates a new payment service.
func NewService(sessions *session.Manager, prices pricing.Source, receipts *receipt.Renderer) *Service {
	return &Service{sessions: sessions, prices: prices, receipts: receipts}
}

// Routes registers the session API on r. Mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/prices", s.GetPrices)

	r.Post("/sessions", s.CreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.GetSession)
		r.Delete("/", s.CloseSession)
		r.Get("/holdings", s.GetHoldings)
		r.Post("/caps", s.GetCaps)

		r.Post("/plans", s.ComputePlan)
		r.Delete("/plans/{planID}", s.DiscardPlan)
		r.Post("/plans/{planID}/confirm", s.ConfirmPlan)

		r.Get("/transactions", s.ListTransactions)
		r.Get("/transactions/{txID}/receipt", s.GetReceipt)
	})
}

// --- Request/Response types ---

// CreateSessionRequest is the JSON body for session creation.
type CreateSessionRequest struct {
	Holdings model.Holdings `json:"holdings"`
}

// SessionResponse describes a session and its current holdings.
type SessionResponse struct {
	ID       string         `json:"id"`
	State    session.State  `json:"state"`
	Pending  *model.Plan    `json:"pending_plan,omitempty"`
	Holdings model.Holdings `json:"holdings"`
}

// PlanRequest is the JSON body for POST /sessions/{id}/plans.
type PlanRequest struct {
	Mode   model.Mode         `json:"mode"`
	Target decimal.Decimal    `json:"target"`
	Spends []allocation.Spend `json:"spends,omitempty"` // manual mode only
}

// CapsRequest is the JSON body for POST /sessions/{id}/caps.
type CapsRequest struct {
	Target decimal.Decimal    `json:"target"`
	Spends []allocation.Spend `json:"spends,omitempty"`
}

// HoldingView is one holding valued at the current snapshot.
type HoldingView struct {
	Symbol    string           `json:"symbol"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Available bool             `json:"available"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Value     *decimal.Decimal `json:"value,omitempty"`
}

// HoldingsResponse is the body returned from GET /sessions/{id}/holdings.
type HoldingsResponse struct {
	Holdings []HoldingView   `json:"holdings"`
	Total    decimal.Decimal `json:"total"` // value of priced holdings only
}

// ErrorResponse is the JSON error body. Allocation failures carry a kind and,
// where one applies, the asset and amount involved.
type ErrorResponse struct {
	Error  string           `json:"error"`
	Kind   string           `json:"kind,omitempty"`
	Symbol string           `json:"symbol,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// --- HTTP Handlers ---

// CreateSession handles POST /api/v1/sessions
func (s *Service) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Open(r.Context(), req.Holdings)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, r, sess, http.StatusCreated)
}

// GetSession handles GET /api/v1/sessions/{sessionID}
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeSession(w, r, sess, http.StatusOK)
}

// CloseSession handles DELETE /api/v1/sessions/{sessionID}
func (s *Service) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHoldings handles GET /api/v1/sessions/{sessionID}/holdings
// Values every holding against one fresh price snapshot.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	holdings, quotes, err := sess.Valuation(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := HoldingsResponse{Holdings: make([]HoldingView, 0, len(holdings)), Total: holdings.Value(quotes)}
	for _, h := range holdings {
		view := HoldingView{Symbol: h.Symbol, Quantity: h.Quantity}
		if price, ok := quotes.Price(h.Symbol); ok {
			value := h.Quantity.Mul(price)
			view.Available = true
			view.Price = &price
			view.Value = &value
		}
		resp.Holdings = append(resp.Holdings, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPrices handles GET /api/v1/prices?symbols=AAPL,TSLA
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	syms, err := symbol.Split(r.URL.Query().Get("symbols"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(syms) == 0 {
		writeError(w, "symbols query parameter is required", http.StatusBadRequest)
		return
	}

	quotes := pricing.Snapshot(r.Context(), s.prices, syms)
	out := make([]model.Quote, 0, len(syms))
	for _, sym := range syms {
		out = append(out, quotes[sym])
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCaps handles POST /api/v1/sessions/{sessionID}/caps
// Returns the per-asset limits for manual entry.
func (s *Service) GetCaps(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req CapsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	caps, err := sess.Caps(r.Context(), req.Target, req.Spends)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// ComputePlan handles POST /api/v1/sessions/{sessionID}/plans
// Proposes a plan; nothing is settled until it is confirmed.
func (s *Service) ComputePlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := sess.ComputePlan(r.Context(), session.Request{Mode: req.Mode, Target: req.Target, Spends: req.Spends})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// DiscardPlan handles DELETE /api/v1/sessions/{sessionID}/plans/{planID}
func (s *Service) DiscardPlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Discard(chi.URLParam(r, "planID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmPlan handles POST /api/v1/sessions/{sessionID}/plans/{planID}/confirm
// Commits the proposed plan and returns the transaction record.
func (s *Service) ConfirmPlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	record, err := sess.Confirm(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListTransactions handles GET /api/v1/sessions/{sessionID}/transactions
// Returns the ledger newest first.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	seq, err := sess.Transactions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	records := slices.Collect(seq)
	if records == nil {
		records = []model.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetReceipt handles GET /api/v1/sessions/{sessionID}/transactions/{txID}/receipt
func (s *Service) GetReceipt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	record, err := sess.Transaction(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.receipts.Render(w, record); err != nil {
		log.Error().Err(err).Str("tx", record.ID).Msg("receipt render failed")
	}
}

func (s *Service) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Service) writeSession(w http.ResponseWriter, r *http.Request, sess *session.Session, status int) {
	holdings, err := sess.Holdings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if holdings == nil {
		holdings = model.Holdings{}
	}
	writeJSON(w, status, SessionResponse{
		ID:       sess.ID(),
		State:    sess.State(),
		Pending:  sess.Pending(),
		Holdings: holdings,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeDomainError maps engine, session and store errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		shortfall   *allocation.ShortfallError
		incomplete  *allocation.IncompleteError
		excess      *allocation.ExcessError
		infeasible  *allocation.InfeasibleError
		unavailable *allocation.UnavailablePriceError
	)
	switch {
	case errors.As(err, &shortfall):
		status, resp.Kind, resp.Amount = http.StatusUnprocessableEntity, "shortfall", &shortfall.Deficit
	case errors.As(err, &incomplete):
		status, resp.Kind, resp.Amount = http.StatusUnprocessableEntity, "incomplete", &incomplete.Remaining
	case errors.As(err, &excess):
		status, resp.Kind, resp.Amount = http.StatusUnprocessableEntity, "excess", &excess.Excess
	case errors.As(err, &infeasible):
		status, resp.Kind, resp.Amount = http.StatusUnprocessableEntity, "infeasible", &infeasible.Deficit
		resp.Symbol = infeasible.Symbol
	case errors.As(err, &unavailable):
		status, resp.Kind = http.StatusUnprocessableEntity, "unavailable_price"
		resp.Symbol = unavailable.Symbol

	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrTransactionNotFound):
		status = http.StatusNotFound

	case errors.Is(err, settlement.ErrPlanConsumed),
		errors.Is(err, session.ErrPlanMismatch),
		errors.Is(err, session.ErrNoPendingPlan),
		errors.Is(err, store.ErrSessionExists):
		status = http.StatusConflict

	case errors.Is(err, symbol.ErrInvalidSymbol),
		errors.Is(err, symbol.ErrDuplicateSymbol),
		errors.Is(err, session.ErrInvalidHolding),
		errors.Is(err, session.ErrInvalidMode),
		errors.Is(err, allocation.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidPlan),
		errors.Is(err, store.ErrNegativeHolding):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
