package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/brendanmcoyne/cs411-final/internal/catalog"
	"github.com/brendanmcoyne/cs411-final/internal/ledger"
	"github.com/brendanmcoyne/cs411-final/internal/marketdata"
	"github.com/brendanmcoyne/cs411-final/internal/valuation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log         *zap.Logger
	catalog     *catalog.Catalog
	ledger      *ledger.Ledger
	valuation   *valuation.Service
	historyDays int
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, cat *catalog.Catalog, led *ledger.Ledger, val *valuation.Service, historyDays int) *APIHandler {
	return &APIHandler{
		log:         log,
		catalog:     cat,
		ledger:      led,
		valuation:   val,
		historyDays: historyDays,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the core error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var partial *valuation.PartialValuationError
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownInstrument),
		errors.Is(err, ledger.ErrNoHolding),
		errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, catalog.ErrDuplicateInstrument),
		errors.Is(err, catalog.ErrInstrumentInUse):
		return http.StatusConflict
	case errors.Is(err, marketdata.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, marketdata.ErrQuoteUnavailable), errors.As(err, &partial):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
}

// HealthHandler reports that the service is up.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Service is running"})
}

type addInstrumentRequest struct {
	Ticker      string `json:"ticker"`
	Description string `json:"description"`
}

// AddInstrumentHandler creates a new catalog entry.
func (h *APIHandler) AddInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	var req addInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	instrument, err := h.catalog.Add(req.Ticker, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, instrument)
}

// RemoveInstrumentHandler deletes a catalog entry by id.
func (h *APIHandler) RemoveInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid instrument id", http.StatusBadRequest)
		return
	}

	if err := h.catalog.Remove(uint(id)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// FindInstrumentHandler looks up a catalog entry by ticker.
func (h *APIHandler) FindInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	instrument, err := h.catalog.Find(r.PathValue("ticker"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instrument)
}

type tradeRequest struct {
	User   string          `json:"user"`
	Ticker string          `json:"ticker"`
	Shares decimal.Decimal `json:"shares"`
}

// BuyHandler executes a market buy at the current quote.
func (h *APIHandler) BuyHandler(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := h.ledger.Buy(r.Context(), req.User, req.Ticker, req.Shares)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// SellHandler executes a market sell at the current quote.
func (h *APIHandler) SellHandler(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := h.ledger.Sell(r.Context(), req.User, req.Ticker, req.Shares)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// TotalValueHandler returns the user's full portfolio value.
func (h *APIHandler) TotalValueHandler(w http.ResponseWriter, r *http.Request) {
	total, err := h.valuation.TotalValue(r.Context(), r.PathValue("user"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"total_value": total})
}

// BreakdownHandler returns the user's per-holding valuations.
func (h *APIHandler) BreakdownHandler(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.valuation.Breakdown(r.Context(), r.PathValue("user"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// TransactionsHandler returns the user's trade history, most recent first.
func (h *APIHandler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := h.ledger.Transactions(r.PathValue("user"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// StockDetailsHandler returns one instrument's description, quote and history.
func (h *APIHandler) StockDetailsHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.valuation.StockDetails(r.Context(), r.PathValue("ticker"), h.historyDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
