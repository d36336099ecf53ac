// Package fund provides the HTTP handlers for managing funds, editing their
// transaction logs, triggering recalculation, and reading derived holdings
// and realized P&L statistics.
//
// All monetary values use shopspring/decimal, never float64.
package fund

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/engine"
	"github.com/atmx/fund-ledger/internal/ledger"
	"github.com/atmx/fund-ledger/internal/model"
	"github.com/atmx/fund-ledger/internal/stats"
	"github.com/atmx/fund-ledger/internal/store"
)

// Service handles fund operations. All log edits go through the engine,
// which serializes them per fund.
type Service struct {
	store  store.Store
	engine *engine.Recalculator
	stats  *stats.Reader
}

// NewService creates a new fund service.
func NewService(st store.Store, eng *engine.Recalculator, reader *stats.Reader) *Service {
	return &Service{
		store:  st,
		engine: eng,
		stats:  reader,
	}
}

// --- Request/Response types ---

// CreateFundRequest is the JSON body for fund creation.
type CreateFundRequest struct {
	ID                string `json:"id,omitempty"` // empty → generated
	Name              string `json:"name"`
	CashAsset         string `json:"cash_asset"`
	IntermediateAsset string `json:"intermediate_asset"`
	YieldPolicy       string `json:"yield_policy"` // empty → reduce_average
}

// YieldPolicyRequest is the JSON body for PUT /funds/{fundID}/yield-policy.
type YieldPolicyRequest struct {
	YieldPolicy string `json:"yield_policy"`
}

// TransactionRequest is the JSON body for recording or amending a
// transaction. Cost basis and realized P&L are never accepted from clients.
type TransactionRequest struct {
	ID             string              `json:"id,omitempty"`
	Kind           string              `json:"kind"`
	Timestamp      time.Time           `json:"timestamp"`
	Asset          string              `json:"asset"`
	Quantity       decimal.Decimal     `json:"quantity"`
	UnitPrice      decimal.NullDecimal `json:"unit_price"`
	Fee            decimal.Decimal     `json:"fee"`
	FeeAsset       string              `json:"fee_asset"`
	SourceLocation string              `json:"source_location"`
	DestLocation   string              `json:"dest_location"`
	Note           string              `json:"note"`
}

func (req TransactionRequest) toModel() (model.Transaction, error) {
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		return model.Transaction{}, err
	}
	if req.Timestamp.IsZero() {
		return model.Transaction{}, errors.New("timestamp is required")
	}
	return model.Transaction{
		ID:             req.ID,
		Kind:           kind,
		Timestamp:      req.Timestamp.UTC(),
		Asset:          req.Asset,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Fee:            req.Fee,
		FeeAsset:       req.FeeAsset,
		SourceLocation: req.SourceLocation,
		DestLocation:   req.DestLocation,
		Note:           req.Note,
	}, nil
}

// RecalculateResponse is returned from POST /funds/{fundID}/recalculate.
type RecalculateResponse struct {
	FundID       string               `json:"fund_id"`
	Transactions int                  `json:"transactions"`
	Holdings     []model.AssetHolding `json:"holdings"`
	CommittedAt  time.Time            `json:"committed_at"`
}

// --- HTTP Handlers ---

// CreateFund handles POST /api/v1/funds
func (s *Service) CreateFund(w http.ResponseWriter, r *http.Request) {
	var req CreateFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.CashAsset == "" {
		writeError(w, "cash_asset is required", http.StatusBadRequest)
		return
	}
	if req.IntermediateAsset == req.CashAsset {
		writeError(w, "intermediate_asset must differ from cash_asset", http.StatusBadRequest)
		return
	}
	policy, err := model.ParseYieldPolicy(req.YieldPolicy)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	f := &model.Fund{
		ID:                id,
		Name:              req.Name,
		CashAsset:         req.CashAsset,
		IntermediateAsset: req.IntermediateAsset,
		YieldPolicy:       policy,
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.store.CreateFund(r.Context(), f); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, "fund "+f.ID+" already exists", http.StatusConflict)
			return
		}
		writeEngineError(w, err)
		return
	}

	slog.Info("fund created",
		"id", f.ID,
		"cash", f.CashAsset,
		"intermediate", f.IntermediateAsset,
		"yield_policy", string(f.YieldPolicy),
	)

	writeJSON(w, http.StatusCreated, f)
}

// ListFunds handles GET /api/v1/funds
func (s *Service) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := s.store.ListFunds(r.Context())
	if err != nil {
		writeError(w, "failed to list funds", http.StatusInternalServerError)
		return
	}
	if funds == nil {
		funds = []model.Fund{}
	}
	writeJSON(w, http.StatusOK, funds)
}

// GetFund handles GET /api/v1/funds/{fundID}
func (s *Service) GetFund(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFund(r.Context(), chi.URLParam(r, "fundID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// SetYieldPolicy handles PUT /api/v1/funds/{fundID}/yield-policy
// Changing the policy replays the whole log.
func (s *Service) SetYieldPolicy(w http.ResponseWriter, r *http.Request) {
	var req YieldPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	policy, err := model.ParseYieldPolicy(req.YieldPolicy)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.engine.SetYieldPolicy(r.Context(), chi.URLParam(r, "fundID"), policy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Fund)
}

// ListTransactions handles GET /api/v1/funds/{fundID}/transactions
// Returns the log in replay order.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	ctx := r.Context()

	if _, err := s.store.GetFund(ctx, fundID); err != nil {
		writeEngineError(w, err)
		return
	}
	txs, err := s.store.ListTransactions(ctx, fundID)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetTransaction handles GET /api/v1/funds/{fundID}/transactions/{txID}
func (s *Service) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.store.GetTransaction(r.Context(), chi.URLParam(r, "fundID"), chi.URLParam(r, "txID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// RecordTransaction handles POST /api/v1/funds/{fundID}/transactions
// The transaction may be dated anywhere in the past; everything after it is
// recomputed before the response is written.
func (s *Service) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := req.toModel()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	recorded, _, err := s.engine.Record(r.Context(), chi.URLParam(r, "fundID"), tx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recorded)
}

// AmendTransaction handles PUT /api/v1/funds/{fundID}/transactions/{txID}
func (s *Service) AmendTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.ID = chi.URLParam(r, "txID")
	tx, err := req.toModel()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	amended, _, err := s.engine.Amend(r.Context(), chi.URLParam(r, "fundID"), tx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amended)
}

// RemoveTransaction handles DELETE /api/v1/funds/{fundID}/transactions/{txID}
func (s *Service) RemoveTransaction(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Remove(r.Context(), chi.URLParam(r, "fundID"), chi.URLParam(r, "txID")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recalculate handles POST /api/v1/funds/{fundID}/recalculate
func (s *Service) Recalculate(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Recalculate(r.Context(), chi.URLParam(r, "fundID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	holdings := snap.Holdings
	if holdings == nil {
		holdings = []model.AssetHolding{}
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{
		FundID:       snap.Fund.ID,
		Transactions: snap.Transactions,
		Holdings:     holdings,
		CommittedAt:  snap.CommittedAt,
	})
}

// GetHoldings handles GET /api/v1/funds/{fundID}/holdings
// Returns the last committed holdings snapshot.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	ctx := r.Context()

	if _, err := s.store.GetFund(ctx, fundID); err != nil {
		writeEngineError(w, err)
		return
	}
	holdings, err := s.store.GetHoldings(ctx, fundID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.AssetHolding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetSummary handles GET /api/v1/funds/{fundID}/summary
// Optional ?kind=sell_for_cash,settlement narrows the trade set.
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := stats.ParseFilter(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	summary, err := s.stats.Summarize(r.Context(), chi.URLParam(r, "fundID"), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetPairSummary handles GET /api/v1/funds/{fundID}/summary/pairs
func (s *Service) GetPairSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := stats.ParseFilter(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	pairs, err := s.stats.ByPair(r.Context(), chi.URLParam(r, "fundID"), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

// writeEngineError maps domain errors to status codes. Unknown failures get
// a generic message; the detail goes to the log only.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidTransaction):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrBusy):
		writeError(w, "fund is busy, retry later", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
