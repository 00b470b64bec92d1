// Package api provides the HTTP surface of the trade engine: markets,
// trading, portfolios, faucet, and governance.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/faucet"
	"github.com/lfgmarkets/trade-engine/internal/governance"
	"github.com/lfgmarkets/trade-engine/internal/ledger"
	"github.com/lfgmarkets/trade-engine/internal/metrics"
	"github.com/lfgmarkets/trade-engine/internal/model"
	"github.com/lfgmarkets/trade-engine/internal/pricing"
	"github.com/lfgmarkets/trade-engine/internal/store"
	"github.com/lfgmarkets/trade-engine/internal/users"
)

// Handlers wires the engine services into chi routes.
type Handlers struct {
	store      store.Store
	ledger     *ledger.Ledger
	faucet     *faucet.Service
	governance *governance.Service
	users      *users.Service
	hub        *WSHub // optional; nil disables broadcasting
}

// NewHandlers creates the HTTP handler set. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewHandlers(st store.Store, ld *ledger.Ledger, fc *faucet.Service, gov *governance.Service, us *users.Service, hub *WSHub) *Handlers {
	return &Handlers{
		store:      st,
		ledger:     ld,
		faucet:     fc,
		governance: gov,
		users:      us,
		hub:        hub,
	}
}

// Routes mounts all /api/v1 routes on the given router.
func (h *Handlers) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Get("/markets", h.ListMarkets)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/price", h.GetPrice)

	r.Post("/trades", h.ExecuteTrade)
	r.Get("/trades/{userID}", h.GetTradeHistory)

	r.Get("/portfolio/{userID}", h.GetPortfolio)

	r.Post("/users", h.RegisterUser)
	r.Get("/users/{userID}/referrals", h.GetReferralStats)

	r.Post("/faucet/claim", h.ClaimFaucet)
	r.Get("/faucet/status/{userID}", h.FaucetStatus)

	r.Get("/governance/proposals", h.ListProposals)
	r.Post("/governance/proposals", h.ProposeMarket)
	r.Post("/governance/proposals/{proposalID}/votes", h.CastVote)
	r.Post("/governance/proposals/{proposalID}/finalize", h.FinalizeProposal)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trades.
// Buys take an amount (USDC), sells take a share count.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Outcome  model.Outcome   `json:"outcome"`
	Side     string          `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
}

// RegisterUserRequest is the JSON body for POST /api/v1/users.
type RegisterUserRequest struct {
	WalletAddress string `json:"wallet_address"`
	ReferralCode  string `json:"referral_code"`
}

// ClaimRequest is the JSON body for POST /api/v1/faucet/claim.
type ClaimRequest struct {
	UserID string `json:"user_id"`
}

// ProposalRequest is the JSON body for POST /api/v1/governance/proposals.
type ProposalRequest struct {
	ProposerID  string `json:"proposer_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// VoteRequest is the JSON body for casting a vote.
type VoteRequest struct {
	UserID string          `json:"user_id"`
	Choice model.Outcome   `json:"choice"`
	Weight decimal.Decimal `json:"weight"`
}

// --- Market handlers ---

// ListMarkets handles GET /api/v1/markets?status=TRADING
func (h *Handlers) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.store.ListMarkets(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handlers) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (h *Handlers) GetPrice(w http.ResponseWriter, r *http.Request) {
	market, err := h.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": pricing.Yes(market.TotalYesShares, market.TotalNoShares),
		"no":  pricing.No(market.TotalYesShares, market.TotalNoShares),
	})
}

// --- Trade handlers ---

// ExecuteTrade handles POST /api/v1/trades
func (h *Handlers) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	start := time.Now()

	var receipt *ledger.Receipt
	var err error
	if req.Side == model.SideBuy {
		receipt, err = h.ledger.Buy(r.Context(), req.UserID, req.MarketID, req.Outcome, req.Amount)
	} else {
		receipt, err = h.ledger.Sell(r.Context(), req.UserID, req.MarketID, req.Outcome, req.Shares)
	}
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeError(w, err.Error(), tradeStatus(err))
		return
	}

	metrics.TradesTotal.WithLabelValues(receipt.Side, string(receipt.Outcome)).Inc()
	metrics.TradeLatency.WithLabelValues(receipt.Side).Observe(time.Since(start).Seconds())

	if h.hub != nil {
		h.hub.Broadcast(WSMessage{
			Type:     "trade_executed",
			MarketID: receipt.MarketID,
			PriceYes: receipt.PriceYes.String(),
			PriceNo:  receipt.PriceNo.String(),
			Outcome:  string(receipt.Outcome),
			Side:     receipt.Side,
			Shares:   receipt.Shares.String(),
		})
	}

	writeJSON(w, http.StatusOK, receipt)
}

// GetTradeHistory handles GET /api/v1/trades/{userID}
func (h *Handlers) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.GetTradesByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Positions are marked to market at current outcome prices.
func (h *Handlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}

	positions, err := h.store.GetPositionsByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	portfolio := model.Portfolio{
		UserID:      userID,
		USDCBalance: user.USDCBalance,
		Positions:   []model.PortfolioRow{},
		TotalValue:  user.USDCBalance,
	}

	for _, p := range positions {
		row := model.PortfolioRow{
			MarketID:  p.MarketID,
			YesShares: p.YesShares,
			NoShares:  p.NoShares,
		}
		market, err := h.store.GetMarket(ctx, p.MarketID)
		if err == nil {
			row.MarketTitle = market.Title
			row.PriceYes = pricing.Yes(market.TotalYesShares, market.TotalNoShares)
			row.PriceNo = pricing.No(market.TotalYesShares, market.TotalNoShares)
		}
		row.Value = pricing.RoundCurrency(
			row.PriceYes.Mul(p.YesShares).Add(row.PriceNo.Mul(p.NoShares)))
		portfolio.Positions = append(portfolio.Positions, row)
		portfolio.TotalValue = portfolio.TotalValue.Add(row.Value)
	}

	writeJSON(w, http.StatusOK, portfolio)
}

// --- User handlers ---

// RegisterUser handles POST /api/v1/users
func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.Register(r.Context(), req.WalletAddress, req.ReferralCode)
	if err != nil {
		if errors.Is(err, users.ErrInvalidWallet) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to register user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetReferralStats handles GET /api/v1/users/{userID}/referrals
func (h *Handlers) GetReferralStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.users.ReferralStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load referral stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"referrals": count})
}

// --- Faucet handlers ---

// ClaimFaucet handles POST /api/v1/faucet/claim
func (h *Handlers) ClaimFaucet(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.faucet.Claim(r.Context(), req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, faucet.ErrUserNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, faucet.ErrClaimTooSoon):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "claim failed", http.StatusServiceUnavailable)
		}
		return
	}

	metrics.FaucetClaims.Inc()
	writeJSON(w, http.StatusOK, result)
}

// FaucetStatus handles GET /api/v1/faucet/status/{userID}
func (h *Handlers) FaucetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.faucet.NextClaim(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		if errors.Is(err, faucet.ErrUserNotFound) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "failed to load faucet status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// --- Governance handlers ---

// ListProposals handles GET /api/v1/governance/proposals
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = model.ProposalPending
	}
	proposals, err := h.store.ListProposals(r.Context(), status)
	if err != nil {
		writeError(w, "failed to list proposals", http.StatusInternalServerError)
		return
	}
	if proposals == nil {
		proposals = []model.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// ProposeMarket handles POST /api/v1/governance/proposals
func (h *Handlers) ProposeMarket(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	proposal, err := h.governance.Propose(r.Context(), req.ProposerID, req.Title, req.Description, req.Category)
	if err != nil {
		switch {
		case errors.Is(err, governance.ErrInvalidTitle),
			errors.Is(err, governance.ErrInvalidDescription):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "proposer not found", http.StatusNotFound)
		default:
			writeError(w, "failed to create proposal", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

// CastVote handles POST /api/v1/governance/proposals/{proposalID}/votes
func (h *Handlers) CastVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.governance.CastVote(r.Context(), chi.URLParam(r, "proposalID"), req.UserID, req.Choice, req.Weight)
	if err != nil {
		switch {
		case errors.Is(err, governance.ErrInvalidChoice),
			errors.Is(err, governance.ErrInvalidWeight):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, governance.ErrProposalNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, governance.ErrAlreadyVoted),
			errors.Is(err, governance.ErrProposalClosed):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "failed to record vote", http.StatusInternalServerError)
		}
		return
	}

	metrics.VotesTotal.WithLabelValues(string(req.Choice)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

// FinalizeProposal handles POST /api/v1/governance/proposals/{proposalID}/finalize
func (h *Handlers) FinalizeProposal(w http.ResponseWriter, r *http.Request) {
	market, err := h.governance.Finalize(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		switch {
		case errors.Is(err, governance.ErrProposalNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, governance.ErrProposalClosed),
			errors.Is(err, governance.ErrQuorumNotReached):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "failed to finalize proposal", http.StatusInternalServerError)
		}
		return
	}

	if market == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": model.ProposalRejected})
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// --- Error mapping ---

// tradeStatus maps ledger errors onto HTTP status codes.
func tradeStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidOutcome),
		errors.Is(err, pricing.ErrZeroPrice):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrMarketNotFound),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ledger.ErrMarketNotOpen):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, pricing.ErrZeroPrice):
		return "zero_price"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ledger.ErrNoPosition):
		return "no_position"
	case errors.Is(err, ledger.ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, ledger.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ledger.ErrMarketNotOpen):
		return "market_not_open"
	case errors.Is(err, ledger.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal"
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
