package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/api"
	"github.com/lfgmarkets/trade-engine/internal/faucet"
	"github.com/lfgmarkets/trade-engine/internal/governance"
	"github.com/lfgmarkets/trade-engine/internal/ledger"
	"github.com/lfgmarkets/trade-engine/internal/model"
	"github.com/lfgmarkets/trade-engine/internal/store"
	"github.com/lfgmarkets/trade-engine/internal/users"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv builds the full handler stack on an in-memory store.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()

	h := api.NewHandlers(
		ms,
		ledger.New(ms),
		faucet.NewService(ms, d(1000), 24*time.Hour),
		governance.NewService(ms, d(10)),
		users.NewService(ms),
		nil,
	)

	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return ms, r
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:            id,
		WalletAddress: "0x" + id,
		ReferralCode:  "CODE" + id,
		USDCBalance:   d(balance),
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedMarket(t *testing.T, ms *store.MemoryStore, id string, yes, no float64) {
	t.Helper()
	err := ms.CreateMarket(context.Background(), &model.Market{
		ID:             id,
		Title:          "Will it rain tomorrow?",
		Status:         model.MarketTrading,
		TotalYesShares: d(yes),
		TotalNoShares:  d(no),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Trades ---

func TestExecuteTrade_Buy(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "user1", 100)
	seedMarket(t, ms, "m1", 0, 0)

	w := doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		UserID:   "user1",
		MarketID: "m1",
		Outcome:  model.OutcomeYes,
		Side:     model.SideBuy,
		Amount:   d(50),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var receipt ledger.Receipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if receipt.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
	if !receipt.Shares.Equal(d(100)) {
		t.Errorf("expected 100 shares, got %s", receipt.Shares)
	}
	if !receipt.PriceYes.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected post-trade YES price 1, got %s", receipt.PriceYes)
	}
}

func TestExecuteTrade_SellRoundTrip(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "user1", 100)
	seedMarket(t, ms, "m1", 0, 0)

	doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes,
		Side: model.SideBuy, Amount: d(50),
	})

	w := doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes,
		Side: model.SideSell, Shares: d(50),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var receipt ledger.Receipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if receipt.Side != model.SideSell {
		t.Errorf("expected SELL, got %s", receipt.Side)
	}
	if !receipt.Amount.Equal(d(50)) {
		t.Errorf("expected proceeds 50 at price 1.0, got %s", receipt.Amount)
	}
}

func TestExecuteTrade_Rejections(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "user1", 10)
	seedMarket(t, ms, "m1", 0, 0)

	tests := []struct {
		name string
		req  api.TradeRequest
		want int
	}{
		{"invalid side", api.TradeRequest{UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes, Side: "HOLD", Amount: d(5)}, http.StatusBadRequest},
		{"invalid outcome", api.TradeRequest{UserID: "user1", MarketID: "m1", Outcome: "MAYBE", Side: model.SideBuy, Amount: d(5)}, http.StatusBadRequest},
		{"zero amount", api.TradeRequest{UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes, Side: model.SideBuy, Amount: decimal.Zero}, http.StatusBadRequest},
		{"missing user", api.TradeRequest{UserID: "nobody", MarketID: "m1", Outcome: model.OutcomeYes, Side: model.SideBuy, Amount: d(5)}, http.StatusNotFound},
		{"missing market", api.TradeRequest{UserID: "user1", MarketID: "nope", Outcome: model.OutcomeYes, Side: model.SideBuy, Amount: d(5)}, http.StatusNotFound},
		{"insufficient balance", api.TradeRequest{UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes, Side: model.SideBuy, Amount: d(500)}, http.StatusConflict},
		{"no position to sell", api.TradeRequest{UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes, Side: model.SideSell, Shares: d(5)}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/trades", tt.req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetTradeHistory(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "user1", 100)
	seedMarket(t, ms, "m1", 0, 0)

	doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes,
		Side: model.SideBuy, Amount: d(50),
	})

	w := doJSON(t, router, "GET", "/api/v1/trades/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Status != model.TradeCompleted {
		t.Errorf("expected COMPLETED, got %s", trades[0].Status)
	}
}

// --- Markets ---

func TestGetPrice(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1", 100, 300)

	w := doJSON(t, router, "GET", "/api/v1/markets/m1/price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var prices map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &prices)
	if !prices["yes"].Equal(d(0.25)) {
		t.Errorf("expected yes=0.25, got %s", prices["yes"])
	}
	if !prices["no"].Equal(d(0.75)) {
		t.Errorf("expected no=0.75, got %s", prices["no"])
	}
}

func TestListMarkets_FilterByStatus(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1", 0, 0)
	ms.CreateMarket(context.Background(), &model.Market{ID: "m2", Status: model.MarketResolved})

	w := doJSON(t, router, "GET", "/api/v1/markets?status=TRADING", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 || markets[0].ID != "m1" {
		t.Errorf("expected only m1, got %+v", markets)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/markets/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Portfolio ---

func TestGetPortfolio(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "user1", 100)
	seedMarket(t, ms, "m1", 0, 0)

	doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		UserID: "user1", MarketID: "m1", Outcome: model.OutcomeYes,
		Side: model.SideBuy, Amount: d(50),
	})

	w := doJSON(t, router, "GET", "/api/v1/portfolio/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var portfolio model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &portfolio)
	if len(portfolio.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(portfolio.Positions))
	}
	row := portfolio.Positions[0]
	if !row.YesShares.Equal(d(100)) {
		t.Errorf("expected 100 YES shares, got %s", row.YesShares)
	}
	// 100 shares at price 1.0 plus 50 cash.
	if !portfolio.TotalValue.Equal(d(150)) {
		t.Errorf("expected total value 150, got %s", portfolio.TotalValue)
	}
}

func TestGetPortfolio_UnknownUser(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/portfolio/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Users ---

func TestRegisterUser(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/users", api.RegisterUserRequest{
		WalletAddress: "0xabc",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	if u.WalletAddress != "0xabc" {
		t.Errorf("unexpected wallet: %s", u.WalletAddress)
	}
	if u.ReferralCode == "" {
		t.Error("expected a referral code")
	}

	w = doJSON(t, router, "POST", "/api/v1/users", api.RegisterUserRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty wallet, got %d", w.Code)
	}
}

// --- Faucet ---

func TestFaucetClaimFlow(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "user1", 0)

	w := doJSON(t, router, "POST", "/api/v1/faucet/claim", api.ClaimRequest{UserID: "user1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result faucet.ClaimResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if !result.NewBalance.Equal(d(1000)) {
		t.Errorf("expected balance 1000, got %s", result.NewBalance)
	}

	// Immediate second claim hits the cooldown.
	w = doJSON(t, router, "POST", "/api/v1/faucet/claim", api.ClaimRequest{UserID: "user1"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 during cooldown, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/faucet/status/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status faucet.Status
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Eligible {
		t.Error("should not be eligible right after claiming")
	}
}

func TestFaucetClaim_UnknownUser(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "POST", "/api/v1/faucet/claim", api.ClaimRequest{UserID: "nobody"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Governance ---

func TestGovernanceFlow(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "proposer", 0)

	w := doJSON(t, router, "POST", "/api/v1/governance/proposals", api.ProposalRequest{
		ProposerID:  "proposer",
		Title:       "Will ETH flip BTC this cycle?",
		Description: "Market cap comparison at cycle top.",
		Category:    "crypto",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var proposal model.Proposal
	json.Unmarshal(w.Body.Bytes(), &proposal)

	// Quorum is 10; two votes of weight 6 reach it with YES ahead.
	w = doJSON(t, router, "POST", "/api/v1/governance/proposals/"+proposal.ID+"/votes",
		api.VoteRequest{UserID: "v1", Choice: model.OutcomeYes, Weight: d(6)})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/v1/governance/proposals/"+proposal.ID+"/votes",
		api.VoteRequest{UserID: "v2", Choice: model.OutcomeNo, Weight: d(4)})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	// Duplicate vote conflicts.
	w = doJSON(t, router, "POST", "/api/v1/governance/proposals/"+proposal.ID+"/votes",
		api.VoteRequest{UserID: "v1", Choice: model.OutcomeYes, Weight: d(1)})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate vote, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/governance/proposals/"+proposal.ID+"/finalize", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var market model.Market
	json.Unmarshal(w.Body.Bytes(), &market)
	if market.Status != model.MarketTrading {
		t.Errorf("expected TRADING market, got %s", market.Status)
	}

	// The new market is immediately tradable.
	seedUser(t, ms, "trader", 100)
	w = doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		UserID: "trader", MarketID: market.ID, Outcome: model.OutcomeYes,
		Side: model.SideBuy, Amount: d(10),
	})
	if w.Code != http.StatusOK {
		t.Errorf("trade on approved market failed: %d %s", w.Code, w.Body.String())
	}
}

func TestFinalize_QuorumNotReached(t *testing.T) {
	ms, router := newTestEnv(t)
	seedUser(t, ms, "proposer", 0)

	w := doJSON(t, router, "POST", "/api/v1/governance/proposals", api.ProposalRequest{
		ProposerID:  "proposer",
		Title:       "Will it snow in July here?",
		Description: "Local weather long shot.",
	})
	var proposal model.Proposal
	json.Unmarshal(w.Body.Bytes(), &proposal)

	w = doJSON(t, router, "POST", "/api/v1/governance/proposals/"+proposal.ID+"/finalize", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for missing quorum, got %d: %s", w.Code, w.Body.String())
	}
}
