// Package ledger executes buy and sell operations against the share-ratio
// pricing model, keeping market totals, user positions, and user balances
// mutually consistent.
//
// Every operation checks all preconditions before mutating anything. Effects
// are applied stepwise against the store; if a later step fails, the already
// applied deltas are compensated with their exact inverse, so a call either
// completes fully or leaves no state change behind. The ledger never retries
// backend calls — retry policy belongs to the caller.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
	"github.com/lfgmarkets/trade-engine/internal/pricing"
	"github.com/lfgmarkets/trade-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned when an amount or share count is not
	// strictly positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidOutcome is returned when the outcome is not YES or NO.
	ErrInvalidOutcome = errors.New("ledger: outcome must be YES or NO")

	// ErrInsufficientBalance is returned when a buy exceeds the user's balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientShares is returned when a sell exceeds the held shares.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrNoPosition is returned when selling in a market the user holds no
	// position in.
	ErrNoPosition = errors.New("ledger: no position in market")

	// ErrMarketNotFound is returned when the market does not exist.
	ErrMarketNotFound = errors.New("ledger: market not found")

	// ErrUserNotFound is returned when the user does not exist.
	ErrUserNotFound = errors.New("ledger: user not found")

	// ErrMarketNotOpen is returned when the market is not in TRADING status.
	ErrMarketNotOpen = errors.New("ledger: market is not open for trading")

	// ErrBackendUnavailable wraps any store failure. When returned, all
	// partially applied effects have been compensated.
	ErrBackendUnavailable = errors.New("ledger: backend unavailable")
)

// Receipt describes an executed trade. Prices are the post-trade quotes so
// callers can push them straight to subscribers.
type Receipt struct {
	TradeID    string          `json:"trade_id"`
	UserID     string          `json:"user_id"`
	MarketID   string          `json:"market_id"`
	Outcome    model.Outcome   `json:"outcome"`
	Side       string          `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	PriceYes   decimal.Decimal `json:"price_yes"`
	PriceNo    decimal.Decimal `json:"price_no"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Ledger executes trades against a Store. A per-market mutex serializes the
// read-modify-write cycle in-process; the store layer applies market deltas
// and balance debits as single conditional updates, so deployments with
// multiple instances cannot lose updates either.
type Ledger struct {
	store store.Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
}

// lockMarket acquires the mutex for one market, creating it on first use.
func (l *Ledger) lockMarket(marketID string) func() {
	l.mu.Lock()
	m, ok := l.locks[marketID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[marketID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
}

// Quote returns the current price of an outcome. Read-only.
func (l *Ledger) Quote(ctx context.Context, marketID string, outcome model.Outcome) (decimal.Decimal, error) {
	if !outcome.Valid() {
		return decimal.Zero, ErrInvalidOutcome
	}
	market, err := l.getMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	return pricing.ForOutcome(outcome, market.TotalYesShares, market.TotalNoShares), nil
}

// Buy converts a USDC amount into outcome shares at the current quoted
// price: shares = amount / price. Debits the balance, credits the position
// (creating it on first buy), and adds the shares to the market total.
func (l *Ledger) Buy(ctx context.Context, userID, marketID string, outcome model.Outcome, amount decimal.Decimal) (*Receipt, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	amount = pricing.RoundCurrency(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := l.lockMarket(marketID)
	defer unlock()

	user, err := l.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	market, err := l.getMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.MarketTrading {
		return nil, ErrMarketNotOpen
	}
	if user.USDCBalance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	price := pricing.ForOutcome(outcome, market.TotalYesShares, market.TotalNoShares)
	shares, err := pricing.SharesFor(amount, price)
	if err != nil {
		return nil, err
	}

	trade := l.recordTrade(ctx, userID, marketID, outcome, model.SideBuy, amount, shares, price)

	// --- Effects. Each failure below compensates everything applied so far. ---

	newBalance, err := l.store.DebitBalance(ctx, userID, amount)
	if err != nil {
		l.failTrade(ctx, trade)
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			// Lost a race against a concurrent debit of the same balance.
			return nil, ErrInsufficientBalance
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrUserNotFound
		default:
			return nil, backendErr("debit balance", err)
		}
	}

	if err := l.store.ApplyMarketDelta(ctx, marketID, outcome, shares); err != nil {
		l.compensate(ctx, trade, func() error {
			_, cerr := l.store.CreditBalance(ctx, userID, amount)
			return cerr
		})
		return nil, backendErr("apply market delta", err)
	}

	position, err := l.store.GetPosition(ctx, userID, marketID)
	if errors.Is(err, store.ErrNotFound) {
		position = &model.Position{UserID: userID, MarketID: marketID}
		err = nil
	}
	if err == nil {
		if outcome == model.OutcomeYes {
			position.YesShares = pricing.RoundShares(position.YesShares.Add(shares))
		} else {
			position.NoShares = pricing.RoundShares(position.NoShares.Add(shares))
		}
		position.UpdatedAt = l.now()
		err = l.store.UpsertPosition(ctx, position)
	}
	if err != nil {
		l.compensate(ctx, trade, func() error {
			if derr := l.store.ApplyMarketDelta(ctx, marketID, outcome, shares.Neg()); derr != nil {
				return derr
			}
			_, cerr := l.store.CreditBalance(ctx, userID, amount)
			return cerr
		})
		return nil, backendErr("update position", err)
	}

	l.completeTrade(ctx, trade)

	newYes, newNo := nextTotals(market, outcome, shares)
	receipt := &Receipt{
		TradeID:    trade.ID,
		UserID:     userID,
		MarketID:   marketID,
		Outcome:    outcome,
		Side:       model.SideBuy,
		Amount:     amount,
		Shares:     shares,
		Price:      price,
		PriceYes:   pricing.Yes(newYes, newNo),
		PriceNo:    pricing.No(newYes, newNo),
		NewBalance: newBalance,
	}

	slog.Info("buy executed",
		"trade_id", trade.ID,
		"user", userID,
		"market", marketID,
		"outcome", outcome,
		"amount", amount.String(),
		"shares", shares.String(),
		"price", price.String(),
	)
	return receipt, nil
}

// Sell converts held shares back into USDC at the price quoted from the
// pre-sell totals: proceeds = shares * price. Debits the position (pruning
// it when both sides reach zero), subtracts the shares from the market
// total, and credits the balance.
func (l *Ledger) Sell(ctx context.Context, userID, marketID string, outcome model.Outcome, shares decimal.Decimal) (*Receipt, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	shares = pricing.RoundShares(shares)
	if !shares.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := l.lockMarket(marketID)
	defer unlock()

	if _, err := l.getUser(ctx, userID); err != nil {
		return nil, err
	}
	market, err := l.getMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.MarketTrading {
		return nil, ErrMarketNotOpen
	}

	position, err := l.store.GetPosition(ctx, userID, marketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPosition
	}
	if err != nil {
		return nil, backendErr("get position", err)
	}
	if position.Shares(outcome).LessThan(shares) {
		return nil, ErrInsufficientShares
	}

	price := pricing.ForOutcome(outcome, market.TotalYesShares, market.TotalNoShares)
	proceeds := pricing.ProceedsFor(shares, price)

	trade := l.recordTrade(ctx, userID, marketID, outcome, model.SideSell, proceeds, shares, price)

	// --- Effects. Each failure below compensates everything applied so far. ---

	before := *position
	if outcome == model.OutcomeYes {
		position.YesShares = pricing.RoundShares(position.YesShares.Sub(shares))
	} else {
		position.NoShares = pricing.RoundShares(position.NoShares.Sub(shares))
	}
	position.UpdatedAt = l.now()

	if position.IsFlat() {
		err = l.store.DeletePosition(ctx, userID, marketID)
	} else {
		err = l.store.UpsertPosition(ctx, position)
	}
	if err != nil {
		l.failTrade(ctx, trade)
		return nil, backendErr("update position", err)
	}

	if err := l.store.ApplyMarketDelta(ctx, marketID, outcome, shares.Neg()); err != nil {
		l.compensate(ctx, trade, func() error {
			return l.store.UpsertPosition(ctx, &before)
		})
		return nil, backendErr("apply market delta", err)
	}

	newBalance, err := l.store.CreditBalance(ctx, userID, proceeds)
	if err != nil {
		l.compensate(ctx, trade, func() error {
			if derr := l.store.ApplyMarketDelta(ctx, marketID, outcome, shares); derr != nil {
				return derr
			}
			return l.store.UpsertPosition(ctx, &before)
		})
		return nil, backendErr("credit balance", err)
	}

	l.completeTrade(ctx, trade)

	newYes, newNo := nextTotals(market, outcome, shares.Neg())
	receipt := &Receipt{
		TradeID:    trade.ID,
		UserID:     userID,
		MarketID:   marketID,
		Outcome:    outcome,
		Side:       model.SideSell,
		Amount:     proceeds,
		Shares:     shares,
		Price:      price,
		PriceYes:   pricing.Yes(newYes, newNo),
		PriceNo:    pricing.No(newYes, newNo),
		NewBalance: newBalance,
	}

	slog.Info("sell executed",
		"trade_id", trade.ID,
		"user", userID,
		"market", marketID,
		"outcome", outcome,
		"proceeds", proceeds.String(),
		"shares", shares.String(),
		"price", price.String(),
	)
	return receipt, nil
}

// --- Lookups with error mapping ---

func (l *Ledger) getUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, backendErr("get user", err)
	}
	return user, nil
}

func (l *Ledger) getMarket(ctx context.Context, marketID string) (*model.Market, error) {
	market, err := l.store.GetMarket(ctx, marketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, backendErr("get market", err)
	}
	return market, nil
}

// --- Trade audit sink ---
//
// The audit trail is best-effort: the trade result does not depend on the
// sink succeeding. Failures are logged and never fail the operation.

func (l *Ledger) recordTrade(ctx context.Context, userID, marketID string, outcome model.Outcome, side string, amount, shares, price decimal.Decimal) *model.Trade {
	trade := &model.Trade{
		ID:        uuid.New().String(),
		UserID:    userID,
		MarketID:  marketID,
		Outcome:   outcome,
		Side:      side,
		Amount:    amount,
		Shares:    shares,
		Price:     price,
		Status:    model.TradePending,
		CreatedAt: l.now(),
	}
	if err := l.store.InsertTrade(ctx, trade); err != nil {
		slog.Error("trade sink insert failed", "trade_id", trade.ID, "err", err)
	}
	return trade
}

func (l *Ledger) completeTrade(ctx context.Context, trade *model.Trade) {
	if err := l.store.UpdateTradeStatus(ctx, trade.ID, model.TradeCompleted); err != nil {
		slog.Error("trade sink update failed", "trade_id", trade.ID, "err", err)
	}
}

func (l *Ledger) failTrade(ctx context.Context, trade *model.Trade) {
	if err := l.store.UpdateTradeStatus(ctx, trade.ID, model.TradeFailed); err != nil {
		slog.Error("trade sink update failed", "trade_id", trade.ID, "err", err)
	}
}

// compensate runs the inverse of already-applied deltas and marks the trade
// FAILED. A failed compensation leaves inconsistent state behind and is
// loudly logged — it means the backend broke mid-rollback.
func (l *Ledger) compensate(ctx context.Context, trade *model.Trade, undo func() error) {
	if err := undo(); err != nil {
		slog.Error("compensation failed, state may be inconsistent",
			"trade_id", trade.ID, "err", err)
	}
	l.failTrade(ctx, trade)
}

func nextTotals(m *model.Market, outcome model.Outcome, delta decimal.Decimal) (yes, no decimal.Decimal) {
	yes, no = m.TotalYesShares, m.TotalNoShares
	if outcome == model.OutcomeYes {
		yes = pricing.RoundShares(yes.Add(delta))
	} else {
		no = pricing.RoundShares(no.Add(delta))
	}
	return yes, no
}
