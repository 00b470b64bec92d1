// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one of the two sides of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Market lifecycle statuses.
const (
	MarketProposed  = "PROPOSED"
	MarketTrading   = "TRADING"
	MarketResolving = "RESOLVING"
	MarketResolved  = "RESOLVED"
)

// Trade statuses. A trade is recorded PENDING before any balance or
// position mutation and flipped to COMPLETED or FAILED afterwards.
const (
	TradePending   = "PENDING"
	TradeCompleted = "COMPLETED"
	TradeFailed    = "FAILED"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Proposal statuses.
const (
	ProposalPending  = "PENDING"
	ProposalApproved = "APPROVED"
	ProposalRejected = "REJECTED"
)

// Market represents the state of one binary prediction market.
// Outcome prices are derived from the share totals, not stored:
// priceYes = totalYes / (totalYes + totalNo), 0.5 when both are zero.
type Market struct {
	ID                string          `json:"id" db:"id"`
	Title             string          `json:"title" db:"title"`
	Description       string          `json:"description" db:"description"`
	Category          string          `json:"category" db:"category"`
	Status            string          `json:"status" db:"status"`
	ResolutionOutcome string          `json:"resolution_outcome,omitempty" db:"resolution_outcome"`
	TotalYesShares    decimal.Decimal `json:"total_yes_shares" db:"total_yes_shares"`
	TotalNoShares     decimal.Decimal `json:"total_no_shares" db:"total_no_shares"`
	Version           int64           `json:"version" db:"version"`
	ResolutionDate    time.Time       `json:"resolution_date" db:"resolution_date"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Total returns the outstanding shares for the given outcome.
func (m *Market) Total(outcome Outcome) decimal.Decimal {
	if outcome == OutcomeYes {
		return m.TotalYesShares
	}
	return m.TotalNoShares
}

// Position represents a trader's holdings in one market.
// A position with zero shares on both sides is pruned from the store.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	YesShares decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares  decimal.Decimal `json:"no_shares" db:"no_shares"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Shares returns the held share count for the given outcome.
func (p *Position) Shares(outcome Outcome) decimal.Decimal {
	if outcome == OutcomeYes {
		return p.YesShares
	}
	return p.NoShares
}

// IsFlat reports whether both share counts are zero.
func (p *Position) IsFlat() bool {
	return p.YesShares.IsZero() && p.NoShares.IsZero()
}

// User is a wallet-keyed demo account with an off-chain USDC balance.
type User struct {
	ID            string          `json:"id" db:"id"`
	WalletAddress string          `json:"wallet_address" db:"wallet_address"`
	USDCBalance   decimal.Decimal `json:"usdc_balance" db:"usdc_balance"`
	ReferralCode  string          `json:"referral_code" db:"referral_code"`
	ReferredBy    string          `json:"referred_by,omitempty" db:"referred_by"`
	LastClaimAt   *time.Time      `json:"last_claim_at,omitempty" db:"last_claim_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Trade is the audit record of a buy or sell. Amount is the USDC leg,
// Shares the share leg, Price the executed per-share price.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Outcome   Outcome         `json:"outcome" db:"outcome"`
	Side      string          `json:"side" db:"side"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Proposal is a community-suggested market awaiting governance approval.
type Proposal struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Category    string          `json:"category" db:"category"`
	ProposerID  string          `json:"proposer_id" db:"proposer_id"`
	Status      string          `json:"status" db:"status"`
	YesVotes    decimal.Decimal `json:"yes_votes" db:"yes_votes"`
	NoVotes     decimal.Decimal `json:"no_votes" db:"no_votes"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Vote is one user's weighted vote on a proposal. One vote per user
// per proposal.
type Vote struct {
	ProposalID string          `json:"proposal_id" db:"proposal_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Choice     Outcome         `json:"choice" db:"choice"`
	Weight     decimal.Decimal `json:"weight" db:"weight"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Portfolio aggregates a user's balance and marked-to-market positions.
type Portfolio struct {
	UserID      string          `json:"user_id"`
	USDCBalance decimal.Decimal `json:"usdc_balance"`
	Positions   []PortfolioRow  `json:"positions"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// PortfolioRow is one position valued at current outcome prices.
type PortfolioRow struct {
	MarketID    string          `json:"market_id"`
	MarketTitle string          `json:"market_title"`
	YesShares   decimal.Decimal `json:"yes_shares"`
	NoShares    decimal.Decimal `json:"no_shares"`
	PriceYes    decimal.Decimal `json:"price_yes"`
	PriceNo     decimal.Decimal `json:"price_no"`
	Value       decimal.Decimal `json:"value"`
}
