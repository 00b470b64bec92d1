// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("store: already exists")

	// ErrInsufficientFunds is returned by DebitBalance when the user's
	// balance cannot cover the amount. The debit is conditional so a
	// balance can never go negative, even across concurrent callers.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrNegativeTotal is returned by ApplyMarketDelta when the delta
	// would push an outcome total below zero.
	ErrNegativeTotal = errors.New("store: market total cannot go negative")

	// ErrDuplicateVote is returned when a user votes twice on a proposal.
	ErrDuplicateVote = errors.New("store: user already voted on proposal")
)

// Store is the persistence interface. Every mutating method must be atomic:
// ApplyMarketDelta and DebitBalance in particular are single conditional
// read-modify-write operations, so concurrent trades cannot lose updates.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByWallet retrieves a user by wallet address.
	GetUserByWallet(ctx context.Context, walletAddress string) (*model.User, error)

	// GetUserByReferralCode retrieves a user by referral code.
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)

	// CountReferrals returns how many users were referred by the given user.
	CountReferrals(ctx context.Context, userID string) (int, error)

	// CreditBalance adds amount to the user's balance and returns the new
	// balance, rounded per the currency policy.
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	// DebitBalance subtracts amount from the user's balance, failing with
	// ErrInsufficientFunds when the balance cannot cover it. Returns the
	// new balance.
	DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	// SetLastClaim records the user's most recent faucet claim time.
	SetLastClaim(ctx context.Context, userID string, at time.Time) error

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets, filtered by status when non-empty.
	ListMarkets(ctx context.Context, status string) ([]model.Market, error)

	// ApplyMarketDelta adjusts one outcome's share total atomically,
	// bumping the market's version. Fails with ErrNegativeTotal when the
	// delta would push the total below zero.
	ApplyMarketDelta(ctx context.Context, marketID string, outcome model.Outcome, delta decimal.Decimal) error

	// --- Positions ---

	// GetPosition retrieves the (user, market) position, ErrNotFound when
	// the user holds no position in the market.
	GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error)

	// GetPositionsByUser returns all of a user's open positions.
	GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// UpsertPosition creates or replaces the (user, market) position.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes the (user, market) position.
	DeletePosition(ctx context.Context, userID, marketID string) error

	// --- Trades (audit trail) ---

	// InsertTrade appends a trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// UpdateTradeStatus transitions a trade to COMPLETED or FAILED.
	UpdateTradeStatus(ctx context.Context, tradeID, status string) error

	// GetTradesByUser returns a user's trades, newest first.
	GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Governance ---

	// CreateProposal persists a new market proposal.
	CreateProposal(ctx context.Context, p *model.Proposal) error

	// GetProposal retrieves a proposal by id.
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)

	// ListProposals returns proposals, filtered by status when non-empty.
	ListProposals(ctx context.Context, status string) ([]model.Proposal, error)

	// RecordVote stores a vote and adds its weight to the proposal tally
	// in one atomic step. Fails with ErrDuplicateVote on a second vote by
	// the same user.
	RecordVote(ctx context.Context, v *model.Vote) error

	// UpdateProposalStatus transitions a proposal to APPROVED or REJECTED.
	UpdateProposalStatus(ctx context.Context, id, status string) error
}
