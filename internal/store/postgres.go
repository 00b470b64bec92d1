package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	var referredBy *string
	if u.ReferredBy != "" {
		referredBy = &u.ReferredBy
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, wallet_address, usdc_balance, referral_code, referred_by, last_claim_at, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)`,
		u.ID, u.WalletAddress, u.USDCBalance.String(), u.ReferralCode,
		referredBy, u.LastClaimAt, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const userColumns = `id, wallet_address, usdc_balance::TEXT, referral_code, referred_by, last_claim_at, created_at`

func (s *PostgresStore) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var balance string
	var referredBy *string

	err := row.Scan(&u.ID, &u.WalletAddress, &balance, &u.ReferralCode,
		&referredBy, &u.LastClaimAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.USDCBalance, _ = decimal.NewFromString(balance)
	if referredBy != nil {
		u.ReferredBy = *referredBy
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByWallet(ctx context.Context, walletAddress string) (*model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, walletAddress))
}

func (s *PostgresStore) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}

func (s *PostgresStore) CountReferrals(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE referred_by = $1`, userID).Scan(&count)
	return count, err
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var newBalance string
	err := s.pool.QueryRow(ctx,
		`UPDATE users
		 SET usdc_balance = ROUND(usdc_balance + $2::NUMERIC, 2)
		 WHERE id = $1
		 RETURNING usdc_balance::TEXT`,
		userID, amount.String()).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit balance for %s: %w", userID, err)
	}
	b, _ := decimal.NewFromString(newBalance)
	return b, nil
}

// DebitBalance is a single conditional UPDATE so a balance can never go
// negative even under concurrent debits across multiple instances.
func (s *PostgresStore) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var newBalance string
	err := s.pool.QueryRow(ctx,
		`UPDATE users
		 SET usdc_balance = ROUND(usdc_balance - $2::NUMERIC, 2)
		 WHERE id = $1 AND usdc_balance >= $2::NUMERIC
		 RETURNING usdc_balance::TEXT`,
		userID, amount.String()).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is missing or the balance was too low.
		if _, gerr := s.GetUser(ctx, userID); gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit balance for %s: %w", userID, err)
	}
	b, _ := decimal.NewFromString(newBalance)
	return b, nil
}

func (s *PostgresStore) SetLastClaim(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_claim_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, description, category, status, resolution_outcome,
		                      total_yes_shares, total_no_shares, version, resolution_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		m.ID, m.Title, m.Description, m.Category, m.Status, m.ResolutionOutcome,
		m.TotalYesShares.String(), m.TotalNoShares.String(), m.Version,
		m.ResolutionDate, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const marketColumns = `id, title, description, category, status, COALESCE(resolution_outcome, ''),
		total_yes_shares::TEXT, total_no_shares::TEXT, version, resolution_date, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var totalYes, totalNo string

	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Status,
		&m.ResolutionOutcome, &totalYes, &totalNo, &m.Version,
		&m.ResolutionDate, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.TotalYesShares, _ = decimal.NewFromString(totalYes)
	m.TotalNoShares, _ = decimal.NewFromString(totalNo)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
}

func (s *PostgresStore) ListMarkets(ctx context.Context, status string) ([]model.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY resolution_date ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// ApplyMarketDelta adjusts one outcome total in a single conditional UPDATE,
// so concurrent trades against the same market cannot lose updates.
func (s *PostgresStore) ApplyMarketDelta(ctx context.Context, marketID string, outcome model.Outcome, delta decimal.Decimal) error {
	column := "total_no_shares"
	if outcome == model.OutcomeYes {
		column = "total_yes_shares"
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET `+column+` = ROUND(`+column+` + $2::NUMERIC, 6), version = version + 1
		 WHERE id = $1 AND `+column+` + $2::NUMERIC >= 0`,
		marketID, delta.String())
	if err != nil {
		return fmt.Errorf("apply delta to market %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetMarket(ctx, marketID); gerr != nil {
			return gerr
		}
		return ErrNegativeTotal
	}
	return nil
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	var p model.Position
	var yes, no string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, market_id, yes_shares::TEXT, no_shares::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID).
		Scan(&p.UserID, &p.MarketID, &yes, &no, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.YesShares, _ = decimal.NewFromString(yes)
	p.NoShares, _ = decimal.NewFromString(no)
	return &p, nil
}

func (s *PostgresStore) GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, yes_shares::TEXT, no_shares::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var yes, no string
		if err := rows.Scan(&p.UserID, &p.MarketID, &yes, &no, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.YesShares, _ = decimal.NewFromString(yes)
		p.NoShares, _ = decimal.NewFromString(no)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, yes_shares, no_shares, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, market_id)
		 DO UPDATE SET yes_shares = EXCLUDED.yes_shares,
		               no_shares = EXCLUDED.no_shares,
		               updated_at = EXCLUDED.updated_at`,
		p.UserID, p.MarketID, p.YesShares.String(), p.NoShares.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, userID, marketID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID)
	return err
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, market_id, outcome, side, amount, shares, price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		t.ID, t.UserID, t.MarketID, string(t.Outcome), t.Side,
		t.Amount.String(), t.Shares.String(), t.Price.String(),
		t.Status, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateTradeStatus(ctx context.Context, tradeID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET status = $2 WHERE id = $1`, tradeID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, outcome, side,
		        amount::TEXT, shares::TEXT, price::TEXT, status, created_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var outcome, amount, shares, price string

		if err := rows.Scan(&t.ID, &t.UserID, &t.MarketID, &outcome, &t.Side,
			&amount, &shares, &price, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Outcome = model.Outcome(outcome)
		t.Amount, _ = decimal.NewFromString(amount)
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Governance ---

func (s *PostgresStore) CreateProposal(ctx context.Context, p *model.Proposal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO proposals (id, title, description, category, proposer_id, status, yes_votes, no_votes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		p.ID, p.Title, p.Description, p.Category, p.ProposerID, p.Status,
		p.YesVotes.String(), p.NoVotes.String(), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const proposalColumns = `id, title, description, category, proposer_id, status,
		yes_votes::TEXT, no_votes::TEXT, created_at`

func scanProposal(row pgx.Row) (*model.Proposal, error) {
	var p model.Proposal
	var yes, no string

	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.ProposerID,
		&p.Status, &yes, &no, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.YesVotes, _ = decimal.NewFromString(yes)
	p.NoVotes, _ = decimal.NewFromString(no)
	return &p, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return scanProposal(s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
}

func (s *PostgresStore) ListProposals(ctx context.Context, status string) ([]model.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, rows.Err()
}

// RecordVote inserts the vote and bumps the proposal tally in one
// transaction; the unique (proposal_id, user_id) index rejects double votes.
func (s *PostgresStore) RecordVote(ctx context.Context, v *model.Vote) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO votes (proposal_id, user_id, choice, weight, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		v.ProposalID, v.UserID, string(v.Choice), v.Weight.String(), v.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateVote
	}
	if err != nil {
		return err
	}

	column := "no_votes"
	if v.Choice == model.OutcomeYes {
		column = "yes_votes"
	}
	tag, err := tx.Exec(ctx,
		`UPDATE proposals SET `+column+` = `+column+` + $2::NUMERIC WHERE id = $1`,
		v.ProposalID, v.Weight.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
