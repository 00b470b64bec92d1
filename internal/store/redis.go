package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: markets and positions. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func marketCacheKey(id string) string { return fmt.Sprintf("market:%s", id) }
func positionCacheKey(userID, marketID string) string {
	return fmt.Sprintf("position:%s:%s", userID, marketID)
}

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketCacheKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionCacheKey(userID, marketID)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionCacheKey(userID, marketID), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	return s.primary.GetPositionsByUser(ctx, userID)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) ApplyMarketDelta(ctx context.Context, marketID string, outcome model.Outcome, delta decimal.Decimal) error {
	if err := s.primary.ApplyMarketDelta(ctx, marketID, outcome, delta); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the post-trade totals.
	s.rdb.Del(ctx, marketCacheKey(marketID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionCacheKey(p.UserID, p.MarketID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, userID, marketID string) error {
	if err := s.primary.DeletePosition(ctx, userID, marketID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionCacheKey(userID, marketID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByWallet(ctx context.Context, walletAddress string) (*model.User, error) {
	return s.primary.GetUserByWallet(ctx, walletAddress)
}

func (s *CachedStore) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return s.primary.GetUserByReferralCode(ctx, code)
}

func (s *CachedStore) CountReferrals(ctx context.Context, userID string) (int, error) {
	return s.primary.CountReferrals(ctx, userID)
}

func (s *CachedStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.CreditBalance(ctx, userID, amount)
}

func (s *CachedStore) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.DebitBalance(ctx, userID, amount)
}

func (s *CachedStore) SetLastClaim(ctx context.Context, userID string, at time.Time) error {
	return s.primary.SetLastClaim(ctx, userID, at)
}

func (s *CachedStore) ListMarkets(ctx context.Context, status string) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, status)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) UpdateTradeStatus(ctx context.Context, tradeID, status string) error {
	return s.primary.UpdateTradeStatus(ctx, tradeID, status)
}

func (s *CachedStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.GetTradesByUser(ctx, userID)
}

func (s *CachedStore) CreateProposal(ctx context.Context, p *model.Proposal) error {
	return s.primary.CreateProposal(ctx, p)
}

func (s *CachedStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return s.primary.GetProposal(ctx, id)
}

func (s *CachedStore) ListProposals(ctx context.Context, status string) ([]model.Proposal, error) {
	return s.primary.ListProposals(ctx, status)
}

func (s *CachedStore) RecordVote(ctx context.Context, v *model.Vote) error {
	return s.primary.RecordVote(ctx, v)
}

func (s *CachedStore) UpdateProposalStatus(ctx context.Context, id, status string) error {
	return s.primary.UpdateProposalStatus(ctx, id, status)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketCacheKey(m.ID), data, s.ttl)
	}
}
