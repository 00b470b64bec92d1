package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
	"github.com/lfgmarkets/trade-engine/internal/pricing"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	markets   map[string]*model.Market
	positions map[string]*model.Position // key: userID + "/" + marketID
	trades    []model.Trade
	proposals map[string]*model.Proposal
	votes     map[string]*model.Vote // key: proposalID + "/" + userID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		markets:   make(map[string]*model.Market),
		positions: make(map[string]*model.Position),
		proposals: make(map[string]*model.Proposal),
		votes:     make(map[string]*model.Vote),
	}
}

func positionKey(userID, marketID string) string { return userID + "/" + marketID }
func voteKey(proposalID, userID string) string   { return proposalID + "/" + userID }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.WalletAddress == u.WalletAddress || existing.ReferralCode == u.ReferralCode {
			return ErrDuplicate
		}
	}

	// Store a copy to avoid external mutation.
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByWallet(_ context.Context, walletAddress string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.WalletAddress == walletAddress {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByReferralCode(_ context.Context, code string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CountReferrals(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.users {
		if u.ReferredBy == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	u.USDCBalance = pricing.RoundCurrency(u.USDCBalance.Add(amount))
	return u.USDCBalance, nil
}

func (s *MemoryStore) DebitBalance(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if u.USDCBalance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	u.USDCBalance = pricing.RoundCurrency(u.USDCBalance.Sub(amount))
	return u.USDCBalance, nil
}

func (s *MemoryStore) SetLastClaim(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastClaimAt = &t
	return nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return ErrDuplicate
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, status string) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if status != "" && m.Status != status {
			continue
		}
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) ApplyMarketDelta(_ context.Context, marketID string, outcome model.Outcome, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return ErrNotFound
	}

	if outcome == model.OutcomeYes {
		next := pricing.RoundShares(m.TotalYesShares.Add(delta))
		if next.IsNegative() {
			return ErrNegativeTotal
		}
		m.TotalYesShares = next
	} else {
		next := pricing.RoundShares(m.TotalNoShares.Add(delta))
		if next.IsNegative() {
			return ErrNegativeTotal
		}
		m.TotalNoShares = next
	}
	m.Version++
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(userID, marketID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.positions[positionKey(p.UserID, p.MarketID)] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, userID, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, positionKey(userID, marketID))
	return nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) UpdateTradeStatus(_ context.Context, tradeID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.trades {
		if s.trades[i].ID == tradeID {
			s.trades[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	// Newest first.
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].UserID == userID {
			result = append(result, s.trades[i])
		}
	}
	return result, nil
}

// --- Governance ---

func (s *MemoryStore) CreateProposal(_ context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[p.ID]; ok {
		return ErrDuplicate
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id string) (*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProposals(_ context.Context, status string) ([]model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proposals := make([]model.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if status != "" && p.Status != status {
			continue
		}
		proposals = append(proposals, *p)
	}
	return proposals, nil
}

func (s *MemoryStore) RecordVote(_ context.Context, v *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[v.ProposalID]
	if !ok {
		return ErrNotFound
	}
	key := voteKey(v.ProposalID, v.UserID)
	if _, ok := s.votes[key]; ok {
		return ErrDuplicateVote
	}

	cp := *v
	s.votes[key] = &cp
	if v.Choice == model.OutcomeYes {
		p.YesVotes = p.YesVotes.Add(v.Weight)
	} else {
		p.NoVotes = p.NoVotes.Add(v.Weight)
	}
	return nil
}

func (s *MemoryStore) UpdateProposalStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}
