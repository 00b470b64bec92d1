// Package governance manages market proposals and weighted YES/NO voting.
// An approved proposal becomes a live TRADING market with empty share pools.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
	"github.com/lfgmarkets/trade-engine/internal/store"
)

var (
	// ErrInvalidTitle is returned when the proposal title is too short or
	// too long.
	ErrInvalidTitle = errors.New("governance: title must be 8-120 characters")

	// ErrInvalidDescription is returned when the description is empty.
	ErrInvalidDescription = errors.New("governance: description is required")

	// ErrInvalidChoice is returned when the vote choice is not YES or NO.
	ErrInvalidChoice = errors.New("governance: choice must be YES or NO")

	// ErrInvalidWeight is returned when the vote weight is negative.
	ErrInvalidWeight = errors.New("governance: weight must not be negative")

	// ErrAlreadyVoted is returned on a second vote by the same user.
	ErrAlreadyVoted = errors.New("governance: already voted on this proposal")

	// ErrProposalNotFound is returned when the proposal does not exist.
	ErrProposalNotFound = errors.New("governance: proposal not found")

	// ErrProposalClosed is returned when voting on or finalizing a
	// proposal that is no longer pending.
	ErrProposalClosed = errors.New("governance: proposal is not pending")

	// ErrQuorumNotReached is returned by Finalize when too few votes were
	// cast to decide the proposal.
	ErrQuorumNotReached = errors.New("governance: quorum not reached")
)

const (
	minTitleLen = 8
	maxTitleLen = 120

	// defaultResolutionWindow is how far in the future an approved
	// market's resolution date is set.
	defaultResolutionWindow = 30 * 24 * time.Hour
)

// Service runs the proposal lifecycle: propose, vote, finalize.
type Service struct {
	store  store.Store
	quorum decimal.Decimal
	now    func() time.Time
}

// NewService creates a governance service. Quorum is the minimum total vote
// weight required to decide a proposal.
func NewService(st store.Store, quorum decimal.Decimal) *Service {
	return &Service{
		store:  st,
		quorum: quorum,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Propose creates a PENDING proposal.
func (s *Service) Propose(ctx context.Context, proposerID, title, description, category string) (*model.Proposal, error) {
	title = strings.TrimSpace(title)
	if len(title) < minTitleLen || len(title) > maxTitleLen {
		return nil, ErrInvalidTitle
	}
	if strings.TrimSpace(description) == "" {
		return nil, ErrInvalidDescription
	}

	if _, err := s.store.GetUser(ctx, proposerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("governance: proposer: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("governance: get proposer: %w", err)
	}

	proposal := &model.Proposal{
		ID:          uuid.New().String(),
		Title:       title,
		Description: strings.TrimSpace(description),
		Category:    category,
		ProposerID:  proposerID,
		Status:      model.ProposalPending,
		YesVotes:    decimal.Zero,
		NoVotes:     decimal.Zero,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("governance: create proposal: %w", err)
	}

	slog.Info("market proposed", "proposal", proposal.ID, "proposer", proposerID, "title", title)
	return proposal, nil
}

// CastVote records a weighted vote. A zero weight counts as 1 (the base
// voting power of any account).
func (s *Service) CastVote(ctx context.Context, proposalID, userID string, choice model.Outcome, weight decimal.Decimal) error {
	if !choice.Valid() {
		return ErrInvalidChoice
	}
	if weight.IsNegative() {
		return ErrInvalidWeight
	}
	if weight.IsZero() {
		weight = decimal.NewFromInt(1)
	}

	proposal, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != model.ProposalPending {
		return ErrProposalClosed
	}

	vote := &model.Vote{
		ProposalID: proposalID,
		UserID:     userID,
		Choice:     choice,
		Weight:     weight,
		CreatedAt:  s.now(),
	}
	err = s.store.RecordVote(ctx, vote)
	switch {
	case errors.Is(err, store.ErrDuplicateVote):
		return ErrAlreadyVoted
	case errors.Is(err, store.ErrNotFound):
		return ErrProposalNotFound
	case err != nil:
		return fmt.Errorf("governance: record vote: %w", err)
	}

	slog.Info("vote cast", "proposal", proposalID, "user", userID,
		"choice", choice, "weight", weight.String())
	return nil
}

// Finalize tallies a pending proposal. With quorum reached, yes > no
// approves the proposal and opens a TRADING market for it; otherwise the
// proposal is rejected.
func (s *Service) Finalize(ctx context.Context, proposalID string) (*model.Market, error) {
	proposal, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != model.ProposalPending {
		return nil, ErrProposalClosed
	}
	if proposal.YesVotes.Add(proposal.NoVotes).LessThan(s.quorum) {
		return nil, ErrQuorumNotReached
	}

	if proposal.YesVotes.LessThanOrEqual(proposal.NoVotes) {
		if err := s.store.UpdateProposalStatus(ctx, proposalID, model.ProposalRejected); err != nil {
			return nil, fmt.Errorf("governance: reject proposal: %w", err)
		}
		slog.Info("proposal rejected", "proposal", proposalID,
			"yes", proposal.YesVotes.String(), "no", proposal.NoVotes.String())
		return nil, nil
	}

	now := s.now()
	market := &model.Market{
		ID:             uuid.New().String(),
		Title:          proposal.Title,
		Description:    proposal.Description,
		Category:       proposal.Category,
		Status:         model.MarketTrading,
		TotalYesShares: decimal.Zero,
		TotalNoShares:  decimal.Zero,
		ResolutionDate: now.Add(defaultResolutionWindow),
		CreatedAt:      now,
	}
	if err := s.store.CreateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("governance: create market: %w", err)
	}
	if err := s.store.UpdateProposalStatus(ctx, proposalID, model.ProposalApproved); err != nil {
		// The market exists but the proposal still reads PENDING; a later
		// Finalize would mint a duplicate market. Surface loudly.
		slog.Error("proposal status update failed after market creation",
			"proposal", proposalID, "market", market.ID, "err", err)
		return nil, fmt.Errorf("governance: approve proposal: %w", err)
	}

	slog.Info("proposal approved", "proposal", proposalID, "market", market.ID,
		"yes", proposal.YesVotes.String(), "no", proposal.NoVotes.String())
	return market, nil
}

// ListPending returns proposals still open for voting.
func (s *Service) ListPending(ctx context.Context) ([]model.Proposal, error) {
	return s.store.ListProposals(ctx, model.ProposalPending)
}

func (s *Service) getProposal(ctx context.Context, id string) (*model.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("governance: get proposal: %w", err)
	}
	return proposal, nil
}
