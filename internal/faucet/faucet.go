// Package faucet hands out demo USDC once per cooldown period per user.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/store"
)

var (
	// ErrClaimTooSoon is returned when the cooldown has not elapsed.
	ErrClaimTooSoon = errors.New("faucet: claim not yet available")

	// ErrUserNotFound is returned when the user does not exist.
	ErrUserNotFound = errors.New("faucet: user not found")
)

// Service dispenses a fixed claim amount with a cooldown between claims.
type Service struct {
	store    store.Store
	amount   decimal.Decimal
	cooldown time.Duration
	now      func() time.Time
}

// NewService creates a faucet dispensing amount once per cooldown.
func NewService(st store.Store, amount decimal.Decimal, cooldown time.Duration) *Service {
	return &Service{
		store:    st,
		amount:   amount,
		cooldown: cooldown,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ClaimResult reports a successful claim.
type ClaimResult struct {
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
	NextClaim  time.Time       `json:"next_claim"`
}

// Claim credits the claim amount to the user, rejecting the request when
// the previous claim is younger than the cooldown.
func (s *Service) Claim(ctx context.Context, userID string) (*ClaimResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("faucet: get user: %w", err)
	}

	now := s.now()
	if user.LastClaimAt != nil && now.Sub(*user.LastClaimAt) < s.cooldown {
		return nil, ErrClaimTooSoon
	}

	newBalance, err := s.store.CreditBalance(ctx, userID, s.amount)
	if err != nil {
		return nil, fmt.Errorf("faucet: credit balance: %w", err)
	}

	if err := s.store.SetLastClaim(ctx, userID, now); err != nil {
		// Undo the credit so a broken claim cannot be repeated for free.
		if _, derr := s.store.DebitBalance(ctx, userID, s.amount); derr != nil {
			slog.Error("faucet compensation failed", "user", userID, "err", derr)
		}
		return nil, fmt.Errorf("faucet: record claim: %w", err)
	}

	slog.Info("faucet claim", "user", userID, "amount", s.amount.String())
	return &ClaimResult{
		Amount:     s.amount,
		NewBalance: newBalance,
		NextClaim:  now.Add(s.cooldown),
	}, nil
}

// Status reports whether the user can claim now, and when the next claim
// unlocks if not.
type Status struct {
	Eligible  bool          `json:"eligible"`
	NextClaim time.Time     `json:"next_claim"`
	Remaining time.Duration `json:"remaining"`
}

// NextClaim returns the user's current claim eligibility.
func (s *Service) NextClaim(ctx context.Context, userID string) (*Status, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("faucet: get user: %w", err)
	}

	now := s.now()
	if user.LastClaimAt == nil || now.Sub(*user.LastClaimAt) >= s.cooldown {
		return &Status{Eligible: true, NextClaim: now}, nil
	}

	next := user.LastClaimAt.Add(s.cooldown)
	return &Status{Eligible: false, NextClaim: next, Remaining: next.Sub(now)}, nil
}
