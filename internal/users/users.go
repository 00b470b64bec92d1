// Package users manages wallet-keyed demo accounts and referral codes.
package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lfgmarkets/trade-engine/internal/model"
	"github.com/lfgmarkets/trade-engine/internal/store"
)

// ErrInvalidWallet is returned when the wallet address is empty.
var ErrInvalidWallet = errors.New("users: wallet address is required")

const referralCodeLen = 8

// Service registers and looks up users.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a user service.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register returns the existing user for the wallet address or creates a
// new one. A referral code, when given and valid, links the new account to
// its referrer; an unknown code is ignored rather than failing signup.
func (s *Service) Register(ctx context.Context, walletAddress, referrerCode string) (*model.User, error) {
	if walletAddress == "" {
		return nil, ErrInvalidWallet
	}

	existing, err := s.store.GetUserByWallet(ctx, walletAddress)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("users: lookup wallet: %w", err)
	}

	referredBy := ""
	if referrerCode != "" {
		referrer, err := s.store.GetUserByReferralCode(ctx, referrerCode)
		if err == nil {
			referredBy = referrer.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("users: lookup referrer: %w", err)
		}
	}

	user := &model.User{
		ID:            uuid.New().String(),
		WalletAddress: walletAddress,
		USDCBalance:   decimal.Zero,
		ReferralCode:  newReferralCode(),
		ReferredBy:    referredBy,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Either a concurrent signup for the same wallet or a referral
			// code collision; re-read wins for the former, retry once with
			// a fresh code for the latter.
			if u, gerr := s.store.GetUserByWallet(ctx, walletAddress); gerr == nil {
				return u, nil
			}
			user.ReferralCode = newReferralCode()
			if rerr := s.store.CreateUser(ctx, user); rerr == nil {
				return user, nil
			}
		}
		return nil, fmt.Errorf("users: create user: %w", err)
	}

	slog.Info("user registered", "user", user.ID, "wallet", walletAddress,
		"referred", referredBy != "")
	return user, nil
}

// ReferralStats returns how many signups a user has referred.
func (s *Service) ReferralStats(ctx context.Context, userID string) (int, error) {
	return s.store.CountReferrals(ctx, userID)
}

// newReferralCode returns a short uppercase alphanumeric code.
// Unambiguous alphabet: no 0/O or 1/I.
func newReferralCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, referralCodeLen)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
