package users_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lfgmarkets/trade-engine/internal/store"
	"github.com/lfgmarkets/trade-engine/internal/users"
)

func newTestEnv(t *testing.T) (*users.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return users.NewService(ms), ms
}

func TestRegister_NewUser(t *testing.T) {
	svc, _ := newTestEnv(t)

	u, err := svc.Register(context.Background(), "0xabc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == "" {
		t.Error("expected non-empty user id")
	}
	if !u.USDCBalance.IsZero() {
		t.Errorf("new user should start with zero balance, got %s", u.USDCBalance)
	}
	if len(u.ReferralCode) != 8 {
		t.Errorf("expected 8-char referral code, got %q", u.ReferralCode)
	}
	// Ambiguous characters are excluded from the code alphabet.
	if strings.ContainsAny(u.ReferralCode, "0O1I") {
		t.Errorf("referral code contains ambiguous characters: %q", u.ReferralCode)
	}
}

func TestRegister_ExistingWalletReturnsSameUser(t *testing.T) {
	svc, _ := newTestEnv(t)

	first, _ := svc.Register(context.Background(), "0xabc", "")
	second, err := svc.Register(context.Background(), "0xabc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same wallet should map to the same user: %s vs %s", first.ID, second.ID)
	}
}

func TestRegister_EmptyWallet(t *testing.T) {
	svc, _ := newTestEnv(t)
	if _, err := svc.Register(context.Background(), "", ""); !errors.Is(err, users.ErrInvalidWallet) {
		t.Errorf("expected ErrInvalidWallet, got %v", err)
	}
}

func TestRegister_ReferralLink(t *testing.T) {
	svc, _ := newTestEnv(t)

	referrer, _ := svc.Register(context.Background(), "0xreferrer", "")
	referred, err := svc.Register(context.Background(), "0xreferred", referrer.ReferralCode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if referred.ReferredBy != referrer.ID {
		t.Errorf("expected referred_by=%s, got %s", referrer.ID, referred.ReferredBy)
	}

	n, err := svc.ReferralStats(context.Background(), referrer.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 referral, got %d", n)
	}
}

func TestRegister_UnknownReferralCodeIgnored(t *testing.T) {
	svc, _ := newTestEnv(t)

	u, err := svc.Register(context.Background(), "0xabc", "NOSUCHCD")
	if err != nil {
		t.Fatalf("signup should not fail on unknown referral code: %v", err)
	}
	if u.ReferredBy != "" {
		t.Errorf("expected no referrer, got %s", u.ReferredBy)
	}
}
