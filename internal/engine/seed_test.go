package engine

import (
	"context"
	"testing"

	"futures_go/internal/domain"
)

func TestSeedPositions(t *testing.T) {
	s, store := newTestSession(t, testConfig(), []AccountSeed{
		{Name: "Alice", Capital: dec("10000")},
		{Name: "Bob", Capital: dec("10000")},
	})
	alice := accountByName(t, store, "Alice")
	bob := accountByName(t, store, "Bob")
	reserve := accountByName(t, store, "Reserve")
	ctx := context.Background()

	err := s.SeedPositions(ctx, []PositionSeed{
		{AccountID: alice, Round: -1, BuyLots: dec("5")},
		{AccountID: bob, Round: -1, SellLots: dec("3")},
	})
	if err != nil {
		t.Fatalf("SeedPositions failed: %v", err)
	}

	// Every seeded deal takes the reserve as counterparty at the tape price.
	deals, err := store.DealsInRound(-1)
	if err != nil {
		t.Fatalf("DealsInRound failed: %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("expected 2 seeded deals, got %d", len(deals))
	}
	for _, d := range deals {
		if !d.Price.Equal(dec("100")) {
			t.Errorf("seeded deal should trade at 100, got %s", d.Price)
		}
		if d.BuyStatus != domain.LegOpen || d.SellStatus != domain.LegOpen {
			t.Errorf("seeded legs should be open, got %s / %s", d.BuyStatus, d.SellStatus)
		}
		if d.BuyAccountID != s.reserveID && d.SellAccountID != s.reserveID {
			t.Errorf("reserve must be on one side of deal %d", d.ID)
		}
	}

	// Seeded margin is external collateral: it raises the deposit and total
	// equity without touching available funds.
	rec := recordFor(t, store, alice, 0)
	if !rec.SecurityDeposit.Equal(dec("50")) {
		t.Errorf("expected Alice deposit 50, got %s", rec.SecurityDeposit)
	}
	if !rec.AvailableFunds.Equal(dec("10000")) {
		t.Errorf("available funds must stay put, got %s", rec.AvailableFunds)
	}
	if !rec.CurrentFunds.Equal(dec("10050")) {
		t.Errorf("expected Alice equity 10050, got %s", rec.CurrentFunds)
	}

	rec = recordFor(t, store, reserve, 0)
	if !rec.SecurityDeposit.Equal(dec("80")) {
		t.Errorf("expected reserve deposit 80, got %s", rec.SecurityDeposit)
	}

	// Seeded positions show up in the market view; the reserve does not.
	snap, err := s.MarketSnapshot(ctx)
	if err != nil {
		t.Fatalf("MarketSnapshot failed: %v", err)
	}
	if len(snap.Longs) != 1 || snap.Longs[0].Name != "Alice" || !snap.Longs[0].Lots.Equal(dec("5")) {
		t.Errorf("expected Alice long 5, got %+v", snap.Longs)
	}
	if len(snap.Shorts) != 1 || snap.Shorts[0].Name != "Bob" || !snap.Shorts[0].Lots.Equal(dec("3")) {
		t.Errorf("expected Bob short 3, got %+v", snap.Shorts)
	}
}
