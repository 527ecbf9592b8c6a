package engine

import (
	"context"
	"testing"

	"futures_go/internal/domain"
	"futures_go/internal/infra/storage"
)

func TestVWAP(t *testing.T) {
	deals := []domain.Deal{
		{Price: dec("100"), Lots: dec("10")},
		{Price: dec("90"), Lots: dec("30")},
	}
	price, ok := vwap(deals)
	if !ok {
		t.Fatal("expected a price from non-empty deals")
	}
	if !price.Equal(dec("92.5")) {
		t.Errorf("expected 92.5, got %s", price)
	}

	if _, ok := vwap(nil); ok {
		t.Error("no deals must yield no price")
	}
}

func TestSettleRoundKeepsPriorPriceWithoutTrades(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), []AccountSeed{
		{Name: "Alice", Capital: dec("10000")},
	})

	price, err := s.SettleRound(context.Background())
	if err != nil {
		t.Fatalf("SettleRound failed: %v", err)
	}
	if !price.Equal(dec("100")) {
		t.Errorf("expected prior settlement price 100, got %s", price)
	}
	if !s.contract.LastPrice.Equal(dec("100")) {
		t.Errorf("tape must not move without trades, got %s", s.contract.LastPrice)
	}
}

func TestSettleRoundClosesRestingOrders(t *testing.T) {
	s, store := newTestSession(t, testConfig(), []AccountSeed{
		{Name: "Alice", Capital: dec("10000")},
	})
	alice := accountByName(t, store, "Alice")
	ctx := context.Background()

	res, err := s.SubmitTurn(ctx, 0, []domain.OrderIntent{
		{AccountID: alice, Side: domain.SideBuy, Lots: dec("10"), Price: dec("90")},
	})
	if err != nil {
		t.Fatalf("SubmitTurn failed: %v", err)
	}
	orderID := res.Failed[0].OrderID

	if _, err := s.SettleRound(ctx); err != nil {
		t.Fatalf("SettleRound failed: %v", err)
	}

	order, err := store.GetOrder(orderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.Status != domain.OrderStatusClose {
		t.Errorf("resting order should be closed, got %s", order.Status)
	}
	rec := recordFor(t, store, alice, 0)
	if !rec.AvailableFunds.Equal(dec("10000")) || !rec.SecurityDeposit.IsZero() {
		t.Errorf("margin should be fully refunded, got available=%s deposit=%s",
			rec.AvailableFunds, rec.SecurityDeposit)
	}
}

// settleWithMovedMarket trades 10 lots at 102 between Alice and Bob in turn
// 0, then 1 lot at 80 between Alice and Carol in turn 1, so the settlement
// price lands on the final turn's VWAP of 80 and Alice's big long is 220
// under water against 102 of posted margin.
func settleWithMovedMarket(t *testing.T) (*Session, *storageHandles) {
	t.Helper()
	s, store := newTestSession(t, testConfig(), []AccountSeed{
		{Name: "Alice", Capital: dec("100000")},
		{Name: "Bob", Capital: dec("100000")},
		{Name: "Carol", Capital: dec("10000")},
	})
	h := &storageHandles{
		store: store,
		alice: accountByName(t, store, "Alice"),
		bob:   accountByName(t, store, "Bob"),
		carol: accountByName(t, store, "Carol"),
	}
	ctx := context.Background()
	s.contract.LastPrice = dec("102")

	res, err := s.SubmitTurn(ctx, 0, []domain.OrderIntent{
		{AccountID: h.alice, Side: domain.SideBuy, Lots: dec("10"), Price: dec("105")},
		{AccountID: h.bob, Side: domain.SideSell, Lots: dec("10"), Price: dec("100")},
	})
	if err != nil {
		t.Fatalf("turn 0 failed: %v", err)
	}
	if len(res.Deals) != 1 || !res.Deals[0].Price.Equal(dec("102")) {
		t.Fatalf("expected one deal at 102, got %+v", res.Deals)
	}
	h.bigDealID = res.Deals[0].ID

	res, err = s.SubmitTurn(ctx, 1, []domain.OrderIntent{
		{AccountID: h.alice, Side: domain.SideBuy, Lots: dec("1"), Price: dec("80")},
		{AccountID: h.carol, Side: domain.SideSell, Lots: dec("1"), Price: dec("80")},
	})
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if len(res.Deals) != 1 || !res.Deals[0].Price.Equal(dec("80")) {
		t.Fatalf("expected one deal at 80, got %+v", res.Deals)
	}
	return s, h
}

type storageHandles struct {
	store             *storage.Store
	alice, bob, carol uint
	bigDealID         uint
}

func TestSettleRoundTopsUpMargin(t *testing.T) {
	s, h := settleWithMovedMarket(t)
	ctx := context.Background()

	price, err := s.SettleRound(ctx)
	if err != nil {
		t.Fatalf("SettleRound failed: %v", err)
	}
	if !price.Equal(dec("80")) {
		t.Fatalf("expected final-turn VWAP 80, got %s", price)
	}

	// Alice's 10-lot long at 102 lost 220; its 102 of posted margin is
	// topped up to exactly the loss, next to 8 on her 1-lot long at 80.
	alice := recordFor(t, h.store, h.alice, 0)
	if !alice.SecurityDeposit.Equal(dec("228")) {
		t.Errorf("expected deposit 228 after top-up, got %s", alice.SecurityDeposit)
	}
	if !alice.AvailableFunds.Equal(dec("99772")) {
		t.Errorf("expected available 99772, got %s", alice.AvailableFunds)
	}
	if !alice.CurrentFunds.Equal(dec("100000")) {
		t.Errorf("marking must not change total equity, got %s", alice.CurrentFunds)
	}
	if !alice.ProfitLoss.Equal(dec("-220")) {
		t.Errorf("expected mark loss -220, got %s", alice.ProfitLoss)
	}

	bob := recordFor(t, h.store, h.bob, 0)
	if !bob.ProfitLoss.Equal(dec("220")) {
		t.Errorf("expected mark profit 220, got %s", bob.ProfitLoss)
	}
	if !bob.SecurityDeposit.Equal(dec("102")) {
		t.Errorf("winning side's margin stays put, got %s", bob.SecurityDeposit)
	}

	deals, err := h.store.DealsIn(0, 0)
	if err != nil {
		t.Fatalf("DealsIn failed: %v", err)
	}
	if !deals[0].BuyMargin.Equal(dec("220")) {
		t.Errorf("buy margin should cover the whole loss, got %s", deals[0].BuyMargin)
	}
	if !deals[0].SellMargin.Equal(dec("102")) {
		t.Errorf("sell margin must be untouched, got %s", deals[0].SellMargin)
	}
	if deals[0].BuyStatus != domain.LegOpen || deals[0].SellStatus != domain.LegOpen {
		t.Errorf("both legs stay open, got %s / %s", deals[0].BuyStatus, deals[0].SellStatus)
	}

	if !s.contract.LastSettlement.Equal(dec("80")) || !s.contract.LastPrice.Equal(dec("80")) {
		t.Errorf("settlement and tape should read 80, got %s / %s",
			s.contract.LastSettlement, s.contract.LastPrice)
	}
}

func TestSettleRoundIsIdempotent(t *testing.T) {
	s, h := settleWithMovedMarket(t)
	ctx := context.Background()

	if _, err := s.SettleRound(ctx); err != nil {
		t.Fatalf("first SettleRound failed: %v", err)
	}
	before := []*domain.AccountRecord{
		recordFor(t, h.store, h.alice, 0),
		recordFor(t, h.store, h.bob, 0),
		recordFor(t, h.store, h.carol, 0),
	}

	if _, err := s.SettleRound(ctx); err != nil {
		t.Fatalf("second SettleRound failed: %v", err)
	}
	for i, id := range []uint{h.alice, h.bob, h.carol} {
		after := recordFor(t, h.store, id, 0)
		if !after.AvailableFunds.Equal(before[i].AvailableFunds) ||
			!after.SecurityDeposit.Equal(before[i].SecurityDeposit) ||
			!after.CurrentFunds.Equal(before[i].CurrentFunds) ||
			!after.ProfitLoss.Equal(before[i].ProfitLoss) {
			t.Errorf("account %d: re-settlement moved the ledger: %+v -> %+v", id, before[i], after)
		}
	}
}

func TestSettleRoundForceLiquidates(t *testing.T) {
	s, store := newTestSession(t, testConfig(), []AccountSeed{
		{Name: "Loser", Capital: dec("130")},
		{Name: "Winner", Capital: dec("1000")},
	})
	loser := accountByName(t, store, "Loser")
	winner := accountByName(t, store, "Winner")
	ctx := context.Background()

	// A pre-existing 10-lot long at 100 with 100 of posted margin per side,
	// while the market has slid to 85: the 150 loss needs a 50 top-up the
	// loser's 30 available cannot cover.
	deal := &domain.Deal{
		BuyAccountID:  loser,
		SellAccountID: winner,
		Lots:          dec("10"),
		Price:         dec("100"),
		BuyStatus:     domain.LegOpen,
		BuyMargin:     dec("100"),
		SellStatus:    domain.LegOpen,
		SellMargin:    dec("100"),
		Round:         -1,
		DeliveryRound: 10,
	}
	if err := store.InsertDeal(deal); err != nil {
		t.Fatalf("InsertDeal failed: %v", err)
	}
	for _, id := range []uint{loser, winner} {
		rec := recordFor(t, store, id, 0)
		rec.AvailableFunds = rec.AvailableFunds.Sub(dec("100"))
		rec.SecurityDeposit = dec("100")
		rec.Reconcile()
		if err := store.UpdateRecord(rec); err != nil {
			t.Fatalf("UpdateRecord failed: %v", err)
		}
	}
	s.contract.LastSettlement = dec("85")

	price, err := s.SettleRound(ctx)
	if err != nil {
		t.Fatalf("SettleRound failed: %v", err)
	}
	if !price.Equal(dec("85")) {
		t.Fatalf("expected settlement at 85, got %s", price)
	}

	// Loser: margin released, loss absorbed, shortfall floored at zero.
	rec := recordFor(t, store, loser, 0)
	if !rec.AvailableFunds.IsZero() || !rec.SecurityDeposit.IsZero() || !rec.CurrentFunds.IsZero() {
		t.Errorf("loser should be wiped out, got %+v", rec)
	}

	// Winner: own margin refunded plus the full 150 gain credited.
	rec = recordFor(t, store, winner, 0)
	if !rec.AvailableFunds.Equal(dec("1150")) {
		t.Errorf("expected winner available 1150, got %s", rec.AvailableFunds)
	}
	if !rec.SecurityDeposit.IsZero() {
		t.Errorf("winner's margin should be released, got %s", rec.SecurityDeposit)
	}

	deals, err := store.DealsInRound(-1)
	if err != nil {
		t.Fatalf("DealsInRound failed: %v", err)
	}
	if deals[0].BuyStatus != domain.LegClose {
		t.Errorf("losing leg should be force-closed, got %s", deals[0].BuyStatus)
	}
	if deals[0].SellStatus != domain.LegDone {
		t.Errorf("winning leg should be finished, got %s", deals[0].SellStatus)
	}
	if deals[0].DeliveryRound != 0 {
		t.Errorf("deal should record its liquidation round, got %d", deals[0].DeliveryRound)
	}

	m := s.metrics.Snapshot()
	if m.ForcedLiquidations != 1 {
		t.Errorf("expected 1 forced liquidation recorded, got %d", m.ForcedLiquidations)
	}
	if m.SettlementAnomalies == 0 {
		t.Error("the floored shortfall should be recorded as an anomaly")
	}
}

func TestSettleRoundConservesFunds(t *testing.T) {
	s, h := settleWithMovedMarket(t)
	ctx := context.Background()

	sumBefore := dec("0")
	for _, id := range []uint{h.alice, h.bob, h.carol} {
		sumBefore = sumBefore.Add(recordFor(t, h.store, id, 0).CurrentFunds)
	}

	if _, err := s.SettleRound(ctx); err != nil {
		t.Fatalf("SettleRound failed: %v", err)
	}

	sumAfter := dec("0")
	for _, id := range []uint{h.alice, h.bob, h.carol} {
		rec := recordFor(t, h.store, id, 0)
		if !rec.Consistent(dec("0.0000001")) {
			t.Errorf("account %d: equity does not reconcile: %+v", id, rec)
		}
		sumAfter = sumAfter.Add(rec.CurrentFunds)
	}
	if !sumAfter.Equal(sumBefore) {
		t.Errorf("settlement must conserve funds: %s -> %s", sumBefore, sumAfter)
	}
}
