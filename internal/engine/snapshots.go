package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"futures_go/internal/domain"
	"futures_go/pkg/money"
)

// MarketSnapshot builds the market view handed to every participant: the
// prior settlement price, the spot side, the open-interest breakdown per
// holder and the previous round's still-open trades. The reserve account is
// excluded throughout.
func (s *Session) MarketSnapshot(ctx context.Context) (*domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return nil, domain.ErrNotInitialized
	}

	st := s.store.WithContext(ctx)
	snap := &domain.MarketSnapshot{SettlementPrice: s.contract.LastSettlement}

	spot, err := st.GetSpot()
	if err != nil {
		return nil, err
	}
	if spot != nil {
		snap.SpotPrice = spot.Price
		snap.Inventory = spot.Inventory
	}

	accounts, err := st.ListAccounts()
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Name
	}

	deals, err := st.OpenLegsAll()
	if err != nil {
		return nil, err
	}
	longs := make(map[uint]decimal.Decimal)
	shorts := make(map[uint]decimal.Decimal)
	lastLongs := make(map[uint]decimal.Decimal)
	lastShorts := make(map[uint]decimal.Decimal)
	lastRound := s.contract.CurrentRound - 1
	for _, d := range deals {
		if d.BuyStatus == domain.LegOpen && d.BuyAccountID != s.reserveID {
			longs[d.BuyAccountID] = longs[d.BuyAccountID].Add(d.Lots)
			if d.Round == lastRound {
				lastLongs[d.BuyAccountID] = lastLongs[d.BuyAccountID].Add(d.Lots)
			}
		}
		if d.SellStatus == domain.LegOpen && d.SellAccountID != s.reserveID {
			shorts[d.SellAccountID] = shorts[d.SellAccountID].Add(d.Lots)
			if d.Round == lastRound {
				lastShorts[d.SellAccountID] = lastShorts[d.SellAccountID].Add(d.Lots)
			}
		}
	}
	snap.Longs = holderEntries(longs, names)
	snap.Shorts = holderEntries(shorts, names)
	snap.LastRoundLongs = holderEntries(lastLongs, names)
	snap.LastRoundShorts = holderEntries(lastShorts, names)
	return snap, nil
}

// holderEntries sorts a holder breakdown by volume descending, name
// ascending on ties.
func holderEntries(lots map[uint]decimal.Decimal, names map[uint]string) []domain.HolderEntry {
	entries := make([]domain.HolderEntry, 0, len(lots))
	for id, l := range lots {
		entries = append(entries, domain.HolderEntry{Name: names[id], Lots: l})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Lots.Equal(entries[j].Lots) {
			return entries[i].Lots.GreaterThan(entries[j].Lots)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// AccountSnapshot builds one account's private view: funds, posted margin,
// and open positions aggregated by trade price.
func (s *Session) AccountSnapshot(ctx context.Context, accountID uint) (*domain.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return nil, domain.ErrNotInitialized
	}

	st := s.store.WithContext(ctx)
	rec, err := st.RecordFor(accountID, s.contract.CurrentRound)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrUnknownAccount
	}

	snap := &domain.AccountSnapshot{
		Capital:         rec.CurrentFunds,
		AvailableFunds:  rec.AvailableFunds,
		SecurityDeposit: rec.SecurityDeposit,
		ProfitLoss:      rec.ProfitLoss,
	}
	for _, side := range []string{domain.SideBuy, domain.SideSell} {
		legs, err := st.OpenLegs(accountID, side)
		if err != nil {
			return nil, err
		}
		positions := positionLots(legs)
		if side == domain.SideBuy {
			snap.Longs = positions
		} else {
			snap.Shorts = positions
		}
	}
	return snap, nil
}

// positionLots aggregates open legs by trade price, ascending.
func positionLots(legs []domain.Deal) []domain.PositionLot {
	byPrice := make(map[string]*domain.PositionLot)
	for _, d := range legs {
		key := d.Price.String()
		if lot, ok := byPrice[key]; ok {
			lot.Lots = lot.Lots.Add(d.Lots)
			continue
		}
		byPrice[key] = &domain.PositionLot{Lots: d.Lots, Price: d.Price}
	}
	lots := make([]domain.PositionLot, 0, len(byPrice))
	for _, lot := range byPrice {
		lots = append(lots, *lot)
	}
	sort.Slice(lots, func(i, j int) bool {
		return lots[i].Price.LessThan(lots[j].Price)
	})
	return lots
}

// OrderFlow aggregates the current round's order flow so far: total lots
// and volume-weighted limit price per side. Orders that never entered the
// book (invalid, no_margin) are excluded.
func (s *Session) OrderFlow(ctx context.Context) (*domain.OrderFlowSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return nil, domain.ErrNotInitialized
	}

	orders, err := s.store.WithContext(ctx).OrdersInRound(s.contract.CurrentRound)
	if err != nil {
		return nil, err
	}
	summary := &domain.OrderFlowSummary{}
	buyNotional := decimal.Zero
	sellNotional := decimal.Zero
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusPending, domain.OrderStatusDone, domain.OrderStatusCancel, domain.OrderStatusClose:
		default:
			continue
		}
		if o.Side == domain.SideBuy {
			summary.BuyLots = summary.BuyLots.Add(o.Lots)
			buyNotional = buyNotional.Add(o.Lots.Mul(o.Price))
		} else {
			summary.SellLots = summary.SellLots.Add(o.Lots)
			sellNotional = sellNotional.Add(o.Lots.Mul(o.Price))
		}
	}
	if summary.BuyLots.IsPositive() {
		summary.BuyAvgPrice = money.Round(buyNotional.Div(summary.BuyLots))
	}
	if summary.SellLots.IsPositive() {
		summary.SellAvgPrice = money.Round(sellNotional.Div(summary.SellLots))
	}
	return summary, nil
}
