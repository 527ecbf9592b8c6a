package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"futures_go/internal/domain"
	"futures_go/internal/infra/storage"
	"futures_go/pkg/money"
)

// AdvanceRound closes the current round and opens the next one by copying
// every account's ledger record forward. When the counter passes the
// delivery round it performs final delivery instead: every open leg closes
// unconditionally at the prior settlement price, all margin is refunded,
// profit and loss is recomputed against each account's initial capital, and
// the session accepts no further orders. Returns the new round counter and
// whether delivery happened.
func (s *Session) AdvanceRound(ctx context.Context) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return 0, false, domain.ErrNotInitialized
	}
	if s.contract.Delivered {
		return s.contract.CurrentRound, true, domain.ErrDelivered
	}

	contract := *s.contract
	newRound := contract.CurrentRound + 1
	delivered := newRound > contract.DeliveryRound

	err := s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		records, err := tx.RecordsFor(contract.CurrentRound)
		if err != nil {
			return &domain.IntegrityError{Op: "ledger read", Err: err}
		}

		if delivered {
			accounts, err := tx.ListAccounts()
			if err != nil {
				return &domain.IntegrityError{Op: "account read", Err: err}
			}
			initFunds := make(map[uint]decimal.Decimal, len(accounts))
			for _, a := range accounts {
				initFunds[a.ID] = a.InitFund
			}
			for i := range records {
				if err := s.deliver(tx, &records[i], newRound, contract.LastSettlement, initFunds); err != nil {
					return err
				}
			}
			contract.Delivered = true
		} else {
			for _, rec := range records {
				next := domain.AccountRecord{
					AccountID:       rec.AccountID,
					Round:           newRound,
					CurrentFunds:    rec.CurrentFunds,
					AvailableFunds:  rec.AvailableFunds,
					SecurityDeposit: rec.SecurityDeposit,
					ProfitLoss:      rec.ProfitLoss,
				}
				if err := tx.InsertRecord(&next); err != nil {
					return &domain.IntegrityError{Op: "ledger write", Err: err}
				}
			}
		}

		contract.CurrentRound = newRound
		if err := tx.SaveContract(&contract); err != nil {
			return &domain.IntegrityError{Op: "contract write", Err: err}
		}
		return nil
	})
	if err != nil {
		return contract.CurrentRound, false, err
	}

	s.contract = &contract
	s.lastTurn = -1
	if delivered {
		s.log.Info("final delivery completed", slog.Int("round", newRound))
	} else {
		s.log.Info("round opened", slog.Int("round", newRound))
	}
	return newRound, delivered, nil
}

// deliver closes one account's remaining open legs at the prior round's
// settlement price and writes its terminal ledger record.
func (s *Session) deliver(tx *storage.Store, rec *domain.AccountRecord, newRound int, price decimal.Decimal, initFunds map[uint]decimal.Decimal) error {
	profit := decimal.Zero
	for _, side := range []string{domain.SideBuy, domain.SideSell} {
		legs, err := tx.OpenLegs(rec.AccountID, side)
		if err != nil {
			return &domain.IntegrityError{Op: "deal read", Err: err}
		}
		for i := range legs {
			deal := &legs[i]
			profit = profit.Add(deal.MarkProfit(side, price))
			if side == domain.SideBuy {
				deal.BuyStatus = domain.LegDone
			} else {
				deal.SellStatus = domain.LegDone
			}
			if err := tx.UpdateDeal(deal); err != nil {
				return &domain.IntegrityError{Op: "deal write", Err: err}
			}
		}
	}

	available := money.Round(rec.AvailableFunds.Add(rec.SecurityDeposit).Add(profit))
	if available.IsNegative() {
		s.metrics.RecordAnomaly()
		s.log.Warn("available funds floored at zero at delivery",
			slog.Uint64("account", uint64(rec.AccountID)),
			slog.String("shortfall", available.Neg().String()))
		available = decimal.Zero
	}

	initFund, ok := initFunds[rec.AccountID]
	if !ok {
		return &domain.IntegrityError{
			Op:  "delivery",
			Err: fmt.Errorf("no account for record of account %d", rec.AccountID),
		}
	}
	terminal := domain.AccountRecord{
		AccountID:      rec.AccountID,
		Round:          newRound,
		CurrentFunds:   available,
		AvailableFunds: available,
		ProfitLoss:     money.Round(available.Sub(initFund)),
	}
	if err := tx.InsertRecord(&terminal); err != nil {
		return &domain.IntegrityError{Op: "ledger write", Err: err}
	}
	return nil
}
