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

// SettleRound runs once per round after all turns close. It fixes the
// round's settlement price, closes every order still resting, marks every
// open deal leg to market — topping up margin or force-liquidating — and
// persists each account's updated ledger record as the round's closing
// state. Returns the settlement price.
func (s *Session) SettleRound(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return decimal.Zero, domain.ErrNotInitialized
	}

	contract := *s.contract
	round := contract.CurrentRound

	err := s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		price, hadTrades, err := s.settlementPrice(tx, round, contract.LastSettlement)
		if err != nil {
			return err
		}
		if err := tx.InsertSettlement(&domain.SettlementRecord{
			ContractID: contract.ID,
			Round:      round,
			Price:      price,
		}); err != nil {
			return &domain.IntegrityError{Op: "settlement write", Err: err}
		}
		if hadTrades {
			contract.LastPrice = price
		}
		contract.LastSettlement = price

		// Anything still resting is closed and its margin refunded in
		// proportion to the unfilled quantity.
		pending, err := tx.PendingOrdersIn(round)
		if err != nil {
			return &domain.IntegrityError{Op: "order read", Err: err}
		}
		for i := range pending {
			order := &pending[i]
			order.Status = domain.OrderStatusClose
			if err := tx.UpdateOrder(order); err != nil {
				return &domain.IntegrityError{Op: "order write", Err: err}
			}
			refund := contract.InitialMargin(order.Price, order.RemainLots).Neg()
			if _, err := s.payMargin(tx, order.AccountID, refund); err != nil {
				return err
			}
		}

		accounts, err := tx.ListAccounts()
		if err != nil {
			return &domain.IntegrityError{Op: "account read", Err: err}
		}

		// Phase one: mark every open leg, top up or force-liquidate.
		profits := make(map[uint]decimal.Decimal, len(accounts))
		for _, account := range accounts {
			if account.Kind == domain.AccountReserve {
				continue
			}
			rec, err := tx.RecordFor(account.ID, round)
			if err != nil {
				return &domain.IntegrityError{Op: "ledger read", Err: err}
			}
			if rec == nil {
				return &domain.IntegrityError{
					Op:  "ledger read",
					Err: fmt.Errorf("no record for account %d in round %d", account.ID, round),
				}
			}
			profit := decimal.Zero
			for _, side := range []string{domain.SideBuy, domain.SideSell} {
				legs, err := tx.OpenLegs(account.ID, side)
				if err != nil {
					return &domain.IntegrityError{Op: "deal read", Err: err}
				}
				for i := range legs {
					p, err := s.markLeg(tx, &legs[i], side, price, rec, round)
					if err != nil {
						return err
					}
					// A force-closed leg realizes its loss on the funds
					// directly; it is excluded from the mark total.
					if p != nil {
						profit = profit.Add(*p)
					}
				}
			}
			profits[account.ID] = profit
		}

		// Phase two: persist the round's closing state. Records are
		// re-read because force liquidations credit counterparties.
		for _, account := range accounts {
			if account.Kind == domain.AccountReserve {
				continue
			}
			rec, err := tx.RecordFor(account.ID, round)
			if err != nil {
				return &domain.IntegrityError{Op: "ledger read", Err: err}
			}
			if rec.AvailableFunds.IsNegative() {
				s.metrics.RecordAnomaly()
				s.log.Warn("available funds floored at zero after liquidation",
					slog.Uint64("account", uint64(account.ID)),
					slog.String("shortfall", rec.AvailableFunds.Neg().String()),
					slog.Int("round", round))
				rec.AvailableFunds = decimal.Zero
			}
			rec.Reconcile()
			rec.ProfitLoss = money.Round(profits[account.ID])
			if err := tx.UpdateRecord(rec); err != nil {
				return &domain.IntegrityError{Op: "ledger write", Err: err}
			}
		}

		if err := tx.SaveContract(&contract); err != nil {
			return &domain.IntegrityError{Op: "contract write", Err: err}
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.contract = &contract
	s.metrics.RecordRoundSettled()
	s.log.Info("round settled",
		slog.Int("round", round),
		slog.String("settlement_price", contract.LastSettlement.String()))
	return contract.LastSettlement, nil
}

// settlementPrice computes the round's settlement price: the volume-weighted
// average of the round's final turn if it traded, else of the whole round,
// else the prior settlement price unchanged.
func (s *Session) settlementPrice(tx *storage.Store, round int, prior decimal.Decimal) (decimal.Decimal, bool, error) {
	if s.lastTurn >= 0 {
		deals, err := tx.DealsIn(round, s.lastTurn)
		if err != nil {
			return decimal.Zero, false, &domain.IntegrityError{Op: "deal read", Err: err}
		}
		if price, ok := vwap(deals); ok {
			return price, true, nil
		}
	}
	deals, err := tx.DealsInRound(round)
	if err != nil {
		return decimal.Zero, false, &domain.IntegrityError{Op: "deal read", Err: err}
	}
	if price, ok := vwap(deals); ok {
		return price, true, nil
	}
	return prior, false, nil
}

// vwap is the volume-weighted average price of deals.
func vwap(deals []domain.Deal) (decimal.Decimal, bool) {
	notional := decimal.Zero
	volume := decimal.Zero
	for _, d := range deals {
		notional = notional.Add(d.Price.Mul(d.Lots))
		volume = volume.Add(d.Lots)
	}
	if !volume.IsPositive() {
		return decimal.Zero, false
	}
	return money.Round(notional.Div(volume)), true
}

// markLeg marks one open leg to the settlement price. Returns the leg's
// mark-to-market profit, or nil when the leg was force-closed. rec is the
// holder's current-round record and is mutated in place.
func (s *Session) markLeg(tx *storage.Store, deal *domain.Deal, side string, price decimal.Decimal, rec *domain.AccountRecord, round int) (*decimal.Decimal, error) {
	profit := money.Round(deal.MarkProfit(side, price))
	if !profit.IsNegative() {
		return &profit, nil
	}

	loss := profit.Neg()
	posted := deal.BuyMargin
	if side == domain.SideSell {
		posted = deal.SellMargin
	}
	if posted.GreaterThanOrEqual(loss) {
		return &profit, nil
	}

	topUp := money.Round(loss.Sub(posted))
	if rec.AvailableFunds.LessThan(topUp) {
		if err := s.forceClose(tx, deal, side, loss, rec, round); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rec.AvailableFunds = money.Round(rec.AvailableFunds.Sub(topUp))
	rec.SecurityDeposit = money.Round(rec.SecurityDeposit.Add(topUp))
	rec.Reconcile()
	if err := tx.UpdateRecord(rec); err != nil {
		return nil, &domain.IntegrityError{Op: "ledger write", Err: err}
	}
	if side == domain.SideBuy {
		deal.BuyMargin = loss
	} else {
		deal.SellMargin = loss
	}
	if err := tx.UpdateDeal(deal); err != nil {
		return nil, &domain.IntegrityError{Op: "deal write", Err: err}
	}
	s.metrics.RecordTopUp()
	return &profit, nil
}

// forceClose liquidates the losing leg of a deal at the settlement price.
// The loser's posted margin is released into its available funds, which
// absorb the whole loss (possibly dipping below zero until the round's
// final floor); the opposing leg is closed in the same step, its margin
// refunded and the realized profit credited, regardless of the
// counterparty's own intent.
func (s *Session) forceClose(tx *storage.Store, deal *domain.Deal, losingSide string, loss decimal.Decimal, loserRec *domain.AccountRecord, round int) error {
	loserMargin, winnerMargin := deal.BuyMargin, deal.SellMargin
	winnerID := deal.SellAccountID
	if losingSide == domain.SideSell {
		loserMargin, winnerMargin = deal.SellMargin, deal.BuyMargin
		winnerID = deal.BuyAccountID
	}

	loserRec.SecurityDeposit = money.Round(loserRec.SecurityDeposit.Sub(loserMargin))
	if loserRec.SecurityDeposit.IsNegative() {
		s.logClamp(loserRec.AccountID, loserRec.SecurityDeposit.Neg())
		loserRec.SecurityDeposit = decimal.Zero
	}
	loserRec.AvailableFunds = money.Round(loserRec.AvailableFunds.Add(loserMargin).Sub(loss))
	loserRec.Reconcile()
	if err := tx.UpdateRecord(loserRec); err != nil {
		return &domain.IntegrityError{Op: "ledger write", Err: err}
	}

	winnerRec, err := tx.RecordFor(winnerID, round)
	if err != nil {
		return &domain.IntegrityError{Op: "ledger read", Err: err}
	}
	if winnerRec == nil {
		return &domain.IntegrityError{
			Op:  "ledger read",
			Err: fmt.Errorf("no record for account %d in round %d", winnerID, round),
		}
	}
	winnerRec.SecurityDeposit = money.Round(winnerRec.SecurityDeposit.Sub(winnerMargin))
	if winnerRec.SecurityDeposit.IsNegative() {
		s.logClamp(winnerID, winnerRec.SecurityDeposit.Neg())
		winnerRec.SecurityDeposit = decimal.Zero
	}
	winnerRec.AvailableFunds = money.Round(winnerRec.AvailableFunds.Add(winnerMargin).Add(loss))
	winnerRec.Reconcile()
	if err := tx.UpdateRecord(winnerRec); err != nil {
		return &domain.IntegrityError{Op: "ledger write", Err: err}
	}

	if losingSide == domain.SideBuy {
		deal.BuyStatus = domain.LegClose
		deal.SellStatus = domain.LegDone
	} else {
		deal.SellStatus = domain.LegClose
		deal.BuyStatus = domain.LegDone
	}
	deal.DeliveryRound = round
	if err := tx.UpdateDeal(deal); err != nil {
		return &domain.IntegrityError{Op: "deal write", Err: err}
	}

	s.metrics.RecordForcedLiquidation()
	s.log.Warn("forced liquidation",
		slog.Uint64("deal", uint64(deal.ID)),
		slog.String("losing_side", losingSide),
		slog.Uint64("account", uint64(loserRec.AccountID)),
		slog.String("loss", loss.String()),
		slog.Int("round", round))
	return nil
}
