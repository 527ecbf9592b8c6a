package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"futures_go/internal/domain"
	"futures_go/internal/infra/storage"
	"futures_go/pkg/money"
)

// PositionSeed describes one account's pre-simulation open position for one
// pseudo-round (a non-positive round number, before trading starts).
type PositionSeed struct {
	AccountID uint
	Round     int
	BuyLots   decimal.Decimal
	SellLots  decimal.Decimal
}

// SeedPositions initializes open legs that predate the simulation. Every
// seeded deal is priced at the initial futures price and takes the passive
// reserve account as counterparty. Margin is posted on both sides as
// external collateral: it raises the security deposit and total equity
// without touching available funds.
func (s *Session) SeedPositions(ctx context.Context, seeds []PositionSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return domain.ErrNotInitialized
	}
	if len(seeds) == 0 {
		return nil
	}

	contract := *s.contract
	price := contract.LastPrice
	round := contract.CurrentRound

	return s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		// One aggregate reserve order per pseudo-round and side.
		reserveBuy := make(map[int]uint)
		reserveSell := make(map[int]uint)
		sumBuy := make(map[int]decimal.Decimal)
		sumSell := make(map[int]decimal.Decimal)
		for _, seed := range seeds {
			sumBuy[seed.Round] = sumBuy[seed.Round].Add(money.Round(seed.BuyLots))
			sumSell[seed.Round] = sumSell[seed.Round].Add(money.Round(seed.SellLots))
		}
		for r, lots := range sumBuy {
			if !lots.IsPositive() {
				continue
			}
			// The reserve sells what the participants bought.
			id, err := s.seedOrder(tx, s.reserveID, domain.SideSell, r, price, lots)
			if err != nil {
				return err
			}
			reserveSell[r] = id
		}
		for r, lots := range sumSell {
			if !lots.IsPositive() {
				continue
			}
			id, err := s.seedOrder(tx, s.reserveID, domain.SideBuy, r, price, lots)
			if err != nil {
				return err
			}
			reserveBuy[r] = id
		}

		reserveMargin := decimal.Zero
		for _, seed := range seeds {
			seedMargin := decimal.Zero
			if lots := money.Round(seed.BuyLots); lots.IsPositive() {
				orderID, err := s.seedOrder(tx, seed.AccountID, domain.SideBuy, seed.Round, price, lots)
				if err != nil {
					return err
				}
				margin := contract.InitialMargin(price, lots)
				deal := &domain.Deal{
					BuyOrderID:    orderID,
					SellOrderID:   reserveSell[seed.Round],
					BuyAccountID:  seed.AccountID,
					SellAccountID: s.reserveID,
					Lots:          lots,
					Price:         price,
					BuyStatus:     domain.LegOpen,
					BuyMargin:     margin,
					SellStatus:    domain.LegOpen,
					SellMargin:    margin,
					Round:         seed.Round,
					DeliveryRound: contract.DeliveryRound,
				}
				if err := deal.Validate(); err != nil {
					return err
				}
				if err := tx.InsertDeal(deal); err != nil {
					return &domain.IntegrityError{Op: "deal write", Err: err}
				}
				seedMargin = seedMargin.Add(margin)
			}
			if lots := money.Round(seed.SellLots); lots.IsPositive() {
				orderID, err := s.seedOrder(tx, seed.AccountID, domain.SideSell, seed.Round, price, lots)
				if err != nil {
					return err
				}
				margin := contract.InitialMargin(price, lots)
				deal := &domain.Deal{
					BuyOrderID:    reserveBuy[seed.Round],
					SellOrderID:   orderID,
					BuyAccountID:  s.reserveID,
					SellAccountID: seed.AccountID,
					Lots:          lots,
					Price:         price,
					BuyStatus:     domain.LegOpen,
					BuyMargin:     margin,
					SellStatus:    domain.LegOpen,
					SellMargin:    margin,
					Round:         seed.Round,
					DeliveryRound: contract.DeliveryRound,
				}
				if err := deal.Validate(); err != nil {
					return err
				}
				if err := tx.InsertDeal(deal); err != nil {
					return &domain.IntegrityError{Op: "deal write", Err: err}
				}
				seedMargin = seedMargin.Add(margin)
			}
			if !seedMargin.IsPositive() {
				continue
			}
			if err := s.grantMargin(tx, seed.AccountID, round, seedMargin); err != nil {
				return err
			}
			reserveMargin = reserveMargin.Add(seedMargin)
		}

		if reserveMargin.IsPositive() {
			if err := s.grantMargin(tx, s.reserveID, round, reserveMargin); err != nil {
				return err
			}
		}
		s.log.Info("positions seeded", slog.Int("seeds", len(seeds)))
		return nil
	})
}

// seedOrder inserts a fully filled historical order.
func (s *Session) seedOrder(tx *storage.Store, accountID uint, side string, round int, price, lots decimal.Decimal) (uint, error) {
	order := &domain.Order{
		AccountID: accountID,
		Side:      side,
		Round:     round,
		Price:     price,
		Lots:      lots,
		Status:    domain.OrderStatusDone,
	}
	if err := tx.InsertOrder(order); err != nil {
		return 0, &domain.IntegrityError{Op: "order write", Err: err}
	}
	return order.ID, nil
}

// grantMargin posts externally supplied collateral: the security deposit
// and total equity grow, available funds stay put.
func (s *Session) grantMargin(tx *storage.Store, accountID uint, round int, margin decimal.Decimal) error {
	rec, err := tx.RecordFor(accountID, round)
	if err != nil {
		return &domain.IntegrityError{Op: "ledger read", Err: err}
	}
	if rec == nil {
		return domain.ErrUnknownAccount
	}
	rec.SecurityDeposit = money.Round(rec.SecurityDeposit.Add(margin))
	rec.Reconcile()
	if err := tx.UpdateRecord(rec); err != nil {
		return &domain.IntegrityError{Op: "ledger write", Err: err}
	}
	return nil
}
