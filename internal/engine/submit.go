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

// TurnResult reports one turn's outcome to the intake collaborator.
// Succeeded carries one entry per deal side; Failed carries the turn's
// orders that did not fully trade, with their reason.
type TurnResult struct {
	Succeeded []domain.MatchedRequest
	Failed    []domain.FailedRequest
	Deals     []domain.Deal
}

// SubmitTurn admits one batch of order intents, matches the round's resting
// book and commits every resulting mutation as a single transaction.
// Admission runs the price-limit check first (no margin is touched for an
// out-of-band order), then debits initial margin; orders that cannot post it
// are excluded from matching.
func (s *Session) SubmitTurn(ctx context.Context, turn int, intents []domain.OrderIntent) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return nil, domain.ErrNotInitialized
	}
	if s.contract.Delivered {
		return nil, domain.ErrDelivered
	}
	if turn < 0 || turn >= s.cfg.TurnsPerRound {
		return nil, fmt.Errorf("turn %d out of range [0,%d)", turn, s.cfg.TurnsPerRound)
	}

	contract := *s.contract
	round := contract.CurrentRound
	result := &TurnResult{}

	err := s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		low, high := contract.PriceBand()

		for _, intent := range intents {
			price := money.Round(intent.Price)
			lots := money.Round(intent.Lots)
			order := &domain.Order{
				AccountID:  intent.AccountID,
				Side:       intent.Side,
				Round:      round,
				Turn:       turn,
				Seq:        s.nextSeq,
				Price:      price,
				Lots:       lots,
				RemainLots: lots,
				Status:     domain.OrderStatusPending,
			}
			s.nextSeq++

			if !lots.IsPositive() || price.LessThan(low) || price.GreaterThan(high) {
				order.Status = domain.OrderStatusInvalid
				if err := tx.InsertOrder(order); err != nil {
					return &domain.IntegrityError{Op: "order write", Err: err}
				}
				s.metrics.RecordOrderRejected()
				continue
			}

			if err := tx.InsertOrder(order); err != nil {
				return &domain.IntegrityError{Op: "order write", Err: err}
			}
			ok, err := s.payMargin(tx, order.AccountID, contract.InitialMargin(price, lots))
			if err != nil {
				return err
			}
			if !ok {
				order.Status = domain.OrderStatusNoMargin
				if err := tx.UpdateOrder(order); err != nil {
					return &domain.IntegrityError{Op: "order write", Err: err}
				}
				s.metrics.RecordOrderRejected()
				continue
			}
			s.metrics.RecordOrderAdmitted()
		}

		// Match against the whole of the round's resting book, not only
		// this turn's arrivals.
		buyOrders, err := tx.PendingOrders(round, domain.SideBuy)
		if err != nil {
			return &domain.IntegrityError{Op: "order read", Err: err}
		}
		sellOrders, err := tx.PendingOrders(round, domain.SideSell)
		if err != nil {
			return &domain.IntegrityError{Op: "order read", Err: err}
		}
		records, err := tx.RecordsFor(round)
		if err != nil {
			return &domain.IntegrityError{Op: "ledger read", Err: err}
		}
		available := make(map[uint]decimal.Decimal, len(records))
		for _, rec := range records {
			available[rec.AccountID] = rec.AvailableFunds
		}

		fills, last, remaining := matchOrders(
			toBook(buyOrders), toBook(sellOrders),
			contract.LastPrice, contract.MarginRate, available)

		byID := make(map[uint]*domain.Order, len(buyOrders)+len(sellOrders))
		for i := range buyOrders {
			byID[buyOrders[i].ID] = &buyOrders[i]
		}
		for i := range sellOrders {
			byID[sellOrders[i].ID] = &sellOrders[i]
		}
		for id, remain := range remaining {
			order := byID[id]
			order.RemainLots = remain
			if remain.IsZero() {
				order.Status = domain.OrderStatusDone
			}
			if err := tx.UpdateOrder(order); err != nil {
				return &domain.IntegrityError{Op: "order write", Err: err}
			}
		}

		for _, f := range fills {
			margin := contract.InitialMargin(f.price, f.lots)
			deal := &domain.Deal{
				BuyOrderID:    f.buyID,
				SellOrderID:   f.sellID,
				BuyAccountID:  f.buyAccount,
				SellAccountID: f.sellAccount,
				Lots:          f.lots,
				Price:         f.price,
				BuyStatus:     domain.LegOpen,
				BuyMargin:     margin,
				SellStatus:    domain.LegOpen,
				SellMargin:    margin,
				Round:         round,
				Turn:          turn,
				DeliveryRound: contract.DeliveryRound,
			}
			if err := deal.Validate(); err != nil {
				return err
			}
			if err := tx.InsertDeal(deal); err != nil {
				return &domain.IntegrityError{Op: "deal write", Err: err}
			}

			// Settle the margin difference between the posted limit price
			// and the actual trade price on both sides. The matcher has
			// already proven feasibility; a failed debit here is a bug.
			marginBuy := money.Round(contract.MarginRate.Mul(f.price.Sub(f.buyLimit)).Mul(f.lots))
			if err := s.payMatchedMargin(tx, f.buyAccount, marginBuy, deal.ID); err != nil {
				return err
			}
			marginSell := money.Round(contract.MarginRate.Mul(f.price.Sub(f.sellLimit)).Mul(f.lots))
			if err := s.payMatchedMargin(tx, f.sellAccount, marginSell, deal.ID); err != nil {
				return err
			}

			result.Deals = append(result.Deals, *deal)
			result.Succeeded = append(result.Succeeded,
				domain.MatchedRequest{
					AccountID: f.buyAccount, OrderID: f.buyID,
					Side: domain.SideBuy, Lots: f.lots, Price: f.price,
				},
				domain.MatchedRequest{
					AccountID: f.sellAccount, OrderID: f.sellID,
					Side: domain.SideSell, Lots: f.lots, Price: f.price,
				})
			s.metrics.RecordDeal()
		}

		turnOrders, err := tx.OrdersByTurn(round, turn)
		if err != nil {
			return &domain.IntegrityError{Op: "order read", Err: err}
		}
		for _, o := range turnOrders {
			switch o.Status {
			case domain.OrderStatusPending, domain.OrderStatusNoMargin, domain.OrderStatusInvalid:
				result.Failed = append(result.Failed, domain.FailedRequest{
					AccountID:  o.AccountID,
					OrderID:    o.ID,
					Side:       o.Side,
					RemainLots: o.RemainLots,
					Price:      o.Price,
					Reason:     o.Status,
				})
			}
		}

		contract.LastPrice = last
		if err := tx.SaveContract(&contract); err != nil {
			return &domain.IntegrityError{Op: "contract write", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.contract = &contract
	if turn > s.lastTurn {
		s.lastTurn = turn
	}
	s.log.Info("turn committed",
		slog.Int("round", round),
		slog.Int("turn", turn),
		slog.Int("intents", len(intents)),
		slog.Int("deals", len(result.Deals)))
	return result, nil
}

// payMatchedMargin applies a margin delta the matcher already validated.
func (s *Session) payMatchedMargin(tx *storage.Store, accountID uint, margin decimal.Decimal, dealID uint) error {
	ok, err := s.payMargin(tx, accountID, margin)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.IntegrityError{
			Op:  "match margin",
			Err: fmt.Errorf("account %d cannot post %s for deal %d", accountID, margin, dealID),
		}
	}
	return nil
}

func toBook(orders []domain.Order) []bookOrder {
	book := make([]bookOrder, len(orders))
	for i, o := range orders {
		book[i] = bookOrder{
			id:        o.ID,
			accountID: o.AccountID,
			remain:    o.RemainLots,
			price:     o.Price,
			seq:       o.Seq,
		}
	}
	return book
}
