// Package engine implements the clearing core of the futures market
// simulator: margin-aware order admission, price/time-priority matching,
// round settlement with forced liquidation, and final delivery.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"futures_go/internal/domain"
	"futures_go/internal/infra"
	"futures_go/internal/infra/storage"
	"futures_go/pkg/money"
)

// Config carries the contract parameters of one simulation.
type Config struct {
	MarginRate    decimal.Decimal // fraction, e.g. 0.1 for 10%
	PriceLimit    decimal.Decimal // fraction, e.g. 0.3 for ±30%
	DeliveryRound int
	TurnsPerRound int
	InitPrice     decimal.Decimal
	InitSpotPrice decimal.Decimal
	Inventory     decimal.Decimal
	ReserveFunds  decimal.Decimal
}

// AccountSeed describes one participant at initialization.
type AccountSeed struct {
	Name    string
	Kind    string
	Capital decimal.Decimal
	Profile string
}

// Session is the single-writer clearing session. It owns the round counter,
// the contract parameters and the ledger handle; every mutating call is
// serialized and commits as one storage transaction.
type Session struct {
	mu      sync.Mutex
	store   *storage.Store
	log     *slog.Logger
	metrics *infra.Metrics
	cfg     Config

	contract  *domain.Contract
	reserveID uint
	nextSeq   int
	lastTurn  int // highest turn index seen this round, -1 when none
}

// NewSession wires a session to its collaborators. If the store already
// holds a contract, the session resumes it; otherwise Init must be called
// before any trading operation.
func NewSession(store *storage.Store, log *slog.Logger, metrics *infra.Metrics, cfg Config) (*Session, error) {
	s := &Session{
		store:    store,
		log:      log,
		metrics:  metrics,
		cfg:      cfg,
		lastTurn: -1,
	}

	contract, err := store.GetContract()
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	if contract != nil {
		s.contract = contract
		accounts, err := store.ListAccounts()
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		for _, a := range accounts {
			if a.Kind == domain.AccountReserve {
				s.reserveID = a.ID
				break
			}
		}
		orders, err := store.OrdersInRound(contract.CurrentRound)
		if err != nil {
			return nil, fmt.Errorf("load orders: %w", err)
		}
		for _, o := range orders {
			if o.Seq >= s.nextSeq {
				s.nextSeq = o.Seq + 1
			}
			if o.Turn > s.lastTurn {
				s.lastTurn = o.Turn
			}
		}
	}
	return s, nil
}

// Init creates the contract, the spot record, every participant's account
// with its round-0 ledger snapshot, and the passive reserve account.
func (s *Session) Init(ctx context.Context, seeds []AccountSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.contract != nil {
		return fmt.Errorf("session already initialized")
	}

	contract := &domain.Contract{
		Name:           "Nickel",
		Commodity:      "metal",
		InitPrice:      money.Round(s.cfg.InitPrice),
		PriceLimit:     s.cfg.PriceLimit,
		MarginRate:     s.cfg.MarginRate,
		DeliveryRound:  s.cfg.DeliveryRound,
		CurrentRound:   0,
		LastPrice:      money.Round(s.cfg.InitPrice),
		LastSettlement: money.Round(s.cfg.InitPrice),
	}

	err := s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		if err := tx.SaveContract(contract); err != nil {
			return err
		}
		if err := tx.InsertSettlement(&domain.SettlementRecord{
			ContractID: contract.ID,
			Round:      0,
			Price:      contract.InitPrice,
		}); err != nil {
			return err
		}
		if err := tx.SaveSpot(&domain.Spot{
			Name:      contract.Name,
			Inventory: s.cfg.Inventory,
			Price:     money.Round(s.cfg.InitSpotPrice),
			Round:     0,
		}); err != nil {
			return err
		}

		for _, seed := range seeds {
			kind := seed.Kind
			if kind == "" {
				kind = domain.AccountRetail
			}
			account := &domain.Account{
				Name:     seed.Name,
				Kind:     kind,
				InitFund: money.Round(seed.Capital),
				Profile:  seed.Profile,
			}
			if err := tx.CreateAccount(account); err != nil {
				return err
			}
			if err := tx.InsertRecord(&domain.AccountRecord{
				AccountID:      account.ID,
				Round:          0,
				CurrentFunds:   account.InitFund,
				AvailableFunds: account.InitFund,
			}); err != nil {
				return err
			}
		}

		reserve := &domain.Account{
			Name:     "Reserve",
			Kind:     domain.AccountReserve,
			InitFund: money.Round(s.cfg.ReserveFunds),
			Profile:  "passive counterparty for seeded positions",
		}
		if err := tx.CreateAccount(reserve); err != nil {
			return err
		}
		if err := tx.InsertRecord(&domain.AccountRecord{
			AccountID:      reserve.ID,
			Round:          0,
			CurrentFunds:   reserve.InitFund,
			AvailableFunds: reserve.InitFund,
		}); err != nil {
			return err
		}
		s.reserveID = reserve.ID
		return nil
	})
	if err != nil {
		return err
	}

	s.contract = contract
	s.log.Info("session initialized",
		slog.Int("accounts", len(seeds)),
		slog.String("init_price", contract.InitPrice.String()),
		slog.Int("delivery_round", contract.DeliveryRound))
	return nil
}

// Initialized reports whether the contract has been created.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contract != nil
}

// Round returns the current round counter.
func (s *Session) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return 0
	}
	return s.contract.CurrentRound
}

// Delivered reports whether final delivery has happened.
func (s *Session) Delivered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contract != nil && s.contract.Delivered
}

// payMargin moves margin between an account's available funds and security
// deposit within the current round's record. Positive posts, negative
// refunds. Returns false when available funds cannot cover a positive
// margin; the record is left untouched in that case.
func (s *Session) payMargin(tx *storage.Store, accountID uint, margin decimal.Decimal) (bool, error) {
	rec, err := tx.RecordFor(accountID, s.contract.CurrentRound)
	if err != nil {
		return false, &domain.IntegrityError{Op: "ledger read", Err: err}
	}
	if rec == nil {
		return false, &domain.IntegrityError{
			Op:  "ledger read",
			Err: fmt.Errorf("no record for account %d in round %d", accountID, s.contract.CurrentRound),
		}
	}
	ok, clamp := rec.ApplyMargin(margin)
	if !ok {
		return false, nil
	}
	if clamp.IsPositive() {
		s.logClamp(accountID, clamp)
	}
	if err := tx.UpdateRecord(rec); err != nil {
		return false, &domain.IntegrityError{Op: "ledger write", Err: err}
	}
	return true, nil
}

// logClamp reports a security deposit that had to be floored at zero. A
// clamp beyond the rounding tolerance points at an accounting bug, not at
// accumulated rounding noise.
func (s *Session) logClamp(accountID uint, clamp decimal.Decimal) {
	s.metrics.RecordAnomaly()
	if clamp.GreaterThan(decimal.NewFromInt(1)) {
		s.log.Error("security deposit clamped to zero",
			slog.Uint64("account", uint64(accountID)),
			slog.String("clamp", clamp.String()),
			slog.Int("round", s.contract.CurrentRound))
		return
	}
	s.log.Warn("security deposit clamped to zero",
		slog.Uint64("account", uint64(accountID)),
		slog.String("clamp", clamp.String()),
		slog.Int("round", s.contract.CurrentRound))
}

// Cancel withdraws the listed orders. Only orders still pending can be
// cancelled; anything else is a logged no-op. The remaining quantity's
// margin is refunded.
func (s *Session) Cancel(ctx context.Context, orderIDs []uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return domain.ErrNotInitialized
	}

	return s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		for _, id := range orderIDs {
			order, err := tx.GetOrder(id)
			if err != nil {
				return &domain.IntegrityError{Op: "order read", Err: err}
			}
			if order == nil || !order.IsPending() {
				s.log.Warn("cancel skipped, order not pending", slog.Uint64("order", uint64(id)))
				continue
			}
			order.Status = domain.OrderStatusCancel
			if err := tx.UpdateOrder(order); err != nil {
				return &domain.IntegrityError{Op: "order write", Err: err}
			}
			refund := s.contract.InitialMargin(order.Price, order.RemainLots).Neg()
			if _, err := s.payMargin(tx, order.AccountID, refund); err != nil {
				return err
			}
			s.metrics.RecordCancel()
		}
		return nil
	})
}

// SupplementFunds injects external capital straight into an account's
// available funds. The funds-conservation property holds net of these.
func (s *Session) SupplementFunds(ctx context.Context, accountID uint, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return domain.ErrNotInitialized
	}

	amount = money.Round(amount)
	return s.store.WithContext(ctx).Transaction(func(tx *storage.Store) error {
		rec, err := tx.RecordFor(accountID, s.contract.CurrentRound)
		if err != nil {
			return &domain.IntegrityError{Op: "ledger read", Err: err}
		}
		if rec == nil {
			return domain.ErrUnknownAccount
		}
		rec.AvailableFunds = money.Round(rec.AvailableFunds.Add(amount))
		rec.Reconcile()
		if err := tx.UpdateRecord(rec); err != nil {
			return &domain.IntegrityError{Op: "ledger write", Err: err}
		}
		s.log.Info("funds supplemented",
			slog.Uint64("account", uint64(accountID)),
			slog.String("amount", amount.String()))
		return nil
	})
}
