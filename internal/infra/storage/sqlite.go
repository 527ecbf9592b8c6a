package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"futures_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the transactional, key-indexed persistence collaborator of the
// clearing core. All mutating engine operations run inside Transaction.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path (pure Go driver) and
// migrates the clearing schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.AccountRecord{},
		&domain.Order{},
		&domain.Deal{},
		&domain.Contract{},
		&domain.SettlementRecord{},
		&domain.Spot{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// WithContext returns a Store whose operations carry ctx.
func (s *Store) WithContext(ctx context.Context) *Store {
	return &Store{db: s.db.WithContext(ctx)}
}

// Transaction runs fn inside one database transaction. fn receives a Store
// bound to the transaction; returning an error rolls everything back.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ======================================================================================
// Account operations
// ======================================================================================

// CreateAccount inserts a new participant.
func (s *Store) CreateAccount(a *domain.Account) error {
	return s.db.Create(a).Error
}

// GetAccount retrieves an account by id. Not found is not an error.
func (s *Store) GetAccount(id uint) (*domain.Account, error) {
	var a domain.Account
	err := s.db.First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

// ListAccounts returns all accounts ordered by id.
func (s *Store) ListAccounts() ([]domain.Account, error) {
	var accounts []domain.Account
	err := s.db.Order("id").Find(&accounts).Error
	return accounts, err
}

// ======================================================================================
// Ledger record operations
// ======================================================================================

// InsertRecord appends one account's per-round ledger snapshot.
func (s *Store) InsertRecord(r *domain.AccountRecord) error {
	return s.db.Create(r).Error
}

// RecordFor retrieves one account's ledger record for a round.
func (s *Store) RecordFor(accountID uint, round int) (*domain.AccountRecord, error) {
	var r domain.AccountRecord
	err := s.db.First(&r, "account_id = ? AND round = ?", accountID, round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &r, err
}

// UpdateRecord persists a mutated ledger record.
func (s *Store) UpdateRecord(r *domain.AccountRecord) error {
	return s.db.Save(r).Error
}

// RecordsFor returns every account's ledger record for a round, by account.
func (s *Store) RecordsFor(round int) ([]domain.AccountRecord, error) {
	var records []domain.AccountRecord
	err := s.db.Where("round = ?", round).Order("account_id").Find(&records).Error
	return records, err
}

// ======================================================================================
// Order operations
// ======================================================================================

// InsertOrder persists a new order.
func (s *Store) InsertOrder(o *domain.Order) error {
	return s.db.Create(o).Error
}

// GetOrder retrieves an order by id. Not found is not an error.
func (s *Store) GetOrder(id uint) (*domain.Order, error) {
	var o domain.Order
	err := s.db.First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &o, err
}

// UpdateOrder persists a mutated order.
func (s *Store) UpdateOrder(o *domain.Order) error {
	return s.db.Save(o).Error
}

// PendingOrders returns the round's resting orders on one side, oldest first.
func (s *Store) PendingOrders(round int, side string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.
		Where("round = ? AND side = ? AND status = ?", round, side, domain.OrderStatusPending).
		Order("seq").Find(&orders).Error
	return orders, err
}

// PendingOrdersIn returns every resting order of the round, both sides.
func (s *Store) PendingOrdersIn(round int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.
		Where("round = ? AND status = ?", round, domain.OrderStatusPending).
		Order("seq").Find(&orders).Error
	return orders, err
}

// OrdersByTurn returns the orders submitted in one turn.
func (s *Store) OrdersByTurn(round, turn int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.Where("round = ? AND turn = ?", round, turn).Order("seq").Find(&orders).Error
	return orders, err
}

// OrdersInRound returns every order submitted during a round.
func (s *Store) OrdersInRound(round int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.Where("round = ?", round).Order("seq").Find(&orders).Error
	return orders, err
}

// ======================================================================================
// Deal operations
// ======================================================================================

// InsertDeal persists a new deal.
func (s *Store) InsertDeal(d *domain.Deal) error {
	return s.db.Create(d).Error
}

// UpdateDeal persists a mutated deal.
func (s *Store) UpdateDeal(d *domain.Deal) error {
	return s.db.Save(d).Error
}

// DealsIn returns the deals struck in one turn.
func (s *Store) DealsIn(round, turn int) ([]domain.Deal, error) {
	var deals []domain.Deal
	err := s.db.Where("round = ? AND turn = ?", round, turn).Order("id").Find(&deals).Error
	return deals, err
}

// DealsInRound returns every deal struck during a round.
func (s *Store) DealsInRound(round int) ([]domain.Deal, error) {
	var deals []domain.Deal
	err := s.db.Where("round = ?", round).Order("id").Find(&deals).Error
	return deals, err
}

// OpenLegs returns the deals on which accountID still holds an open leg on
// the given side.
func (s *Store) OpenLegs(accountID uint, side string) ([]domain.Deal, error) {
	var deals []domain.Deal
	q := s.db.Order("id")
	if side == domain.SideBuy {
		q = q.Where("buy_account_id = ? AND buy_status = ?", accountID, domain.LegOpen)
	} else {
		q = q.Where("sell_account_id = ? AND sell_status = ?", accountID, domain.LegOpen)
	}
	err := q.Find(&deals).Error
	return deals, err
}

// OpenLegsAll returns every deal that still has at least one open leg.
func (s *Store) OpenLegsAll() ([]domain.Deal, error) {
	var deals []domain.Deal
	err := s.db.
		Where("buy_status = ? OR sell_status = ?", domain.LegOpen, domain.LegOpen).
		Order("id").Find(&deals).Error
	return deals, err
}

// ======================================================================================
// Contract, settlement and spot operations
// ======================================================================================

// SaveContract creates or updates the single contract row.
func (s *Store) SaveContract(c *domain.Contract) error {
	return s.db.Save(c).Error
}

// GetContract retrieves the contract. Not found is not an error.
func (s *Store) GetContract() (*domain.Contract, error) {
	var c domain.Contract
	err := s.db.First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &c, err
}

// InsertSettlement records the settlement price fixed for a round.
func (s *Store) InsertSettlement(rec *domain.SettlementRecord) error {
	return s.db.Create(rec).Error
}

// SettlementFor retrieves a round's settlement price record.
func (s *Store) SettlementFor(round int) (*domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	err := s.db.First(&rec, "round = ?", round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &rec, err
}

// SaveSpot creates or updates the spot ("actuals") row.
func (s *Store) SaveSpot(sp *domain.Spot) error {
	return s.db.Save(sp).Error
}

// GetSpot retrieves the spot row. Not found is not an error.
func (s *Store) GetSpot() (*domain.Spot, error) {
	var sp domain.Spot
	err := s.db.First(&sp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &sp, err
}
