package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"futures_go/pkg/money"
)

// Account kinds. The reserve account passively takes the other side of
// seeded positions and is excluded from snapshots and settlement marking.
const (
	AccountRetail  = "retail investor"
	AccountMajor   = "major player"
	AccountReserve = "reserve"
)

// Account is one market participant. Created once at initialization;
// per-round balances live in AccountRecord.
type Account struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	InitFund  decimal.Decimal `gorm:"type:decimal(30,7)" json:"init_fund"`
	Profile   string          `json:"profile"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccountRecord is one account's ledger state for one round. A fresh record
// is appended when a round opens; records of past rounds are never mutated.
// Invariant: CurrentFunds == AvailableFunds + SecurityDeposit.
type AccountRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	AccountID       uint            `gorm:"index:idx_record_account_round" json:"account_id"`
	Round           int             `gorm:"index:idx_record_account_round" json:"round"`
	CurrentFunds    decimal.Decimal `gorm:"type:decimal(30,7)" json:"current_funds"`
	AvailableFunds  decimal.Decimal `gorm:"type:decimal(30,7)" json:"available_funds"`
	SecurityDeposit decimal.Decimal `gorm:"type:decimal(30,7)" json:"security_deposit"`
	ProfitLoss      decimal.Decimal `gorm:"type:decimal(30,7)" json:"profit_loss"`
}

// ApplyMargin moves margin between available funds and the security deposit.
// Positive margin posts collateral, negative refunds it. Returns false and
// leaves the record untouched when available funds cannot cover a positive
// margin. The returned clamp is the amount by which the deposit would have
// gone below zero (zero when no clamping happened); the caller decides how
// loudly to log it.
func (r *AccountRecord) ApplyMargin(margin decimal.Decimal) (ok bool, clamp decimal.Decimal) {
	margin = money.Round(margin)
	if r.AvailableFunds.LessThan(margin) {
		return false, decimal.Zero
	}
	r.AvailableFunds = money.Round(r.AvailableFunds.Sub(margin))
	r.SecurityDeposit = money.Round(r.SecurityDeposit.Add(margin))
	if r.SecurityDeposit.IsNegative() {
		clamp = r.SecurityDeposit.Neg()
		r.SecurityDeposit = decimal.Zero
		r.CurrentFunds = money.Round(r.AvailableFunds)
		return true, clamp
	}
	r.Reconcile()
	return true, decimal.Zero
}

// Reconcile recomputes total equity from its parts.
func (r *AccountRecord) Reconcile() {
	r.CurrentFunds = money.Round(r.AvailableFunds.Add(r.SecurityDeposit))
}

// Consistent reports whether total equity equals available funds plus the
// security deposit, within tol.
func (r *AccountRecord) Consistent(tol decimal.Decimal) bool {
	diff := r.CurrentFunds.Sub(r.AvailableFunds.Add(r.SecurityDeposit))
	return diff.Abs().LessThanOrEqual(tol)
}
