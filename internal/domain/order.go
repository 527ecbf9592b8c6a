package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses. Pending orders are the only ones the matcher sees;
// every other status is terminal.
const (
	OrderStatusPending  = "pending"   // resting, waiting for a match
	OrderStatusDone     = "done"      // fully filled
	OrderStatusCancel   = "cancel"    // withdrawn between turns
	OrderStatusClose    = "close"     // unfilled remainder closed at round end
	OrderStatusInvalid  = "invalid"   // price outside the round's limit band
	OrderStatusNoMargin = "no_margin" // available funds below initial margin
)

// Order is a single buy or sell intent. RemainLots only decreases while the
// order is pending; Seq carries submission order for time priority.
type Order struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	AccountID  uint            `gorm:"index" json:"account_id"`
	Side       string          `json:"side"`
	Round      int             `gorm:"index:idx_order_round_turn" json:"round"`
	Turn       int             `gorm:"index:idx_order_round_turn" json:"turn"`
	Seq        int             `json:"seq"`
	Price      decimal.Decimal `gorm:"type:decimal(30,7)" json:"price"`
	Lots       decimal.Decimal `gorm:"type:decimal(30,7)" json:"lots"`
	RemainLots decimal.Decimal `gorm:"type:decimal(30,7)" json:"remain_lots"`
	Status     string          `gorm:"index" json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsPending reports whether the order can still match or be cancelled.
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}
