package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Deal leg statuses. The buy and sell legs transition independently.
const (
	LegOpen  = "open"  // position still held
	LegClose = "close" // force-closed against the holder's intent
	LegDone  = "done"  // filled out normally (counterparty close or delivery)
)

// Deal is one matched quantity between a buy and a sell order. Each side
// posts its own margin and is unwound independently: a forced liquidation
// closes the losing leg and finishes the opposing one in the same step.
type Deal struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	BuyOrderID    uint            `gorm:"index" json:"buy_order_id"`
	SellOrderID   uint            `gorm:"index" json:"sell_order_id"`
	BuyAccountID  uint            `gorm:"index" json:"buy_account_id"`
	SellAccountID uint            `gorm:"index" json:"sell_account_id"`
	Lots          decimal.Decimal `gorm:"type:decimal(30,7)" json:"lots"`
	Price         decimal.Decimal `gorm:"type:decimal(30,7)" json:"price"`
	BuyStatus     string          `gorm:"index" json:"buy_status"`
	BuyMargin     decimal.Decimal `gorm:"type:decimal(30,7)" json:"buy_margin"`
	SellStatus    string          `gorm:"index" json:"sell_status"`
	SellMargin    decimal.Decimal `gorm:"type:decimal(30,7)" json:"sell_margin"`
	Round         int             `gorm:"index:idx_deal_round_turn" json:"round"`
	Turn          int             `gorm:"index:idx_deal_round_turn" json:"turn"`
	DeliveryRound int             `json:"delivery_round"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Validate rejects deals that would pair an account with itself.
func (d *Deal) Validate() error {
	if d.BuyAccountID == d.SellAccountID {
		return &IntegrityError{
			Op:  "deal",
			Err: fmt.Errorf("account %d on both legs", d.BuyAccountID),
		}
	}
	if !d.Lots.IsPositive() {
		return &IntegrityError{
			Op:  "deal",
			Err: fmt.Errorf("non-positive lots %s", d.Lots),
		}
	}
	return nil
}

// MarkProfit is the mark-to-market profit of one leg at price: positive when
// the position gained, negative when it lost.
func (d *Deal) MarkProfit(side string, price decimal.Decimal) decimal.Decimal {
	if side == SideBuy {
		return price.Sub(d.Price).Mul(d.Lots)
	}
	return d.Price.Sub(price).Mul(d.Lots)
}
