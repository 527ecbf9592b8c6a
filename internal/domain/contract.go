package domain

import (
	"github.com/shopspring/decimal"

	"futures_go/pkg/money"
)

// Contract is the single traded instrument. One row, mutated every round.
type Contract struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Name           string          `json:"name"`
	Commodity      string          `json:"commodity"`
	InitPrice      decimal.Decimal `gorm:"type:decimal(30,7)" json:"init_price"`
	PriceLimit     decimal.Decimal `gorm:"type:decimal(10,5)" json:"price_limit"` // fraction, e.g. 0.1 for ±10%
	MarginRate     decimal.Decimal `gorm:"type:decimal(10,5)" json:"margin_rate"` // fraction
	DeliveryRound  int             `json:"delivery_round"`
	CurrentRound   int             `json:"current_round"`
	LastPrice      decimal.Decimal `gorm:"type:decimal(30,7)" json:"last_price"`      // last traded price (tape)
	LastSettlement decimal.Decimal `gorm:"type:decimal(30,7)" json:"last_settlement"` // prior round's settlement price
	Delivered      bool            `json:"delivered"`
}

// PriceBand is the admissible limit-price band for the current round,
// derived from the prior round's settlement price.
func (c *Contract) PriceBand() (low, high decimal.Decimal) {
	one := decimal.NewFromInt(1)
	low = money.Round(c.LastSettlement.Mul(one.Sub(c.PriceLimit)))
	high = money.Round(c.LastSettlement.Mul(one.Add(c.PriceLimit)))
	return low, high
}

// InBand reports whether price falls inside the round's limit band.
func (c *Contract) InBand(price decimal.Decimal) bool {
	low, high := c.PriceBand()
	return price.GreaterThanOrEqual(low) && price.LessThanOrEqual(high)
}

// InitialMargin is the collateral required to admit an order.
func (c *Contract) InitialMargin(price, lots decimal.Decimal) decimal.Decimal {
	return money.Round(c.MarginRate.Mul(price).Mul(lots))
}

// SettlementRecord is the settlement price fixed for one round.
type SettlementRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ContractID uint            `gorm:"index:idx_settlement_round" json:"contract_id"`
	Round      int             `gorm:"index:idx_settlement_round" json:"round"`
	Price      decimal.Decimal `gorm:"type:decimal(30,7)" json:"price"`
}

// Spot carries the physical ("actuals") side of the instrument reported in
// market snapshots: inventory on hand and the current spot price.
type Spot struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Name      string          `json:"name"`
	Inventory decimal.Decimal `gorm:"type:decimal(30,7)" json:"inventory"`
	Price     decimal.Decimal `gorm:"type:decimal(30,7)" json:"price"`
	Round     int             `json:"round"`
}
