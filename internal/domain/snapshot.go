package domain

import "github.com/shopspring/decimal"

// OrderIntent is one order request from the intake collaborator.
type OrderIntent struct {
	AccountID uint            `json:"account_id"`
	Side      string          `json:"side"`
	Lots      decimal.Decimal `json:"lots"`
	Price     decimal.Decimal `json:"price"`
}

// MatchedRequest is one side of a deal reported back to its owner.
type MatchedRequest struct {
	AccountID uint            `json:"account_id"`
	OrderID   uint            `json:"order_id"`
	Side      string          `json:"side"`
	Lots      decimal.Decimal `json:"lots"`
	Price     decimal.Decimal `json:"price"`
}

// FailedRequest is an order from the current turn that did not (fully)
// trade, with the reason it is still outstanding.
type FailedRequest struct {
	AccountID  uint            `json:"account_id"`
	OrderID    uint            `json:"order_id"`
	Side       string          `json:"side"`
	RemainLots decimal.Decimal `json:"remain_lots"`
	Price      decimal.Decimal `json:"price"`
	Reason     string          `json:"reason"` // pending | no_margin | invalid
}

// HolderEntry is one account's open volume on one side of the market.
type HolderEntry struct {
	Name string          `json:"name"`
	Lots decimal.Decimal `json:"lots"`
}

// MarketSnapshot is the market view handed to every participant each turn.
type MarketSnapshot struct {
	SettlementPrice decimal.Decimal `json:"settlement_price"`
	SpotPrice       decimal.Decimal `json:"spot_price"`
	Inventory       decimal.Decimal `json:"inventory"`
	Longs           []HolderEntry   `json:"longs"`
	Shorts          []HolderEntry   `json:"shorts"`
	LastRoundLongs  []HolderEntry   `json:"last_round_longs"`
	LastRoundShorts []HolderEntry   `json:"last_round_shorts"`
}

// PositionLot is an open position aggregated by trade price.
type PositionLot struct {
	Lots  decimal.Decimal `json:"lots"`
	Price decimal.Decimal `json:"price"`
}

// AccountSnapshot is one account's private view of its ledger state.
type AccountSnapshot struct {
	Capital         decimal.Decimal `json:"capital"`
	AvailableFunds  decimal.Decimal `json:"available_funds"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
	Longs           []PositionLot   `json:"longs"`
	Shorts          []PositionLot   `json:"shorts"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
}

// OrderFlowSummary aggregates the round's order flow so far per side.
type OrderFlowSummary struct {
	BuyLots      decimal.Decimal `json:"buy_lots"`
	BuyAvgPrice  decimal.Decimal `json:"buy_avg_price"`
	SellLots     decimal.Decimal `json:"sell_lots"`
	SellAvgPrice decimal.Decimal `json:"sell_avg_price"`
}
