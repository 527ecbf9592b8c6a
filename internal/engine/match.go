package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"futures_go/pkg/money"
)

// bookOrder is one resting order as the matcher sees it.
type bookOrder struct {
	id        uint
	accountID uint
	remain    decimal.Decimal
	price     decimal.Decimal
	seq       int
}

// fill is one committed match between a buy and a sell order.
type fill struct {
	buyID, sellID           uint
	buyAccount, sellAccount uint
	lots                    decimal.Decimal
	price                   decimal.Decimal
	buyLimit, sellLimit     decimal.Decimal
}

// tradePrice keeps tape continuity: trade at the buy price when the tape is
// at or above it, at the sell price when the tape is at or below it, and at
// the last traded price in between.
func tradePrice(last, buy, sell decimal.Decimal) decimal.Decimal {
	switch {
	case last.GreaterThanOrEqual(buy):
		return buy
	case last.LessThanOrEqual(sell):
		return sell
	default:
		return last
	}
}

// matchOrders pairs resting orders under price/time priority and margin
// feasibility. Buys are served best price first (ties oldest first); each buy
// scans sells from the best price, skipping same-account pairs and sellers
// whose available funds cannot cover the incremental margin, without either
// losing its priority position. available is mutated in place as margins are
// debited and refunded. Terminates after at most one pass of the sell list
// per buy.
func matchOrders(buys, sells []bookOrder, lastPrice, marginRate decimal.Decimal, available map[uint]decimal.Decimal) (fills []fill, last decimal.Decimal, remaining map[uint]decimal.Decimal) {
	sort.SliceStable(buys, func(i, j int) bool {
		if !buys[i].price.Equal(buys[j].price) {
			return buys[i].price.GreaterThan(buys[j].price)
		}
		return buys[i].seq < buys[j].seq
	})
	sort.SliceStable(sells, func(i, j int) bool {
		if !sells[i].price.Equal(sells[j].price) {
			return sells[i].price.LessThan(sells[j].price)
		}
		return sells[i].seq < sells[j].seq
	})

	last = lastPrice
	remaining = make(map[uint]decimal.Decimal)

	for bi := range buys {
		buy := &buys[bi]
		for si := range sells {
			if !buy.remain.IsPositive() {
				break
			}
			sell := &sells[si]
			if !sell.remain.IsPositive() {
				continue
			}
			// Sells are sorted ascending: once the best remaining sell
			// price exceeds the buy, nothing further can cross.
			if sell.price.GreaterThan(buy.price) {
				break
			}
			if sell.accountID == buy.accountID {
				continue
			}

			price := tradePrice(last, buy.price, sell.price)
			lots := money.Min(buy.remain, sell.remain)

			// The seller may owe incremental margin when the trade prints
			// above its limit. If its available funds cannot cover it,
			// skip this seller; its resting order stays in the book.
			marginSell := money.Round(marginRate.Mul(price.Sub(sell.price)).Mul(lots))
			if marginSell.GreaterThan(available[sell.accountID]) {
				continue
			}
			available[sell.accountID] = available[sell.accountID].Sub(marginSell)
			// The buyer side is never positive: trading at or below the
			// buy limit refunds part of the posted margin.
			marginBuy := money.Round(marginRate.Mul(price.Sub(buy.price)).Mul(lots))
			available[buy.accountID] = available[buy.accountID].Sub(marginBuy)

			fills = append(fills, fill{
				buyID:       buy.id,
				sellID:      sell.id,
				buyAccount:  buy.accountID,
				sellAccount: sell.accountID,
				lots:        lots,
				price:       price,
				buyLimit:    buy.price,
				sellLimit:   sell.price,
			})
			last = price

			buy.remain = buy.remain.Sub(lots)
			sell.remain = sell.remain.Sub(lots)
			remaining[buy.id] = buy.remain
			remaining[sell.id] = sell.remain
		}
	}

	return fills, last, remaining
}
