package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersAdmitted      atomic.Uint64
	ordersRejected      atomic.Uint64
	dealsMatched        atomic.Uint64
	ordersCancelled     atomic.Uint64
	marginTopUps        atomic.Uint64
	forcedLiquidations  atomic.Uint64
	settlementAnomalies atomic.Uint64
	roundsSettled       atomic.Uint64
}

// RecordOrderAdmitted records a pending order entering the book.
func (m *Metrics) RecordOrderAdmitted() {
	m.ordersAdmitted.Add(1)
}

// RecordOrderRejected records an invalid or no_margin order.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordDeal records a matched deal.
func (m *Metrics) RecordDeal() {
	m.dealsMatched.Add(1)
}

// RecordCancel records a withdrawn order.
func (m *Metrics) RecordCancel() {
	m.ordersCancelled.Add(1)
}

// RecordTopUp records a settlement-time margin top-up.
func (m *Metrics) RecordTopUp() {
	m.marginTopUps.Add(1)
}

// RecordForcedLiquidation records an engine-initiated position closure.
func (m *Metrics) RecordForcedLiquidation() {
	m.forcedLiquidations.Add(1)
}

// RecordAnomaly records a clamped ledger inconsistency.
func (m *Metrics) RecordAnomaly() {
	m.settlementAnomalies.Add(1)
}

// RecordRoundSettled records a completed round settlement.
func (m *Metrics) RecordRoundSettled() {
	m.roundsSettled.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersAdmitted      uint64
	OrdersRejected      uint64
	DealsMatched        uint64
	OrdersCancelled     uint64
	MarginTopUps        uint64
	ForcedLiquidations  uint64
	SettlementAnomalies uint64
	RoundsSettled       uint64
	Timestamp           time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		OrdersAdmitted:      m.ordersAdmitted.Load(),
		OrdersRejected:      m.ordersRejected.Load(),
		DealsMatched:        m.dealsMatched.Load(),
		OrdersCancelled:     m.ordersCancelled.Load(),
		MarginTopUps:        m.marginTopUps.Load(),
		ForcedLiquidations:  m.forcedLiquidations.Load(),
		SettlementAnomalies: m.settlementAnomalies.Load(),
		RoundsSettled:       m.roundsSettled.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersAdmitted.Store(0)
	m.ordersRejected.Store(0)
	m.dealsMatched.Store(0)
	m.ordersCancelled.Store(0)
	m.marginTopUps.Store(0)
	m.forcedLiquidations.Store(0)
	m.settlementAnomalies.Store(0)
	m.roundsSettled.Store(0)
}
