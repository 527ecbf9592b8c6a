package infra

import (
	"sync"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := &Metrics{}

	m.RecordOrderAdmitted()
	m.RecordOrderAdmitted()
	m.RecordOrderRejected()
	m.RecordDeal()
	m.RecordCancel()
	m.RecordTopUp()
	m.RecordForcedLiquidation()
	m.RecordAnomaly()
	m.RecordRoundSettled()

	snap := m.Snapshot()
	if snap.OrdersAdmitted != 2 {
		t.Errorf("expected 2 admitted, got %d", snap.OrdersAdmitted)
	}
	if snap.OrdersRejected != 1 || snap.DealsMatched != 1 || snap.OrdersCancelled != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.MarginTopUps != 1 || snap.ForcedLiquidations != 1 {
		t.Errorf("unexpected settlement counters: %+v", snap)
	}
	if snap.SettlementAnomalies != 1 || snap.RoundsSettled != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}

	m.Reset()
	snap = m.Snapshot()
	if snap.OrdersAdmitted != 0 || snap.DealsMatched != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", snap)
	}
}

func TestMetricsConcurrentAccess(t *testing.T) {
	m := &Metrics{}
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordDeal()
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().DealsMatched; got != 1000 {
		t.Errorf("expected 1000 deals, got %d", got)
	}
}
