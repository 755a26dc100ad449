package worker

import (
	"context"
	"time"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// ScanIntervals configures how often the Worker's own periodic events
// (including PRICE_UPDATE) fire on top of the Collector-driven event
// stream.
type ScanIntervals struct {
	OracleScan   time.Duration
	LiqScan      time.Duration
	UserRefresh  time.Duration
	PriceUpdate  time.Duration
}

// DefaultScanIntervals matches the cadence a single-pool deployment
// typically runs: cheap oracle-driven scans frequently, the exhaustive
// liquidation sweep and user-refresh pass far less often.
func DefaultScanIntervals() ScanIntervals {
	return ScanIntervals{
		OracleScan:  30 * time.Second,
		LiqScan:     10 * time.Minute,
		UserRefresh: 5 * time.Minute,
		PriceUpdate: 15 * time.Second,
	}
}

// Run drains the Collector's event channel and the Worker's own
// periodic timers, dispatching every event through d. It blocks until
// ctx is cancelled. VALIDATE_POOLS is sent once up front and any
// failure returned immediately, since it is fatal per spec.md §7.
func (w *Worker) Run(ctx context.Context, events <-chan auction.Event, d *auction.Dispatcher, intervals ScanIntervals) error {
	if err := d.Dispatch(ctx, auction.Event{Kind: auction.EventValidatePools}, w.HandleEvent); err != nil {
		return err
	}

	go w.WorkQueue.Run(ctx, w.Submit, 0)
	go w.BidQueue.Run(ctx, w.Submit, 0)

	oracleTicker := time.NewTicker(intervals.OracleScan)
	liqTicker := time.NewTicker(intervals.LiqScan)
	refreshTicker := time.NewTicker(intervals.UserRefresh)
	priceTicker := time.NewTicker(intervals.PriceUpdate)
	defer oracleTicker.Stop()
	defer liqTicker.Stop()
	defer refreshTicker.Stop()
	defer priceTicker.Stop()

	var latestLedger uint32
	dispatch := func(ev auction.Event) {
		if err := d.Dispatch(ctx, ev, w.HandleEvent); err != nil {
			w.Logger.Warn("worker: event dispatch failed", "kind", ev.Kind, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == auction.EventLedger {
				if ledger, ok := ev.Payload.(uint32); ok {
					latestLedger = ledger
				}
			}
			dispatch(ev)

		case <-oracleTicker.C:
			for _, p := range w.Pools {
				dispatch(auction.Event{Kind: auction.EventOracleScan, Payload: p.PoolAddress, Timestamp: time.Now().Unix()})
			}

		case <-liqTicker.C:
			for _, p := range w.Pools {
				dispatch(auction.Event{Kind: auction.EventLiqScan, Payload: p.PoolAddress, Timestamp: time.Now().Unix()})
			}

		case <-refreshTicker.C:
			cutoff := latestLedger
			if cutoff > 0 {
				cutoff--
			}
			dispatch(auction.Event{Kind: auction.EventUserRefresh, Payload: cutoff, Timestamp: time.Now().Unix()})

		case <-priceTicker.C:
			dispatch(auction.Event{Kind: auction.EventPriceUpdate, Timestamp: time.Now().Unix()})
		}
	}
}
