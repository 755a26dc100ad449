// Package worker implements the Worker process: it owns the decision
// engine (package native/auction), consuming events the Collector
// publishes over an in-process EventSink and driving the submission
// queues that push transactions back to the chain. The Bidder that
// fills live auctions is an internal loop within this process, not a
// separate one (SPEC_FULL.md §2).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
	"github.com/Robeartt/auctioneer-bot-sub000/notify"
	"github.com/Robeartt/auctioneer-bot-sub000/priceclient"
)

// Default per-submission retry budgets (spec.md §5, backpressure).
const (
	workQueueRetries     = 3
	bidQueueRetries      = 10
	unwindQueueRetries   = 2
	creationQueueRetries = 3
)

// PoolSetup is one configured pool's static operating parameters.
type PoolSetup struct {
	Name                 string
	PoolAddress          string
	PrimaryAsset         auction.Asset
	MinPrimaryCollateral *big.Int
}

// Worker wires the decision engine to its external dependencies and
// processes events handed to it by the Collector.
type Worker struct {
	Client   auction.ChainClient
	Reader   PoolReader
	Store    auction.Store
	Notify   notify.Sink
	Prices   *priceclient.Manager
	Backstop func(pool auction.Pool) auction.BackstopValuator

	WorkQueue *auction.Queue
	BidQueue  *auction.Queue

	Fillers []auction.Filler
	Pools   []PoolSetup

	BackstopTokenAddress auction.Asset
	BackstopAddress      string

	Logger *slog.Logger

	oracles map[string]*auction.OracleHistory
}

// New constructs a Worker. The work and bid queues are created here so
// their onDrop hooks can notify through the same sink.
func New(
	client auction.ChainClient,
	reader PoolReader,
	store auction.Store,
	notifySink notify.Sink,
	prices *priceclient.Manager,
	backstop func(pool auction.Pool) auction.BackstopValuator,
	fillers []auction.Filler,
	pools []PoolSetup,
	backstopTokenAddress auction.Asset,
	backstopAddress string,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		Client:               client,
		Reader:               reader,
		Store:                store,
		Notify:               notifySink,
		Prices:               prices,
		Backstop:             backstop,
		Fillers:              fillers,
		Pools:                pools,
		BackstopTokenAddress: backstopTokenAddress,
		BackstopAddress:      backstopAddress,
		Logger:               logger,
		oracles:              make(map[string]*auction.OracleHistory),
	}
	w.WorkQueue = auction.NewQueue("work", w.onDrop)
	w.BidQueue = auction.NewQueue("bid", w.onDrop)
	return w
}

func (w *Worker) onDrop(s auction.Submission, reason string) {
	w.Logger.Warn("worker: submission dropped", "kind", s.Kind, "reason", reason)
	body := fmt.Sprintf("dropped submission kind=%d user=%s reason=%s", s.Kind, s.User, reason)
	if err := w.Notify.Notify(context.Background(), "auctioneer-bot", s.PoolID, body); err != nil {
		w.Logger.Warn("worker: drop notification failed", "error", err)
	}
}

func (w *Worker) oracleFor(poolID string) *auction.OracleHistory {
	h, ok := w.oracles[poolID]
	if !ok {
		h = auction.NewOracleHistory(auction.DefaultOracleWindow)
		w.oracles[poolID] = h
	}
	return h
}

// HandleEvent dispatches one event to the matching handler, per the
// event-kind table in SPEC_FULL.md §4.9.
func (w *Worker) HandleEvent(ctx context.Context, ev auction.Event) error {
	switch ev.Kind {
	case auction.EventValidatePools:
		return w.handleValidatePools(ctx)
	case auction.EventPriceUpdate:
		return w.handlePriceUpdate(ctx)
	case auction.EventOracleScan:
		pool, _ := ev.Payload.(string)
		return w.handleOracleScan(ctx, pool)
	case auction.EventLiqScan:
		pool, _ := ev.Payload.(string)
		return w.handleLiqScan(ctx, pool)
	case auction.EventUserRefresh:
		cutoff, _ := ev.Payload.(uint32)
		return w.handleUserRefresh(ctx, cutoff)
	case auction.EventCheckUser:
		req, _ := ev.Payload.(CheckUserRequest)
		return w.handleCheckUser(ctx, req)
	case auction.EventLedger:
		ledger, _ := ev.Payload.(uint32)
		return w.handleLedger(ctx, ledger)
	default:
		return fmt.Errorf("worker: unrecognized event kind %q", ev.Kind)
	}
}

// handleValidatePools asserts every configured pool's on-chain backstop
// address matches the operator's configuration. A mismatch is fatal
// per spec.md §7 tier 5; it bypasses the dispatcher's retry/dead-letter
// wrapper entirely (see auction.Dispatcher.Dispatch).
func (w *Worker) handleValidatePools(ctx context.Context) error {
	for _, cfg := range w.Pools {
		pool, err := w.Reader.LoadPool(ctx, cfg.PoolAddress)
		if err != nil {
			return fmt.Errorf("worker: validate pool %s: %w", cfg.Name, err)
		}
		if w.BackstopAddress != "" && pool.BackstopAddress != w.BackstopAddress {
			return fmt.Errorf("worker: pool %s reports backstop %s, expected %s", cfg.Name, pool.BackstopAddress, w.BackstopAddress)
		}
		w.Logger.Info("worker: validated pool", "pool", cfg.Name, "address", cfg.PoolAddress)
	}
	return nil
}

// handlePriceUpdate refreshes the PriceEntry table from every
// configured source, in parallel. Individual source failures are
// logged, never propagated: one dead exchange should not block the
// others (spec.md §4.9).
func (w *Worker) handlePriceUpdate(ctx context.Context) error {
	if w.Prices == nil {
		return nil
	}
	assets := w.trackedAssets()
	type result struct {
		asset auction.Asset
		price float64
		err   error
	}
	results := make(chan result, len(assets))
	for _, asset := range assets {
		go func(a auction.Asset) {
			price, err := w.Prices.FetchMedian(ctx, string(a))
			results <- result{asset: a, price: price, err: err}
		}(asset)
	}
	for range assets {
		r := <-results
		if r.err != nil {
			w.Logger.Warn("worker: price fetch failed", "asset", r.asset, "error", r.err)
			continue
		}
		entry := auction.PriceEntry{AssetID: r.asset, Price: r.price, Timestamp: time.Now().Unix()}
		if err := w.Store.UpsertPrice(ctx, entry); err != nil {
			w.Logger.Warn("worker: price upsert failed", "asset", r.asset, "error", err)
		}
	}
	return nil
}

// trackedAssets is every asset any filler is configured to bid or lot
// in, the universe PRICE_UPDATE needs quotes for.
func (w *Worker) trackedAssets() []auction.Asset {
	seen := make(map[auction.Asset]struct{})
	for _, f := range w.Fillers {
		for a := range f.SupportedBid {
			seen[a] = struct{}{}
		}
		for a := range f.SupportedLot {
			seen[a] = struct{}{}
		}
	}
	out := make([]auction.Asset, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	return out
}
