package worker

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// rebidWindow and rebidStride implement the "reload/re-plan" condition
// from spec.md §4.9: an auction is replanned whenever it has never been
// planned, is within rebidWindow ledgers of its currently planned fill
// block, or every rebidStride ledgers otherwise.
const (
	rebidWindow = 5
	rebidStride = 10
)

// handleLedger is the Bidder: for every tracked auction across every
// configured pool, it decides whether to replan the fill block and
// whether to enqueue the bid submission now (spec.md §4.9).
func (w *Worker) handleLedger(ctx context.Context, ledger uint32) error {
	for _, cfg := range w.Pools {
		pool, err := w.Reader.LoadPool(ctx, cfg.PoolAddress)
		if err != nil {
			w.Logger.Warn("worker: bidder: load pool failed", "pool", cfg.Name, "error", err)
			continue
		}
		entries, err := w.Store.ListAuctions(ctx, pool.ID)
		if err != nil {
			w.Logger.Warn("worker: bidder: list auctions failed", "pool", pool.ID, "error", err)
			continue
		}
		for _, entry := range entries {
			if err := w.bidOnEntry(ctx, pool, entry, ledger); err != nil {
				w.Logger.Warn("worker: bidder: entry failed", "pool", pool.ID, "user", entry.UserID, "error", err)
			}
		}
	}
	return nil
}

func (w *Worker) bidOnEntry(ctx context.Context, pool auction.Pool, entry auction.AuctionEntry, ledger uint32) error {
	if w.BidQueue.ContainsAuction(entry) {
		return nil
	}

	needsReplan := entry.FillBlock == 0
	if !needsReplan {
		delta := int64(entry.FillBlock) - int64(ledger+1)
		if delta <= rebidWindow || delta%rebidStride == 0 {
			needsReplan = true
		}
	}

	if needsReplan {
		replanned, err := w.replanEntry(ctx, pool, entry, ledger)
		if err != nil {
			return err
		}
		if !replanned.ok {
			return w.Store.DeleteAuction(ctx, pool.ID, entry.UserID, entry.Type)
		}
		entry = replanned.entry
	}

	if entry.FillBlock <= ledger+1 {
		filler, ok := w.fillerByPubkey(entry.FillerPubkey)
		if !ok {
			return fmt.Errorf("unknown filler %q for queued bid", entry.FillerPubkey)
		}
		w.BidQueue.Add(auction.Submission{
			Kind:         auction.SubmissionBid,
			Filler:       filler,
			AuctionEntry: entry,
			PoolID:       pool.ID,
			User:         entry.UserID,
			Type:         entry.Type,
		}, bidQueueRetries, 0)
	}
	return nil
}

type replanResult struct {
	ok    bool
	entry auction.AuctionEntry
}

// replanEntry reloads the live auction snapshot, re-values it, and
// re-runs the fill planner against every filler able to take it,
// keeping whichever filler's plan yields the soonest fill block. If
// the auction has vanished on-chain, ok is false and the caller should
// delete the tracking row.
func (w *Worker) replanEntry(ctx context.Context, pool auction.Pool, entry auction.AuctionEntry, ledger uint32) (replanResult, error) {
	snap, exists, err := w.Reader.LoadAuctionSnapshot(ctx, pool, entry.UserID, entry.Type)
	if err != nil {
		return replanResult{}, fmt.Errorf("load auction snapshot: %w", err)
	}
	if !exists {
		return replanResult{}, nil
	}

	oracle, err := w.Reader.LoadOracle(ctx, pool)
	if err != nil {
		return replanResult{}, fmt.Errorf("load oracle: %w", err)
	}

	var best *auction.FillPlan
	var bestFiller auction.Filler
	for _, filler := range w.Fillers {
		if !filler.SupportsAuction(snap) {
			continue
		}
		poolCfg, _ := filler.PoolConfig(pool.ID)

		assets := uniqueAssets(snap.Lot, snap.Bid)
		balances, err := w.Reader.LoadBalances(ctx, filler.Name, assets)
		if err != nil {
			w.Logger.Warn("worker: bidder: load balances failed", "filler", filler.Name, "error", err)
			continue
		}

		valuation, err := auction.ValueAuction(snap, pool, oracle.Prices, balances, nil, w.BackstopTokenAddress, w.Backstop(pool))
		if err != nil {
			w.Logger.Warn("worker: bidder: valuation failed", "filler", filler.Name, "user", entry.UserID, "error", err)
			continue
		}

		positions, err := w.Reader.LoadPositions(ctx, pool, filler.Name)
		if err != nil {
			w.Logger.Warn("worker: bidder: load filler positions failed", "filler", filler.Name, "error", err)
			continue
		}
		fEColl, fELiab := effectivePosition(pool, positions, oracle.Prices)

		plan, err := auction.PlanFill(auction.FillPlanInput{
			Filler:                     filler,
			PoolConfig:                 poolCfg,
			Auction:                    snap,
			Pool:                       pool,
			Valuation:                  valuation,
			FillerBalances:             balances,
			FillerEffectiveCollateral:  fEColl,
			FillerEffectiveLiabilities: fELiab,
			NextLedger:                 ledger + 1,
			BackstopLPAsset:            w.BackstopTokenAddress,
		})
		if err != nil {
			continue
		}
		if best == nil || plan.FillBlock < best.FillBlock {
			p := plan
			best = &p
			bestFiller = filler
		}
	}

	if best == nil {
		return replanResult{}, nil
	}

	entry.FillerPubkey = bestFiller.Name
	entry.FillBlock = best.FillBlock
	entry.Updated = ledger
	if err := w.Store.UpsertAuction(ctx, entry); err != nil {
		return replanResult{}, fmt.Errorf("persist replanned auction: %w", err)
	}
	return replanResult{ok: true, entry: entry}, nil
}

func (w *Worker) fillerByPubkey(name string) (auction.Filler, bool) {
	for _, f := range w.Fillers {
		if f.Name == name {
			return f, true
		}
	}
	return auction.Filler{}, false
}

func uniqueAssets(sets ...map[auction.Asset]*big.Int) []auction.Asset {
	seen := make(map[auction.Asset]struct{})
	var out []auction.Asset
	for _, set := range sets {
		for asset := range set {
			if _, ok := seen[asset]; !ok {
				seen[asset] = struct{}{}
				out = append(out, asset)
			}
		}
	}
	return out
}
