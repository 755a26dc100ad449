package worker

import (
	"context"
	"fmt"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// CheckUserRequest is the payload for an EventCheckUser event: a
// single pool/user pair to re-evaluate for liquidation.
type CheckUserRequest struct {
	PoolAddress string
	UserID      string
}

// handleOracleScan loads the pool's oracle, detects which assets moved
// significantly, and checks only the users whose liability assets went
// up or collateral assets went down — a cheap, demand-driven liquidity
// scan (spec.md §4.1, §4.9).
func (w *Worker) handleOracleScan(ctx context.Context, poolAddress string) error {
	cfg, ok := w.poolSetup(poolAddress)
	if !ok {
		return fmt.Errorf("worker: oracle scan: unconfigured pool %s", poolAddress)
	}
	pool, err := w.Reader.LoadPool(ctx, cfg.PoolAddress)
	if err != nil {
		return fmt.Errorf("worker: oracle scan: load pool: %w", err)
	}
	snap, err := w.Reader.LoadOracle(ctx, pool)
	if err != nil {
		return fmt.Errorf("worker: oracle scan: load oracle: %w", err)
	}
	moves := w.oracleFor(pool.ID).Refresh(snap)

	users, err := w.Store.ListUsers(ctx, pool.ID)
	if err != nil {
		return fmt.Errorf("worker: oracle scan: list users: %w", err)
	}

	index := make(map[auction.Asset]int, len(pool.ReserveList))
	for i, asset := range pool.ReserveList {
		index[asset] = i
	}
	reverse := func(idx int) auction.Asset {
		if idx >= 0 && idx < len(pool.ReserveList) {
			return pool.ReserveList[idx]
		}
		return ""
	}

	for _, user := range users {
		candidate := false
		for idx := range user.Positions.Liabilities {
			if _, up := moves.Up[reverse(idx)]; up {
				candidate = true
				break
			}
		}
		if !candidate {
			for idx := range user.Positions.Collateral {
				if _, down := moves.Down[reverse(idx)]; down {
					candidate = true
					break
				}
			}
		}
		if !candidate {
			continue
		}
		if err := w.evaluateUser(ctx, pool, user.UserID); err != nil {
			w.Logger.Warn("worker: oracle scan candidate failed", "pool", pool.ID, "user", user.UserID, "error", err)
		}
	}
	return nil
}

// handleLiqScan is the exhaustive variant of handleOracleScan: every
// user in the pool is re-checked, regardless of recent price movement.
func (w *Worker) handleLiqScan(ctx context.Context, poolAddress string) error {
	cfg, ok := w.poolSetup(poolAddress)
	if !ok {
		return fmt.Errorf("worker: liq scan: unconfigured pool %s", poolAddress)
	}
	pool, err := w.Reader.LoadPool(ctx, cfg.PoolAddress)
	if err != nil {
		return fmt.Errorf("worker: liq scan: load pool: %w", err)
	}
	users, err := w.Store.ListUsers(ctx, pool.ID)
	if err != nil {
		return fmt.Errorf("worker: liq scan: list users: %w", err)
	}
	for _, user := range users {
		if err := w.evaluateUser(ctx, pool, user.UserID); err != nil {
			w.Logger.Warn("worker: liq scan user failed", "pool", pool.ID, "user", user.UserID, "error", err)
		}
	}
	return nil
}

// handleUserRefresh reloads position estimates for users whose
// recorded `updated` ledger is older than cutoffLedger, and purges
// users belonging to a pool no longer in this deployment's config.
func (w *Worker) handleUserRefresh(ctx context.Context, cutoffLedger uint32) error {
	stale, err := w.Store.ListStaleUsers(ctx, cutoffLedger)
	if err != nil {
		return fmt.Errorf("worker: user refresh: list stale users: %w", err)
	}
	configured := make(map[string]struct{}, len(w.Pools))
	for _, p := range w.Pools {
		configured[p.PoolAddress] = struct{}{}
	}
	for _, user := range stale {
		if _, ok := configured[user.PoolID]; !ok {
			if err := w.Store.DeleteUser(ctx, user.PoolID, user.UserID); err != nil {
				w.Logger.Warn("worker: purge orphaned user failed", "pool", user.PoolID, "user", user.UserID, "error", err)
			}
			continue
		}
		cfg, _ := w.poolSetup(user.PoolID)
		pool, err := w.Reader.LoadPool(ctx, cfg.PoolAddress)
		if err != nil {
			w.Logger.Warn("worker: user refresh: load pool failed", "pool", user.PoolID, "error", err)
			continue
		}
		if err := w.refreshUser(ctx, pool, user.UserID, cutoffLedger); err != nil {
			w.Logger.Warn("worker: user refresh failed", "pool", pool.ID, "user", user.UserID, "error", err)
		}
	}
	return nil
}

// handleCheckUser is the single-user variant of a liquidation check.
func (w *Worker) handleCheckUser(ctx context.Context, req CheckUserRequest) error {
	cfg, ok := w.poolSetup(req.PoolAddress)
	if !ok {
		return fmt.Errorf("worker: check user: unconfigured pool %s", req.PoolAddress)
	}
	pool, err := w.Reader.LoadPool(ctx, cfg.PoolAddress)
	if err != nil {
		return fmt.Errorf("worker: check user: load pool: %w", err)
	}
	return w.evaluateUser(ctx, pool, req.UserID)
}

func (w *Worker) poolSetup(poolAddress string) (PoolSetup, bool) {
	for _, p := range w.Pools {
		if p.PoolAddress == poolAddress || p.Name == poolAddress {
			return p, true
		}
	}
	return PoolSetup{}, false
}

// refreshUser reloads one user's positions and persists the new
// estimate, then runs the same liquidation evaluation as any scan.
func (w *Worker) refreshUser(ctx context.Context, pool auction.Pool, userID string, updatedLedger uint32) error {
	positions, err := w.Reader.LoadPositions(ctx, pool, userID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	oracle, err := w.Reader.LoadOracle(ctx, pool)
	if err != nil {
		return fmt.Errorf("load oracle: %w", err)
	}
	eColl, eLiab := effectivePosition(pool, positions, oracle.Prices)
	hf := 0.0
	if eLiab > 0 {
		hf = eColl / eLiab
	}
	entry := auction.UserEntry{
		PoolID:       pool.ID,
		UserID:       userID,
		Positions:    positions,
		HealthFactor: hf,
		Updated:      updatedLedger,
	}
	if err := w.Store.UpsertUser(ctx, entry); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return w.checkLiquidatable(ctx, pool, userID, positions, oracle.Prices, eColl, eLiab)
}

// evaluateUser loads the user's current positions and oracle prices,
// computes effective values, and enqueues a new liquidation/bad-debt
// auction if the position is liquidatable.
func (w *Worker) evaluateUser(ctx context.Context, pool auction.Pool, userID string) error {
	positions, err := w.Reader.LoadPositions(ctx, pool, userID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	oracle, err := w.Reader.LoadOracle(ctx, pool)
	if err != nil {
		return fmt.Errorf("load oracle: %w", err)
	}
	eColl, eLiab := effectivePosition(pool, positions, oracle.Prices)
	return w.checkLiquidatable(ctx, pool, userID, positions, oracle.Prices, eColl, eLiab)
}

func (w *Worker) checkLiquidatable(ctx context.Context, pool auction.Pool, userID string, positions auction.Positions, prices map[auction.Asset]float64, eColl, eLiab float64) error {
	if !auction.IsLiquidatable(eColl, eLiab) {
		return nil
	}

	isBadDebt := eColl == 0 && eLiab > 0

	// Bad debt surfaces on an ordinary borrower first. It must be
	// transferred onto the backstop account before a BadDebt auction
	// can be planned against it (§4.5's bad-debt branch assumes the
	// backstop account as its subject) — enqueue the transfer and
	// defer auction creation until the backstop position is scanned.
	if isBadDebt && userID != pool.BackstopAddress {
		if !w.WorkQueue.ContainsBadDebtTransfer(pool.ID, userID) {
			w.WorkQueue.Add(auction.Submission{
				Kind:   auction.SubmissionBadDebtTransfer,
				PoolID: pool.ID,
				User:   userID,
			}, workQueueRetries, 0)
		}
		return nil
	}

	plan, ok := auction.PlanLiquidation(auction.LiquidationInput{
		Pool:                     pool,
		Positions:                positions,
		UserEffectiveCollateral:  eColl,
		UserEffectiveLiabilities: eLiab,
		BackstopLPAsset:          w.BackstopTokenAddress,
	})
	if !ok {
		return nil
	}

	auctionType := auction.Liquidation
	if isBadDebt {
		auctionType = auction.BadDebt
	}

	_, exists, err := w.Store.GetAuction(ctx, pool.ID, userID, auctionType)
	if err != nil {
		return fmt.Errorf("check existing auction: %w", err)
	}
	if exists {
		return nil
	}

	w.WorkQueue.Add(auction.Submission{
		Kind:    auction.SubmissionAuctionCreation,
		PoolID:  pool.ID,
		User:    userID,
		Type:    auctionType,
		Percent: plan.Percent,
		Bid:     plan.Bid,
		Lot:     plan.Lot,
	}, creationQueueRetries, 0)

	return w.Store.UpsertAuction(ctx, auction.AuctionEntry{
		PoolID:     pool.ID,
		UserID:     userID,
		Type:       auctionType,
		StartBlock: 0,
		FillBlock:  0,
	})
}

// effectivePosition sums a user's effective collateral and effective
// liabilities across their held positions, using live oracle prices in
// preference to the reserve's last-loaded price.
func effectivePosition(pool auction.Pool, positions auction.Positions, prices map[auction.Asset]float64) (float64, float64) {
	var eColl, eLiab float64
	for idx, amount := range positions.Collateral {
		if idx < 0 || idx >= len(pool.ReserveList) {
			continue
		}
		asset := pool.ReserveList[idx]
		reserve, ok := pool.Reserve(asset)
		if !ok {
			continue
		}
		reserve.Price = priceOrReserve(asset, prices, reserve.Price)
		underlying := reserve.BTokenToUnderlying(amount)
		eColl += reserve.EffectiveCollateral(underlying)
	}
	for idx, amount := range positions.Liabilities {
		if idx < 0 || idx >= len(pool.ReserveList) {
			continue
		}
		asset := pool.ReserveList[idx]
		reserve, ok := pool.Reserve(asset)
		if !ok {
			continue
		}
		reserve.Price = priceOrReserve(asset, prices, reserve.Price)
		underlying := reserve.DTokenToUnderlying(amount)
		eLiab += reserve.EffectiveLiability(underlying)
	}
	return eColl, eLiab
}

func priceOrReserve(asset auction.Asset, prices map[auction.Asset]float64, fallback float64) float64 {
	if p, ok := prices[asset]; ok {
		return p
	}
	return fallback
}
