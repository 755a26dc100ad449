package auction

import (
	"math"
	"math/big"
	"sort"
)

// UnwindInput bundles a filler's current state for the post-win
// position-management ("unwind") pass.
type UnwindInput struct {
	Filler     Filler
	PoolConfig PoolFillerConfig
	Pool       Pool
	Positions  Positions
	Balances   map[Asset]*big.Int

	EffectiveCollateral  float64
	EffectiveLiabilities float64
}

// PlanUnwind produces the repay/withdraw request sequence that
// restores the filler to a safe health factor after winning one or
// more auctions, per SPEC_FULL.md §4.6 (spec.md §4.6, unchanged).
func PlanUnwind(in UnwindInput) []Request {
	var requests []Request

	eColl := in.EffectiveCollateral
	eLiab := in.EffectiveLiabilities
	residual := make(map[int]struct{})

	// Step 1: repay.
	for idx, owedDTokens := range in.Positions.Liabilities {
		if idx < 0 || idx >= len(in.Pool.ReserveList) {
			continue
		}
		asset := in.Pool.ReserveList[idx]
		reserve, ok := in.Pool.Reserve(asset)
		if !ok {
			continue
		}
		balance, ok := in.Balances[asset]
		if !ok || balance.Sign() <= 0 {
			owedUnderlying := reserve.DTokenToUnderlying(owedDTokens)
			if owedUnderlying.Sign() > 0 {
				residual[idx] = struct{}{}
			}
			continue
		}
		owedUnderlying := reserve.DTokenToUnderlying(owedDTokens)
		requests = append(requests, Request{Kind: RequestRepay, Asset: asset, Amount: new(big.Int).Set(balance)})
		repaidEffective := reserve.EffectiveLiability(balance)
		eLiab -= repaidEffective
		if eLiab < 0 {
			eLiab = 0
		}
		if owedUnderlying.Cmp(balance) > 0 {
			residual[idx] = struct{}{}
		}
	}

	// Step 2: short-circuit.
	if eLiab > 0 && eColl/eLiab < in.Filler.MinHealthFactor*1.01 {
		return requests
	}

	// Step 3: withdraw prioritization.
	type scoredAsset struct {
		idx   int
		asset Asset
		score float64
	}
	entries := make([]scoredAsset, 0, len(in.Positions.Collateral))
	for idx, amount := range in.Positions.Collateral {
		if idx < 0 || idx >= len(in.Pool.ReserveList) {
			continue
		}
		asset := in.Pool.ReserveList[idx]
		reserve, ok := in.Pool.Reserve(asset)
		if !ok {
			continue
		}
		var score float64
		switch {
		case isResidual(idx, residual):
			score = 0
		case asset == in.PoolConfig.PrimaryAsset:
			score = math.MaxFloat64
		default:
			underlying := reserve.BTokenToUnderlying(amount)
			score = reserve.EffectiveCollateral(underlying)
		}
		entries = append(entries, scoredAsset{idx: idx, asset: asset, score: score})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score < entries[j].score })

	// Step 4: withdraw loop.
	for _, entry := range entries {
		reserve, ok := in.Pool.Reserve(entry.asset)
		if !ok {
			continue
		}
		bTokens := in.Positions.Collateral[entry.idx]
		underlyingHeld := toFloat(reserve.BTokenToUnderlying(bTokens), reserve.Decimals)

		if eLiab <= 0 {
			requests = append(requests, Request{Kind: RequestWithdrawCollateral, Asset: entry.asset, Amount: maxAmount})
			eColl -= reserve.EffectiveCollateral(reserve.BTokenToUnderlying(bTokens))
			continue
		}

		if eColl/eLiab < in.Filler.MinHealthFactor*1.005 {
			break
		}

		if reserve.CF <= 0 || reserve.Price <= 0 {
			continue
		}
		maxWithdraw := (eColl - eLiab*in.Filler.MinHealthFactor) / (reserve.CF * reserve.Price)
		if maxWithdraw <= 0 {
			continue
		}

		isMax := maxWithdraw > underlyingHeld
		withdrawAmt := maxWithdraw
		if isMax {
			withdrawAmt = underlyingHeld
		}

		if entry.asset == in.PoolConfig.PrimaryAsset && in.PoolConfig.MinPrimaryCollateral != nil {
			floorUnderlying := toFloat(in.PoolConfig.MinPrimaryCollateral, reserve.Decimals)
			remaining := underlyingHeld - withdrawAmt
			if remaining < floorUnderlying {
				withdrawAmt = underlyingHeld - floorUnderlying
				if withdrawAmt < 0 {
					withdrawAmt = 0
				}
				isMax = false
				if withdrawAmt < floorUnderlying*0.01 {
					continue
				}
			}
		}

		effectiveWithdrawn := reserve.CF * reserve.Price * withdrawAmt
		eColl -= effectiveWithdrawn

		if isMax {
			requests = append(requests, Request{Kind: RequestWithdrawCollateral, Asset: entry.asset, Amount: maxAmount})
		} else {
			requests = append(requests, Request{Kind: RequestWithdrawCollateral, Asset: entry.asset, Amount: floatToScaled(withdrawAmt, reserve.Decimals)})
			if !isResidual(entry.idx, residual) {
				break
			}
		}
	}

	return requests
}

func isResidual(idx int, residual map[int]struct{}) bool {
	_, ok := residual[idx]
	return ok
}
