package auction

import (
	"math/big"
	"sort"
)

// LiquidatableThreshold is the health-factor ratio below which a
// position is eligible for liquidation.
const LiquidatableThreshold = 0.998

// IsLiquidatable reports whether a position's effective collateral to
// liability ratio is below LiquidatableThreshold.
func IsLiquidatable(effectiveCollateral, effectiveLiabilities float64) bool {
	if effectiveLiabilities <= 0 {
		return false
	}
	return effectiveCollateral/effectiveLiabilities < LiquidatableThreshold
}

// LiquidationInput bundles a borrower's position state needed to
// propose a new liquidation or bad-debt auction.
type LiquidationInput struct {
	Pool                      Pool
	Positions                 Positions
	UserEffectiveCollateral   float64
	UserEffectiveLiabilities  float64
	BackstopLPAsset           Asset
}

// LiquidationPlan is a proposed new-auction definition.
type LiquidationPlan struct {
	Percent int
	Bid     []Asset
	Lot     []Asset
}

type assetValue struct {
	asset      Asset
	effective  float64
	grossValue float64 // underlying * price, unscaled by CF/LF
}

// PlanLiquidation implements the liquidation/bad-debt planner
// (SPEC_FULL.md §4.5, spec.md §4.5, unchanged). ok is false if no
// feasible subset was found.
func PlanLiquidation(in LiquidationInput) (LiquidationPlan, bool) {
	if in.UserEffectiveCollateral == 0 && in.UserEffectiveLiabilities > 0 {
		return planBadDebt(in), true
	}

	collateral := collectAssetValues(in.Pool, in.Positions.Collateral, true)
	liabilities := collectAssetValues(in.Pool, in.Positions.Liabilities, false)
	sortDescending(collateral)
	sortDescending(liabilities)

	maxTotal := in.Pool.MaxPositions - 1
	if maxTotal < 1 {
		return LiquidationPlan{}, false
	}

	var best *LiquidationPlan
	bestPositions := -1

	for lotSize := 1; lotSize <= len(collateral); lotSize++ {
		for bidSize := 1; bidSize <= len(liabilities); bidSize++ {
			if lotSize+bidSize > maxTotal {
				continue
			}
			lotSubset := collateral[:lotSize]
			bidSubset := liabilities[:bidSize]

			eCollSub := sumEffective(lotSubset)
			eLiabSub := sumEffective(bidSubset)
			incentive := incentiveFactor(lotSubset, bidSubset)

			percent, ok := smallestFeasiblePercent(in, eCollSub, eLiabSub, incentive)
			if !ok {
				continue
			}
			positions := lotSize + bidSize
			if best == nil || percent < best.Percent || (percent == best.Percent && positions < bestPositions) {
				plan := LiquidationPlan{
					Percent: percent,
					Lot:     assetNames(lotSubset),
					Bid:     assetNames(bidSubset),
				}
				best = &plan
				bestPositions = positions
			}
		}
	}

	if best == nil {
		return LiquidationPlan{}, false
	}
	return *best, true
}

// smallestFeasiblePercent finds the smallest integer percent in
// [1,100] such that liquidating the given subset at that percent
// (with the incentive-weighted collateral seizure) restores the
// borrower's overall solvency: E_coll' >= E_liab'.
func smallestFeasiblePercent(in LiquidationInput, eCollSub, eLiabSub, incentive float64) (int, bool) {
	if eLiabSub <= 0 {
		return 0, false
	}
	for p := 1; p <= 100; p++ {
		scale := float64(p) / 100
		collAfter := in.UserEffectiveCollateral - eCollSub*scale*incentive
		liabAfter := in.UserEffectiveLiabilities - eLiabSub*scale
		if collAfter >= liabAfter {
			return p, true
		}
	}
	return 0, false
}

// incentiveFactor computes ι = 1 + (1 - CF_subset/LF_subset)/2, where
// CF_subset = E_coll_subset/total_supplied_subset and
// LF_subset = E_liab_subset/total_borrowed_subset are the subset's
// blended collateral/liability factors (§4.5 step 3).
func incentiveFactor(lotSubset, bidSubset []assetValue) float64 {
	totalSupplied := sumGross(lotSubset)
	totalBorrowed := sumGross(bidSubset)
	cfSubset := 1.0
	if totalSupplied > 0 {
		cfSubset = sumEffective(lotSubset) / totalSupplied
	}
	lfSubset := 1.0
	if totalBorrowed > 0 {
		lfSubset = sumEffective(bidSubset) / totalBorrowed
	}
	if lfSubset == 0 {
		return 1
	}
	return 1 + (1-cfSubset/lfSubset)/2
}

func sumGross(values []assetValue) float64 {
	var sum float64
	for _, v := range values {
		sum += v.grossValue
	}
	return sum
}

func planBadDebt(in LiquidationInput) LiquidationPlan {
	liabilities := collectAssetValues(in.Pool, in.Positions.Liabilities, false)
	sortDescending(liabilities)
	k := in.Pool.MaxPositions - 1
	if k > len(liabilities) {
		k = len(liabilities)
	}
	if k < 0 {
		k = 0
	}
	return LiquidationPlan{
		Percent: 100,
		Lot:     []Asset{in.BackstopLPAsset},
		Bid:     assetNames(liabilities[:k]),
	}
}

func collectAssetValues(pool Pool, amounts map[int]*big.Int, collateral bool) []assetValue {
	out := make([]assetValue, 0, len(amounts))
	for idx, amount := range amounts {
		if idx < 0 || idx >= len(pool.ReserveList) {
			continue
		}
		asset := pool.ReserveList[idx]
		reserve, ok := pool.Reserve(asset)
		if !ok {
			continue
		}
		var underlying *big.Int
		var effective float64
		if collateral {
			underlying = reserve.BTokenToUnderlying(amount)
			effective = reserve.EffectiveCollateral(underlying)
		} else {
			underlying = reserve.DTokenToUnderlying(amount)
			effective = reserve.EffectiveLiability(underlying)
		}
		gross := toFloat(underlying, reserve.Decimals) * reserve.Price
		out = append(out, assetValue{asset: asset, effective: effective, grossValue: gross})
	}
	return out
}

func sortDescending(values []assetValue) {
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].effective > values[j].effective
	})
}

func sumEffective(values []assetValue) float64 {
	var sum float64
	for _, v := range values {
		sum += v.effective
	}
	return sum
}

func assetNames(values []assetValue) []Asset {
	out := make([]Asset, len(values))
	for i, v := range values {
		out[i] = v.asset
	}
	return out
}
