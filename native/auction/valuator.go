package auction

import (
	"fmt"
	"math/big"
)

// ValuationError reports that an auction could not be valued because
// an asset required reserve configuration or a price that was not
// available.
type ValuationError struct {
	AssetID Asset
	Reason  string
}

func (e *ValuationError) Error() string {
	return fmt.Sprintf("auction: cannot value asset %s: %s", e.AssetID, e.Reason)
}

// UnexpectedAssetError reports an asset present in an Interest or
// BadDebt lot/bid where only a single fixed asset (underlying or the
// backstop LP token) is expected.
type UnexpectedAssetError struct {
	AssetID Asset
}

func (e *UnexpectedAssetError) Error() string {
	return fmt.Sprintf("auction: unexpected asset %s in auction lot/bid", e.AssetID)
}

// BackstopValuator values an amount of the backstop LP token in the
// protocol's quote currency. See §4.8 in SPEC_FULL.md.
type BackstopValuator interface {
	ValueBackstopLPInQuote(amount *big.Int) (float64, error)
}

// Valuation is the valuator's float-denominated output, all amounts
// in a common numeraire (USD).
type Valuation struct {
	EffectiveCollateral  float64
	EffectiveLiabilities float64
	RepayableLiabilities float64
	LotValue             float64
	BidValue             float64
}

// priceFor returns the price override if present, else the oracle
// price, reporting whether either was available.
func priceFor(asset Asset, oracle map[Asset]float64, overrides map[Asset]float64) (float64, bool) {
	if overrides != nil {
		if p, ok := overrides[asset]; ok {
			return p, true
		}
	}
	p, ok := oracle[asset]
	return p, ok
}

// ValueAuction computes the effective-collateral, effective-liability,
// lot, bid, and repayable-liability values for a live auction
// snapshot, per SPEC_FULL.md §4.2 (spec.md §4.2, unchanged).
// backstopLPAsset is the single asset Interest bids and BadDebt lots
// are allowed to hold; any other asset in those positions returns
// UnexpectedAssetError.
func ValueAuction(
	snap AuctionSnapshot,
	pool Pool,
	oracle map[Asset]float64,
	fillerBalances map[Asset]*big.Int,
	priceOverrides map[Asset]float64,
	backstopLPAsset Asset,
	backstop BackstopValuator,
) (Valuation, error) {
	var v Valuation

	switch snap.Type {
	case Liquidation:
		for asset, bTokens := range snap.Lot {
			reserve, ok := pool.Reserve(asset)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing reserve"}
			}
			price, ok := priceFor(asset, oracle, priceOverrides)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing price"}
			}
			underlying := reserve.BTokenToUnderlying(bTokens)
			v.EffectiveCollateral += reserve.EffectiveCollateral(underlying)
			v.LotValue += toFloat(underlying, reserve.Decimals) * price
		}
		for asset, dTokens := range snap.Bid {
			reserve, ok := pool.Reserve(asset)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing reserve"}
			}
			price, ok := priceFor(asset, oracle, priceOverrides)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing price"}
			}
			underlying := reserve.DTokenToUnderlying(dTokens)
			v.EffectiveLiabilities += reserve.EffectiveLiability(underlying)
			v.BidValue += toFloat(underlying, reserve.Decimals) * price
			v.RepayableLiabilities += repayableFor(asset, underlying, reserve, fillerBalances)
		}

	case Interest:
		for asset, amount := range snap.Lot {
			reserve, ok := pool.Reserve(asset)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing reserve"}
			}
			price, ok := priceFor(asset, oracle, priceOverrides)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing price"}
			}
			v.LotValue += toFloat(amount, reserve.Decimals) * price
		}
		for asset, amount := range snap.Bid {
			if asset != backstopLPAsset {
				return v, &UnexpectedAssetError{AssetID: asset}
			}
			if backstop == nil {
				return v, &ValuationError{AssetID: asset, Reason: "no backstop valuator configured"}
			}
			bidValue, err := backstop.ValueBackstopLPInQuote(amount)
			if err != nil {
				return v, &ValuationError{AssetID: asset, Reason: err.Error()}
			}
			v.BidValue += bidValue
		}

	case BadDebt:
		for asset, amount := range snap.Lot {
			if asset != backstopLPAsset {
				return v, &UnexpectedAssetError{AssetID: asset}
			}
			if backstop == nil {
				return v, &ValuationError{AssetID: asset, Reason: "no backstop valuator configured"}
			}
			lotValue, err := backstop.ValueBackstopLPInQuote(amount)
			if err != nil {
				return v, &ValuationError{AssetID: asset, Reason: err.Error()}
			}
			v.LotValue += lotValue
		}
		for asset, dTokens := range snap.Bid {
			reserve, ok := pool.Reserve(asset)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing reserve"}
			}
			price, ok := priceFor(asset, oracle, priceOverrides)
			if !ok {
				return v, &ValuationError{AssetID: asset, Reason: "missing price"}
			}
			underlying := reserve.DTokenToUnderlying(dTokens)
			v.EffectiveLiabilities += reserve.EffectiveLiability(underlying)
			v.BidValue += toFloat(underlying, reserve.Decimals) * price
			v.RepayableLiabilities += repayableFor(asset, underlying, reserve, fillerBalances)
		}
	}

	return v, nil
}

// repayableFor returns the effective value of the portion of a bid
// liability the filler could immediately offset from its own
// balances.
func repayableFor(asset Asset, liabilityUnderlying *big.Int, reserve Reserve, fillerBalances map[Asset]*big.Int) float64 {
	if fillerBalances == nil {
		return 0
	}
	balance, ok := fillerBalances[asset]
	if !ok || balance.Sign() <= 0 {
		return 0
	}
	repaid := balance
	if balance.Cmp(liabilityUnderlying) > 0 {
		repaid = liabilityUnderlying
	}
	return reserve.EffectiveLiability(repaid)
}
