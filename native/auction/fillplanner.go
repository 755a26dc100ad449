package auction

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// ErrInfeasibleFill is returned when no (fillBlock, fillPercent) pair
// keeps the filler above its safe health factor after five
// feasibility passes. This is not treated as an error by callers: the
// auction is simply skipped for this tick (spec.md §7, tier 4).
var ErrInfeasibleFill = errors.New("auction: no feasible fill found")

// RequestKind identifies the chain operation an outbound Request
// represents. Wire encoding and signing are out of scope; Request is
// the typed, in-process description of "what to ask the chain to do."
type RequestKind int

const (
	RequestFillAuction RequestKind = iota
	RequestRepay
	RequestWithdrawCollateral
	RequestSupplyCollateral
)

// Request is one outbound chain operation produced by planning.
type Request struct {
	Kind    RequestKind
	Address string
	Asset   Asset
	Amount  *big.Int
	Percent int
}

// FillPlanInput bundles everything the fill planner needs.
type FillPlanInput struct {
	Filler         Filler
	PoolConfig     PoolFillerConfig
	Auction        AuctionSnapshot
	Pool           Pool
	Valuation      Valuation
	FillerBalances map[Asset]*big.Int
	// FillerEffectiveCollateral/Liabilities are the filler's own
	// current position values, independent of this auction.
	FillerEffectiveCollateral  float64
	FillerEffectiveLiabilities float64
	NextLedger                 uint32
	// BackstopLPAsset identifies the backstop LP token for Interest
	// bid-balance checks.
	BackstopLPAsset Asset
}

// FillPlan is the fill planner's output.
type FillPlan struct {
	FillBlock   uint32
	FillPercent int
	Requests    []Request
	LotValue    float64
	BidValue    float64
}

const (
	rampHalf        = 200.0
	rampFull        = 400.0
	maxFeasibility  = 5
	repayDustEpsilon = 1e-7
)

// lotScalar returns the fraction of nominal lot value realized at
// block delay delta.
func lotScalar(delta float64) float64 {
	return clampFloat(delta/rampHalf, 0, 1)
}

// bidScalar returns the fraction of nominal bid value owed at block
// delay delta.
func bidScalar(delta float64) float64 {
	return clampFloat(1-math.Max(0, delta-rampHalf)/rampHalf, 0, 1)
}

// ProfitPct selects the operator-configured profit target for an
// auction: the first AuctionProfit entry whose supported sets are
// supersets of the auction's bid and lot asset sets, else the
// filler's default (§4.4).
func ProfitPct(filler Filler, snap AuctionSnapshot) float64 {
	for _, entry := range filler.Profits {
		if supersetOfKeys(entry.SupportedLot, snap.Lot) && supersetOfKeys(entry.SupportedBid, snap.Bid) {
			return entry.ProfitPct
		}
	}
	return filler.DefaultProfitPct
}

func supersetOfKeys[V any](set map[Asset]struct{}, keys map[Asset]V) bool {
	for asset := range keys {
		if _, ok := set[asset]; !ok {
			return false
		}
	}
	return true
}

// PlanFill computes the fill block, fill percent, and request
// sequence for a live auction, per SPEC_FULL.md §4.3 (spec.md §4.3,
// unchanged).
func PlanFill(in FillPlanInput) (FillPlan, error) {
	pi := ProfitPct(in.Filler, in.Auction)

	delta := solveProfitDelta(in.Valuation.LotValue, in.Valuation.BidValue, pi)

	// Phase B: force-fill cap.
	if in.Filler.ForceFill {
		switch in.Auction.Type {
		case Liquidation:
			delta = math.Min(delta, 198)
		case Interest:
			delta = math.Min(delta, 350)
		}
	}

	// Phase C: past-block correction.
	if float64(in.Auction.Block0)+delta < float64(in.NextLedger) {
		delta = math.Min(float64(in.NextLedger)-float64(in.Auction.Block0), rampFull)
	}

	fillPercent := 100
	var requests []Request

	switch in.Auction.Type {
	case Interest:
		delta = planInterestFeasibility(in, delta)
	default:
		var err error
		delta, fillPercent, requests, err = planHealthFeasibility(in, delta, fillPercent)
		if err != nil {
			return FillPlan{}, err
		}
	}

	delta = clampFloat(delta, 0, rampFull)
	fillBlock := in.Auction.Block0 + uint32(math.Ceil(delta))

	finalRequests := make([]Request, 0, len(requests)+1)
	finalRequests = append(finalRequests, Request{
		Kind:    RequestFillAuction,
		Address: in.Auction.User,
		Percent: fillPercent,
	})
	finalRequests = append(finalRequests, requests...)

	ls := lotScalar(delta)
	bs := bidScalar(delta)
	return FillPlan{
		FillBlock:   fillBlock,
		FillPercent: fillPercent,
		Requests:    finalRequests,
		LotValue:    ls * in.Valuation.LotValue * float64(fillPercent) / 100,
		BidValue:    bs * in.Valuation.BidValue * float64(fillPercent) / 100,
	}, nil
}

// solveProfitDelta implements Phase A: the smallest block delay at
// which lotValue*lotScalar >= bidValue*bidScalar*(1+profit).
func solveProfitDelta(lotValue, bidValue, profit float64) float64 {
	var delta float64
	if lotValue >= bidValue*(1+profit) {
		if lotValue == 0 {
			delta = rampHalf
		} else {
			delta = rampHalf - (lotValue-bidValue*(1+profit))/(lotValue/rampHalf)
		}
	} else {
		if bidValue == 0 {
			delta = rampHalf
		} else {
			delta = rampHalf + (bidValue-lotValue/(1+profit))/(bidValue/rampHalf)
		}
	}
	delta = clampFloat(delta, 0, rampFull)
	return math.Ceil(delta)
}

// planInterestFeasibility implements Phase D for Interest auctions:
// the filler must be able to pay the full (scaled) bid in backstop
// LP token balance.
func planInterestFeasibility(in FillPlanInput, delta float64) float64 {
	baseBid := toFloat(in.Auction.Bid[in.BackstopLPAsset], 7)
	if baseBid <= 0 {
		return delta
	}
	balance := 0.0
	if b, ok := in.FillerBalances[in.BackstopLPAsset]; ok {
		balance = toFloat(b, 7)
	}
	bidScaled := baseBid * bidScalar(delta)
	if bidScaled > balance {
		perBlock := baseBid / rampHalf
		if perBlock > 0 {
			delta += math.Ceil((bidScaled - balance) / perBlock)
			delta = clampFloat(delta, 0, rampFull)
		}
	}
	return delta
}

// planHealthFeasibility implements Phase D for Liquidation/BadDebt
// auctions: an iterative (<=5 pass) search for a (delta, fillPercent)
// pair that keeps the filler above safeHF after the fill.
func planHealthFeasibility(in FillPlanInput, delta float64, fillPercent int) (float64, int, []Request, error) {
	safeHF := in.Filler.MinHealthFactor * 1.1

	for pass := 0; pass < maxFeasibility; pass++ {
		ls := lotScalar(delta)
		bs := bidScalar(delta)
		scale := float64(fillPercent) / 100

		deltaLiab := in.Valuation.EffectiveLiabilities * bs * scale
		deltaColl := in.Valuation.EffectiveCollateral * ls * scale

		limitToHF := (in.FillerEffectiveCollateral+deltaColl)/safeHF - (in.FillerEffectiveLiabilities + deltaLiab)

		var requests []Request
		remaining := cloneBalances(in.FillerBalances)

		for asset, nominalAmount := range in.Auction.Bid {
			reserve, ok := in.Pool.Reserve(asset)
			if !ok {
				continue
			}
			scaledBid := scaleBigInt(nominalAmount, bs*scale)
			underlying := toFloat(reserve.DTokenToUnderlying(scaledBid), reserve.Decimals) + repayDustEpsilon
			bal := balanceFloat(remaining, asset, reserve.Decimals)
			repaid := math.Min(underlying, bal)
			if repaid > 0 {
				limitToHF += reserve.LF * reserve.Price * (repaid - repayDustEpsilon)
				deductBalance(remaining, asset, reserve.Decimals, repaid)
				requests = append(requests, Request{
					Kind:   RequestRepay,
					Asset:  asset,
					Amount: floatToScaled(repaid, reserve.Decimals),
				})
			}
		}

		if in.Auction.Type == Liquidation {
			for asset := range in.Auction.Lot {
				reserve, ok := in.Pool.Reserve(asset)
				if ok && reserve.CF == 0 {
					requests = append(requests, Request{
						Kind:   RequestWithdrawCollateral,
						Asset:  asset,
						Amount: maxAmount,
					})
				}
			}
		}

		if limitToHF < 0 && in.PoolConfig.PrimaryAsset != "" {
			reserve, ok := in.Pool.Reserve(in.PoolConfig.PrimaryAsset)
			if ok && reserve.CF > 0 && reserve.Price > 0 {
				needed := math.Ceil(math.Abs(limitToHF) * safeHF / (reserve.CF * reserve.Price))
				available := balanceFloat(remaining, in.PoolConfig.PrimaryAsset, reserve.Decimals)
				supply := math.Min(needed, available)
				if supply > 0 {
					limitToHF += reserve.CF * reserve.Price * supply
					deductBalance(remaining, in.PoolConfig.PrimaryAsset, reserve.Decimals, supply)
					requests = append(requests, Request{
						Kind:   RequestSupplyCollateral,
						Asset:  in.PoolConfig.PrimaryAsset,
						Amount: floatToScaled(supply, reserve.Decimals),
					})
				}
			}
		}

		if limitToHF >= 0 {
			return delta, fillPercent, requests, nil
		}

		// Still infeasible: shrink the fill, or push the fill block
		// further out if even a minimal fill cannot fit.
		preBorrowLimit := (in.FillerEffectiveCollateral+deltaColl)/safeHF - in.FillerEffectiveLiabilities
		if deltaLiab <= 0 {
			return delta, fillPercent, requests, nil
		}
		ratio := clampFloat(preBorrowLimit/deltaLiab, 0, 1)
		adjusted := int(math.Floor(ratio * float64(fillPercent)))

		if adjusted < 1 {
			ls200 := lotScalar(rampHalf)
			bs200 := bidScalar(rampHalf)
			excessAt200 := in.Valuation.EffectiveLiabilities*bs200 - in.Valuation.EffectiveCollateral*ls200/safeHF
			if in.Valuation.EffectiveLiabilities > 0 && excessAt200 > 0 {
				push := math.Ceil(100*excessAt200/in.Valuation.EffectiveLiabilities) / 0.5
				delta = math.Min(rampHalf+push, rampFull)
			} else {
				delta = rampFull
			}
			continue
		}

		if adjusted < fillPercent {
			fillPercent = adjusted
			continue
		}

		return delta, fillPercent, requests, nil
	}

	return 0, 0, nil, fmt.Errorf("%w for user %s", ErrInfeasibleFill, in.Auction.User)
}

func cloneBalances(in map[Asset]*big.Int) map[Asset]*big.Int {
	out := make(map[Asset]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func balanceFloat(balances map[Asset]*big.Int, asset Asset, decimals int) float64 {
	b, ok := balances[asset]
	if !ok {
		return 0
	}
	return toFloat(b, decimals)
}

func deductBalance(balances map[Asset]*big.Int, asset Asset, decimals int, amount float64) {
	b, ok := balances[asset]
	if !ok {
		return
	}
	remaining := toFloat(b, decimals) - amount
	if remaining < 0 {
		remaining = 0
	}
	balances[asset] = floatToScaled(remaining, decimals)
}

func scaleBigInt(amount *big.Int, scale float64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	f := new(big.Float).SetInt(amount)
	f.Mul(f, big.NewFloat(scale))
	out, _ := f.Int(nil)
	return out
}
