package auction

import (
	"context"
	"math/big"
)

// Simulator performs a read-only simulation of a single-sided backstop
// LP withdrawal against the chain, returning the underlying quote-
// currency amount it would yield.
type Simulator interface {
	SimulateBackstopWithdrawal(ctx context.Context, lpAmount *big.Int) (float64, error)
}

// SpotPricer supplies a fallback spot price for the backstop LP token
// when simulation is unavailable.
type SpotPricer interface {
	BackstopLPSpotPrice(ctx context.Context) (float64, error)
}

// DefaultBackstopValuator implements BackstopValuator per §4.8:
// attempt a simulated single-sided withdrawal first (it captures
// actual pool slippage); fall back to spot price only when simulation
// fails.
type DefaultBackstopValuator struct {
	Ctx       context.Context
	Simulator Simulator
	Spot      SpotPricer
	Decimals  int
}

// ValueBackstopLPInQuote implements BackstopValuator.
func (v DefaultBackstopValuator) ValueBackstopLPInQuote(amount *big.Int) (float64, error) {
	ctx := v.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if v.Simulator != nil {
		if value, err := v.Simulator.SimulateBackstopWithdrawal(ctx, amount); err == nil {
			return value, nil
		}
	}
	if v.Spot == nil {
		return 0, errBackstopUnavailable
	}
	price, err := v.Spot.BackstopLPSpotPrice(ctx)
	if err != nil {
		return 0, err
	}
	return toFloat(amount, v.Decimals) * price, nil
}

var errBackstopUnavailable = &ValuationError{Reason: "backstop LP valuation unavailable: simulation failed and no spot pricer configured"}
