package worker

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
	"github.com/Robeartt/auctioneer-bot-sub000/priceclient"
)

// chainSimulator adapts auction.ChainClient's generic SimulateTransaction
// into the narrow Simulator interface auction.DefaultBackstopValuator
// expects, simulating a single-sided backstop-LP withdrawal.
type chainSimulator struct {
	client          auction.ChainClient
	backstopAddress string
	quoteDecimals   int
}

func (s chainSimulator) SimulateBackstopWithdrawal(ctx context.Context, lpAmount *big.Int) (float64, error) {
	tx := map[string]interface{}{
		"op":       "backstopWithdrawSingleSided",
		"backstop": s.backstopAddress,
		"amount":   lpAmount.String(),
	}
	result, err := s.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("simulate backstop withdrawal: %w", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("simulate backstop withdrawal: unexpected result shape")
	}
	raw, ok := m["quoteAmount"]
	if !ok {
		return 0, fmt.Errorf("simulate backstop withdrawal: missing quoteAmount")
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f := new(big.Float)
		if _, ok := f.SetString(v); ok {
			out, _ := f.Float64()
			return out, nil
		}
	}
	return 0, fmt.Errorf("simulate backstop withdrawal: unparseable quoteAmount")
}

// spotPricer falls back to an external median price for the backstop
// LP token's underlying reference asset when simulation fails.
type spotPricer struct {
	manager *priceclient.Manager
	asset   string
}

func (s spotPricer) BackstopLPSpotPrice(ctx context.Context) (float64, error) {
	if s.manager == nil {
		return 0, fmt.Errorf("spot pricer: no price manager configured")
	}
	return s.manager.FetchMedian(ctx, s.asset)
}

// NewBackstopValuatorFactory returns a function producing a
// per-pool auction.BackstopValuator, wiring the chain client's
// simulation path and the price manager's spot fallback per
// SPEC_FULL.md §4.8.
func NewBackstopValuatorFactory(client auction.ChainClient, prices *priceclient.Manager, spotAsset string, decimals int) func(pool auction.Pool) auction.BackstopValuator {
	return func(pool auction.Pool) auction.BackstopValuator {
		return auction.DefaultBackstopValuator{
			Simulator: chainSimulator{client: client, backstopAddress: pool.BackstopAddress, quoteDecimals: decimals},
			Spot:      spotPricer{manager: prices, asset: spotAsset},
			Decimals:  decimals,
		}
	}
}
