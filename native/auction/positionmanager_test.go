package auction

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func unwindPoolFixture() Pool {
	return Pool{
		ID:           "pool1",
		MaxPositions: 6,
		ReserveList:  []Asset{"XLM", "USDC"},
		Reserves: map[Asset]Reserve{
			"XLM":  reserveFixture("XLM", 0.1, 0.8, 1.1, 7),
			"USDC": reserveFixture("USDC", 1.0, 0.9, 1.05, 7),
		},
	}
}

func TestPlanUnwindIdempotenceOnEmptyState(t *testing.T) {
	pool := unwindPoolFixture()
	in := UnwindInput{
		Filler:               Filler{MinHealthFactor: 1.1},
		Pool:                 pool,
		Positions:            Positions{},
		Balances:             map[Asset]*big.Int{},
		EffectiveCollateral:  0,
		EffectiveLiabilities: 0,
	}
	requests := PlanUnwind(in)
	require.Empty(t, requests)

	// No-looping: a second call with identical inputs also returns empty.
	requests2 := PlanUnwind(in)
	require.Empty(t, requests2)
}

func TestPlanUnwindEmptyWithoutBalanceOrCollateral(t *testing.T) {
	pool := unwindPoolFixture()
	in := UnwindInput{
		Filler: Filler{MinHealthFactor: 1.1},
		Pool:   pool,
		Positions: Positions{
			Liabilities: map[int]*big.Int{1: big.NewInt(10_0000000)},
		},
		Balances:             map[Asset]*big.Int{},
		EffectiveCollateral:  1000,
		EffectiveLiabilities: 10,
	}
	requests := PlanUnwind(in)
	require.Empty(t, requests)
}

func TestPlanUnwindRepaysFromBalance(t *testing.T) {
	pool := unwindPoolFixture()
	in := UnwindInput{
		Filler: Filler{MinHealthFactor: 1.1},
		Pool:   pool,
		Positions: Positions{
			Liabilities: map[int]*big.Int{1: big.NewInt(100_0000000)}, // 100 USDC
		},
		Balances: map[Asset]*big.Int{
			"USDC": big.NewInt(100_0000000),
		},
		EffectiveCollateral:  1000,
		EffectiveLiabilities: 105, // 100 * LF(1.05)
	}
	requests := PlanUnwind(in)
	require.NotEmpty(t, requests)
	require.Equal(t, RequestRepay, requests[0].Kind)
	require.Equal(t, Asset("USDC"), requests[0].Asset)
}
