package worker

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

func samplePool() auction.Pool {
	return auction.Pool{
		ID:           "p1",
		MaxPositions: 4,
		ReserveList:  []auction.Asset{"USDC", "XLM"},
		Reserves: map[auction.Asset]auction.Reserve{
			"USDC": {Asset: "USDC", Price: 1.0, Decimals: 7, CF: 0.9, LF: 1.1, BRate: big.NewRat(1, 1), DRate: big.NewRat(1, 1)},
			"XLM":  {Asset: "XLM", Price: 0.1, Decimals: 7, CF: 0.8, LF: 1.2, BRate: big.NewRat(1, 1), DRate: big.NewRat(1, 1)},
		},
	}
}

func TestEffectivePositionUsesLiveOraclePriceOverReserve(t *testing.T) {
	pool := samplePool()
	positions := auction.Positions{
		Collateral:  map[int]*big.Int{1: big.NewInt(100_0000000)},
		Liabilities: map[int]*big.Int{0: big.NewInt(10_0000000)},
	}

	eCollStale, eLiabStale := effectivePosition(pool, positions, nil)
	require.InDelta(t, 100*0.8*0.1, eCollStale, 1e-9)
	require.InDelta(t, 10*1.1*1.0, eLiabStale, 1e-9)

	live := map[auction.Asset]float64{"XLM": 0.2}
	eCollLive, eLiabLive := effectivePosition(pool, positions, live)
	require.InDelta(t, 100*0.8*0.2, eCollLive, 1e-9)
	require.InDelta(t, eLiabStale, eLiabLive, 1e-9)
}

// unityPool has CF=LF=1 on every reserve, so the liquidation planner's
// incentive factor collapses to exactly 1 and a fully underwater
// position is always feasible to fully unwind at 100%.
func unityPool() auction.Pool {
	return auction.Pool{
		ID:           "p1",
		MaxPositions: 4,
		ReserveList:  []auction.Asset{"USDC", "XLM"},
		Reserves: map[auction.Asset]auction.Reserve{
			"USDC": {Asset: "USDC", Price: 1.0, Decimals: 7, CF: 1.0, LF: 1.0, BRate: big.NewRat(1, 1), DRate: big.NewRat(1, 1)},
			"XLM":  {Asset: "XLM", Price: 0.1, Decimals: 7, CF: 1.0, LF: 1.0, BRate: big.NewRat(1, 1), DRate: big.NewRat(1, 1)},
		},
	}
}

func TestEvaluateUserEnqueuesLiquidationAuctionWhenUnderwater(t *testing.T) {
	pool := unityPool()
	positions := auction.Positions{
		Collateral:  map[int]*big.Int{1: big.NewInt(10_0000000)},
		Liabilities: map[int]*big.Int{0: big.NewInt(100_0000000)},
	}

	reader := newFakeReader()
	reader.pools["pool-addr"] = pool
	reader.positions["p1/user-1"] = positions
	reader.oracles["p1"] = auction.PoolOracle{Prices: map[auction.Asset]float64{"USDC": 1.0, "XLM": 0.1}}

	store := newFakeStore()
	w := newTestWorker(reader, store)
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	require.NoError(t, w.evaluateUser(context.Background(), pool, "user-1"))

	require.Equal(t, 1, w.WorkQueue.Len())
	_, exists, err := store.GetAuction(context.Background(), "p1", "user-1", auction.Liquidation)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEvaluateUserSkipsHealthyPosition(t *testing.T) {
	pool := samplePool()
	positions := auction.Positions{
		Collateral:  map[int]*big.Int{0: big.NewInt(1000_0000000)},
		Liabilities: map[int]*big.Int{0: big.NewInt(10_0000000)},
	}

	reader := newFakeReader()
	reader.pools["pool-addr"] = pool
	reader.positions["p1/user-1"] = positions
	reader.oracles["p1"] = auction.PoolOracle{Prices: map[auction.Asset]float64{"USDC": 1.0}}

	store := newFakeStore()
	w := newTestWorker(reader, store)
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	require.NoError(t, w.evaluateUser(context.Background(), pool, "user-1"))
	require.Equal(t, 0, w.WorkQueue.Len())
}

func TestEvaluateUserDoesNotDuplicateExistingAuction(t *testing.T) {
	pool := unityPool()
	positions := auction.Positions{
		Collateral:  map[int]*big.Int{1: big.NewInt(10_0000000)},
		Liabilities: map[int]*big.Int{0: big.NewInt(100_0000000)},
	}

	reader := newFakeReader()
	reader.pools["pool-addr"] = pool
	reader.positions["p1/user-1"] = positions
	reader.oracles["p1"] = auction.PoolOracle{Prices: map[auction.Asset]float64{"USDC": 1.0, "XLM": 0.1}}

	store := newFakeStore()
	require.NoError(t, store.UpsertAuction(context.Background(), auction.AuctionEntry{PoolID: "p1", UserID: "user-1", Type: auction.Liquidation}))

	w := newTestWorker(reader, store)
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	require.NoError(t, w.evaluateUser(context.Background(), pool, "user-1"))
	require.Equal(t, 0, w.WorkQueue.Len())
}

func TestEvaluateUserEnqueuesBadDebtTransferForOrdinaryUser(t *testing.T) {
	pool := unityPool()
	pool.BackstopAddress = "backstop-1"
	positions := auction.Positions{
		Liabilities: map[int]*big.Int{0: big.NewInt(100_0000000)},
	}

	reader := newFakeReader()
	reader.pools["pool-addr"] = pool
	reader.positions["p1/user-1"] = positions
	reader.oracles["p1"] = auction.PoolOracle{Prices: map[auction.Asset]float64{"USDC": 1.0}}

	store := newFakeStore()
	w := newTestWorker(reader, store)
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	require.NoError(t, w.evaluateUser(context.Background(), pool, "user-1"))
	require.Equal(t, 1, w.WorkQueue.Len())

	_, exists, err := store.GetAuction(context.Background(), "p1", "user-1", auction.BadDebt)
	require.NoError(t, err)
	require.False(t, exists, "bad debt on an ordinary user must not create an auction directly")

	// A second pass must not double-enqueue the same pending transfer.
	require.NoError(t, w.evaluateUser(context.Background(), pool, "user-1"))
	require.Equal(t, 1, w.WorkQueue.Len())
}

func TestEvaluateUserCreatesBadDebtAuctionForBackstopAccount(t *testing.T) {
	pool := unityPool()
	pool.BackstopAddress = "backstop-1"
	positions := auction.Positions{
		Liabilities: map[int]*big.Int{0: big.NewInt(100_0000000)},
	}

	reader := newFakeReader()
	reader.pools["pool-addr"] = pool
	reader.positions["p1/backstop-1"] = positions
	reader.oracles["p1"] = auction.PoolOracle{Prices: map[auction.Asset]float64{"USDC": 1.0}}

	store := newFakeStore()
	w := newTestWorker(reader, store)
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	require.NoError(t, w.evaluateUser(context.Background(), pool, "backstop-1"))
	require.Equal(t, 1, w.WorkQueue.Len())

	_, exists, err := store.GetAuction(context.Background(), "p1", "backstop-1", auction.BadDebt)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestHandleCheckUserRejectsUnconfiguredPool(t *testing.T) {
	w := newTestWorker(newFakeReader(), newFakeStore())
	err := w.handleCheckUser(context.Background(), CheckUserRequest{PoolAddress: "nope", UserID: "u1"})
	require.Error(t, err)
}

func TestHandleUserRefreshPurgesOrphanedUsers(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertUser(context.Background(), auction.UserEntry{PoolID: "old-pool", UserID: "u1", Updated: 0}))

	w := newTestWorker(newFakeReader(), store)
	w.Pools = nil

	require.NoError(t, w.handleUserRefresh(context.Background(), 100))
	_, exists, err := store.GetUser(context.Background(), "old-pool", "u1")
	require.NoError(t, err)
	require.False(t, exists)
}
