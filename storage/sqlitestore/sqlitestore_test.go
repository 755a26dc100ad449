package sqlitestore

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAuctionUpsertGetListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := auction.AuctionEntry{
		PoolID: "pool1", UserID: "user1", Type: auction.Liquidation,
		FillerPubkey: "fillerA", StartBlock: 100, FillBlock: 150, Updated: 200,
	}
	require.NoError(t, s.UpsertAuction(ctx, entry))

	got, ok, err := s.GetAuction(ctx, "pool1", "user1", auction.Liquidation)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry, got)

	entry.FillBlock = 160
	require.NoError(t, s.UpsertAuction(ctx, entry))
	got, _, err = s.GetAuction(ctx, "pool1", "user1", auction.Liquidation)
	require.NoError(t, err)
	require.Equal(t, uint32(160), got.FillBlock)

	list, err := s.ListAuctions(ctx, "pool1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteAuction(ctx, "pool1", "user1", auction.Liquidation))
	_, ok, err = s.GetAuction(ctx, "pool1", "user1", auction.Liquidation)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUserUpsertGetListStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := auction.UserEntry{
		PoolID: "pool1", UserID: "user1", HealthFactor: 1.5,
		Positions: auction.Positions{
			Collateral:  map[int]*big.Int{0: big.NewInt(1000)},
			Liabilities: map[int]*big.Int{1: big.NewInt(500)},
		},
		Updated: 100,
	}
	require.NoError(t, s.UpsertUser(ctx, entry))

	got, ok, err := s.GetUser(ctx, "pool1", "user1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000", got.Positions.Collateral[0].String())
	require.Equal(t, "500", got.Positions.Liabilities[1].String())

	stale, err := s.ListStaleUsers(ctx, 150)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	fresh, err := s.ListStaleUsers(ctx, 50)
	require.NoError(t, err)
	require.Empty(t, fresh)

	require.NoError(t, s.DeleteUser(ctx, "pool1", "user1"))
	_, ok, err = s.GetUser(ctx, "pool1", "user1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPriceUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPrice(ctx, auction.PriceEntry{AssetID: "XLM", Price: 0.1, Timestamp: 111}))
	got, ok, err := s.GetPrice(ctx, "XLM")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.1, got.Price)

	require.NoError(t, s.UpsertPrice(ctx, auction.PriceEntry{AssetID: "XLM", Price: 0.2, Timestamp: 222}))
	got, _, err = s.GetPrice(ctx, "XLM")
	require.NoError(t, err)
	require.Equal(t, 0.2, got.Price)

	_, ok, err = s.GetPrice(ctx, "MISSING")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatusSetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetStatus(ctx, "collector")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetStatus(ctx, "collector", 500))
	ledger, ok, err := s.GetStatus(ctx, "collector")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(500), ledger)

	require.NoError(t, s.SetStatus(ctx, "collector", 600))
	ledger, _, err = s.GetStatus(ctx, "collector")
	require.NoError(t, err)
	require.Equal(t, uint32(600), ledger)
}

func TestRecordFilledAuction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := auction.FilledAuctionEntry{
		TxHash:    "tx1",
		Bid:       map[auction.Asset]*big.Int{"USDC": big.NewInt(100)},
		Lot:       map[auction.Asset]*big.Int{"XLM": big.NewInt(1000)},
		EstProfit: 12.5,
		FillBlock: 250,
		Timestamp: 333,
	}
	require.NoError(t, s.RecordFilledAuction(ctx, entry))
}
