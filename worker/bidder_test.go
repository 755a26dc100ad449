package worker

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

func TestUniqueAssetsDedupesAcrossSets(t *testing.T) {
	lot := map[auction.Asset]*big.Int{"USDC": big.NewInt(1), "XLM": big.NewInt(2)}
	bid := map[auction.Asset]*big.Int{"USDC": big.NewInt(3)}

	assets := uniqueAssets(lot, bid)
	require.Len(t, assets, 2)
	require.Contains(t, assets, auction.Asset("USDC"))
	require.Contains(t, assets, auction.Asset("XLM"))
}

func TestFillerByPubkeyLooksUpByName(t *testing.T) {
	w := newTestWorker(newFakeReader(), newFakeStore())
	w.Fillers = []auction.Filler{{Name: "filler-a"}, {Name: "filler-b"}}

	f, ok := w.fillerByPubkey("filler-b")
	require.True(t, ok)
	require.Equal(t, "filler-b", f.Name)

	_, ok = w.fillerByPubkey("nope")
	require.False(t, ok)
}

func TestBidOnEntrySkipsAlreadyQueuedAuction(t *testing.T) {
	w := newTestWorker(newFakeReader(), newFakeStore())
	entry := auction.AuctionEntry{PoolID: "p1", UserID: "user-1", Type: auction.Liquidation}
	w.BidQueue.Add(auction.Submission{Kind: auction.SubmissionBid, AuctionEntry: entry}, 1, 0)

	require.NoError(t, w.bidOnEntry(context.Background(), auction.Pool{ID: "p1"}, entry, 100))
	require.Equal(t, 1, w.BidQueue.Len())
}

func TestBidOnEntryDeletesAuctionThatVanishedOnChain(t *testing.T) {
	reader := newFakeReader()
	store := newFakeStore()
	pool := auction.Pool{ID: "p1"}
	entry := auction.AuctionEntry{PoolID: "p1", UserID: "user-1", Type: auction.Liquidation, FillBlock: 0}
	require.NoError(t, store.UpsertAuction(context.Background(), entry))

	w := newTestWorker(reader, store)

	require.NoError(t, w.bidOnEntry(context.Background(), pool, entry, 100))

	_, exists, err := store.GetAuction(context.Background(), "p1", "user-1", auction.Liquidation)
	require.NoError(t, err)
	require.False(t, exists)
	require.Equal(t, 0, w.BidQueue.Len())
}
