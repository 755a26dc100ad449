package worker

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// fakeReader is an in-memory PoolReader stand-in for tests: every
// method reads straight out of the struct fields, set up per test.
type fakeReader struct {
	pools     map[string]auction.Pool
	oracles   map[string]auction.PoolOracle
	positions map[string]auction.Positions
	snapshots map[string]auction.AuctionSnapshot
	balances  map[string]*big.Int

	loadPoolErr error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		pools:     make(map[string]auction.Pool),
		oracles:   make(map[string]auction.PoolOracle),
		positions: make(map[string]auction.Positions),
		snapshots: make(map[string]auction.AuctionSnapshot),
		balances:  make(map[string]*big.Int),
	}
}

func (f *fakeReader) LoadPool(ctx context.Context, poolAddress string) (auction.Pool, error) {
	if f.loadPoolErr != nil {
		return auction.Pool{}, f.loadPoolErr
	}
	p, ok := f.pools[poolAddress]
	if !ok {
		return auction.Pool{}, errNotFound("pool", poolAddress)
	}
	return p, nil
}

func (f *fakeReader) LoadOracle(ctx context.Context, pool auction.Pool) (auction.PoolOracle, error) {
	return f.oracles[pool.ID], nil
}

func (f *fakeReader) LoadPositions(ctx context.Context, pool auction.Pool, userID string) (auction.Positions, error) {
	return f.positions[pool.ID+"/"+userID], nil
}

func (f *fakeReader) LoadAuctionSnapshot(ctx context.Context, pool auction.Pool, userID string, auctionType auction.AuctionType) (auction.AuctionSnapshot, bool, error) {
	snap, ok := f.snapshots[pool.ID+"/"+userID]
	return snap, ok, nil
}

func (f *fakeReader) LoadBalances(ctx context.Context, owner string, assets []auction.Asset) (map[auction.Asset]*big.Int, error) {
	out := make(map[auction.Asset]*big.Int, len(assets))
	for _, a := range assets {
		if v, ok := f.balances[owner+"/"+string(a)]; ok {
			out[a] = v
			continue
		}
		out[a] = big.NewInt(0)
	}
	return out, nil
}

func errNotFound(kind, id string) error {
	return &notFoundError{kind: kind, id: id}
}

type notFoundError struct{ kind, id string }

func (e *notFoundError) Error() string { return e.kind + " not found: " + e.id }

// fakeStore is an in-memory auction.Store stand-in.
type fakeStore struct {
	auctions map[string]auction.AuctionEntry
	users    map[string]auction.UserEntry
	prices   map[auction.Asset]auction.PriceEntry
	status   map[string]uint32
	filled   []auction.FilledAuctionEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auctions: make(map[string]auction.AuctionEntry),
		users:    make(map[string]auction.UserEntry),
		prices:   make(map[auction.Asset]auction.PriceEntry),
		status:   make(map[string]uint32),
	}
}

func auctionKey(poolID, userID string, t auction.AuctionType) string {
	return poolID + "/" + userID + "/" + t.String()
}

func (s *fakeStore) UpsertAuction(ctx context.Context, entry auction.AuctionEntry) error {
	s.auctions[auctionKey(entry.PoolID, entry.UserID, entry.Type)] = entry
	return nil
}

func (s *fakeStore) DeleteAuction(ctx context.Context, poolID, userID string, auctionType auction.AuctionType) error {
	delete(s.auctions, auctionKey(poolID, userID, auctionType))
	return nil
}

func (s *fakeStore) GetAuction(ctx context.Context, poolID, userID string, auctionType auction.AuctionType) (auction.AuctionEntry, bool, error) {
	e, ok := s.auctions[auctionKey(poolID, userID, auctionType)]
	return e, ok, nil
}

func (s *fakeStore) ListAuctions(ctx context.Context, poolID string) ([]auction.AuctionEntry, error) {
	var out []auction.AuctionEntry
	for _, e := range s.auctions {
		if e.PoolID == poolID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordFilledAuction(ctx context.Context, entry auction.FilledAuctionEntry) error {
	s.filled = append(s.filled, entry)
	return nil
}

func (s *fakeStore) UpsertUser(ctx context.Context, entry auction.UserEntry) error {
	s.users[entry.PoolID+"/"+entry.UserID] = entry
	return nil
}

func (s *fakeStore) DeleteUser(ctx context.Context, poolID, userID string) error {
	delete(s.users, poolID+"/"+userID)
	return nil
}

func (s *fakeStore) GetUser(ctx context.Context, poolID, userID string) (auction.UserEntry, bool, error) {
	u, ok := s.users[poolID+"/"+userID]
	return u, ok, nil
}

func (s *fakeStore) ListUsers(ctx context.Context, poolID string) ([]auction.UserEntry, error) {
	var out []auction.UserEntry
	for _, u := range s.users {
		if u.PoolID == poolID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) ListStaleUsers(ctx context.Context, cutoffLedger uint32) ([]auction.UserEntry, error) {
	var out []auction.UserEntry
	for _, u := range s.users {
		if u.Updated < cutoffLedger {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertPrice(ctx context.Context, entry auction.PriceEntry) error {
	s.prices[entry.AssetID] = entry
	return nil
}

func (s *fakeStore) GetPrice(ctx context.Context, assetID auction.Asset) (auction.PriceEntry, bool, error) {
	p, ok := s.prices[assetID]
	return p, ok, nil
}

func (s *fakeStore) GetStatus(ctx context.Context, name string) (uint32, bool, error) {
	v, ok := s.status[name]
	return v, ok, nil
}

func (s *fakeStore) SetStatus(ctx context.Context, name string, latestLedger uint32) error {
	s.status[name] = latestLedger
	return nil
}

// fakeChainClient is a no-op auction.ChainClient stand-in for tests
// that never exercise the chain submission path.
type fakeChainClient struct{}

func (fakeChainClient) GetLatestLedger(ctx context.Context) (uint32, error) { return 0, nil }
func (fakeChainClient) GetEvents(ctx context.Context, startLedger uint32, filters interface{}, cursor string, limit int) (interface{}, error) {
	return nil, nil
}
func (fakeChainClient) GetLedgerEntries(ctx context.Context, keys []string) (interface{}, error) {
	return nil, nil
}
func (fakeChainClient) SimulateTransaction(ctx context.Context, tx interface{}) (interface{}, error) {
	return nil, nil
}
func (fakeChainClient) SendTransaction(ctx context.Context, tx interface{}) (string, string, error) {
	return "hash", "PENDING", nil
}
func (fakeChainClient) GetTransaction(ctx context.Context, hash string) (uint32, string, string, string, error) {
	return 1, "SUCCESS", "", "", nil
}

func newTestWorker(reader *fakeReader, store *fakeStore) *Worker {
	return New(fakeChainClient{}, reader, store, noopNotify{}, nil, nil, nil, nil, "", "", nil)
}

type noopNotify struct{}

func (noopNotify) Notify(ctx context.Context, botName, poolAddress, body string) error { return nil }

func TestHandleValidatePoolsRejectsBackstopMismatch(t *testing.T) {
	reader := newFakeReader()
	reader.pools["pool-addr"] = auction.Pool{ID: "p1", BackstopAddress: "wrong-backstop"}
	w := newTestWorker(reader, newFakeStore())
	w.BackstopAddress = "expected-backstop"
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	err := w.handleValidatePools(context.Background())
	require.Error(t, err)
}

func TestHandleValidatePoolsAcceptsMatchingBackstop(t *testing.T) {
	reader := newFakeReader()
	reader.pools["pool-addr"] = auction.Pool{ID: "p1", BackstopAddress: "backstop"}
	w := newTestWorker(reader, newFakeStore())
	w.BackstopAddress = "backstop"
	w.Pools = []PoolSetup{{Name: "p1", PoolAddress: "pool-addr"}}

	require.NoError(t, w.handleValidatePools(context.Background()))
}

func TestTrackedAssetsUnionsFillerAssets(t *testing.T) {
	w := newTestWorker(newFakeReader(), newFakeStore())
	w.Fillers = []auction.Filler{
		{SupportedBid: map[auction.Asset]struct{}{"USDC": {}}, SupportedLot: map[auction.Asset]struct{}{"XLM": {}}},
		{SupportedBid: map[auction.Asset]struct{}{"USDC": {}}, SupportedLot: map[auction.Asset]struct{}{"BLND": {}}},
	}
	assets := w.trackedAssets()
	require.Len(t, assets, 3)
	require.Contains(t, assets, auction.Asset("USDC"))
	require.Contains(t, assets, auction.Asset("XLM"))
	require.Contains(t, assets, auction.Asset("BLND"))
}
