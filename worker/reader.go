package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// PoolReader resolves the decision engine's domain objects (pool
// configuration, live oracle prices, a borrower's positions, a live
// auction's on-chain snapshot, and a filler's asset balances) from
// chain state. The decoding of the underlying contract storage entries
// is intentionally kept behind this interface, mirroring the split
// auction.ChainClient already draws between RPC transport and the
// pure decision engine: GetLedgerEntries returns the RPC node's raw
// ledger-entry envelopes, and translating those into typed pool/
// position/auction objects is a contract-storage-layout concern the
// decision engine itself never needs to know about.
type PoolReader interface {
	LoadPool(ctx context.Context, poolAddress string) (auction.Pool, error)
	LoadOracle(ctx context.Context, pool auction.Pool) (auction.PoolOracle, error)
	LoadPositions(ctx context.Context, pool auction.Pool, userID string) (auction.Positions, error)
	LoadAuctionSnapshot(ctx context.Context, pool auction.Pool, userID string, auctionType auction.AuctionType) (auction.AuctionSnapshot, bool, error)
	LoadBalances(ctx context.Context, owner string, assets []auction.Asset) (map[auction.Asset]*big.Int, error)
}

// chainPoolReader implements PoolReader against a Soroban RPC node
// that exposes decoded-JSON ledger-entry views (rather than raw XDR),
// the shape the node operators in this deployment run behind the RPC
// endpoint configured in rpcURL.
type chainPoolReader struct {
	client auction.ChainClient
}

// NewChainPoolReader constructs a PoolReader backed by the given chain
// client.
func NewChainPoolReader(client auction.ChainClient) PoolReader {
	return &chainPoolReader{client: client}
}

type poolEntryView struct {
	ID              string `json:"id"`
	MaxPositions    int    `json:"maxPositions"`
	BackstopAddress string `json:"backstopAddress"`
	Reserves        []struct {
		Asset    string  `json:"asset"`
		Price    float64 `json:"price"`
		Decimals int     `json:"decimals"`
		CF       float64 `json:"cf"`
		LF       float64 `json:"lf"`
		BRateNum string  `json:"bRateNum"`
		BRateDen string  `json:"bRateDen"`
		DRateNum string  `json:"dRateNum"`
		DRateDen string  `json:"dRateDen"`
	} `json:"reserves"`
}

func (r *chainPoolReader) LoadPool(ctx context.Context, poolAddress string) (auction.Pool, error) {
	raw, err := r.client.GetLedgerEntries(ctx, []string{"pool/" + poolAddress})
	if err != nil {
		return auction.Pool{}, fmt.Errorf("worker: load pool %s: %w", poolAddress, err)
	}
	var view poolEntryView
	if err := decodeEntry(raw, &view); err != nil {
		return auction.Pool{}, fmt.Errorf("worker: decode pool %s: %w", poolAddress, err)
	}

	pool := auction.Pool{
		ID:              view.ID,
		MaxPositions:    view.MaxPositions,
		BackstopAddress: view.BackstopAddress,
		Reserves:        make(map[auction.Asset]auction.Reserve, len(view.Reserves)),
	}
	for _, rv := range view.Reserves {
		asset := auction.Asset(rv.Asset)
		pool.ReserveList = append(pool.ReserveList, asset)
		pool.Reserves[asset] = auction.Reserve{
			Asset:    asset,
			Price:    rv.Price,
			Decimals: rv.Decimals,
			CF:       rv.CF,
			LF:       rv.LF,
			BRate:    ratioOrOne(rv.BRateNum, rv.BRateDen),
			DRate:    ratioOrOne(rv.DRateNum, rv.DRateDen),
		}
	}
	return pool, nil
}

func ratioOrOne(num, den string) *big.Rat {
	if num == "" || den == "" {
		return big.NewRat(1, 1)
	}
	n, ok1 := new(big.Int).SetString(num, 10)
	d, ok2 := new(big.Int).SetString(den, 10)
	if !ok1 || !ok2 || d.Sign() == 0 {
		return big.NewRat(1, 1)
	}
	return new(big.Rat).SetFrac(n, d)
}

func (r *chainPoolReader) LoadOracle(ctx context.Context, pool auction.Pool) (auction.PoolOracle, error) {
	keys := make([]string, 0, len(pool.ReserveList))
	for _, asset := range pool.ReserveList {
		keys = append(keys, "oracle/"+pool.ID+"/"+string(asset))
	}
	raw, err := r.client.GetLedgerEntries(ctx, keys)
	if err != nil {
		return auction.PoolOracle{}, fmt.Errorf("worker: load oracle for pool %s: %w", pool.ID, err)
	}
	var view map[string]float64
	if err := decodeEntry(raw, &view); err != nil {
		return auction.PoolOracle{}, fmt.Errorf("worker: decode oracle for pool %s: %w", pool.ID, err)
	}
	prices := make(map[auction.Asset]float64, len(view))
	for asset, price := range view {
		prices[auction.Asset(asset)] = price
	}
	return auction.PoolOracle{Prices: prices}, nil
}

type positionsView struct {
	HealthFactor float64          `json:"healthFactor"`
	Collateral   map[string]string `json:"collateral"`
	Liabilities  map[string]string `json:"liabilities"`
}

func (r *chainPoolReader) LoadPositions(ctx context.Context, pool auction.Pool, userID string) (auction.Positions, error) {
	raw, err := r.client.GetLedgerEntries(ctx, []string{"positions/" + pool.ID + "/" + userID})
	if err != nil {
		return auction.Positions{}, fmt.Errorf("worker: load positions for %s/%s: %w", pool.ID, userID, err)
	}
	var view positionsView
	if err := decodeEntry(raw, &view); err != nil {
		return auction.Positions{}, fmt.Errorf("worker: decode positions for %s/%s: %w", pool.ID, userID, err)
	}
	return decodePositions(pool, view), nil
}

func decodePositions(pool auction.Pool, view positionsView) auction.Positions {
	positions := auction.Positions{
		Collateral:  make(map[int]*big.Int, len(view.Collateral)),
		Liabilities: make(map[int]*big.Int, len(view.Liabilities)),
	}
	index := make(map[auction.Asset]int, len(pool.ReserveList))
	for i, asset := range pool.ReserveList {
		index[asset] = i
	}
	for asset, amount := range view.Collateral {
		if idx, ok := index[auction.Asset(asset)]; ok {
			positions.Collateral[idx] = bigIntOrZero(amount)
		}
	}
	for asset, amount := range view.Liabilities {
		if idx, ok := index[auction.Asset(asset)]; ok {
			positions.Liabilities[idx] = bigIntOrZero(amount)
		}
	}
	return positions
}

type auctionEntryView struct {
	Exists bool              `json:"exists"`
	Block0 uint32            `json:"block0"`
	Lot    map[string]string `json:"lot"`
	Bid    map[string]string `json:"bid"`
}

func (r *chainPoolReader) LoadAuctionSnapshot(ctx context.Context, pool auction.Pool, userID string, auctionType auction.AuctionType) (auction.AuctionSnapshot, bool, error) {
	key := fmt.Sprintf("auction/%s/%s/%s", pool.ID, userID, auctionType)
	raw, err := r.client.GetLedgerEntries(ctx, []string{key})
	if err != nil {
		return auction.AuctionSnapshot{}, false, fmt.Errorf("worker: load auction %s: %w", key, err)
	}
	var view auctionEntryView
	if err := decodeEntry(raw, &view); err != nil {
		return auction.AuctionSnapshot{}, false, fmt.Errorf("worker: decode auction %s: %w", key, err)
	}
	if !view.Exists {
		return auction.AuctionSnapshot{}, false, nil
	}

	snap := auction.AuctionSnapshot{
		Type:   auctionType,
		User:   userID,
		Block0: view.Block0,
		Lot:    amountsByAsset(view.Lot),
		Bid:    amountsByAsset(view.Bid),
	}
	return snap, true, nil
}

func amountsByAsset(raw map[string]string) map[auction.Asset]*big.Int {
	out := make(map[auction.Asset]*big.Int, len(raw))
	for asset, amount := range raw {
		out[auction.Asset(asset)] = bigIntOrZero(amount)
	}
	return out
}

// maxConcurrentBalanceLookups bounds the in-flight balance RPC calls
// per spec.md §5's "chunks of up to 5 concurrent RPC simulations".
const maxConcurrentBalanceLookups = 5

// LoadBalances fetches one balance entry per asset, up to
// maxConcurrentBalanceLookups of them in flight at a time, and waits
// for the whole batch before returning.
func (r *chainPoolReader) LoadBalances(ctx context.Context, owner string, assets []auction.Asset) (map[auction.Asset]*big.Int, error) {
	out := make(map[auction.Asset]*big.Int, len(assets))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	sem := make(chan struct{}, maxConcurrentBalanceLookups)

	for _, asset := range assets {
		asset := asset
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			raw, err := r.client.GetLedgerEntries(ctx, []string{"balance/" + owner + "/" + string(asset)})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("worker: load balance %s for %s: %w", asset, owner, err)
				}
				return
			}
			var view map[string]string
			if err := decodeEntry(raw, &view); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("worker: decode balance %s for %s: %w", asset, owner, err)
				}
				return
			}
			if amount, ok := view[string(asset)]; ok {
				out[asset] = bigIntOrZero(amount)
			} else {
				out[asset] = big.NewInt(0)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func bigIntOrZero(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// decodeEntry round-trips raw (already json.Unmarshal-decoded by
// rpcclient.Client.call into an interface{}) back through JSON so it can be
// re-decoded into a concrete, strongly typed view struct.
func decodeEntry(raw interface{}, out interface{}) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}
