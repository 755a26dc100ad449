// Package priceclient implements the exchange/DEX price sources spec.md
// §6 describes (Coinbase, Binance, and a DEX path-payment lookup) and a
// Manager that aggregates them into per-asset median prices.
package priceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Source resolves a spot price quote for one asset, denominated in the
// quote currency the source natively reports (USD for the exchange
// sources here).
type Source interface {
	Name() string
	Fetch(ctx context.Context, asset string) (Quote, error)
}

// Quote is a single source's price observation.
type Quote struct {
	Price     float64
	Timestamp time.Time
}

// Manager polls a set of configured sources per asset and reduces
// their quotes to a median, discarding stale or invalid observations.
type Manager struct {
	sources []Source
	maxAge  time.Duration
}

// NewManager constructs a Manager over the given sources. maxAge bounds
// how old a quote may be before it is discarded as stale.
func NewManager(sources []Source, maxAge time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &Manager{sources: append([]Source{}, sources...), maxAge: maxAge}
}

// FetchMedian polls every configured source for asset in parallel, one
// goroutine per source per spec.md §5, waits for the whole batch, and
// returns the median of the valid quotes. Returns an error if no
// source produced a usable quote.
func (m *Manager) FetchMedian(ctx context.Context, asset string) (float64, error) {
	now := time.Now()
	quotes := make([]Quote, len(m.sources))
	var wg sync.WaitGroup
	for i, src := range m.sources {
		if src == nil {
			continue
		}
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			q, err := src.Fetch(ctx, asset)
			if err != nil {
				return
			}
			quotes[i] = q
		}(i, src)
	}
	wg.Wait()

	var prices []float64
	for _, q := range quotes {
		if q.Price <= 0 {
			continue
		}
		if q.Timestamp.Before(now.Add(-m.maxAge)) {
			continue
		}
		prices = append(prices, q.Price)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("priceclient: no usable quote for %s", asset)
	}
	sort.Float64s(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid], nil
	}
	// Average the two middle quotes in decimal rather than float64 so
	// the result doesn't pick up binary-rounding noise on top of the
	// observed market prices.
	avg := decimal.NewFromFloat(prices[mid-1]).Add(decimal.NewFromFloat(prices[mid])).Div(decimal.NewFromInt(2))
	result, _ := avg.Float64()
	return result, nil
}

// httpSource is the shared HTTP-GET-and-rate-limit plumbing for the
// Coinbase and Binance sources, which differ only in URL shape and
// response parsing.
type httpSource struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPSource(name, baseURL string, limiter *rate.Limiter) httpSource {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(5), 5)
	}
	return httpSource{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
	}
}

func (s httpSource) get(ctx context.Context, path string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", s.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", s.name, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", s.name, resp.StatusCode)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", s.name, err)
	}
	return buf, nil
}

// CoinbaseSource queries Coinbase's brokerage market-products endpoint.
type CoinbaseSource struct {
	httpSource
}

// NewCoinbaseSource constructs a CoinbaseSource. limiter may be nil to
// use a conservative default.
func NewCoinbaseSource(baseURL string, limiter *rate.Limiter) *CoinbaseSource {
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}
	return &CoinbaseSource{httpSource: newHTTPSource("coinbase", baseURL, limiter)}
}

type coinbaseProductsResponse struct {
	Products []struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
	} `json:"products"`
}

// Fetch returns the spot price for asset-USD from Coinbase.
func (s *CoinbaseSource) Fetch(ctx context.Context, asset string) (Quote, error) {
	productID := strings.ToUpper(asset) + "-USD"
	path := "/api/v3/brokerage/market/products?product_ids=" + url.QueryEscape(productID)
	body, err := s.get(ctx, path)
	if err != nil {
		return Quote{}, err
	}
	var parsed coinbaseProductsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("coinbase: decode response: %w", err)
	}
	for _, p := range parsed.Products {
		if p.ProductID != productID {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("coinbase: parse price: %w", err)
		}
		return Quote{Price: price, Timestamp: time.Now()}, nil
	}
	return Quote{}, fmt.Errorf("coinbase: no product for %s", productID)
}

// Name implements Source.
func (s *CoinbaseSource) Name() string { return "coinbase" }

// BinanceSource queries Binance's ticker price endpoint.
type BinanceSource struct {
	httpSource
}

// NewBinanceSource constructs a BinanceSource.
func NewBinanceSource(baseURL string, limiter *rate.Limiter) *BinanceSource {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceSource{httpSource: newHTTPSource("binance", baseURL, limiter)}
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Fetch returns the spot price for assetUSDT from Binance.
func (s *BinanceSource) Fetch(ctx context.Context, asset string) (Quote, error) {
	symbol := strings.ToUpper(asset) + "USDT"
	path := "/api/v3/ticker/price?symbols=" + url.QueryEscape(fmt.Sprintf(`["%s"]`, symbol))
	body, err := s.get(ctx, path)
	if err != nil {
		return Quote{}, err
	}
	var tickers []binanceTicker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return Quote{}, fmt.Errorf("binance: decode response: %w", err)
	}
	for _, t := range tickers {
		if t.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("binance: parse price: %w", err)
		}
		return Quote{Price: price, Timestamp: time.Now()}, nil
	}
	return Quote{}, fmt.Errorf("binance: no ticker for %s", symbol)
}

// Name implements Source.
func (s *BinanceSource) Name() string { return "binance" }

// PathPaymentSimulator is the subset of auction.ChainClient a DEX
// source needs to price an asset via a strict-receive path payment.
type PathPaymentSimulator interface {
	SimulateTransaction(ctx context.Context, tx interface{}) (interface{}, error)
}

// DEXSource prices an asset via a strict-receive path-payment
// simulation against the federated gateway's on-chain order book.
type DEXSource struct {
	sim        PathPaymentSimulator
	quoteAsset string
	limiter    *rate.Limiter
}

// NewDEXSource constructs a DEXSource. quoteAsset is the receive asset
// (typically USDC) the strict-receive path is quoted against.
func NewDEXSource(sim PathPaymentSimulator, quoteAsset string, limiter *rate.Limiter) *DEXSource {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(2), 2)
	}
	return &DEXSource{sim: sim, quoteAsset: quoteAsset, limiter: limiter}
}

// Name implements Source.
func (s *DEXSource) Name() string { return "dex" }

// pathPaymentProbeUnits is the fixed probe amount (in the source
// asset's smallest unit at 7 decimals) used to derive a price ratio
// from the simulated strict-receive path.
const pathPaymentProbeUnits = 1_0000000

// Fetch simulates a strict-receive path payment sending asset and
// receiving quoteAsset, deriving a price from the simulated send
// amount.
func (s *DEXSource) Fetch(ctx context.Context, asset string) (Quote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("dex: rate limit wait: %w", err)
	}
	tx := map[string]interface{}{
		"op":          "pathPaymentStrictReceive",
		"sendAsset":   asset,
		"destAsset":   s.quoteAsset,
		"destAmount":  pathPaymentProbeUnits,
		"sendMax":     int64(1) << 62,
	}
	result, err := s.sim.SimulateTransaction(ctx, tx)
	if err != nil {
		return Quote{}, fmt.Errorf("dex: simulate path payment: %w", err)
	}
	sendAmount, ok := extractSendAmount(result)
	if !ok || sendAmount <= 0 {
		return Quote{}, fmt.Errorf("dex: could not extract send amount for %s", asset)
	}
	price := float64(pathPaymentProbeUnits) / sendAmount
	return Quote{Price: price, Timestamp: time.Now()}, nil
}

func extractSendAmount(result interface{}) (float64, bool) {
	m, ok := result.(map[string]interface{})
	if !ok {
		return 0, false
	}
	raw, ok := m["sendAmount"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
