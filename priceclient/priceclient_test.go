package priceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func TestCoinbaseSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.RawQuery, "XLM-USD")
		w.Write([]byte(`{"products":[{"product_id":"XLM-USD","price":"0.0990"}]}`))
	}))
	defer srv.Close()

	src := NewCoinbaseSource(srv.URL, unlimited())
	q, err := src.Fetch(context.Background(), "XLM")
	require.NoError(t, err)
	require.InDelta(t, 0.099, q.Price, 1e-9)
}

func TestBinanceSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"XLMUSDT","price":"0.0991"}]`))
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, unlimited())
	q, err := src.Fetch(context.Background(), "XLM")
	require.NoError(t, err)
	require.InDelta(t, 0.0991, q.Price, 1e-9)
}

type fakeSource struct {
	name  string
	price float64
	ts    time.Time
	err   error
}

func (f fakeSource) Name() string { return f.name }
func (f fakeSource) Fetch(ctx context.Context, asset string) (Quote, error) {
	if f.err != nil {
		return Quote{}, f.err
	}
	return Quote{Price: f.price, Timestamp: f.ts}, nil
}

func TestManagerFetchMedianOddCount(t *testing.T) {
	now := time.Now()
	m := NewManager([]Source{
		fakeSource{name: "a", price: 0.10, ts: now},
		fakeSource{name: "b", price: 0.11, ts: now},
		fakeSource{name: "c", price: 0.12, ts: now},
	}, time.Minute)

	price, err := m.FetchMedian(context.Background(), "XLM")
	require.NoError(t, err)
	require.InDelta(t, 0.11, price, 1e-9)
}

func TestManagerFetchMedianEvenCountAverages(t *testing.T) {
	now := time.Now()
	m := NewManager([]Source{
		fakeSource{name: "a", price: 0.10, ts: now},
		fakeSource{name: "b", price: 0.12, ts: now},
	}, time.Minute)

	price, err := m.FetchMedian(context.Background(), "XLM")
	require.NoError(t, err)
	require.InDelta(t, 0.11, price, 1e-9)
}

func TestManagerFetchMedianDiscardsStaleAndInvalid(t *testing.T) {
	now := time.Now()
	m := NewManager([]Source{
		fakeSource{name: "stale", price: 5.0, ts: now.Add(-time.Hour)},
		fakeSource{name: "negative", price: -1.0, ts: now},
		fakeSource{name: "good", price: 0.1, ts: now},
	}, time.Minute)

	price, err := m.FetchMedian(context.Background(), "XLM")
	require.NoError(t, err)
	require.InDelta(t, 0.1, price, 1e-9)
}

func TestManagerFetchMedianErrorsWhenNoSourcesUsable(t *testing.T) {
	m := NewManager([]Source{}, time.Minute)
	_, err := m.FetchMedian(context.Background(), "XLM")
	require.Error(t, err)
}
