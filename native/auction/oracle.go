package auction

import "sort"

// SignificantMoveThreshold is the minimum fractional deviation from
// the rolling median that marks an asset's latest price as a
// "significant" move (+/-1%).
const SignificantMoveThreshold = 0.01

// DefaultOracleWindow bounds how many recent observations are
// retained per asset before the oldest is evicted.
const DefaultOracleWindow = 20

// PoolOracle is the snapshot of per-asset oracle prices handed to
// OracleHistory on each refresh.
type PoolOracle struct {
	Prices map[Asset]float64
}

// MoveSet partitions assets whose latest price moved significantly
// relative to the window median, by direction.
type MoveSet struct {
	Up   map[Asset]struct{}
	Down map[Asset]struct{}
}

// OracleHistory maintains a bounded sliding window of recent oracle
// prices per asset and detects directional significant moves,
// avoiding the need to re-check every borrower's solvency on every
// ledger tick.
type OracleHistory struct {
	window  int
	history map[Asset][]float64
}

// NewOracleHistory constructs a history with the given per-asset
// window size. A non-positive window falls back to
// DefaultOracleWindow.
func NewOracleHistory(window int) *OracleHistory {
	if window <= 0 {
		window = DefaultOracleWindow
	}
	return &OracleHistory{
		window:  window,
		history: make(map[Asset][]float64),
	}
}

// Refresh ingests a new oracle snapshot and returns the set of assets
// whose latest price differs from the pre-update window median by
// more than SignificantMoveThreshold, partitioned by direction. The
// new observation is appended to the window after the comparison.
func (h *OracleHistory) Refresh(snap PoolOracle) MoveSet {
	moves := MoveSet{Up: map[Asset]struct{}{}, Down: map[Asset]struct{}{}}
	for asset, price := range snap.Prices {
		prior := h.history[asset]
		if len(prior) > 0 {
			median := medianOf(prior)
			if median != 0 {
				delta := (price - median) / median
				switch {
				case delta >= SignificantMoveThreshold:
					moves.Up[asset] = struct{}{}
				case delta <= -SignificantMoveThreshold:
					moves.Down[asset] = struct{}{}
				}
			}
		}
		h.append(asset, price)
	}
	return moves
}

func (h *OracleHistory) append(asset Asset, price float64) {
	series := append(h.history[asset], price)
	if len(series) > h.window {
		series = series[len(series)-h.window:]
	}
	h.history[asset] = series
}

// Median returns the current window median for an asset, and whether
// any observations exist.
func (h *OracleHistory) Median(asset Asset) (float64, bool) {
	series := h.history[asset]
	if len(series) == 0 {
		return 0, false
	}
	return medianOf(series), true
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
