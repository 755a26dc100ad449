// Package auction implements the auction-bot decision engine: the pure
// planning and valuation logic that decides when and how aggressively
// to fill a live auction, independent of chain RPC, persistence, and
// transport concerns.
package auction

import "math/big"

// AuctionType identifies which of the protocol's three auction
// mechanisms a snapshot belongs to.
type AuctionType int

const (
	// Liquidation auctions sell a borrower's collateral for their debt.
	Liquidation AuctionType = iota
	// Interest auctions sell accrued interest for the backstop LP token.
	Interest
	// BadDebt auctions sell the backstop LP token for an insolvent
	// account's leftover debt.
	BadDebt
)

func (t AuctionType) String() string {
	switch t {
	case Liquidation:
		return "liquidation"
	case Interest:
		return "interest"
	case BadDebt:
		return "bad_debt"
	default:
		return "unknown"
	}
}

// Asset is an opaque contract-address identifier.
type Asset string

// Reserve holds one pool asset's pricing and conversion configuration.
// CF (collateral factor) and LF (liability factor) convert underlying
// amounts into effective, solvency-comparable values:
//
//	toEffectiveCollateral = underlying * CF * price
//	toEffectiveLiability  = underlying * LF * price
type Reserve struct {
	Asset Asset
	// Price is the oracle price, float-denominated (decision math is
	// float; only outbound requests and balance comparisons convert to
	// fixed-point chain amounts).
	Price float64
	// Decimals is the reserve's underlying-token decimal scale.
	Decimals int
	// CF is the collateral factor in [0,1].
	CF float64
	// LF is the liability factor, >= 1.
	LF float64
	// BRate converts a bToken amount to underlying: underlying = bTokens * BRate.
	BRate *big.Rat
	// DRate converts a dToken amount to underlying: underlying = dTokens * DRate.
	DRate *big.Rat
}

// BTokenToUnderlying converts a bToken (share-accounting deposit unit)
// amount to underlying using the reserve's BRate.
func (r Reserve) BTokenToUnderlying(bTokens *big.Int) *big.Int {
	return rateToUnderlying(bTokens, r.BRate)
}

// DTokenToUnderlying converts a dToken (share-accounting debt unit)
// amount to underlying using the reserve's DRate.
func (r Reserve) DTokenToUnderlying(dTokens *big.Int) *big.Int {
	return rateToUnderlying(dTokens, r.DRate)
}

// EffectiveCollateral returns underlying * CF * price for this reserve.
func (r Reserve) EffectiveCollateral(underlying *big.Int) float64 {
	return toFloat(underlying, r.Decimals) * r.CF * r.Price
}

// EffectiveLiability returns underlying * LF * price for this reserve.
func (r Reserve) EffectiveLiability(underlying *big.Int) float64 {
	return toFloat(underlying, r.Decimals) * r.LF * r.Price
}

// Pool is the per-pool configuration: its reserves keyed by asset and
// an ordered reserve list (positions are keyed by integer index, not
// asset id, so the ordering must be preserved).
type Pool struct {
	ID              string
	MaxPositions    int
	BackstopAddress string
	ReserveList     []Asset
	Reserves        map[Asset]Reserve
}

// Reserve looks up a reserve by asset, reporting whether it exists.
func (p Pool) Reserve(asset Asset) (Reserve, bool) {
	r, ok := p.Reserves[asset]
	return r, ok
}

// Positions is a borrower's per-reserve-index holdings. Collateral is
// held in bTokens, liabilities in dTokens. Invariant: every present
// amount is > 0; len(Collateral)+len(Liabilities) <= pool.MaxPositions.
type Positions struct {
	Collateral  map[int]*big.Int
	Liabilities map[int]*big.Int
}

// AuctionSnapshot is the on-chain state of one live auction at the
// moment it was read.
type AuctionSnapshot struct {
	Type    AuctionType
	User    string
	Block0  uint32
	Lot     map[Asset]*big.Int
	Bid     map[Asset]*big.Int
}

// AuctionEntry is the persisted tracking row for a live auction.
type AuctionEntry struct {
	PoolID       string
	UserID       string
	Type         AuctionType
	FillerPubkey string
	StartBlock   uint32
	FillBlock    uint32
	Updated      uint32
}

// FilledAuctionEntry is an immutable record of a completed bid.
type FilledAuctionEntry struct {
	TxHash    string
	Bid       map[Asset]*big.Int
	Lot       map[Asset]*big.Int
	EstProfit float64
	FillBlock uint32
	Timestamp int64
}

// UserEntry is the last-known position snapshot for a borrower.
type UserEntry struct {
	PoolID       string
	UserID       string
	Positions    Positions
	HealthFactor float64
	Updated      uint32
}

// PriceEntry is an externally sourced price observation, consulted in
// preference to the oracle price when fresh.
type PriceEntry struct {
	AssetID   Asset
	Price     float64
	Timestamp int64
}

// AuctionProfit is an operator-configured profit-target override for
// auctions matching a particular bid/lot asset-class combination.
type AuctionProfit struct {
	ProfitPct     float64
	SupportedBid  map[Asset]struct{}
	SupportedLot  map[Asset]struct{}
}

// PoolFillerConfig is a filler's per-pool override set.
type PoolFillerConfig struct {
	PoolAddress          string
	PrimaryAsset         Asset
	MinPrimaryCollateral *big.Int
	MinHealthFactor      float64
	ForceFill            bool
}

// Filler is one bot identity's configuration.
type Filler struct {
	Name             string
	Keypair          string
	DefaultProfitPct float64
	MinHealthFactor  float64
	ForceFill        bool
	SupportedBid     map[Asset]struct{}
	SupportedLot     map[Asset]struct{}
	SupportedPools   []PoolFillerConfig
	Profits          []AuctionProfit
}

// SupportsAuction reports whether every lot asset is in SupportedLot
// and every bid asset is in SupportedBid.
func (f Filler) SupportsAuction(snap AuctionSnapshot) bool {
	for asset := range snap.Lot {
		if _, ok := f.SupportedLot[asset]; !ok {
			return false
		}
	}
	for asset := range snap.Bid {
		if _, ok := f.SupportedBid[asset]; !ok {
			return false
		}
	}
	return true
}

// PoolConfig returns the filler's override for the given pool, if any.
func (f Filler) PoolConfig(poolAddress string) (PoolFillerConfig, bool) {
	for _, pc := range f.SupportedPools {
		if pc.PoolAddress == poolAddress {
			return pc, true
		}
	}
	return PoolFillerConfig{}, false
}

// SubmissionKind tags the variant carried by a Submission.
type SubmissionKind int

const (
	SubmissionBid SubmissionKind = iota
	SubmissionUnwind
	SubmissionAuctionCreation
	SubmissionBadDebtTransfer
)

// Submission is a tagged-union queue entry. Only the fields relevant
// to Kind are populated.
type Submission struct {
	Kind             SubmissionKind
	Sequence         int64
	RetriesRemaining int

	// Bid
	Filler       Filler
	AuctionEntry AuctionEntry

	// Unwind
	PoolID string

	// AuctionCreation / BadDebtTransfer
	User    string
	Type    AuctionType
	Percent int
	Bid     []Asset
	Lot     []Asset
}

func rateToUnderlying(amount *big.Int, rate *big.Rat) *big.Int {
	if amount == nil || rate == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(amount), rate)
	num := scaled.Num()
	den := scaled.Denom()
	if den.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
}

func toFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
