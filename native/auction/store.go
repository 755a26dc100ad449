package auction

import "context"

// ChainClient is the opaque chain RPC capability the decision engine
// depends on (spec.md §6). Concrete implementations live outside this
// package (see package rpcclient); the engine itself never depends on
// transport details.
type ChainClient interface {
	GetLatestLedger(ctx context.Context) (uint32, error)
	GetEvents(ctx context.Context, startLedger uint32, filters interface{}, cursor string, limit int) (interface{}, error)
	GetLedgerEntries(ctx context.Context, keys []string) (interface{}, error)
	SimulateTransaction(ctx context.Context, tx interface{}) (interface{}, error)
	SendTransaction(ctx context.Context, tx interface{}) (hash string, status string, err error)
	GetTransaction(ctx context.Context, hash string) (ledger uint32, status string, resultXDR string, envelope string, err error)
}

// Store is the persistence adapter interface (§6 schema): auctions,
// filled auctions, users, prices, and status rows. Concrete
// implementations live in package storage (sqlitestore, gormstore).
type Store interface {
	UpsertAuction(ctx context.Context, entry AuctionEntry) error
	DeleteAuction(ctx context.Context, poolID, userID string, auctionType AuctionType) error
	GetAuction(ctx context.Context, poolID, userID string, auctionType AuctionType) (AuctionEntry, bool, error)
	ListAuctions(ctx context.Context, poolID string) ([]AuctionEntry, error)

	RecordFilledAuction(ctx context.Context, entry FilledAuctionEntry) error

	UpsertUser(ctx context.Context, entry UserEntry) error
	DeleteUser(ctx context.Context, poolID, userID string) error
	GetUser(ctx context.Context, poolID, userID string) (UserEntry, bool, error)
	ListUsers(ctx context.Context, poolID string) ([]UserEntry, error)
	ListStaleUsers(ctx context.Context, cutoffLedger uint32) ([]UserEntry, error)

	UpsertPrice(ctx context.Context, entry PriceEntry) error
	GetPrice(ctx context.Context, assetID Asset) (PriceEntry, bool, error)

	GetStatus(ctx context.Context, name string) (uint32, bool, error)
	SetStatus(ctx context.Context, name string, latestLedger uint32) error
}
