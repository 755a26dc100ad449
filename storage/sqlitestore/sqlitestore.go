// Package sqlitestore implements auction.Store over database/sql and
// modernc.org/sqlite, against the relational schema spec.md §6
// describes (auctions, filled_auctions, users, prices, status).
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	_ "modernc.org/sqlite"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// Store persists the bot's relational state to a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) a SQLite database at path and
// applies the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS auctions (
			pool_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			auction_type INTEGER NOT NULL,
			filler TEXT NOT NULL,
			start_block INTEGER NOT NULL,
			fill_block INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			PRIMARY KEY (pool_id, user_id, auction_type)
		);`,
		`CREATE TABLE IF NOT EXISTS filled_auctions (
			tx_hash TEXT PRIMARY KEY,
			bid TEXT NOT NULL,
			lot TEXT NOT NULL,
			est_profit REAL NOT NULL,
			fill_block INTEGER NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			pool_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			health_factor REAL NOT NULL,
			collateral BLOB NOT NULL,
			liabilities BLOB NOT NULL,
			updated INTEGER NOT NULL,
			PRIMARY KEY (pool_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS prices (
			asset_id TEXT PRIMARY KEY,
			price REAL NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS status (
			name TEXT PRIMARY KEY,
			latest_ledger INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlitestore: apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertAuction implements auction.Store.
func (s *Store) UpsertAuction(ctx context.Context, entry auction.AuctionEntry) error {
	const stmt = `INSERT INTO auctions(pool_id, user_id, auction_type, filler, start_block, fill_block, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id, user_id, auction_type) DO UPDATE SET
			filler = excluded.filler,
			start_block = excluded.start_block,
			fill_block = excluded.fill_block,
			updated = excluded.updated`
	_, err := s.db.ExecContext(ctx, stmt, entry.PoolID, entry.UserID, int(entry.Type), entry.FillerPubkey, entry.StartBlock, entry.FillBlock, entry.Updated)
	return err
}

// DeleteAuction implements auction.Store.
func (s *Store) DeleteAuction(ctx context.Context, poolID, userID string, auctionType auction.AuctionType) error {
	const stmt = `DELETE FROM auctions WHERE pool_id = ? AND user_id = ? AND auction_type = ?`
	_, err := s.db.ExecContext(ctx, stmt, poolID, userID, int(auctionType))
	return err
}

// GetAuction implements auction.Store.
func (s *Store) GetAuction(ctx context.Context, poolID, userID string, auctionType auction.AuctionType) (auction.AuctionEntry, bool, error) {
	const query = `SELECT pool_id, user_id, auction_type, filler, start_block, fill_block, updated
		FROM auctions WHERE pool_id = ? AND user_id = ? AND auction_type = ?`
	row := s.db.QueryRowContext(ctx, query, poolID, userID, int(auctionType))
	entry, err := scanAuctionEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.AuctionEntry{}, false, nil
	}
	if err != nil {
		return auction.AuctionEntry{}, false, err
	}
	return entry, true, nil
}

// ListAuctions implements auction.Store.
func (s *Store) ListAuctions(ctx context.Context, poolID string) ([]auction.AuctionEntry, error) {
	const query = `SELECT pool_id, user_id, auction_type, filler, start_block, fill_block, updated
		FROM auctions WHERE pool_id = ? ORDER BY user_id, auction_type`
	rows, err := s.db.QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auction.AuctionEntry
	for rows.Next() {
		entry, err := scanAuctionEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuctionEntry(row rowScanner) (auction.AuctionEntry, error) {
	var entry auction.AuctionEntry
	var auctionType int
	if err := row.Scan(&entry.PoolID, &entry.UserID, &auctionType, &entry.FillerPubkey, &entry.StartBlock, &entry.FillBlock, &entry.Updated); err != nil {
		return auction.AuctionEntry{}, err
	}
	entry.Type = auction.AuctionType(auctionType)
	return entry, nil
}

// RecordFilledAuction implements auction.Store.
func (s *Store) RecordFilledAuction(ctx context.Context, entry auction.FilledAuctionEntry) error {
	bidJSON, err := marshalAmounts(entry.Bid)
	if err != nil {
		return err
	}
	lotJSON, err := marshalAmounts(entry.Lot)
	if err != nil {
		return err
	}
	const stmt = `INSERT OR REPLACE INTO filled_auctions(tx_hash, bid, lot, est_profit, fill_block, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt, entry.TxHash, bidJSON, lotJSON, entry.EstProfit, entry.FillBlock, entry.Timestamp)
	return err
}

func marshalAmounts(amounts map[auction.Asset]*big.Int) (string, error) {
	plain := make(map[string]string, len(amounts))
	for asset, amount := range amounts {
		if amount == nil {
			plain[string(asset)] = "0"
			continue
		}
		plain[string(asset)] = amount.String()
	}
	buf, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: marshal amounts: %w", err)
	}
	return string(buf), nil
}

func unmarshalAmounts(raw string) (map[auction.Asset]*big.Int, error) {
	var plain map[string]string
	if err := json.Unmarshal([]byte(raw), &plain); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal amounts: %w", err)
	}
	out := make(map[auction.Asset]*big.Int, len(plain))
	for asset, amount := range plain {
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("sqlitestore: invalid amount %q for asset %s", amount, asset)
		}
		out[auction.Asset(asset)] = v
	}
	return out, nil
}

// UpsertUser implements auction.Store.
func (s *Store) UpsertUser(ctx context.Context, entry auction.UserEntry) error {
	collateral, err := marshalPositions(entry.Positions.Collateral)
	if err != nil {
		return err
	}
	liabilities, err := marshalPositions(entry.Positions.Liabilities)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO users(pool_id, user_id, health_factor, collateral, liabilities, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id, user_id) DO UPDATE SET
			health_factor = excluded.health_factor,
			collateral = excluded.collateral,
			liabilities = excluded.liabilities,
			updated = excluded.updated`
	_, err = s.db.ExecContext(ctx, stmt, entry.PoolID, entry.UserID, entry.HealthFactor, collateral, liabilities, entry.Updated)
	return err
}

func marshalPositions(positions map[int]*big.Int) ([]byte, error) {
	plain := make(map[string]string, len(positions))
	for idx, amount := range positions {
		if amount == nil {
			continue
		}
		plain[fmt.Sprintf("%d", idx)] = amount.String()
	}
	return json.Marshal(plain)
}

func unmarshalPositions(raw []byte) (map[int]*big.Int, error) {
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal positions: %w", err)
	}
	out := make(map[int]*big.Int, len(plain))
	for key, amount := range plain {
		var idx int
		if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
			return nil, fmt.Errorf("sqlitestore: invalid position index %q: %w", key, err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("sqlitestore: invalid position amount %q", amount)
		}
		out[idx] = v
	}
	return out, nil
}

// DeleteUser implements auction.Store.
func (s *Store) DeleteUser(ctx context.Context, poolID, userID string) error {
	const stmt = `DELETE FROM users WHERE pool_id = ? AND user_id = ?`
	_, err := s.db.ExecContext(ctx, stmt, poolID, userID)
	return err
}

// GetUser implements auction.Store.
func (s *Store) GetUser(ctx context.Context, poolID, userID string) (auction.UserEntry, bool, error) {
	const query = `SELECT pool_id, user_id, health_factor, collateral, liabilities, updated
		FROM users WHERE pool_id = ? AND user_id = ?`
	row := s.db.QueryRowContext(ctx, query, poolID, userID)
	entry, err := scanUserEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.UserEntry{}, false, nil
	}
	if err != nil {
		return auction.UserEntry{}, false, err
	}
	return entry, true, nil
}

// ListUsers implements auction.Store.
func (s *Store) ListUsers(ctx context.Context, poolID string) ([]auction.UserEntry, error) {
	const query = `SELECT pool_id, user_id, health_factor, collateral, liabilities, updated
		FROM users WHERE pool_id = ? ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auction.UserEntry
	for rows.Next() {
		entry, err := scanUserEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ListStaleUsers implements auction.Store.
func (s *Store) ListStaleUsers(ctx context.Context, cutoffLedger uint32) ([]auction.UserEntry, error) {
	const query = `SELECT pool_id, user_id, health_factor, collateral, liabilities, updated
		FROM users WHERE updated < ? ORDER BY updated`
	rows, err := s.db.QueryContext(ctx, query, cutoffLedger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auction.UserEntry
	for rows.Next() {
		entry, err := scanUserEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanUserEntry(row rowScanner) (auction.UserEntry, error) {
	var entry auction.UserEntry
	var collateralRaw, liabilitiesRaw []byte
	if err := row.Scan(&entry.PoolID, &entry.UserID, &entry.HealthFactor, &collateralRaw, &liabilitiesRaw, &entry.Updated); err != nil {
		return auction.UserEntry{}, err
	}
	collateral, err := unmarshalPositions(collateralRaw)
	if err != nil {
		return auction.UserEntry{}, err
	}
	liabilities, err := unmarshalPositions(liabilitiesRaw)
	if err != nil {
		return auction.UserEntry{}, err
	}
	entry.Positions = auction.Positions{Collateral: collateral, Liabilities: liabilities}
	return entry, nil
}

// UpsertPrice implements auction.Store.
func (s *Store) UpsertPrice(ctx context.Context, entry auction.PriceEntry) error {
	const stmt = `INSERT INTO prices(asset_id, price, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET price = excluded.price, timestamp = excluded.timestamp`
	_, err := s.db.ExecContext(ctx, stmt, string(entry.AssetID), entry.Price, entry.Timestamp)
	return err
}

// GetPrice implements auction.Store.
func (s *Store) GetPrice(ctx context.Context, assetID auction.Asset) (auction.PriceEntry, bool, error) {
	const query = `SELECT asset_id, price, timestamp FROM prices WHERE asset_id = ?`
	row := s.db.QueryRowContext(ctx, query, string(assetID))
	var entry auction.PriceEntry
	var asset string
	if err := row.Scan(&asset, &entry.Price, &entry.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auction.PriceEntry{}, false, nil
		}
		return auction.PriceEntry{}, false, err
	}
	entry.AssetID = auction.Asset(asset)
	return entry, true, nil
}

// GetStatus implements auction.Store.
func (s *Store) GetStatus(ctx context.Context, name string) (uint32, bool, error) {
	const query = `SELECT latest_ledger FROM status WHERE name = ?`
	row := s.db.QueryRowContext(ctx, query, name)
	var ledger uint32
	if err := row.Scan(&ledger); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ledger, true, nil
}

// SetStatus implements auction.Store.
func (s *Store) SetStatus(ctx context.Context, name string, latestLedger uint32) error {
	const stmt = `INSERT INTO status(name, latest_ledger) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET latest_ledger = excluded.latest_ledger`
	_, err := s.db.ExecContext(ctx, stmt, name, latestLedger)
	return err
}

var _ auction.Store = (*Store)(nil)
