// Package gormstore implements auction.Store over GORM, for
// Postgres-backed production deployments (the teacher's services use
// GORM across the board for relational persistence; this package
// gives the auction-bot the same option alongside the lighter-weight
// sqlitestore).
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// Store persists the bot's relational state via GORM.
type Store struct {
	db *gorm.DB
}

type auctionRow struct {
	PoolID      string `gorm:"primaryKey"`
	UserID      string `gorm:"primaryKey"`
	AuctionType int    `gorm:"primaryKey"`
	Filler      string
	StartBlock  uint32
	FillBlock   uint32
	Updated     uint32
}

func (auctionRow) TableName() string { return "auctions" }

type filledAuctionRow struct {
	TxHash    string `gorm:"primaryKey"`
	Bid       string
	Lot       string
	EstProfit float64
	FillBlock uint32
	Timestamp int64
}

func (filledAuctionRow) TableName() string { return "filled_auctions" }

type userRow struct {
	PoolID       string `gorm:"primaryKey"`
	UserID       string `gorm:"primaryKey"`
	HealthFactor float64
	Collateral   []byte
	Liabilities  []byte
	Updated      uint32
}

func (userRow) TableName() string { return "users" }

type priceRow struct {
	AssetID   string `gorm:"primaryKey"`
	Price     float64
	Timestamp int64
}

func (priceRow) TableName() string { return "prices" }

type statusRow struct {
	Name         string `gorm:"primaryKey"`
	LatestLedger uint32
}

func (statusRow) TableName() string { return "status" }

// NewPostgres opens a GORM connection against a Postgres DSN.
func NewPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open postgres: %w", err)
	}
	return newStore(db)
}

// NewSQLite opens a GORM connection against a local SQLite file,
// useful for development or single-operator deployments.
func NewSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open sqlite: %w", err)
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&auctionRow{}, &filledAuctionRow{}, &userRow{}, &priceRow{}, &statusRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertAuction implements auction.Store.
func (s *Store) UpsertAuction(ctx context.Context, entry auction.AuctionEntry) error {
	row := auctionRow{
		PoolID: entry.PoolID, UserID: entry.UserID, AuctionType: int(entry.Type),
		Filler: entry.FillerPubkey, StartBlock: entry.StartBlock, FillBlock: entry.FillBlock, Updated: entry.Updated,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// DeleteAuction implements auction.Store.
func (s *Store) DeleteAuction(ctx context.Context, poolID, userID string, auctionType auction.AuctionType) error {
	return s.db.WithContext(ctx).
		Where("pool_id = ? AND user_id = ? AND auction_type = ?", poolID, userID, int(auctionType)).
		Delete(&auctionRow{}).Error
}

// GetAuction implements auction.Store.
func (s *Store) GetAuction(ctx context.Context, poolID, userID string, auctionType auction.AuctionType) (auction.AuctionEntry, bool, error) {
	var row auctionRow
	err := s.db.WithContext(ctx).
		Where("pool_id = ? AND user_id = ? AND auction_type = ?", poolID, userID, int(auctionType)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.AuctionEntry{}, false, nil
	}
	if err != nil {
		return auction.AuctionEntry{}, false, err
	}
	return auctionEntryFromRow(row), true, nil
}

// ListAuctions implements auction.Store.
func (s *Store) ListAuctions(ctx context.Context, poolID string) ([]auction.AuctionEntry, error) {
	var rows []auctionRow
	if err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("user_id, auction_type").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]auction.AuctionEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, auctionEntryFromRow(row))
	}
	return out, nil
}

func auctionEntryFromRow(row auctionRow) auction.AuctionEntry {
	return auction.AuctionEntry{
		PoolID: row.PoolID, UserID: row.UserID, Type: auction.AuctionType(row.AuctionType),
		FillerPubkey: row.Filler, StartBlock: row.StartBlock, FillBlock: row.FillBlock, Updated: row.Updated,
	}
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
	row := filledAuctionRow{
		TxHash: entry.TxHash, Bid: bidJSON, Lot: lotJSON,
		EstProfit: entry.EstProfit, FillBlock: entry.FillBlock, Timestamp: entry.Timestamp,
	}
	return s.db.WithContext(ctx).Save(&row).Error
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
	row := userRow{
		PoolID: entry.PoolID, UserID: entry.UserID, HealthFactor: entry.HealthFactor,
		Collateral: collateral, Liabilities: liabilities, Updated: entry.Updated,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// DeleteUser implements auction.Store.
func (s *Store) DeleteUser(ctx context.Context, poolID, userID string) error {
	return s.db.WithContext(ctx).Where("pool_id = ? AND user_id = ?", poolID, userID).Delete(&userRow{}).Error
}

// GetUser implements auction.Store.
func (s *Store) GetUser(ctx context.Context, poolID, userID string) (auction.UserEntry, bool, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("pool_id = ? AND user_id = ?", poolID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.UserEntry{}, false, nil
	}
	if err != nil {
		return auction.UserEntry{}, false, err
	}
	entry, err := userEntryFromRow(row)
	if err != nil {
		return auction.UserEntry{}, false, err
	}
	return entry, true, nil
}

// ListUsers implements auction.Store.
func (s *Store) ListUsers(ctx context.Context, poolID string) ([]auction.UserEntry, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("user_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return userEntriesFromRows(rows)
}

// ListStaleUsers implements auction.Store.
func (s *Store) ListStaleUsers(ctx context.Context, cutoffLedger uint32) ([]auction.UserEntry, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Where("updated < ?", cutoffLedger).Order("updated").Find(&rows).Error; err != nil {
		return nil, err
	}
	return userEntriesFromRows(rows)
}

func userEntriesFromRows(rows []userRow) ([]auction.UserEntry, error) {
	out := make([]auction.UserEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := userEntryFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func userEntryFromRow(row userRow) (auction.UserEntry, error) {
	collateral, err := unmarshalPositions(row.Collateral)
	if err != nil {
		return auction.UserEntry{}, err
	}
	liabilities, err := unmarshalPositions(row.Liabilities)
	if err != nil {
		return auction.UserEntry{}, err
	}
	return auction.UserEntry{
		PoolID: row.PoolID, UserID: row.UserID, HealthFactor: row.HealthFactor,
		Positions: auction.Positions{Collateral: collateral, Liabilities: liabilities},
		Updated:   row.Updated,
	}, nil
}

// UpsertPrice implements auction.Store.
func (s *Store) UpsertPrice(ctx context.Context, entry auction.PriceEntry) error {
	row := priceRow{AssetID: string(entry.AssetID), Price: entry.Price, Timestamp: entry.Timestamp}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetPrice implements auction.Store.
func (s *Store) GetPrice(ctx context.Context, assetID auction.Asset) (auction.PriceEntry, bool, error) {
	var row priceRow
	err := s.db.WithContext(ctx).Where("asset_id = ?", string(assetID)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.PriceEntry{}, false, nil
	}
	if err != nil {
		return auction.PriceEntry{}, false, err
	}
	return auction.PriceEntry{AssetID: auction.Asset(row.AssetID), Price: row.Price, Timestamp: row.Timestamp}, true, nil
}

// GetStatus implements auction.Store.
func (s *Store) GetStatus(ctx context.Context, name string) (uint32, bool, error) {
	var row statusRow
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.LatestLedger, true, nil
}

// SetStatus implements auction.Store.
func (s *Store) SetStatus(ctx context.Context, name string, latestLedger uint32) error {
	row := statusRow{Name: name, LatestLedger: latestLedger}
	return s.db.WithContext(ctx).Save(&row).Error
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
		return "", fmt.Errorf("gormstore: marshal amounts: %w", err)
	}
	return string(buf), nil
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
	if len(raw) == 0 {
		return map[int]*big.Int{}, nil
	}
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("gormstore: unmarshal positions: %w", err)
	}
	out := make(map[int]*big.Int, len(plain))
	for key, amount := range plain {
		var idx int
		if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
			return nil, fmt.Errorf("gormstore: invalid position index %q: %w", key, err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("gormstore: invalid position amount %q", amount)
		}
		out[idx] = v
	}
	return out, nil
}

var _ auction.Store = (*Store)(nil)
