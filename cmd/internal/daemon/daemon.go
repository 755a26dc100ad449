// Package daemon builds the wiring shared by cmd/collectord and
// cmd/workerd: both currently run the same combined Collector+Worker
// process over the in-process collector.ChannelSink (the default
// single-binary deployment SPEC_FULL.md §2 describes). Splitting them
// across a real network transport later only requires swapping the
// EventSink each binary's main() constructs; none of this wiring
// changes.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Robeartt/auctioneer-bot-sub000/collector"
	"github.com/Robeartt/auctioneer-bot-sub000/config"
	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
	"github.com/Robeartt/auctioneer-bot-sub000/notify"
	"github.com/Robeartt/auctioneer-bot-sub000/observability/adminserver"
	"github.com/Robeartt/auctioneer-bot-sub000/priceclient"
	"github.com/Robeartt/auctioneer-bot-sub000/rpcclient"
	"github.com/Robeartt/auctioneer-bot-sub000/storage/gormstore"
	"github.com/Robeartt/auctioneer-bot-sub000/storage/sqlitestore"
	"github.com/Robeartt/auctioneer-bot-sub000/worker"

	"golang.org/x/time/rate"
)

// closableStore is auction.Store plus the lifecycle method every
// backend's constructor returns alongside it.
type closableStore interface {
	auction.Store
	Close() error
}

// Daemon bundles the running Collector and Worker plus everything
// needed to drive and stop them.
type Daemon struct {
	Collector  *collector.Collector
	Worker     *worker.Worker
	Sink       *collector.ChannelSink
	Dispatcher *auction.Dispatcher
	Store      closableStore
	Admin      *adminserver.Server
	Logger     *slog.Logger
}

// Build constructs every component from a loaded configuration: the
// chain client, the persistence store, price sources, notification
// sink, both submission queues, and the Collector/Worker pair wired
// over a shared ChannelSink. The persistence backend is chosen by
// cfg.DatabaseDriver: "sqlite" (default, single-file) or "postgres"
// (cfg.DatabaseDSN, for deployments sharing one tracking database
// across multiple filler processes).
func Build(cfg config.Config, serviceName, env string, logger *slog.Logger) (*Daemon, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := rpcclient.New(cfg.RPCURL)

	var sources []priceclient.Source
	limiter := rate.NewLimiter(rate.Limit(5), 5)
	for _, src := range cfg.PriceSources {
		switch src.Kind {
		case "coinbase":
			sources = append(sources, priceclient.NewCoinbaseSource(src.BaseURL, limiter))
		case "binance":
			sources = append(sources, priceclient.NewBinanceSource(src.BaseURL, limiter))
		case "dex":
			sources = append(sources, priceclient.NewDEXSource(client, cfg.USDCAddress, nil))
		}
	}
	if len(sources) == 0 {
		sources = []priceclient.Source{
			priceclient.NewCoinbaseSource("", limiter),
			priceclient.NewBinanceSource("", limiter),
		}
	}
	priceManager := priceclient.NewManager(sources, time.Minute)

	notifySink := notify.FromConfig(cfg.SlackWebhook, cfg.DiscordWebhook)

	reader := worker.NewChainPoolReader(client)
	backstopFactory := worker.NewBackstopValuatorFactory(client, priceManager, "BLND", 7)

	profits := make([]auction.AuctionProfit, 0, len(cfg.Profits))
	for _, po := range cfg.Profits {
		profits = append(profits, auction.AuctionProfit{
			ProfitPct:    po.ProfitPct,
			SupportedBid: toAssetSet(po.SupportedBid),
			SupportedLot: toAssetSet(po.SupportedLot),
		})
	}

	fillers := make([]auction.Filler, 0, len(cfg.Fillers))
	for _, fc := range cfg.Fillers {
		f := toFiller(fc)
		f.Profits = profits
		fillers = append(fillers, f)
	}

	pools := make([]worker.PoolSetup, 0, len(cfg.PoolConfigs))
	for _, pc := range cfg.PoolConfigs {
		minCollateral := pc.MinPrimaryCollateral.Value
		if minCollateral == nil {
			minCollateral = big.NewInt(0)
		}
		pools = append(pools, worker.PoolSetup{
			Name:                 pc.Name,
			PoolAddress:          pc.PoolAddress,
			PrimaryAsset:         auction.Asset(pc.PrimaryAsset),
			MinPrimaryCollateral: minCollateral,
		})
	}

	w := worker.New(
		client,
		reader,
		store,
		notifySink,
		priceManager,
		backstopFactory,
		fillers,
		pools,
		auction.Asset(cfg.BackstopTokenAddress),
		cfg.BackstopAddress,
		logger,
	)

	sink := collector.NewChannelSink(256)
	coll := collector.New(client, sink, 5*time.Second, logger)
	dispatcher := auction.NewDispatcher(3, 2*time.Second, cfg.DeadLetterPath)
	admin := adminserver.New(cfg.AdminListenAddress, logger)

	return &Daemon{
		Collector:  coll,
		Worker:     w,
		Sink:       sink,
		Dispatcher: dispatcher,
		Store:      store,
		Admin:      admin,
		Logger:     logger,
	}, nil
}

// Run blocks, starting the Collector's poll loop, the Worker's event
// loop, and the admin /healthz+/metrics server together, until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	collectorErr := make(chan error, 1)
	go func() {
		collectorErr <- d.Collector.Run(ctx, 0)
	}()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- d.Worker.Run(ctx, d.Sink.Events(), d.Dispatcher, worker.DefaultScanIntervals())
	}()

	adminErr := make(chan error, 1)
	go func() {
		adminErr <- d.Admin.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-collectorErr:
		return fmt.Errorf("collector exited: %w", err)
	case err := <-workerErr:
		return fmt.Errorf("worker exited: %w", err)
	case err := <-adminErr:
		return fmt.Errorf("admin server exited: %w", err)
	}
}

// Close releases the daemon's persistence handle.
func (d *Daemon) Close() error {
	return d.Store.Close()
}

func openStore(cfg config.Config) (closableStore, error) {
	switch cfg.DatabaseDriver {
	case "", "sqlite":
		return sqlitestore.New(cfg.DatabasePath)
	case "postgres":
		return gormstore.NewPostgres(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func toFiller(fc config.FillerConfig) auction.Filler {
	f := auction.Filler{
		Name:             fc.Name,
		Keypair:          fc.Keypair,
		DefaultProfitPct: fc.DefaultProfitPct,
		MinHealthFactor:  fc.MinHealthFactor,
		ForceFill:        fc.ForceFill,
		SupportedBid:     toAssetSet(fc.SupportedBid),
		SupportedLot:     toAssetSet(fc.SupportedLot),
	}
	if fc.PrimaryAsset != "" {
		minCollateral := fc.MinPrimaryCollateral.Value
		if minCollateral == nil {
			minCollateral = big.NewInt(0)
		}
		f.SupportedPools = []auction.PoolFillerConfig{{
			PrimaryAsset:         auction.Asset(fc.PrimaryAsset),
			MinPrimaryCollateral: minCollateral,
		}}
	}
	return f
}

func toAssetSet(assets []string) map[auction.Asset]struct{} {
	out := make(map[auction.Asset]struct{}, len(assets))
	for _, a := range assets {
		out[auction.Asset(a)] = struct{}{}
	}
	return out
}
