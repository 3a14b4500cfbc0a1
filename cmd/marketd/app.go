package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lndadapter "github.com/ThorbenD/dvp-market/adapters/lnd"
	"github.com/ThorbenD/dvp-market/adapters/sqlstore"
	tapdadapter "github.com/ThorbenD/dvp-market/adapters/tapd"
	lndclient "github.com/ThorbenD/dvp-market/clients/lnd"
	tapdclient "github.com/ThorbenD/dvp-market/clients/tapd"
	"github.com/ThorbenD/dvp-market/config"
	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/events"
	"github.com/ThorbenD/dvp-market/market"
	"github.com/ThorbenD/dvp-market/registry"
	"github.com/ThorbenD/dvp-market/settlement"
	"github.com/ThorbenD/dvp-market/store"
)

// app is the wired marketplace.
type app struct {
	logger     *slog.Logger
	bus        *events.Bus
	store      *store.Store
	registry   *registry.Registry
	book       *market.Book
	engine     *settlement.Engine
	checkout   *settlement.Checkout
	subscriber *lndadapter.LndInvoiceSubscriber
	closers    []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger, bus: events.NewBus(logger)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	storeOpts := []store.Option{store.WithPublisher(a.bus), store.WithLogger(logger)}
	var snap *store.Snapshot
	if cfg.DBPath != "" {
		j, err := sqlstore.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, j.Close)
		s, err := j.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.DBPath, err)
		}
		snap = &s
		storeOpts = append(storeOpts, store.WithJournal(j))
		logger.Info("[App] 💾 Loaded state", "path", cfg.DBPath, "assets", len(s.Assets), "listings", len(s.Listings))
	}
	a.store = store.New(storeOpts...)
	if snap != nil {
		if err := a.store.Restore(*snap); err != nil {
			return nil, err
		}
	}

	a.registry, err = registry.New(registry.Config{
		Name:      cfg.Registry.Name,
		Symbol:    cfg.Registry.Symbol,
		Address:   domain.Principal(cfg.Registry.Address),
		MintPrice: cfg.MintPrice(),
		Treasury:  domain.Principal(cfg.Registry.Treasury),
	}, a.store, registry.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.book, err = market.New(market.Config{
		Contract:     a.registry.Address(),
		FeeBps:       cfg.Market.FeeBps,
		FeeRecipient: domain.Principal(cfg.Market.FeeRecipient),
		Payment:      domain.PaymentAsset{Ticker: cfg.Market.PaymentTicker, Decimals: cfg.Market.PaymentDecimals},
	}, a.store, market.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var ln *lndclient.Client
	if cfg.Lnd != nil {
		ln, err = lndclient.NewClient(lndclient.Config{
			Host:          cfg.Lnd.Host,
			TLSCertPath:   cfg.Lnd.TLSCertPath,
			MacaroonPath:  cfg.Lnd.MacaroonPath,
			Network:       cfg.Lnd.Network,
			InvoiceExpiry: int64(cfg.Lnd.InvoiceExpiry.Seconds()),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ln.Close)
		if info, err := ln.GetInfo(ctx); err != nil {
			logger.Warn("[App] lnd unreachable at startup", "error", err)
		} else {
			logger.Info("[App] ⚡ Connected to lnd", "alias", info.Alias, "network", info.Network, "synced", info.Synced)
		}
	}

	engineOpts := []settlement.Option{settlement.WithLogger(logger)}
	switch {
	case cfg.Tapd != nil:
		tc, err := tapdclient.New(tapdclient.Config{
			Host:         cfg.Tapd.Host,
			TLSCertPath:  cfg.Tapd.TLSCertPath,
			MacaroonPath: cfg.Tapd.MacaroonPath,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, tc.Close)
		var monitor settlement.ChainMonitor
		if ln != nil {
			monitor = lndadapter.NewLndChainMonitor(ln)
		}
		engineOpts = append(engineOpts, settlement.WithPayout(tapdadapter.NewRpcSender(tc.Conn(), cfg.Payout.Decimals, logger), monitor))
	case cfg.Payout.StubSender:
		logger.Warn("[App] Payouts are simulated")
		engineOpts = append(engineOpts, settlement.WithPayout(tapdadapter.NewStubSender(), nil))
	}
	a.engine = settlement.NewEngine(settlement.Config{
		PayoutAssetID: cfg.Payout.AssetID,
		MinConfs:      cfg.Payout.MinConfs,
		ClaimTimeout:  cfg.Settlement.ClaimTimeout,
	}, a.store, a.book, engineOpts...)

	if ln != nil {
		driver := lndadapter.NewLndSettlementAdapter(lndadapter.NewLndChainWatcher(ln), ln, logger)
		if a.checkout, err = settlement.NewCheckout(a.engine, a.book, ln, driver, logger); err != nil {
			return nil, err
		}
		a.subscriber = lndadapter.NewLndInvoiceSubscriber(ln, a.checkout, logger)
	}

	logger.Info("[App] Marketplace ready",
		"registry", a.registry.Address(),
		"fee_bps", a.book.PlatformFee(),
		"mint_price", a.registry.MintPrice().String(),
		"lightning", a.checkout != nil,
		"payouts", cfg.Tapd != nil || cfg.Payout.StubSender)
	return a, nil
}
