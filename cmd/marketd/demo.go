package main

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	lndadapter "github.com/ThorbenD/dvp-market/adapters/lnd"
	"github.com/ThorbenD/dvp-market/adapters/mock"
	"github.com/ThorbenD/dvp-market/config"
	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/settlement"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-memory sale end to end against a mock Lightning node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// the demo never touches real nodes or disk
		cfg.DBPath, cfg.Lnd, cfg.Tapd = "", nil, nil
		cfg.Payout.StubSender = true
		cfg.Payout.AssetID = "demo"
		cfg.Payout.MinConfs = 0
		return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

const (
	demoSeller = domain.Principal("0x00000000000000000000000000000000000a11ce")
	demoBuyer  = domain.Principal("0x0000000000000000000000000000000000000b0b")
)

func runDemo(ctx context.Context, out io.Writer, cfg config.Config) error {
	// Lightning moves bitcoin only
	cfg.Market.PaymentTicker, cfg.Market.PaymentDecimals = domain.Bitcoin.Ticker, domain.Bitcoin.Decimals
	logger := newLogger(cfg)
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ln := mock.NewMockLightningClient()
	driver := lndadapter.NewLndSettlementAdapter(lndadapter.NewLndChainWatcher(ln), ln, logger)
	checkout, err := settlement.NewCheckout(a.engine, a.book, ln, driver, logger)
	if err != nil {
		return err
	}

	if mintPrice := a.registry.MintPrice(); mintPrice.IsPositive() {
		inv, err := checkout.RequestTopUp(ctx, demoSeller, mintPrice)
		if err != nil {
			return err
		}
		if err := ln.Pay(inv.PaymentHash); err != nil {
			return err
		}
		if err := checkout.OnDepositDetected(ctx, inv.PaymentHash); err != nil {
			return err
		}
		fmt.Fprintf(out, "Topped up %s %s for %s\n", inv.Amount, a.book.Payment().Ticker, demoSeller)
	}

	assetID, err := a.registry.Mint(demoSeller, a.registry.MintPrice())
	if err != nil {
		return err
	}
	level, err := a.registry.LevelUp(assetID, demoSeller)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Minted asset #%d for %s, leveled up to %d\n", assetID, demoSeller, level)

	price := decimal.RequireFromString("0.01")
	listingID, err := a.book.CreateListing(demoSeller, a.registry.Address(), assetID, price)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Listed asset #%d as listing #%d for %s %s\n", assetID, listingID, price, a.book.Payment().Ticker)

	inv, err := checkout.RequestInvoice(ctx, listingID, demoBuyer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Invoice %s for %d sats\n", inv.PaymentHash[:16], inv.AmountSats)

	if err := ln.Pay(inv.PaymentHash); err != nil {
		return err
	}
	if err := checkout.OnDepositDetected(ctx, inv.PaymentHash); err != nil {
		return err
	}

	owner, err := a.registry.OwnerOf(assetID)
	if err != nil {
		return err
	}
	proceeds := a.engine.BalanceOf(demoSeller)
	fmt.Fprintf(out, "Sold: asset #%d now held by %s, invoice %s\n", assetID, owner, ln.State(inv.PaymentHash))
	fmt.Fprintf(out, "Seller proceeds %s, platform fee %s\n", proceeds, a.book.Fee(price))

	w, err := a.engine.Withdraw(ctx, demoSeller, proceeds, "taprt1demo")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Withdrew %s to %s in %s\n", w.Amount, w.Dest, w.TxID)
	return nil
}
