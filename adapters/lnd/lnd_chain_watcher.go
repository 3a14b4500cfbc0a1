package lnd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/settlement"
)

// ErrInvoiceCanceled is returned when the watched invoice is canceled before
// it is paid.
var ErrInvoiceCanceled = errors.New("invoice canceled")

// LndChainWatcher implements settlement.ChainWatcher using LND hold invoices.
type LndChainWatcher struct {
	client settlement.LightningClient
}

// NewLndChainWatcher creates a new LND-based chain watcher.
func NewLndChainWatcher(client settlement.LightningClient) *LndChainWatcher {
	return &LndChainWatcher{
		client: client,
	}
}

// satsToBTC converts an invoice amount to domain.Bitcoin units. Checkout
// refuses any other payment asset, so deposits and prices agree.
func satsToBTC(sats uint64) decimal.Decimal {
	return decimal.New(int64(sats), -domain.Bitcoin.Decimals)
}

// DetectDeposit waits for the invoice to reach the ACCEPTED state (Held).
func (w *LndChainWatcher) DetectDeposit(ctx context.Context, paymentHash string) (*domain.Deposit, error) {
	updateChan, errChan, err := w.client.SubscribeSingleInvoice(ctx, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("subscribe invoice failed: %w", err)
	}

	slog.Info("⚡ [LND] Watching invoice...", "hash", paymentHash)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-errChan:
			return nil, fmt.Errorf("stream error: %w", err)
		case update, ok := <-updateChan:
			if !ok {
				return nil, fmt.Errorf("stream closed unexpectedly")
			}

			switch update.State {
			case settlement.InvoiceAccepted:
				slog.Info("⚡ [LND] Invoice ACCEPTED (Locked)", "hash", paymentHash, "amt", update.Amt)
				return &domain.Deposit{
					Hash:       paymentHash,
					Amount:     satsToBTC(update.Amt),
					Status:     domain.DepositStatusConfirmed,
					DetectedAt: time.Now(),
				}, nil

			case settlement.InvoiceSettled:
				// a settled invoice cannot fund a new purchase
				return nil, fmt.Errorf("invoice %s already settled", paymentHash)

			case settlement.InvoiceCanceled:
				return nil, ErrInvoiceCanceled
			}
			// OPEN: keep waiting
		}
	}
}

// ClaimDeposit settles the invoice using the preimage.
func (w *LndChainWatcher) ClaimDeposit(ctx context.Context, preimage string) (string, error) {
	slog.Info("⚡ [LND] Settling Invoice...", "preimage_len", len(preimage))

	if err := w.client.SettleInvoice(ctx, preimage); err != nil {
		return "", fmt.Errorf("lnd settle failed: %w", err)
	}

	return "off-chain-settled", nil
}
