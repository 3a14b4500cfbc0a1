package lnd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThorbenD/dvp-market/settlement"
)

// LndChainMonitor implements the ChainMonitor interface using LND.
type LndChainMonitor struct {
	lndClient settlement.LightningClient
}

// NewLndChainMonitor creates a new instance of LndChainMonitor.
func NewLndChainMonitor(lndClient settlement.LightningClient) *LndChainMonitor {
	return &LndChainMonitor{
		lndClient: lndClient,
	}
}

// WaitForConfirmations blocks until the payout transaction has at least
// minConfs confirmations.
func (m *LndChainMonitor) WaitForConfirmations(ctx context.Context, txid string, minConfs int) error {
	if minConfs <= 0 {
		return nil
	}
	slog.Info("⛓️  [ChainMonitor] Waiting for confirmations", "tx_id", txid, "min_confs", minConfs)

	// Delegate to LND client's WaitForConfirmations (which uses ChainNotifier)
	if err := m.lndClient.WaitForConfirmations(ctx, txid, uint32(minConfs)); err != nil {
		return fmt.Errorf("wait for confirmations failed: %w", err)
	}

	slog.Info("✅ [ChainMonitor] Confirmed", "tx_id", txid)
	return nil
}
