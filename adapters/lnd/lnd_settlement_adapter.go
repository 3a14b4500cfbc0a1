package lnd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/ThorbenD/dvp-market/settlement"
)

// MaxTicketSize is the largest deposit the Lightning driver accepts, about
// the limit for reliable routing.
var MaxTicketSize = decimal.RequireFromString("0.01")

// LndSettlementAdapter implements settlement.SettlementDriver on LND hold
// invoices. Claims and cancellations go through a circuit breaker so that an
// unreachable node fails purchases fast instead of stalling the store.
type LndSettlementAdapter struct {
	chainWatcher settlement.ChainWatcher
	lnd          settlement.LightningClient
	breaker      *gobreaker.CircuitBreaker
	logger       *slog.Logger

	mu        sync.Mutex
	preimages map[string]string // handle id -> preimage
}

// NewLndSettlementAdapter composes the chain watcher and Lightning client into
// a SettlementDriver.
func NewLndSettlementAdapter(
	chainWatcher settlement.ChainWatcher,
	lnd settlement.LightningClient,
	logger *slog.Logger,
) *LndSettlementAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LndSettlementAdapter{
		chainWatcher: chainWatcher,
		lnd:          lnd,
		logger:       logger,
		preimages:    make(map[string]string),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "lnd",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("⚡ [LndSettlement] Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// PrepareSettlement waits for the buyer's hold invoice to be accepted. This
// is a BLOCKING call: it returns when the deposit is detected or the context
// expires.
func (a *LndSettlementAdapter) PrepareSettlement(ctx context.Context, req settlement.SettlementRequest) (*settlement.SettlementHandle, error) {
	a.logger.Info("⚡ [LndSettlement] Preparing settlement (waiting for HTLC)...",
		"listing_id", req.ListingID,
		"payment_hash", req.PaymentHash,
	)
	if req.Preimage == "" {
		return nil, fmt.Errorf("prepare settlement: listing %d: missing preimage", req.ListingID)
	}

	deposit, err := a.chainWatcher.DetectDeposit(ctx, req.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("prepare settlement failed: %w", err)
	}

	a.logger.Info("⚡ [LndSettlement] HTLC detected, settlement prepared",
		"listing_id", req.ListingID,
		"amount", deposit.Amount.String(),
	)

	id := "htlc_" + req.PaymentHash
	a.mu.Lock()
	a.preimages[id] = req.Preimage
	a.mu.Unlock()

	return &settlement.SettlementHandle{
		ID:          id,
		ListingID:   req.ListingID,
		PaymentHash: req.PaymentHash,
		DriverType:  "HTLC_LIGHTNING",
		PreparedAt:  time.Now(),
		Deposit:     deposit.Amount,
	}, nil
}

// ExecuteSettlement claims the HTLC by revealing the preimage.
func (a *LndSettlementAdapter) ExecuteSettlement(ctx context.Context, handle *settlement.SettlementHandle) (*settlement.SettlementResult, error) {
	a.logger.Info("⚡ [LndSettlement] Executing settlement (claiming HTLC)...",
		"listing_id", handle.ListingID,
		"handle_id", handle.ID,
	)

	a.mu.Lock()
	preimage, ok := a.preimages[handle.ID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execute settlement: unknown handle %s", handle.ID)
	}

	txID, err := a.breaker.Execute(func() (interface{}, error) {
		return a.chainWatcher.ClaimDeposit(ctx, preimage)
	})
	if err != nil {
		return nil, fmt.Errorf("execute settlement failed: %w", err)
	}

	a.forget(handle.ID)
	return &settlement.SettlementResult{
		TxID:       txID.(string),
		DriverType: "HTLC_LIGHTNING",
		FinalState: "CLAIMED",
	}, nil
}

// AbortSettlement cancels the hold invoice, releasing the locked funds back
// to the payer.
func (a *LndSettlementAdapter) AbortSettlement(ctx context.Context, handle *settlement.SettlementHandle) error {
	a.logger.Info("⚡ [LndSettlement] Aborting settlement (canceling invoice)...",
		"listing_id", handle.ListingID,
		"handle_id", handle.ID,
	)
	a.forget(handle.ID)

	_, err := a.breaker.Execute(func() (interface{}, error) {
		return nil, a.lnd.CancelInvoice(ctx, handle.PaymentHash)
	})
	if err != nil {
		return fmt.Errorf("abort settlement failed: %w", err)
	}
	return nil
}

func (a *LndSettlementAdapter) forget(handleID string) {
	a.mu.Lock()
	delete(a.preimages, handleID)
	a.mu.Unlock()
}

// Capabilities returns the operational constraints of the Lightning/HTLC driver.
func (a *LndSettlementAdapter) Capabilities() settlement.DriverCapabilities {
	return settlement.DriverCapabilities{
		MaxTicketSize:  MaxTicketSize,
		SettlementType: "HTLC_LIGHTNING",
	}
}
