package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/settlement"
)

// MockSettlementAdapter implements settlement.SettlementDriver for testing and demos.
// It wraps a MockChainWatcher and provides controllable settlement behavior.
type MockSettlementAdapter struct {
	mu           sync.Mutex
	chainWatcher *MockChainWatcher
	capabilities settlement.DriverCapabilities
	preimages    map[string]string // handle id -> preimage
	aborted      []string          // payment hashes
	failExecute  error
	executeDelay time.Duration
}

// NewMockSettlementAdapter creates a test SettlementDriver.
func NewMockSettlementAdapter(chainWatcher *MockChainWatcher) *MockSettlementAdapter {
	return &MockSettlementAdapter{
		chainWatcher: chainWatcher,
		capabilities: settlement.DriverCapabilities{
			MaxTicketSize:  decimal.RequireFromString("0.01"),
			SettlementType: "HTLC_LIGHTNING",
		},
		preimages: make(map[string]string),
	}
}

// PrepareSettlement blocks until the MockChainWatcher detects a deposit.
func (m *MockSettlementAdapter) PrepareSettlement(ctx context.Context, req settlement.SettlementRequest) (*settlement.SettlementHandle, error) {
	slog.Info("🧪 [MockSettlement] Preparing settlement...", "listing_id", req.ListingID)

	deposit, err := m.chainWatcher.DetectDeposit(ctx, req.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("mock prepare failed: %w", err)
	}

	h := &settlement.SettlementHandle{
		ID:          "mock_" + uuid.NewString(),
		ListingID:   req.ListingID,
		PaymentHash: req.PaymentHash,
		DriverType:  "HTLC_LIGHTNING",
		PreparedAt:  time.Now(),
		Deposit:     deposit.Amount,
	}
	m.mu.Lock()
	m.preimages[h.ID] = req.Preimage
	m.mu.Unlock()
	return h, nil
}

// ExecuteSettlement claims the deposit via the mock chain watcher.
func (m *MockSettlementAdapter) ExecuteSettlement(ctx context.Context, handle *settlement.SettlementHandle) (*settlement.SettlementResult, error) {
	slog.Info("🧪 [MockSettlement] Executing settlement...", "listing_id", handle.ListingID)

	m.mu.Lock()
	preimage, ok := m.preimages[handle.ID]
	failure, delay := m.failExecute, m.executeDelay
	m.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("mock execute failed: %w", ctx.Err())
		}
	}
	if failure != nil {
		return nil, fmt.Errorf("mock execute failed: %w", failure)
	}
	if !ok {
		return nil, fmt.Errorf("mock execute failed: unknown handle %s", handle.ID)
	}

	txID, err := m.chainWatcher.ClaimDeposit(ctx, preimage)
	if err != nil {
		return nil, fmt.Errorf("mock execute failed: %w", err)
	}

	m.mu.Lock()
	delete(m.preimages, handle.ID)
	m.mu.Unlock()

	return &settlement.SettlementResult{
		TxID:       txID,
		DriverType: "HTLC_LIGHTNING",
		FinalState: "CLAIMED",
	}, nil
}

// AbortSettlement records the release; there is no real invoice to cancel.
func (m *MockSettlementAdapter) AbortSettlement(ctx context.Context, handle *settlement.SettlementHandle) error {
	slog.Info("🧪 [MockSettlement] Aborting settlement...", "listing_id", handle.ListingID)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.preimages, handle.ID)
	m.aborted = append(m.aborted, handle.PaymentHash)
	return nil
}

// Capabilities returns the mock driver's capabilities.
func (m *MockSettlementAdapter) Capabilities() settlement.DriverCapabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities
}

// SetCapabilities allows tests to modify capabilities (e.g., to test ticket-size rejection).
func (m *MockSettlementAdapter) SetCapabilities(caps settlement.DriverCapabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities = caps
}

// FailExecute makes every later ExecuteSettlement return err. nil restores it.
func (m *MockSettlementAdapter) FailExecute(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failExecute = err
}

// Aborted lists the payment hashes released so far.
func (m *MockSettlementAdapter) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborted...)
}

// SimulateDeposit is a test helper that injects a simulated deposit into the
// underlying MockChainWatcher.
func (m *MockSettlementAdapter) SimulateDeposit(paymentHash string, amount decimal.Decimal) {
	m.chainWatcher.SimulateDeposit(paymentHash, amount)
}

// DelayExecute makes ExecuteSettlement stall for d, like an unresponsive node.
func (m *MockSettlementAdapter) DelayExecute(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeDelay = d
}
