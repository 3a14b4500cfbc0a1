package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
)

// MockChainWatcher implements settlement.ChainWatcher for testing/dev
type MockChainWatcher struct {
	mu       sync.RWMutex
	deposits map[string]*domain.Deposit
	poll     time.Duration
}

func NewMockChainWatcher() *MockChainWatcher {
	return &MockChainWatcher{
		deposits: make(map[string]*domain.Deposit),
		poll:     50 * time.Millisecond,
	}
}

func (m *MockChainWatcher) lookup(hash string) (domain.Deposit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deposits[hash]
	if !ok {
		return domain.Deposit{}, false
	}
	return *d, true
}

// DetectDeposit polls the internal map for the presence of a specific hash
func (m *MockChainWatcher) DetectDeposit(ctx context.Context, paymentHash string) (*domain.Deposit, error) {
	slog.Info("⛓️  [MockChain] Watching for deposit", "hash", paymentHash)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		if d, ok := m.lookup(paymentHash); ok {
			slog.Info("⛓️  [MockChain] Deposit detected!", "hash", paymentHash, "amount", d.Amount.String())
			return &d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SimulateDeposit is a helper to manually trigger a "blockchain event"
func (m *MockChainWatcher) SimulateDeposit(hash string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deposits[hash] = &domain.Deposit{
		Hash:       hash,
		Amount:     amount,
		Status:     domain.DepositStatusConfirmed,
		DetectedAt: time.Now(),
	}
	slog.Info("⛓️  [MockChain] Simulated incoming deposit", "hash", hash)
}

// Status reports the state of the deposit behind hash.
func (m *MockChainWatcher) Status(hash string) (domain.DepositStatus, bool) {
	d, ok := m.lookup(hash)
	return d.Status, ok
}

// HashOf derives the payment hash for a hex preimage.
func HashOf(preimage string) (string, error) {
	b, err := hex.DecodeString(preimage)
	if err != nil {
		return "", fmt.Errorf("decode preimage: %w", err)
	}
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:]), nil
}

func (m *MockChainWatcher) ClaimDeposit(ctx context.Context, preimage string) (string, error) {
	hash, err := HashOf(preimage)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.deposits[hash]
	if !exists {
		return "", fmt.Errorf("deposit with hash %s not found", hash)
	}
	if d.Status == domain.DepositStatusClaimed {
		return "", fmt.Errorf("deposit %s already claimed", hash)
	}

	d.Status = domain.DepositStatusClaimed
	txID := "tx_mock_sweep_" + hash[:8]

	slog.Info("🧹 [MockChain] Sweeping deposit!", "tx_id", txID, "hash", hash)
	return txID, nil
}
