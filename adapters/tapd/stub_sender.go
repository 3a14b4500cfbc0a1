package tapd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StubSender simulates Taproot asset transfers.
type StubSender struct {
	Latency time.Duration

	mu   sync.Mutex
	fail error
	sent []Transfer
}

// Transfer records one simulated send.
type Transfer struct {
	AssetID string
	Amount  decimal.Decimal
	Dest    string
	TxID    string
}

// NewStubSender creates a new StubSender instance.
func NewStubSender() *StubSender {
	return &StubSender{Latency: 500 * time.Millisecond}
}

// FailWith makes later sends return err. nil restores success.
func (s *StubSender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Sent returns every successful simulated transfer.
func (s *StubSender) Sent() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.sent...)
}

// SendAsset simulates sending an asset by logging, waiting, and returning a fake TXID.
func (s *StubSender) SendAsset(ctx context.Context, assetID string, amount decimal.Decimal, destAddr string) (string, error) {
	slog.Info("[TaprootStub] Sending asset", "amount", amount.String(), "asset_id", assetID, "dest", destAddr)

	// Simulate network latency
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.Latency):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}

	txID := fmt.Sprintf("tx_sim_%d", time.Now().UnixNano())
	s.sent = append(s.sent, Transfer{AssetID: assetID, Amount: amount, Dest: destAddr, TxID: txID})
	slog.Info("[TaprootStub] Asset sent", "tx_id", txID)
	return txID, nil
}
