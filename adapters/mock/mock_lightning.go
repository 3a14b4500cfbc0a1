package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThorbenD/dvp-market/settlement"
)

type invoice struct {
	memo  string
	state settlement.InvoiceState
	sats  uint64
}

// MockLightningClient implements settlement.LightningClient with an in-memory
// hold invoice book. Pay drives an invoice to ACCEPTED the way a real payer would.
type MockLightningClient struct {
	mu       sync.Mutex
	invoices map[string]*invoice
	addIndex uint64
	subs     []chan *settlement.InvoiceUpdate
	single   map[string][]chan *settlement.InvoiceUpdate
}

func NewMockLightningClient() *MockLightningClient {
	return &MockLightningClient{
		invoices: make(map[string]*invoice),
		single:   make(map[string][]chan *settlement.InvoiceUpdate),
	}
}

func (m *MockLightningClient) GetInfo(ctx context.Context) (*settlement.NodeInfo, error) {
	return &settlement.NodeInfo{Pubkey: "02mock", Alias: "mock-lnd", Network: "regtest", Synced: true}, nil
}

func (m *MockLightningClient) AddHoldInvoice(ctx context.Context, memo string, hash string, val uint64) (string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.invoices[hash]; exists {
		return "", 0, fmt.Errorf("invoice %s already exists", hash)
	}
	m.addIndex++
	m.invoices[hash] = &invoice{memo: memo, state: settlement.InvoiceOpen, sats: val}
	return fmt.Sprintf("lnmock%d1%s", val, hash[:16]), m.addIndex, nil
}

// Pay simulates the buyer paying the hold invoice.
func (m *MockLightningClient) Pay(hash string) error {
	return m.transition(hash, settlement.InvoiceOpen, settlement.InvoiceAccepted)
}

func (m *MockLightningClient) SettleInvoice(ctx context.Context, preimage string) error {
	hash, err := HashOf(preimage)
	if err != nil {
		return err
	}
	return m.transition(hash, settlement.InvoiceAccepted, settlement.InvoiceSettled)
}

func (m *MockLightningClient) CancelInvoice(ctx context.Context, hash string) error {
	m.mu.Lock()
	inv, ok := m.invoices[hash]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("invoice %s not found", hash)
	}
	return m.transition(hash, inv.state, settlement.InvoiceCanceled)
}

// State returns the current state of invoice hash.
func (m *MockLightningClient) State(hash string) settlement.InvoiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[hash]; ok {
		return inv.state
	}
	return ""
}

func (m *MockLightningClient) transition(hash string, from, to settlement.InvoiceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[hash]
	if !ok {
		return fmt.Errorf("invoice %s not found", hash)
	}
	if inv.state != from {
		return fmt.Errorf("invoice %s is %s, want %s", hash, inv.state, from)
	}
	inv.state = to
	slog.Debug("⚡ [MockLnd] Invoice transition", "hash", hash, "state", to)

	update := &settlement.InvoiceUpdate{Hash: hash, State: to, Amt: inv.sats}
	for _, ch := range m.subs {
		select {
		case ch <- update:
		default:
		}
	}
	for _, ch := range m.single[hash] {
		select {
		case ch <- update:
		default:
		}
	}
	return nil
}

// SubscribeInvoices replays the current state of every invoice, then streams
// transitions, like lnd with AddIndex 0.
func (m *MockLightningClient) SubscribeInvoices(ctx context.Context) (<-chan *settlement.InvoiceUpdate, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *settlement.InvoiceUpdate, len(m.invoices)+16)
	for hash, inv := range m.invoices {
		ch <- &settlement.InvoiceUpdate{Hash: hash, State: inv.state, Amt: inv.sats}
	}
	m.subs = append(m.subs, ch)
	return ch, make(chan error), nil
}

func (m *MockLightningClient) SubscribeSingleInvoice(ctx context.Context, hash string) (<-chan *settlement.InvoiceUpdate, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[hash]
	if !ok {
		return nil, nil, fmt.Errorf("invoice %s not found", hash)
	}
	ch := make(chan *settlement.InvoiceUpdate, 16)
	ch <- &settlement.InvoiceUpdate{Hash: hash, State: inv.state, Amt: inv.sats}
	m.single[hash] = append(m.single[hash], ch)
	return ch, make(chan error), nil
}

func (m *MockLightningClient) WaitForConfirmations(ctx context.Context, txid string, numConfs uint32) error {
	return ctx.Err()
}
