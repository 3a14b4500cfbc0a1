package settlement

import (
	"context"
)

// NodeInfo contains basic information about a Lightning Node.
type NodeInfo struct {
	Pubkey  string
	Alias   string
	Network string
	Synced  bool
}

// LightningClient is the subset of LND the marketplace uses: hold invoices
// for buyer deposits, invoice streams, and on-chain confirmations.
type LightningClient interface {
	GetInfo(ctx context.Context) (*NodeInfo, error)
	AddHoldInvoice(ctx context.Context, memo string, hash string, val uint64) (string, uint64, error)
	SettleInvoice(ctx context.Context, preimage string) error
	CancelInvoice(ctx context.Context, hash string) error
	SubscribeSingleInvoice(ctx context.Context, hash string) (<-chan *InvoiceUpdate, <-chan error, error)
	SubscribeInvoices(ctx context.Context) (<-chan *InvoiceUpdate, <-chan error, error)
	WaitForConfirmations(ctx context.Context, txid string, numConfs uint32) error
}

type InvoiceState string

const (
	InvoiceOpen     InvoiceState = "OPEN"
	InvoiceAccepted InvoiceState = "ACCEPTED" // held, funds locked
	InvoiceSettled  InvoiceState = "SETTLED"
	InvoiceCanceled InvoiceState = "CANCELED"
)

type InvoiceUpdate struct {
	Hash  string
	State InvoiceState
	Amt   uint64 // satoshis
}
