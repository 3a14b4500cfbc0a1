package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/chainrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"

	"github.com/ThorbenD/dvp-market/settlement"
)

// Client implements settlement.LightningClient using lnrpc.
type Client struct {
	lnClient            lnrpc.LightningClient
	invoicesClient      invoicesrpc.InvoicesClient
	chainNotifierClient chainrpc.ChainNotifierClient
	conn                *grpc.ClientConn
	invoiceExpiry       int64
	cltvExpiry          uint64
}

// Config holds connection configuration.
type Config struct {
	Host          string
	TLSCertPath   string
	MacaroonPath  string
	Network       string
	InvoiceExpiry int64  // seconds, default 3600
	CltvExpiry    uint64 // blocks, default 40
}

// NewClient creates a new LND client.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon: %w", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal macaroon: %w", err)
	}

	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("failed to create macaroon credential: %w", err)
	}

	conn, err := grpc.NewClient(cfg.Host,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCreds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial LND: %w", err)
	}

	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = 3600
	}
	if cfg.CltvExpiry == 0 {
		cfg.CltvExpiry = 40
	}

	return &Client{
		lnClient:            lnrpc.NewLightningClient(conn),
		invoicesClient:      invoicesrpc.NewInvoicesClient(conn),
		chainNotifierClient: chainrpc.NewChainNotifierClient(conn),
		conn:                conn,
		invoiceExpiry:       cfg.InvoiceExpiry,
		cltvExpiry:          cfg.CltvExpiry,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetInfo returns basic information about the connected LND node.
func (c *Client) GetInfo(ctx context.Context) (*settlement.NodeInfo, error) {
	resp, err := c.lnClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	info := &settlement.NodeInfo{
		Pubkey: resp.IdentityPubkey,
		Alias:  resp.Alias,
		Synced: resp.SyncedToChain,
	}
	if len(resp.Chains) > 0 {
		info.Network = resp.Chains[0].Network
	}
	return info, nil
}

// AddHoldInvoice adds a hold invoice to the LND node.
func (c *Client) AddHoldInvoice(ctx context.Context, memo string, hash string, val uint64) (string, uint64, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return "", 0, fmt.Errorf("invalid hash: %w", err)
	}

	req := &invoicesrpc.AddHoldInvoiceRequest{
		Memo:       memo,
		Hash:       hashBytes,
		Value:      int64(val),
		Expiry:     c.invoiceExpiry,
		CltvExpiry: c.cltvExpiry,
	}

	resp, err := c.invoicesClient.AddHoldInvoice(ctx, req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to add hold invoice: %w", err)
	}

	return resp.PaymentRequest, resp.AddIndex, nil
}

// SettleInvoice settles a hold invoice with the given preimage.
func (c *Client) SettleInvoice(ctx context.Context, preimage string) error {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil {
		return fmt.Errorf("invalid preimage: %w", err)
	}

	if _, err := c.invoicesClient.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{
		Preimage: preimageBytes,
	}); err != nil {
		return fmt.Errorf("failed to settle invoice: %w", err)
	}
	return nil
}

// CancelInvoice cancels a hold invoice.
func (c *Client) CancelInvoice(ctx context.Context, hash string) error {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}

	if _, err := c.invoicesClient.CancelInvoice(ctx, &invoicesrpc.CancelInvoiceMsg{
		PaymentHash: hashBytes,
	}); err != nil {
		return fmt.Errorf("failed to cancel invoice: %w", err)
	}
	return nil
}

func invoiceState(s lnrpc.Invoice_InvoiceState) settlement.InvoiceState {
	switch s {
	case lnrpc.Invoice_SETTLED:
		return settlement.InvoiceSettled
	case lnrpc.Invoice_CANCELED:
		return settlement.InvoiceCanceled
	case lnrpc.Invoice_ACCEPTED:
		return settlement.InvoiceAccepted
	default:
		return settlement.InvoiceOpen
	}
}

func toUpdate(invoice *lnrpc.Invoice) *settlement.InvoiceUpdate {
	return &settlement.InvoiceUpdate{
		Hash:  hex.EncodeToString(invoice.RHash),
		State: invoiceState(invoice.State),
		Amt:   uint64(invoice.Value),
	}
}

// pump forwards invoices from recv until it fails or ctx ends. done reports
// whether the update is the last one wanted.
func pump(ctx context.Context, recv func() (*lnrpc.Invoice, error), done func(*settlement.InvoiceUpdate) bool) (<-chan *settlement.InvoiceUpdate, <-chan error) {
	updateChan := make(chan *settlement.InvoiceUpdate)
	errChan := make(chan error, 1)

	go func() {
		defer close(updateChan)
		defer close(errChan)

		for {
			invoice, err := recv()
			if err != nil {
				errChan <- err
				return
			}

			update := toUpdate(invoice)
			select {
			case updateChan <- update:
			case <-ctx.Done():
				return
			}
			if done(update) {
				return
			}
		}
	}()

	return updateChan, errChan
}

// SubscribeInvoices subscribes to updates for all invoices.
func (c *Client) SubscribeInvoices(ctx context.Context) (<-chan *settlement.InvoiceUpdate, <-chan error, error) {
	// AddIndex 0 replays the backlog, so invoices accepted while we were down
	// are picked up on startup.
	stream, err := c.lnClient.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{AddIndex: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to invoices: %w", err)
	}

	updates, errs := pump(ctx, stream.Recv, func(*settlement.InvoiceUpdate) bool { return false })
	return updates, errs, nil
}

// SubscribeSingleInvoice subscribes to updates for a specific invoice. The
// stream ends once the invoice is settled or canceled.
func (c *Client) SubscribeSingleInvoice(ctx context.Context, hash string) (<-chan *settlement.InvoiceUpdate, <-chan error, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid hash: %w", err)
	}

	stream, err := c.invoicesClient.SubscribeSingleInvoice(ctx, &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: hashBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to invoice: %w", err)
	}

	updates, errs := pump(ctx, stream.Recv, func(u *settlement.InvoiceUpdate) bool {
		return u.State == settlement.InvoiceSettled || u.State == settlement.InvoiceCanceled
	})
	return updates, errs, nil
}

// WaitForConfirmations waits for a transaction to reach a certain number of confirmations.
func (c *Client) WaitForConfirmations(ctx context.Context, txid string, numConfs uint32) error {
	hashBytes, err := hex.DecodeString(txid)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}
	// chainrpc wants the hash in internal byte order, the reverse of the hex form
	for i, j := 0, len(hashBytes)-1; i < j; i, j = i+1, j-1 {
		hashBytes[i], hashBytes[j] = hashBytes[j], hashBytes[i]
	}

	stream, err := c.chainNotifierClient.RegisterConfirmationsNtfn(ctx, &chainrpc.ConfRequest{
		Txid:     hashBytes,
		NumConfs: numConfs,
	})
	if err != nil {
		return fmt.Errorf("failed to register confirmation notification: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		update, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("confirmation stream error: %w", err)
		}

		switch update.Event.(type) {
		case *chainrpc.ConfEvent_Conf:
			return nil
		case *chainrpc.ConfEvent_Reorg:
			// wait for the transaction to confirm again
			continue
		}
	}
}
