package mock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/settlement"
)

var preimage = strings.Repeat("c0", 32)

func TestHashOf(t *testing.T) {
	// sha256 of 32 zero bytes
	h, err := HashOf(strings.Repeat("00", 32))
	require.NoError(t, err)
	assert.Equal(t, "66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925", h)

	_, err = HashOf("zz")
	assert.Error(t, err)
}

func TestSettlementAdapterClaimsOnce(t *testing.T) {
	w := NewMockChainWatcher()
	a := NewMockSettlementAdapter(w)
	hash, err := HashOf(preimage)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		a.SimulateDeposit(hash, decimal.RequireFromString("0.004"))
	}()

	h, err := a.PrepareSettlement(ctx, settlement.SettlementRequest{ListingID: 3, PaymentHash: hash, Preimage: preimage})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.ListingID)
	assert.True(t, h.Deposit.Equal(decimal.RequireFromString("0.004")))

	res, err := a.ExecuteSettlement(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "CLAIMED", res.FinalState)

	status, ok := w.Status(hash)
	require.True(t, ok)
	assert.Equal(t, domain.DepositStatusClaimed, status)

	_, err = w.ClaimDeposit(ctx, preimage)
	assert.Error(t, err, "second claim must fail")
}

func TestLightningClientLifecycle(t *testing.T) {
	ln := NewMockLightningClient()
	ctx := context.Background()
	hash, err := HashOf(preimage)
	require.NoError(t, err)

	_, idx, err := ln.AddHoldInvoice(ctx, "memo", hash, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	assert.Error(t, ln.SettleInvoice(ctx, preimage), "open invoices cannot settle")
	require.NoError(t, ln.Pay(hash))
	assert.Error(t, ln.Pay(hash))
	require.NoError(t, ln.SettleInvoice(ctx, preimage))
	assert.Equal(t, settlement.InvoiceSettled, ln.State(hash))
}
