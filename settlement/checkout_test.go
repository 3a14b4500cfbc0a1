package settlement_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lndadapter "github.com/ThorbenD/dvp-market/adapters/lnd"
	"github.com/ThorbenD/dvp-market/adapters/mock"
	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/market"
	"github.com/ThorbenD/dvp-market/settlement"
)

func newCheckout(t *testing.T, f *fixture) (*settlement.Checkout, *mock.MockLightningClient) {
	t.Helper()
	ln := mock.NewMockLightningClient()
	driver := lndadapter.NewLndSettlementAdapter(lndadapter.NewLndChainWatcher(ln), ln, nil)
	c, err := settlement.NewCheckout(f.engine, f.book, ln, driver, nil)
	require.NoError(t, err)
	return c, ln
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	assetID, listingID := f.listed(t)
	checkout, ln := newCheckout(t, f)
	ctx := context.Background()

	inv, err := checkout.RequestInvoice(ctx, listingID, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), inv.AmountSats)
	assert.True(t, inv.Amount.Equal(price))
	assert.NotEmpty(t, inv.PaymentRequest)
	assert.Len(t, inv.PaymentHash, 64)
	assert.Equal(t, 1, checkout.Pending())

	require.NoError(t, ln.Pay(inv.PaymentHash))
	require.NoError(t, checkout.OnDepositDetected(ctx, inv.PaymentHash))

	owner, err := f.reg.OwnerOf(assetID)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	assert.Equal(t, settlement.InvoiceSettled, ln.State(inv.PaymentHash))
	assert.True(t, f.engine.BalanceOf(alice).Equal(dec("0.00975")))
	assert.Zero(t, checkout.Pending())

	// a replayed notification is ignored
	require.NoError(t, checkout.OnDepositDetected(ctx, inv.PaymentHash))
}

func TestCheckoutCancelsWhenListingGone(t *testing.T) {
	f := newFixture(t)
	assetID, listingID := f.listed(t)
	checkout, ln := newCheckout(t, f)
	ctx := context.Background()

	inv, err := checkout.RequestInvoice(ctx, listingID, bob)
	require.NoError(t, err)
	require.NoError(t, ln.Pay(inv.PaymentHash))

	// the seller moves the asset away while the payment is in flight
	require.NoError(t, f.reg.Transfer(alice, assetID, carol))

	err = checkout.OnDepositDetected(ctx, inv.PaymentHash)
	assert.ErrorIs(t, err, domain.ErrListingStale)
	assert.Equal(t, settlement.InvoiceCanceled, ln.State(inv.PaymentHash))
	assert.True(t, f.engine.BalanceOf(alice).IsZero())
}

func TestRequestInvoiceRejects(t *testing.T) {
	f := newFixture(t)
	_, listingID := f.listed(t)
	checkout, _ := newCheckout(t, f)
	ctx := context.Background()

	_, err := checkout.RequestInvoice(ctx, listingID, alice)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = checkout.RequestInvoice(ctx, 42, bob)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = checkout.RequestInvoice(ctx, listingID, "")
	assert.ErrorIs(t, err, domain.ErrZeroPrincipal)

	require.NoError(t, f.book.CancelListing(listingID, alice))
	_, err = checkout.RequestInvoice(ctx, listingID, bob)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	assert.Zero(t, checkout.Pending())
}

func TestCheckoutTopUp(t *testing.T) {
	f := newFixture(t)
	_, listingID := f.listed(t)
	checkout, ln := newCheckout(t, f)
	ctx := context.Background()

	inv, err := checkout.RequestTopUp(ctx, bob, dec("0.004"))
	require.NoError(t, err)
	assert.Zero(t, inv.ListingID)
	assert.Equal(t, uint64(400_000), inv.AmountSats)
	assert.True(t, inv.Amount.Equal(dec("0.004")))

	require.NoError(t, ln.Pay(inv.PaymentHash))
	require.NoError(t, checkout.OnDepositDetected(ctx, inv.PaymentHash))
	assert.Equal(t, settlement.InvoiceSettled, ln.State(inv.PaymentHash))
	assert.True(t, f.engine.BalanceOf(bob).Equal(dec("0.004")))

	// the balance is real money: not enough for the listing, but spendable
	_, err = f.engine.Buy(listingID, bob, price)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	inv, err = checkout.RequestTopUp(ctx, bob, dec("0.006"))
	require.NoError(t, err)
	require.NoError(t, ln.Pay(inv.PaymentHash))
	require.NoError(t, checkout.OnDepositDetected(ctx, inv.PaymentHash))

	_, err = f.engine.Buy(listingID, bob, price)
	require.NoError(t, err)
	assert.True(t, f.engine.BalanceOf(bob).IsZero())
}

func TestRequestTopUpRejects(t *testing.T) {
	f := newFixture(t)
	checkout, _ := newCheckout(t, f)
	ctx := context.Background()

	_, err := checkout.RequestTopUp(ctx, "", dec("0.001"))
	assert.ErrorIs(t, err, domain.ErrZeroPrincipal)

	_, err = checkout.RequestTopUp(ctx, bob, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	inv, err := checkout.RequestTopUp(ctx, bob, dec("0.000000001"))
	require.NoError(t, err, "rounds up to one satoshi")
	assert.Equal(t, uint64(1), inv.AmountSats)
}

func TestNewCheckoutRejectsNonBitcoinMarket(t *testing.T) {
	f := newFixture(t)
	eth, err := market.New(market.Config{
		Contract:     nft,
		FeeRecipient: platform,
		Payment:      domain.PaymentAsset{Ticker: "ETH", Decimals: 18},
	}, f.store)
	require.NoError(t, err)

	ln := mock.NewMockLightningClient()
	driver := lndadapter.NewLndSettlementAdapter(lndadapter.NewLndChainWatcher(ln), ln, nil)
	_, err = settlement.NewCheckout(f.engine, eth, ln, driver, nil)
	assert.ErrorIs(t, err, settlement.ErrRailMismatch)
}
