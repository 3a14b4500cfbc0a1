package registry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/events"
	"github.com/ThorbenD/dvp-market/store"
)

const (
	alice    = domain.Principal("0xa11ce")
	bob      = domain.Principal("0xb0b")
	carol    = domain.Principal("0xc4r01")
	treasury = domain.Principal("0x7ea5")
)

var (
	mintPrice = decimal.RequireFromString("0.001")
	start     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	reg   *Registry
	store *store.Store
	bus   *events.Bus
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{bus: events.NewBus(nil), now: start}
	f.store = store.New(store.WithPublisher(f.bus))
	reg, err := New(Config{
		Name:      "Dynamic SVG NFT",
		Symbol:    "DSVG",
		Address:   "0xNFT",
		MintPrice: mintPrice,
		Treasury:  treasury,
	}, f.store, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.reg = reg
	return f
}

func (f *fixture) fund(t *testing.T, who domain.Principal, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, f.store.Update(func(tx *store.Tx) error {
		tx.Credit(who, amount)
		return nil
	}))
}

func (f *fixture) mint(t *testing.T, who domain.Principal) uint64 {
	t.Helper()
	f.fund(t, who, mintPrice)
	id, err := f.reg.Mint(who, mintPrice)
	require.NoError(t, err)
	return id
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Treasury: treasury, MintPrice: mintPrice}, store.New())
	assert.ErrorIs(t, err, domain.ErrZeroPrincipal)

	_, err = New(Config{Address: "0xnft", Treasury: treasury, MintPrice: decimal.NewFromInt(-1)}, store.New())
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestMint(t *testing.T) {
	f := newFixture(t)

	id := f.mint(t, alice)
	assert.Equal(t, uint64(1), id)

	owner, err := f.reg.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	attrs, err := f.reg.Attributes(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), attrs.Level)
	assert.Equal(t, start, attrs.CreatedAt)

	assert.Equal(t, uint64(2), f.mint(t, bob))
	assert.Equal(t, uint64(2), f.reg.TotalSupply())
	assert.Equal(t, uint64(1), f.reg.BalanceOf(alice))

	require.NoError(t, f.store.View(func(tx *store.Tx) error {
		assert.True(t, tx.Balance(treasury).Equal(mintPrice.Mul(decimal.NewFromInt(2))))
		assert.True(t, tx.Balance(alice).IsZero(), "the mint price is drawn from the minter")
		return nil
	}))
}

func TestMintRequiresFunds(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Mint(alice, mintPrice)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	f.fund(t, alice, decimal.RequireFromString("0.0005"))
	_, err = f.reg.Mint(alice, mintPrice)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Zero(t, f.reg.TotalSupply())
	require.NoError(t, f.store.View(func(tx *store.Tx) error {
		assert.True(t, tx.Balance(treasury).IsZero())
		assert.True(t, tx.Balance(alice).Equal(decimal.RequireFromString("0.0005")))
		return nil
	}))
}

func TestMintRejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Mint(alice, decimal.RequireFromString("0.0009"))
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)

	_, err = f.reg.Mint(domain.ZeroAddress, mintPrice)
	assert.ErrorIs(t, err, domain.ErrZeroPrincipal)

	assert.Zero(t, f.reg.TotalSupply())
	assert.Equal(t, uint64(1), f.mint(t, alice), "failed mints must not consume ids")
}

func TestMintNormalizesPrincipal(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "0xabcdef", mintPrice)
	id, err := f.reg.Mint("0xABCDEF", mintPrice)
	require.NoError(t, err)

	owner, err := f.reg.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Principal("0xabcdef"), owner)
	assert.Equal(t, uint64(1), f.reg.BalanceOf("0xAbCdEf"))
}

func TestOwnerOfUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.OwnerOf(42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, alice)

	t.Run("holder", func(t *testing.T) {
		require.NoError(t, f.reg.Transfer(alice, id, bob))
		owner, _ := f.reg.OwnerOf(id)
		assert.Equal(t, bob, owner)
		assert.Zero(t, f.reg.BalanceOf(alice))
		assert.Equal(t, uint64(1), f.reg.BalanceOf(bob))

		a, err := f.reg.Asset(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), a.Transfers)
	})

	t.Run("stranger", func(t *testing.T) {
		err := f.reg.Transfer(alice, id, carol)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})

	t.Run("zero recipient", func(t *testing.T) {
		err := f.reg.Transfer(bob, id, domain.ZeroAddress)
		assert.ErrorIs(t, err, domain.ErrZeroPrincipal)
		err = f.reg.Transfer(bob, id, "")
		assert.ErrorIs(t, err, domain.ErrZeroPrincipal)
	})

	t.Run("unknown asset", func(t *testing.T) {
		err := f.reg.Transfer(bob, 99, carol)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestOperatorApproval(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, alice)

	require.NoError(t, f.reg.ApproveOperator(alice, bob, true))
	assert.True(t, f.reg.IsApprovedForAll(alice, bob))

	require.NoError(t, f.reg.Transfer(bob, id, carol))
	owner, _ := f.reg.OwnerOf(id)
	assert.Equal(t, carol, owner)

	// bob operates for alice, not for carol
	err := f.reg.Transfer(bob, id, alice)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	second := f.mint(t, alice)
	require.NoError(t, f.reg.ApproveOperator(alice, bob, false))
	assert.False(t, f.reg.IsApprovedForAll(alice, bob))
	err = f.reg.Transfer(bob, second, carol)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized, "revocation must apply immediately")

	assert.ErrorIs(t, f.reg.ApproveOperator(alice, alice, true), domain.ErrNotAuthorized)
	assert.ErrorIs(t, f.reg.ApproveOperator(alice, "", true), domain.ErrZeroPrincipal)
}

func TestSingleAssetApproval(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, alice)

	assert.ErrorIs(t, f.reg.Approve(bob, carol, id), domain.ErrNotAuthorized)
	require.NoError(t, f.reg.Approve(alice, bob, id))

	approved, err := f.reg.GetApproved(id)
	require.NoError(t, err)
	assert.Equal(t, bob, approved)

	require.NoError(t, f.reg.Transfer(bob, id, carol))

	approved, err = f.reg.GetApproved(id)
	require.NoError(t, err)
	assert.Empty(t, approved, "approval is cleared by transfer")

	assert.ErrorIs(t, f.reg.Transfer(bob, id, bob), domain.ErrNotAuthorized)
}

func TestLevelUp(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, alice)

	_, err := f.reg.LevelUp(id, bob)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	before, err := f.reg.Render(id)
	require.NoError(t, err)

	level, err := f.reg.LevelUp(id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), level)

	after, err := f.reg.Render(id)
	require.NoError(t, err)
	assert.Greater(t, after.Size, before.Size)
	assert.Equal(t, before.Color, after.Color)

	// an operator may transfer but not level up
	require.NoError(t, f.reg.ApproveOperator(alice, bob, true))
	_, err = f.reg.LevelUp(id, bob)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.reg.LevelUp(77, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRenderURI(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, alice)

	first, err := f.reg.RenderURI(id)
	require.NoError(t, err)
	second, err := f.reg.RenderURI(id)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	f.now = f.now.Add(3 * 24 * time.Hour)
	d, err := f.reg.Render(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d.AgeDays)
	assert.Equal(t, uint64(45), d.Rotation)

	later, err := f.reg.RenderURI(id)
	require.NoError(t, err)
	assert.NotEqual(t, first, later)

	_, err = f.reg.RenderURI(500)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(16, nil)
	defer sub.Close()

	id := f.mint(t, alice)
	require.NoError(t, f.reg.Transfer(alice, id, bob))
	assert.Error(t, f.reg.Transfer(alice, id, carol))

	var kinds []domain.EventKind
	for len(sub.C()) > 0 {
		kinds = append(kinds, (<-sub.C()).Kind)
	}
	assert.Equal(t, []domain.EventKind{domain.EventMint, domain.EventTransfer, domain.EventTransfer}, kinds)
}
