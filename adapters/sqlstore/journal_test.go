package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/store"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestCommitAndLoad(t *testing.T) {
	j := openTemp(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	listed := created.Add(90 * time.Minute)

	require.NoError(t, j.Commit(store.Changeset{
		Assets: []domain.Asset{{ID: 1, Holder: "0xa", Attributes: domain.Attributes{CreatedAt: created, Level: 1, Color: "#abcdef"}}},
		Listings: []domain.Listing{{
			ID: 1, Seller: "0xa", Contract: "0xnft", AssetID: 1,
			Price: decimal.RequireFromString("0.01"), Status: domain.ListingStatusActive,
			CreatedAt: listed, UpdatedAt: listed,
		}},
		Balances:      map[domain.Principal]decimal.Decimal{"0xt": decimal.RequireFromString("0.001")},
		Operators:     []store.OperatorApproval{{Holder: "0xa", Operator: "0xb", Approved: true}},
		Approvals:     map[uint64]domain.Principal{1: "0xc"},
		LastAssetID:   1,
		LastListingID: 1,
	}))

	// second transaction: sale, approval cleared, operator revoked
	require.NoError(t, j.Commit(store.Changeset{
		Assets: []domain.Asset{{ID: 1, Holder: "0xd", Transfers: 1, Attributes: domain.Attributes{CreatedAt: created, Level: 2, Color: "#abcdef"}}},
		Listings: []domain.Listing{{
			ID: 1, Seller: "0xa", Contract: "0xnft", AssetID: 1,
			Price: decimal.RequireFromString("0.01"), Status: domain.ListingStatusSold,
			CreatedAt: listed, UpdatedAt: listed.Add(time.Hour),
		}},
		Balances:      map[domain.Principal]decimal.Decimal{"0xa": decimal.RequireFromString("0.00975")},
		Operators:     []store.OperatorApproval{{Holder: "0xa", Operator: "0xb", Approved: false}},
		Approvals:     map[uint64]domain.Principal{1: ""},
		LastAssetID:   1,
		LastListingID: 1,
	}))

	snap, err := j.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Assets, 1)
	a := snap.Assets[0]
	assert.Equal(t, domain.Principal("0xd"), a.Holder)
	assert.Equal(t, uint64(1), a.Transfers)
	assert.Equal(t, uint64(2), a.Attributes.Level)
	assert.Equal(t, "#abcdef", a.Attributes.Color)
	assert.True(t, a.Attributes.CreatedAt.Equal(created))

	require.Len(t, snap.Listings, 1)
	l := snap.Listings[0]
	assert.Equal(t, domain.ListingStatusSold, l.Status)
	assert.True(t, l.CreatedAt.Equal(listed))
	assert.True(t, l.UpdatedAt.Equal(listed.Add(time.Hour)))
	assert.True(t, l.Price.Equal(decimal.RequireFromString("0.01")))

	assert.Len(t, snap.Balances, 2)
	assert.True(t, snap.Balances["0xa"].Equal(decimal.RequireFromString("0.00975")))
	assert.Empty(t, snap.Operators)
	assert.Empty(t, snap.Approvals)
	assert.Equal(t, uint64(1), snap.LastAssetID)
	assert.Equal(t, uint64(1), snap.LastListingID)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	j, err := Open(path)
	require.NoError(t, err)

	st := store.New(store.WithJournal(j))
	require.NoError(t, st.Update(func(tx *store.Tx) error {
		id := tx.NextAssetID()
		tx.PutAsset(domain.Asset{ID: id, Holder: "0xa", Attributes: domain.Attributes{CreatedAt: time.Unix(1_700_000_000, 0).UTC(), Level: 1}})
		tx.Credit("0xa", decimal.RequireFromString("1.5"))
		return nil
	}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	snap, err := j.Load(context.Background())
	require.NoError(t, err)
	restored := store.New(store.WithJournal(j))
	require.NoError(t, restored.Restore(snap))

	require.NoError(t, restored.View(func(tx *store.Tx) error {
		a, ok := tx.Asset(1)
		require.True(t, ok)
		assert.Equal(t, domain.Principal("0xa"), a.Holder)
		assert.Equal(t, uint64(1), a.Attributes.Level)
		assert.Equal(t, uint64(1), tx.HoldingsOf("0xa"))
		assert.True(t, tx.Balance("0xa").Equal(decimal.RequireFromString("1.5")))
		assert.Equal(t, uint64(1), tx.LastAssetID())
		return nil
	}))

	// ids continue after the persisted counter
	require.NoError(t, restored.Update(func(tx *store.Tx) error {
		assert.Equal(t, uint64(2), tx.NextAssetID())
		return nil
	}))
}
