package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xKoRx/echo-bridge/sdk/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteAccountUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Accounts()

	seen := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, &domain.SlaveAccount{
		AccountID:      "S1",
		Nickname:       "demo",
		Status:         domain.AccountStatusActive,
		SymbolReceived: true,
		Balance:        1000.5,
		LastSeen:       seen,
	}))

	got, err := repo.Get(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.AccountStatusActive, got.Status)
	assert.True(t, got.SymbolReceived)
	assert.Equal(t, 1000.5, got.Balance)
	assert.True(t, seen.Equal(got.LastSeen))
	assert.False(t, got.CreatedAt.IsZero())

	got.Status = domain.AccountStatusPaused
	require.NoError(t, repo.Upsert(ctx, got))
	again, err := repo.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusPaused, again.Status)
	assert.True(t, got.CreatedAt.Equal(again.CreatedAt))

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteAccountListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	accounts := store.Accounts()
	pairs := store.CopyPairs()

	for _, id := range []string{"S2", "S1", "M1"} {
		require.NoError(t, accounts.Upsert(ctx, &domain.SlaveAccount{AccountID: id, Status: domain.AccountStatusAwaitingActivation}))
	}
	_, err := pairs.Create(ctx, &domain.CopyPair{MasterAccount: "M1", SlaveAccount: "S1", Enabled: true})
	require.NoError(t, err)

	list, err := accounts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "M1", list[0].AccountID)

	require.NoError(t, accounts.Delete(ctx, "S1"))
	list, err = accounts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	remaining, err := pairs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSQLiteCopyPairs(t *testing.T) {
	ctx := context.Background()
	pairs := openTestStore(t).CopyPairs()

	p1, err := pairs.Create(ctx, &domain.CopyPair{MasterAccount: "M1", SlaveAccount: "S1", Enabled: true})
	require.NoError(t, err)
	assert.True(t, p1.Enabled)
	assert.False(t, p1.CreatedAt.IsZero())
	p2, err := pairs.Create(ctx, &domain.CopyPair{MasterAccount: "M1", SlaveAccount: "S2", Enabled: true})
	require.NoError(t, err)
	_, err = pairs.Create(ctx, &domain.CopyPair{MasterAccount: "M2", SlaveAccount: "S1", Enabled: true})
	require.NoError(t, err)
	id1, id2 := p1.ID, p2.ID

	dup, err := pairs.Create(ctx, &domain.CopyPair{MasterAccount: "M1", SlaveAccount: "S1", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, id1, dup.ID)

	byMaster, err := pairs.ListByMaster(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, byMaster, 2)
	assert.Equal(t, "S1", byMaster[0].SlaveAccount)
	assert.Equal(t, "S2", byMaster[1].SlaveAccount)

	require.NoError(t, pairs.SetEnabled(ctx, id2, false))
	byMaster, err = pairs.ListByMaster(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, byMaster, 1)

	// Re-crear un par deshabilitado no lo habilita
	again, err := pairs.Create(ctx, &domain.CopyPair{MasterAccount: "M1", SlaveAccount: "S2", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, id2, again.ID)
	assert.False(t, again.Enabled)

	assert.Error(t, pairs.SetEnabled(ctx, 999, true))

	require.NoError(t, pairs.Delete(ctx, id1))
	all, err := pairs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
