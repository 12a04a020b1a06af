package database

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/types"
)

// exerciseCredentialStore runs the behaviour every CredentialStore must share.
func exerciseCredentialStore(t *testing.T, store shared.CredentialStore) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	other := "user-" + uuid.NewString()
	account := "athlete-" + uuid.NewString()

	_, err := store.GetCredential(ctx, user, types.ProviderStrava)
	require.ErrorIs(t, err, shared.ErrCredentialNotFound)

	exp := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.UpsertCredential(ctx, &types.CredentialRecord{
		UserID:            user,
		Provider:          types.ProviderStrava,
		AccessToken:       "access-1",
		RefreshToken:      "refresh-1",
		ExpiresAt:         &exp,
		ExternalAccountID: account,
	}))

	got, err := store.GetCredential(ctx, user, types.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))
	assert.False(t, got.UpdatedAt.IsZero())

	t.Run("empty external account does not overwrite", func(t *testing.T) {
		require.NoError(t, store.UpsertCredential(ctx, &types.CredentialRecord{
			UserID:      user,
			Provider:    types.ProviderStrava,
			AccessToken: "access-2",
		}))
		got, err := store.GetCredential(ctx, user, types.ProviderStrava)
		require.NoError(t, err)
		assert.Equal(t, "access-2", got.AccessToken)
		assert.Equal(t, account, got.ExternalAccountID)
		assert.Empty(t, got.RefreshToken)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("lookup by account and provider", func(t *testing.T) {
		require.NoError(t, store.UpsertCredential(ctx, &types.CredentialRecord{
			UserID: other, Provider: types.ProviderPolar, AccessToken: "p", ExternalAccountID: account,
		}))

		recs, err := store.FindByExternalAccount(ctx, types.ProviderStrava, account)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, user, recs[0].UserID)

		recs, err = store.FindByExternalAccount(ctx, types.ProviderStrava, "")
		require.NoError(t, err)
		assert.Empty(t, recs)

		users, err := store.ListLinkedUsers(ctx, types.ProviderPolar)
		require.NoError(t, err)
		assert.Contains(t, users, other)
		assert.NotContains(t, users, user)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.DeleteCredential(ctx, user, types.ProviderStrava))
		require.NoError(t, store.DeleteCredential(ctx, user, types.ProviderStrava))
		_, err := store.GetCredential(ctx, user, types.ProviderStrava)
		assert.ErrorIs(t, err, shared.ErrCredentialNotFound)
		require.NoError(t, store.DeleteCredential(ctx, other, types.ProviderPolar))
	})
}

func TestMemoryCredentialStore(t *testing.T) {
	exerciseCredentialStore(t, NewMemoryCredentialStore())
}

func TestMemoryCredentialStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.UpsertCredential(ctx, &types.CredentialRecord{UserID: "u", Provider: types.ProviderHuawei, AccessToken: "a"}))

	got, err := store.GetCredential(ctx, "u", types.ProviderHuawei)
	require.NoError(t, err)
	got.AccessToken = "mutated"

	again, err := store.GetCredential(ctx, "u", types.ProviderHuawei)
	require.NoError(t, err)
	assert.Equal(t, "a", again.AccessToken)
}

func TestPostgresCredentialStore(t *testing.T) {
	dsn := os.Getenv("WORKOUTSYNC_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("WORKOUTSYNC_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresCredentialStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	exerciseCredentialStore(t, store)
}

func TestFirestoreCredentialStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "workoutsync-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	exerciseCredentialStore(t, NewFirestoreCredentialStore(client))
}
