package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fitglue/workoutsync/pkg/infrastructure/database"
	"github.com/fitglue/workoutsync/pkg/types"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *database.MemoryCredentialStore, expiresIn time.Duration, refresh string) {
	t.Helper()
	exp := now.Add(expiresIn)
	require.NoError(t, store.UpsertCredential(context.Background(), &types.CredentialRecord{
		UserID:       "u1",
		Provider:     types.ProviderStrava,
		AccessToken:  "old-access",
		RefreshToken: refresh,
		ExpiresAt:    &exp,
	}))
}

func TestNeedsRefresh(t *testing.T) {
	exp := now.Add(4 * time.Minute)
	rec := &types.CredentialRecord{ExpiresAt: &exp}

	assert.True(t, NeedsRefresh(rec, now, 5*time.Minute))
	assert.False(t, NeedsRefresh(rec, now, 60*time.Second))
	assert.True(t, NeedsRefresh(rec, now, 4*time.Minute))
	assert.True(t, NeedsRefresh(rec, now, 4*time.Hour))
	assert.False(t, NeedsRefresh(&types.CredentialRecord{}, now, 4*time.Hour))
	assert.False(t, NeedsRefresh(nil, now, time.Hour))
}

func TestStoreTokenSource_NotLinked(t *testing.T) {
	src := NewStoreTokenSource(database.NewMemoryCredentialStore(), types.ProviderStrava, nil)
	_, err := src.Token(context.Background(), "nobody", time.Minute)
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestStoreTokenSource_FreshTokenIsNotRefreshed(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, time.Hour, "r1")

	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		t.Fatal("refresh must not be called")
		return nil, nil
	})
	src.Now = func() time.Time { return now }

	rec, err := src.Token(context.Background(), "u1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "old-access", rec.AccessToken)
}

func TestStoreTokenSource_RefreshKeepsRefreshTokenWhenNoneReturned(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, 4*time.Minute, "r1")

	var gotRefresh string
	src := NewStoreTokenSource(store, types.ProviderStrava, func(_ context.Context, rt string) (*oauth2.Token, error) {
		gotRefresh = rt
		return &oauth2.Token{AccessToken: "new-access", Expiry: now.Add(6 * time.Hour)}, nil
	})
	src.Now = func() time.Time { return now }

	rec, err := src.Token(context.Background(), "u1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "r1", gotRefresh)
	assert.Equal(t, "new-access", rec.AccessToken)

	stored, err := store.GetCredential(context.Background(), "u1", types.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken)
	assert.True(t, now.Add(6*time.Hour).Equal(*stored.ExpiresAt))
}

func TestStoreTokenSource_FailedRefreshKeepsCredential(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, -time.Minute, "r1")

	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		return nil, &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}, ErrorCode: "invalid_grant"}
	})
	src.Now = func() time.Time { return now }

	_, err := src.Token(context.Background(), "u1", time.Minute)
	require.Error(t, err)
	var re *oauth2.RetrieveError
	assert.True(t, errors.As(err, &re))

	stored, err := store.GetCredential(context.Background(), "u1", types.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, "old-access", stored.AccessToken)
}

func TestStoreTokenSource_NotRefreshable(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, -time.Minute, "")

	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "x"}, nil
	})
	src.Now = func() time.Time { return now }
	_, err := src.Token(context.Background(), "u1", time.Minute)
	assert.ErrorIs(t, err, ErrNotRefreshable)

	noRefresh := NewStoreTokenSource(store, types.ProviderStrava, nil)
	_, err = noRefresh.ForceRefresh(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotRefreshable)
}

func TestStoreTokenSource_ConcurrentCallersRefreshOnce(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, 2*time.Minute, "r1")

	var calls int32
	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "r2", Expiry: now.Add(6 * time.Hour)}, nil
	})
	src.Now = func() time.Time { return now }

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := src.Token(context.Background(), "u1", 5*time.Minute)
			if err == nil {
				results[i] = rec.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "new-access", r)
	}
}

// readCountingStore counts credential reads so tests can order concurrent callers.
type readCountingStore struct {
	*database.MemoryCredentialStore
	reads int32
}

func (s *readCountingStore) GetCredential(ctx context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error) {
	atomic.AddInt32(&s.reads, 1)
	return s.MemoryCredentialStore.GetCredential(ctx, userID, provider)
}

func TestStoreTokenSource_ForceRefreshWaitsForInflightRefresh(t *testing.T) {
	mem := database.NewMemoryCredentialStore()
	seed(t, mem, 2*time.Minute, "r1")
	store := &readCountingStore{MemoryCredentialStore: mem}

	var (
		mu             sync.Mutex
		sent           []string
		inFlight, peak int
	)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	src := NewStoreTokenSource(store, types.ProviderStrava, func(_ context.Context, rt string) (*oauth2.Token, error) {
		mu.Lock()
		sent = append(sent, rt)
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		entered <- struct{}{}
		<-release

		mu.Lock()
		inFlight--
		mu.Unlock()
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "r2", Expiry: now.Add(6 * time.Hour)}, nil
	})
	src.Now = func() time.Time { return now }

	var wg sync.WaitGroup
	var proactive, forced *types.CredentialRecord
	var proactiveErr, forcedErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		proactive, proactiveErr = src.Token(context.Background(), "u1", 5*time.Minute)
	}()
	<-entered

	// The forced caller reads the old token while the first refresh is still at the vendor.
	readsBefore := atomic.LoadInt32(&store.reads)
	wg.Add(1)
	go func() {
		defer wg.Done()
		forced, forcedErr = src.ForceRefresh(context.Background(), "u1")
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&store.reads) > readsBefore }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, proactiveErr)
	require.NoError(t, forcedErr)
	assert.Equal(t, []string{"r1"}, sent)
	assert.Equal(t, 1, peak)
	assert.Equal(t, "new-access", proactive.AccessToken)
	assert.Equal(t, "new-access", forced.AccessToken)

	stored, err := mem.GetCredential(context.Background(), "u1", types.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, "r2", stored.RefreshToken)
}

func TestStoreTokenSource_SequentialForceRefreshesBothReachVendor(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, time.Hour, "r1")

	var calls int32
	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		n := atomic.AddInt32(&calls, 1)
		return &oauth2.Token{AccessToken: fmt.Sprintf("access-%d", n), Expiry: now.Add(time.Hour)}, nil
	})
	src.Now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := src.ForceRefresh(context.Background(), "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStoreTokenSource_UpdateWaitsForInflightRefresh(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, 2*time.Minute, "r1")

	entered := make(chan struct{})
	release := make(chan struct{})
	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		close(entered)
		<-release
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "r2", Expiry: now.Add(6 * time.Hour)}, nil
	})
	src.Now = func() time.Time { return now }

	refreshed := make(chan error, 1)
	go func() {
		_, err := src.Token(context.Background(), "u1", 5*time.Minute)
		refreshed <- err
	}()
	<-entered

	updated := make(chan error, 1)
	go func() {
		updated <- src.Update(context.Background(), "u1", func(rec *types.CredentialRecord) {
			rec.ExternalAccountID = "athlete-7"
		})
	}()

	select {
	case <-updated:
		t.Fatal("update finished while a refresh was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-updated)

	rec, err := store.GetCredential(context.Background(), "u1", types.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, "new-access", rec.AccessToken)
	assert.Equal(t, "r2", rec.RefreshToken)
	assert.Equal(t, "athlete-7", rec.ExternalAccountID)
}

func TestStoreTokenSource_UpdateNotLinked(t *testing.T) {
	src := NewStoreTokenSource(database.NewMemoryCredentialStore(), types.ProviderStrava, nil)
	err := src.Update(context.Background(), "nobody", func(*types.CredentialRecord) {
		t.Fatal("fn must not be called")
	})
	assert.ErrorIs(t, err, ErrNotLinked)
}

type countingLocker struct {
	mu    sync.Mutex
	locks int
	keys  []string
}

func (l *countingLocker) Lock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	l.locks++
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {}, nil
}

func TestStoreTokenSource_UsesLocker(t *testing.T) {
	store := database.NewMemoryCredentialStore()
	seed(t, store, time.Minute, "r1")
	locker := &countingLocker{}

	src := NewStoreTokenSource(store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "new", Expiry: now.Add(time.Hour)}, nil
	})
	src.Locker = locker
	src.Now = func() time.Time { return now }

	_, err := src.ForceRefresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, []string{"oauth-refresh:strava:u1"}, locker.keys)
}

func TestRefreshWithConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"Bearer","expires_in":21600}`))
	}))
	defer srv.Close()

	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}

	tok, err := RefreshWithConfig(cfg, srv.Client())(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(6*time.Hour), tok.Expiry, time.Minute)
}
