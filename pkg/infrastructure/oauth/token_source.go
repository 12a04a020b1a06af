package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/infrastructure/metrics"
	"github.com/fitglue/workoutsync/pkg/types"
)

var (
	// ErrNotLinked means no credential is stored for the (user, provider) pair.
	ErrNotLinked = errors.New("oauth: integration not linked")
	// ErrNotRefreshable means the stored grant has no refresh capability; the user must re-connect.
	ErrNotRefreshable = errors.New("oauth: token cannot be refreshed; user must re-connect")
)

// DefaultLockTTL bounds how long a refresh may hold the distributed lock.
const DefaultLockTTL = 30 * time.Second

// RefreshFunc exchanges a refresh token for a new grant at the vendor.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// RefreshWithConfig performs the refresh-token grant against cfg's token endpoint,
// sending the request through client when it is non-nil.
func RefreshWithConfig(cfg *oauth2.Config, client *http.Client) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		if client != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		}
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	}
}

// NeedsRefresh reports whether rec expires within threshold of now.
// A record without expiry never needs a refresh.
func NeedsRefresh(rec *types.CredentialRecord, now time.Time, threshold time.Duration) bool {
	if rec == nil || rec.ExpiresAt == nil {
		return false
	}
	return !now.Add(threshold).Before(*rec.ExpiresAt)
}

// TokenSource returns a usable credential for a user.
// It is safe for concurrent use by multiple goroutines.
type TokenSource interface {
	Token(ctx context.Context, userID string, threshold time.Duration) (*types.CredentialRecord, error)
	ForceRefresh(ctx context.Context, userID string) (*types.CredentialRecord, error)
}

// StoreTokenSource reads credentials from the CredentialStore on every call and
// refreshes them inline when they are about to expire.
//
// Refreshes for one user are collapsed with singleflight, serialized by a per-user
// mutex and, when Locker is set, serialized across processes. After acquiring, the
// record is re-read so a refresh completed elsewhere is not repeated.
type StoreTokenSource struct {
	Store    shared.CredentialStore
	Provider types.Provider
	// Refresh is nil for providers without refresh capability.
	Refresh RefreshFunc
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Now     func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewStoreTokenSource(store shared.CredentialStore, provider types.Provider, refresh RefreshFunc) *StoreTokenSource {
	return &StoreTokenSource{
		Store:    store,
		Provider: provider,
		Refresh:  refresh,
	}
}

func (s *StoreTokenSource) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *StoreTokenSource) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Token returns the stored credential, refreshing it first when it expires within threshold.
func (s *StoreTokenSource) Token(ctx context.Context, userID string, threshold time.Duration) (*types.CredentialRecord, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.AccessToken == "" {
		return nil, fmt.Errorf("missing access token for %s: %w", s.Provider, ErrNotLinked)
	}
	if !NeedsRefresh(rec, s.now(), threshold) {
		return rec, nil
	}
	return s.refresh(ctx, userID, rec.AccessToken, threshold, false)
}

// ForceRefresh refreshes regardless of expiry, e.g. after the vendor answered 401.
// If another caller replaced the access token in the meantime, that token is returned instead.
func (s *StoreTokenSource) ForceRefresh(ctx context.Context, userID string) (*types.CredentialRecord, error) {
	if s.Refresh == nil {
		return nil, fmt.Errorf("%s: %w", s.Provider, ErrNotRefreshable)
	}
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, userID, rec.AccessToken, 0, true)
}

// Update applies fn to the stored credential while holding the refresh locks,
// so a refresh running elsewhere is never overwritten by a stale copy.
func (s *StoreTokenSource) Update(ctx context.Context, userID string, fn func(*types.CredentialRecord)) error {
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	fn(rec)
	if err := s.Store.UpsertCredential(ctx, rec); err != nil {
		return fmt.Errorf("failed to save %s credential: %w", s.Provider, err)
	}
	return nil
}

// lock takes the per-user mutex and, when configured, the distributed lock.
func (s *StoreTokenSource) lock(ctx context.Context, userID string) (func(), error) {
	l := s.userLock(userID)
	l.Lock()
	if s.Locker == nil {
		return l.Unlock, nil
	}

	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	release, err := s.Locker.Lock(ctx, lockKey(s.Provider, userID), ttl)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	return func() {
		release()
		l.Unlock()
	}, nil
}

func (s *StoreTokenSource) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userLocks == nil {
		s.userLocks = make(map[string]*sync.Mutex)
	}
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

func (s *StoreTokenSource) load(ctx context.Context, userID string) (*types.CredentialRecord, error) {
	rec, err := s.Store.GetCredential(ctx, userID, s.Provider)
	if err != nil {
		if errors.Is(err, shared.ErrCredentialNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("failed to load %s credential: %w", s.Provider, err)
	}
	return rec, nil
}

// refresh runs one refresh for userID. seenAccess is the access token the caller
// observed; a forced refresh is skipped once the stored token differs from it.
func (s *StoreTokenSource) refresh(ctx context.Context, userID, seenAccess string, threshold time.Duration, force bool) (*types.CredentialRecord, error) {
	if s.Refresh == nil {
		return nil, fmt.Errorf("%s: %w", s.Provider, ErrNotRefreshable)
	}

	key := userID
	if force {
		key += ":force"
	}
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		unlock, err := s.lock(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer unlock()
		return s.refreshLocked(ctx, userID, seenAccess, threshold, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.CredentialRecord).Clone(), nil
}

func (s *StoreTokenSource) refreshLocked(ctx context.Context, userID, seenAccess string, threshold time.Duration, force bool) (*types.CredentialRecord, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if force && rec.AccessToken != seenAccess {
		metrics.RecordTokenRefresh(s.Provider.String(), "skipped")
		return rec, nil
	}
	if !force && !NeedsRefresh(rec, s.now(), threshold) {
		metrics.RecordTokenRefresh(s.Provider.String(), "skipped")
		return rec, nil
	}
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("missing refresh token for %s: %w", s.Provider, ErrNotRefreshable)
	}

	tok, err := s.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		// The credential stays in place; only Disconnect removes it.
		metrics.RecordTokenRefresh(s.Provider.String(), "failure")
		s.logger().Warn("Token refresh failed", "provider", s.Provider, "user_id", userID, "error", err)
		return nil, fmt.Errorf("refresh %s token: %w", s.Provider, err)
	}

	next := rec.Clone()
	next.AccessToken = tok.AccessToken
	// Only replace refresh_token if the provider returned a new one.
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.ExpiresAt = nil
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		next.ExpiresAt = &exp
	}

	if err := s.Store.UpsertCredential(ctx, next); err != nil {
		metrics.RecordTokenRefresh(s.Provider.String(), "failure")
		return nil, fmt.Errorf("failed to persist new tokens: %w", err)
	}
	metrics.RecordTokenRefresh(s.Provider.String(), "success")
	s.logger().Info("Token refreshed", "provider", s.Provider, "user_id", userID, "expires_at", next.ExpiresAt)
	return next, nil
}

func lockKey(provider types.Provider, userID string) string {
	return "oauth-refresh:" + provider.String() + ":" + userID
}
