package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/infrastructure/oauth"
	"github.com/fitglue/workoutsync/pkg/types"
)

// Base implements the parts of Adapter that are identical for every vendor.
// Vendor adapters embed it and override what differs.
type Base struct {
	Provider types.Provider
	Config   ProviderConfig
	OAuth    *oauth2.Config
	Store    shared.CredentialStore
	Tokens   *oauth.StoreTokenSource
	Opts     Options
	Logger   *slog.Logger
}

// NewBase wires the token source for provider. When refreshable is false the
// token source reports oauth.ErrNotRefreshable instead of calling the vendor.
func NewBase(provider types.Provider, cfg ProviderConfig, endpoint oauth2.Endpoint, store shared.CredentialStore, refreshable bool, opts Options) (*Base, error) {
	opts, err := opts.WithDefaults(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint:     endpoint,
	}

	var refresh oauth.RefreshFunc
	if refreshable {
		refresh = oauth.RefreshWithConfig(oc, opts.HTTPClient)
	}
	tokens := oauth.NewStoreTokenSource(store, provider, refresh)
	tokens.Locker = opts.Locker
	tokens.Now = opts.Now
	logger := opts.Logger.With("component", provider.String())
	tokens.Logger = logger

	return &Base{
		Provider: provider,
		Config:   cfg,
		OAuth:    oc,
		Store:    store,
		Tokens:   tokens,
		Opts:     opts,
		Logger:   logger,
	}, nil
}

func (b *Base) ProviderID() types.Provider {
	return b.Provider
}

// OAuthURL builds the vendor consent URL, or reports false when unconfigured.
func (b *Base) OAuthURL(state string, extra ...oauth2.AuthCodeOption) (string, bool) {
	if !b.Config.Enabled() {
		return "", false
	}
	return b.OAuth.AuthCodeURL(state, extra...), true
}

// Exchange trades an authorization code for a token, classifying vendor errors.
func (b *Base) Exchange(ctx context.Context, userID, code string, extra ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	if userID == "" {
		return nil, ErrAuthRequired
	}
	if !b.Config.Enabled() {
		return nil, ErrIntegrationDisabled
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.Opts.HTTPClient)
	tok, err := b.OAuth.Exchange(ctx, code, extra...)
	if err != nil {
		return nil, FromOAuthError(b.Provider, err)
	}
	return tok, nil
}

// SaveGrant persists a fresh grant for userID. When externalID is known, records
// of the same vendor account owned by other users are removed first.
func (b *Base) SaveGrant(ctx context.Context, userID string, tok *oauth2.Token, externalID string) (*TokenSet, error) {
	if externalID != "" {
		if err := b.evictOtherOwners(ctx, userID, externalID); err != nil {
			return nil, err
		}
	}

	set := &TokenSet{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		set.ExpiresAt = &exp
	}

	rec := &types.CredentialRecord{
		UserID:            userID,
		Provider:          b.Provider,
		AccessToken:       set.AccessToken,
		RefreshToken:      set.RefreshToken,
		ExpiresAt:         set.ExpiresAt,
		ExternalAccountID: externalID,
		UpdatedAt:         b.Opts.Now().UTC(),
	}
	if err := b.Store.UpsertCredential(ctx, rec); err != nil {
		return nil, fmt.Errorf("save %s credential: %w", b.Provider, err)
	}
	b.Logger.Info("Integration linked", "user_id", userID, "external_account_id", externalID)
	return set, nil
}

func (b *Base) evictOtherOwners(ctx context.Context, userID, externalID string) error {
	owners, err := b.Store.FindByExternalAccount(ctx, b.Provider, externalID)
	if err != nil {
		return fmt.Errorf("look up %s account owners: %w", b.Provider, err)
	}
	for _, rec := range owners {
		if rec.UserID == userID {
			continue
		}
		if err := b.Store.DeleteCredential(ctx, rec.UserID, b.Provider); err != nil {
			return fmt.Errorf("evict previous %s owner: %w", b.Provider, err)
		}
		b.Logger.Info("Vendor account re-linked to another user", "previous_user_id", rec.UserID, "user_id", userID)
	}
	return nil
}

// RefreshToken refreshes unconditionally and reports success. Failures are logged, never returned.
func (b *Base) RefreshToken(ctx context.Context, userID string) bool {
	if _, err := b.Tokens.ForceRefresh(ctx, userID); err != nil {
		if !errors.Is(err, oauth.ErrNotRefreshable) {
			b.Logger.Warn("Refresh failed", "user_id", userID, "error", err)
		}
		return false
	}
	return true
}

// UpdateCredential applies fn to the stored credential under the refresh locks.
func (b *Base) UpdateCredential(ctx context.Context, userID string, fn func(*types.CredentialRecord)) error {
	return b.Tokens.Update(ctx, userID, fn)
}

func (b *Base) IsConnected(ctx context.Context, userID string) bool {
	_, err := b.Store.GetCredential(ctx, userID, b.Provider)
	if err != nil && !errors.Is(err, shared.ErrCredentialNotFound) {
		b.Logger.Warn("Credential lookup failed", "user_id", userID, "error", err)
	}
	return err == nil
}

// Disconnect removes the local credential.
func (b *Base) Disconnect(ctx context.Context, userID string) error {
	if err := b.Store.DeleteCredential(ctx, userID, b.Provider); err != nil {
		return fmt.Errorf("delete %s credential: %w", b.Provider, err)
	}
	b.Logger.Info("Integration disconnected", "user_id", userID)
	return nil
}

// Client returns an HTTP client that authenticates as userID, refreshing when the
// token expires within threshold.
func (b *Base) Client(userID string, threshold time.Duration) *http.Client {
	return b.authorized(b.Opts.HTTPClient, userID, threshold)
}

// LookupClient is Client with the shorter lookup timeout.
func (b *Base) LookupClient(userID string, threshold time.Duration) *http.Client {
	return b.authorized(b.Opts.LookupClient, userID, threshold)
}

func (b *Base) authorized(base *http.Client, userID string, threshold time.Duration) *http.Client {
	c := oauth.NewHTTPClient(base, b.Tokens, userID, threshold)
	c.Transport.(*oauth.Transport).Logger = b.Logger
	return c
}

// Wait blocks until the enrichment limiter admits another call.
func (b *Base) Wait(ctx context.Context) error {
	return b.Opts.Limiter.Wait(ctx)
}

// Sleep pauses for d or until ctx is done.
func (b *Base) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
