// Package integrations defines the contract shared by the Strava, Huawei and Polar adapters.
package integrations

import (
	"context"
	"time"

	"github.com/fitglue/workoutsync/pkg/types"
)

// TokenSet is the grant obtained from a successful authorization-code exchange.
type TokenSet struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Adapter connects one vendor to the canonical workout model.
//
// Only ExchangeCode returns vendor errors to the caller. RefreshToken and FetchWorkouts
// degrade to false and an empty slice so a background sync never fails for one vendor.
type Adapter interface {
	ProviderID() types.Provider
	// OAuthURL returns false when the integration is not configured.
	OAuthURL(state string) (string, bool)
	ExchangeCode(ctx context.Context, userID, code, state string) (*TokenSet, error)
	RefreshToken(ctx context.Context, userID string) bool
	FetchWorkouts(ctx context.Context, userID string, start, end time.Time) []types.NormalizedWorkout
	// IsConnected only checks that a credential exists; it does not validate freshness.
	IsConnected(ctx context.Context, userID string) bool
	Disconnect(ctx context.Context, userID string) error
}

// AccountResolver is implemented by adapters that can ask the vendor who the user is.
type AccountResolver interface {
	ResolveAccountID(ctx context.Context, userID string) (string, error)
}

// CredentialUpdater edits a stored credential without racing a token refresh.
type CredentialUpdater interface {
	UpdateCredential(ctx context.Context, userID string, fn func(*types.CredentialRecord)) error
}

// ErrorCallback receives every non-success outcome of a single-activity fetch.
// status is 0 when no HTTP response was received.
type ErrorCallback func(status int, body []byte, message string)

// ActivityFetcher fetches one activity by vendor id, bypassing pagination.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, userID, activityID string, onError ErrorCallback) (*types.NormalizedWorkout, bool)
}

// RefreshPolicy is implemented by adapters that want the reconciler to refresh
// earlier than the near-expiry window.
type RefreshPolicy interface {
	RefreshLookAhead() time.Duration
}
