package shared

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/fitglue/workoutsync/pkg/types"
)

// ErrCredentialNotFound is returned by CredentialStore.GetCredential when no record exists.
var ErrCredentialNotFound = errors.New("credential not found")

// --- Persistence Interfaces ---

// CredentialStore persists one OAuth grant per (user, provider).
// Implementations must not cache; callers re-read before every use.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error)
	// UpsertCredential never overwrites a stored ExternalAccountID with an empty one.
	UpsertCredential(ctx context.Context, rec *types.CredentialRecord) error
	DeleteCredential(ctx context.Context, userID string, provider types.Provider) error

	ListLinkedUsers(ctx context.Context, provider types.Provider) ([]string, error)
	FindByExternalAccount(ctx context.Context, provider types.Provider, externalAccountID string) ([]*types.CredentialRecord, error)
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}
