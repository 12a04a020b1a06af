package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/fitglue/workoutsync/pkg"
	storage "github.com/fitglue/workoutsync/pkg/storage/firestore"
	"github.com/fitglue/workoutsync/pkg/types"
)

// FirestoreCredentialStore keeps credentials in integration_credentials/{userId}_{provider}.
// It wraps our typed storage client.
type FirestoreCredentialStore struct {
	storage *storage.Client
}

func NewFirestoreCredentialStore(client *firestore.Client) *FirestoreCredentialStore {
	return &FirestoreCredentialStore{storage: storage.NewClient(client)}
}

func (s *FirestoreCredentialStore) GetCredential(ctx context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error) {
	rec, err := s.storage.Credentials().Doc(storage.CredentialDocID(userID, provider)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, shared.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get %s credential: %w", provider, err)
	}
	return rec, nil
}

func (s *FirestoreCredentialStore) UpsertCredential(ctx context.Context, rec *types.CredentialRecord) error {
	next := rec.Clone()
	next.UpdatedAt = time.Now().UTC()
	if err := s.storage.Credentials().Doc(storage.CredentialDocID(rec.UserID, rec.Provider)).Set(ctx, next); err != nil {
		return fmt.Errorf("upsert %s credential: %w", rec.Provider, err)
	}
	return nil
}

func (s *FirestoreCredentialStore) DeleteCredential(ctx context.Context, userID string, provider types.Provider) error {
	if err := s.storage.Credentials().Doc(storage.CredentialDocID(userID, provider)).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s credential: %w", provider, err)
	}
	return nil
}

func (s *FirestoreCredentialStore) ListLinkedUsers(ctx context.Context, provider types.Provider) ([]string, error) {
	recs, err := s.storage.Credentials().Where(ctx, map[string]interface{}{"provider": provider.String()})
	if err != nil {
		return nil, fmt.Errorf("list %s credentials: %w", provider, err)
	}
	users := make([]string, 0, len(recs))
	for _, rec := range recs {
		users = append(users, rec.UserID)
	}
	sort.Strings(users)
	return users, nil
}

func (s *FirestoreCredentialStore) FindByExternalAccount(ctx context.Context, provider types.Provider, externalAccountID string) ([]*types.CredentialRecord, error) {
	if externalAccountID == "" {
		return nil, nil
	}
	recs, err := s.storage.Credentials().Where(ctx, map[string]interface{}{
		"provider":            provider.String(),
		"external_account_id": externalAccountID,
	})
	if err != nil {
		return nil, fmt.Errorf("find %s credential by account: %w", provider, err)
	}
	return recs, nil
}
