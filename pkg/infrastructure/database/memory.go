package database

import (
	"context"
	"sort"
	"sync"
	"time"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/types"
)

type credentialKey struct {
	userID   string
	provider types.Provider
}

// MemoryCredentialStore is an in-process CredentialStore for tests and local runs.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	records map[credentialKey]*types.CredentialRecord
	now     func() time.Time
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		records: make(map[credentialKey]*types.CredentialRecord),
		now:     time.Now,
	}
}

func (s *MemoryCredentialStore) GetCredential(_ context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[credentialKey{userID, provider}]
	if !ok {
		return nil, shared.ErrCredentialNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryCredentialStore) UpsertCredential(_ context.Context, rec *types.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey{rec.UserID, rec.Provider}
	next := rec.Clone()
	next.UpdatedAt = s.now().UTC()
	if prev, ok := s.records[key]; ok && next.ExternalAccountID == "" {
		next.ExternalAccountID = prev.ExternalAccountID
	}
	s.records[key] = next
	return nil
}

func (s *MemoryCredentialStore) DeleteCredential(_ context.Context, userID string, provider types.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, credentialKey{userID, provider})
	return nil
}

func (s *MemoryCredentialStore) ListLinkedUsers(_ context.Context, provider types.Provider) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []string
	for key := range s.records {
		if key.provider == provider {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryCredentialStore) FindByExternalAccount(_ context.Context, provider types.Provider, externalAccountID string) ([]*types.CredentialRecord, error) {
	if externalAccountID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.CredentialRecord
	for key, rec := range s.records {
		if key.provider == provider && rec.ExternalAccountID == externalAccountID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
