package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/types"
)

// --- Mock Credential Store ---
type MockCredentialStore struct {
	GetCredentialFunc         func(ctx context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error)
	UpsertCredentialFunc      func(ctx context.Context, rec *types.CredentialRecord) error
	DeleteCredentialFunc      func(ctx context.Context, userID string, provider types.Provider) error
	ListLinkedUsersFunc       func(ctx context.Context, provider types.Provider) ([]string, error)
	FindByExternalAccountFunc func(ctx context.Context, provider types.Provider, externalAccountID string) ([]*types.CredentialRecord, error)
}

func (m *MockCredentialStore) GetCredential(ctx context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error) {
	if m.GetCredentialFunc != nil {
		return m.GetCredentialFunc(ctx, userID, provider)
	}
	return nil, shared.ErrCredentialNotFound
}
func (m *MockCredentialStore) UpsertCredential(ctx context.Context, rec *types.CredentialRecord) error {
	if m.UpsertCredentialFunc != nil {
		return m.UpsertCredentialFunc(ctx, rec)
	}
	return nil
}
func (m *MockCredentialStore) DeleteCredential(ctx context.Context, userID string, provider types.Provider) error {
	if m.DeleteCredentialFunc != nil {
		return m.DeleteCredentialFunc(ctx, userID, provider)
	}
	return nil
}
func (m *MockCredentialStore) ListLinkedUsers(ctx context.Context, provider types.Provider) ([]string, error) {
	if m.ListLinkedUsersFunc != nil {
		return m.ListLinkedUsersFunc(ctx, provider)
	}
	return nil, nil
}
func (m *MockCredentialStore) FindByExternalAccount(ctx context.Context, provider types.Provider, externalAccountID string) ([]*types.CredentialRecord, error) {
	if m.FindByExternalAccountFunc != nil {
		return m.FindByExternalAccountFunc(ctx, provider, externalAccountID)
	}
	return nil, nil
}

// --- Mock Publisher ---
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// RecordingPublisher keeps every published event for assertions.
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []event.Event
	Topics []string
}

func (p *RecordingPublisher) PublishCloudEvent(_ context.Context, topic string, e event.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, e)
	p.Topics = append(p.Topics, topic)
	return e.ID(), nil
}

// --- Mock Adapter ---
type MockAdapter struct {
	Provider types.Provider

	OAuthURLFunc         func(state string) (string, bool)
	ExchangeCodeFunc     func(ctx context.Context, userID, code, state string) (*integrations.TokenSet, error)
	RefreshTokenFunc     func(ctx context.Context, userID string) bool
	FetchWorkoutsFunc    func(ctx context.Context, userID string, start, end time.Time) []types.NormalizedWorkout
	IsConnectedFunc      func(ctx context.Context, userID string) bool
	DisconnectFunc       func(ctx context.Context, userID string) error
	ResolveAccountIDFunc func(ctx context.Context, userID string) (string, error)
	FetchActivityFunc    func(ctx context.Context, userID, activityID string, onError integrations.ErrorCallback) (*types.NormalizedWorkout, bool)
}

func (m *MockAdapter) ProviderID() types.Provider { return m.Provider }

func (m *MockAdapter) OAuthURL(state string) (string, bool) {
	if m.OAuthURLFunc != nil {
		return m.OAuthURLFunc(state)
	}
	return "", false
}
func (m *MockAdapter) ExchangeCode(ctx context.Context, userID, code, state string) (*integrations.TokenSet, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, userID, code, state)
	}
	return nil, integrations.ErrIntegrationDisabled
}
func (m *MockAdapter) RefreshToken(ctx context.Context, userID string) bool {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, userID)
	}
	return false
}
func (m *MockAdapter) FetchWorkouts(ctx context.Context, userID string, start, end time.Time) []types.NormalizedWorkout {
	if m.FetchWorkoutsFunc != nil {
		return m.FetchWorkoutsFunc(ctx, userID, start, end)
	}
	return []types.NormalizedWorkout{}
}
func (m *MockAdapter) IsConnected(ctx context.Context, userID string) bool {
	if m.IsConnectedFunc != nil {
		return m.IsConnectedFunc(ctx, userID)
	}
	return false
}
func (m *MockAdapter) Disconnect(ctx context.Context, userID string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, userID)
	}
	return nil
}

// ResolvingAdapter adds AccountResolver and ActivityFetcher to MockAdapter.
type ResolvingAdapter struct {
	MockAdapter
}

func (m *ResolvingAdapter) ResolveAccountID(ctx context.Context, userID string) (string, error) {
	if m.ResolveAccountIDFunc != nil {
		return m.ResolveAccountIDFunc(ctx, userID)
	}
	return "", integrations.ErrIntegrationDisabled
}
func (m *ResolvingAdapter) FetchActivity(ctx context.Context, userID, activityID string, onError integrations.ErrorCallback) (*types.NormalizedWorkout, bool) {
	if m.FetchActivityFunc != nil {
		return m.FetchActivityFunc(ctx, userID, activityID, onError)
	}
	return nil, false
}
