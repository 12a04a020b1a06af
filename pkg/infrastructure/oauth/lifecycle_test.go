package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"golang.org/x/oauth2"

	"github.com/fitglue/workoutsync/pkg/infrastructure/database"
	"github.com/fitglue/workoutsync/pkg/types"
)

type lifecycleState struct {
	store     *database.MemoryCredentialStore
	source    *StoreTokenSource
	refreshes int
	reject    bool
	result    *types.CredentialRecord
	err       error
}

func (s *lifecycleState) reset() {
	s.store = database.NewMemoryCredentialStore()
	s.refreshes = 0
	s.reject = false
	s.result = nil
	s.err = nil
	s.source = NewStoreTokenSource(s.store, types.ProviderStrava, func(context.Context, string) (*oauth2.Token, error) {
		s.refreshes++
		if s.reject {
			return nil, &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}, ErrorCode: "invalid_grant"}
		}
		return &oauth2.Token{AccessToken: "refreshed-access", RefreshToken: "r2", Expiry: now.Add(6 * time.Hour)}, nil
	})
	s.source.Now = func() time.Time { return now }
}

func (s *lifecycleState) noCredential(string) error { return nil }

func (s *lifecycleState) credentialExpiringIn(user string, minutes int) error {
	exp := now.Add(time.Duration(minutes) * time.Minute)
	return s.store.UpsertCredential(context.Background(), &types.CredentialRecord{
		UserID: user, Provider: types.ProviderStrava, AccessToken: "stored-access", RefreshToken: "r1", ExpiresAt: &exp,
	})
}

func (s *lifecycleState) credentialWithoutExpiry(user string) error {
	return s.store.UpsertCredential(context.Background(), &types.CredentialRecord{
		UserID: user, Provider: types.ProviderStrava, AccessToken: "stored-access",
	})
}

func (s *lifecycleState) vendorRejects() error {
	s.reject = true
	return nil
}

func (s *lifecycleState) requestsToken(user, amount, unit string) error {
	n, err := strconv.Atoi(amount)
	if err != nil {
		return err
	}
	d := map[string]time.Duration{"second": time.Second, "minute": time.Minute, "hour": time.Hour}[unit]
	s.result, s.err = s.source.Token(context.Background(), user, time.Duration(n)*d)
	return nil
}

func (s *lifecycleState) failsAsNotLinked() error {
	if !errors.Is(s.err, ErrNotLinked) {
		return fmt.Errorf("expected ErrNotLinked, got %v", s.err)
	}
	return nil
}

func (s *lifecycleState) fails() error {
	if s.err == nil {
		return fmt.Errorf("expected an error")
	}
	return nil
}

func (s *lifecycleState) refreshCount(n int) error {
	if s.refreshes != n {
		return fmt.Errorf("expected %d refreshes, got %d", n, s.refreshes)
	}
	return nil
}

func (s *lifecycleState) accessTokenIs(want string) error {
	if s.err != nil {
		return fmt.Errorf("unexpected error: %v", s.err)
	}
	if s.result.AccessToken != want {
		return fmt.Errorf("expected access token %q, got %q", want, s.result.AccessToken)
	}
	return nil
}

func (s *lifecycleState) storedAccessTokenIs(user, want string) error {
	rec, err := s.store.GetCredential(context.Background(), user, types.ProviderStrava)
	if err != nil {
		return err
	}
	if rec.AccessToken != want {
		return fmt.Errorf("expected stored access token %q, got %q", want, rec.AccessToken)
	}
	return nil
}

func initializeLifecycleScenario(sc *godog.ScenarioContext) {
	s := &lifecycleState{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.reset()
		return ctx, nil
	})

	sc.Step(`^no credential is stored for "([^"]*)"$`, s.noCredential)
	sc.Step(`^a credential for "([^"]*)" expiring in (\d+) minutes?$`, s.credentialExpiringIn)
	sc.Step(`^a credential for "([^"]*)" without expiry$`, s.credentialWithoutExpiry)
	sc.Step(`^the vendor rejects refresh requests$`, s.vendorRejects)
	sc.Step(`^"([^"]*)" requests a token with a (\d+) (second|minute|hour) threshold$`, s.requestsToken)
	sc.Step(`^the request fails as not linked$`, s.failsAsNotLinked)
	sc.Step(`^the request fails$`, s.fails)
	sc.Step(`^the vendor was asked to refresh (\d+) times?$`, s.refreshCount)
	sc.Step(`^the access token is "([^"]*)"$`, s.accessTokenIs)
	sc.Step(`^the stored access token for "([^"]*)" is "([^"]*)"$`, s.storedAccessTokenIs)
}

func TestTokenLifecycleFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
