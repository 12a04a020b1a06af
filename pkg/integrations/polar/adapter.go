// Package polar implements the Polar AccessLink integration. Polar grants are
// long-lived and cannot be refreshed; linking also registers the user with AccessLink.
package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/domain/activity"
	"github.com/fitglue/workoutsync/pkg/domain/fit_parser"
	"github.com/fitglue/workoutsync/pkg/infrastructure/metrics"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	AuthURL  = "https://flow.polar.com/oauth2/authorization"
	TokenURL = "https://polarremote.com/v2/oauth2/token"
	APIBase  = "https://www.polaraccesslink.com/v3"

	// EnrichLimit is how many exercises may fall back to a FIT download per fetch.
	EnrichLimit = 50
)

var DefaultScopes = []string{"accesslink.read_all"}

var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInHeader,
}

type Adapter struct {
	*integrations.Base

	APIBase string
}

var _ integrations.Adapter = (*Adapter)(nil)

func New(cfg integrations.ProviderConfig, store shared.CredentialStore, opts integrations.Options) (*Adapter, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	base, err := integrations.NewBase(types.ProviderPolar, cfg, Endpoint, store, false, opts)
	if err != nil {
		return nil, err
	}
	return &Adapter{Base: base, APIBase: APIBase}, nil
}

func (a *Adapter) OAuthURL(state string) (string, bool) {
	return a.Base.OAuthURL(state)
}

// ExchangeCode links the Polar account and registers it with AccessLink.
// Only the access token is stored: Polar issues neither refresh tokens nor a
// meaningful expiry.
func (a *Adapter) ExchangeCode(ctx context.Context, userID, code, _ string) (*integrations.TokenSet, error) {
	tok, err := a.Exchange(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	polarUser := polarUserID(tok)
	if polarUser == "" {
		return nil, fmt.Errorf("%w: token response without x_user_id", integrations.ErrDataShape)
	}
	if err := a.register(ctx, tok.AccessToken, userID); err != nil {
		return nil, err
	}
	return a.SaveGrant(ctx, userID, &oauth2.Token{AccessToken: tok.AccessToken}, polarUser)
}

func polarUserID(tok *oauth2.Token) string {
	switch id := tok.Extra("x_user_id").(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case string:
		return id
	}
	return ""
}

// register makes the user known to AccessLink. A 409 means already registered.
func (a *Adapter) register(ctx context.Context, accessToken, memberID string) error {
	body, err := json.Marshal(registerRequest{MemberID: memberID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.APIBase+"/users", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res := integrations.Call[json.RawMessage](a.Opts.LookupClient, req, a.Provider, "users")
	if res.Status == http.StatusConflict {
		return nil
	}
	if err := res.Error(a.Provider); err != nil {
		return fmt.Errorf("register polar user: %w", err)
	}
	return nil
}

// Disconnect asks AccessLink to forget the user, then deletes the local credential.
// The vendor call is best-effort.
func (a *Adapter) Disconnect(ctx context.Context, userID string) error {
	rec, err := a.Store.GetCredential(ctx, userID, a.Provider)
	switch {
	case errors.Is(err, shared.ErrCredentialNotFound):
	case err != nil:
		a.Logger.Warn("Credential lookup failed before revoke", "user_id", userID, "error", err)
	case rec.ExternalAccountID != "":
		a.revoke(ctx, rec)
	}
	return a.Base.Disconnect(ctx, userID)
}

func (a *Adapter) revoke(ctx context.Context, rec *types.CredentialRecord) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.APIBase+"/users/"+url.PathEscape(rec.ExternalAccountID), nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+rec.AccessToken)
	res := integrations.Call[json.RawMessage](a.Opts.LookupClient, req, a.Provider, "users/{id}")
	if !res.OK() {
		a.Logger.Warn("Polar revoke failed", "user_id", rec.UserID, "status", res.Status, "error", res.Error(a.Provider))
	}
}

// FetchWorkouts lists exercises, keeps those starting within [start, end], and
// builds timelines from their samples. Exercises without samples fall back to
// their FIT export.
func (a *Adapter) FetchWorkouts(ctx context.Context, userID string, start, end time.Time) []types.NormalizedWorkout {
	workouts := []types.NormalizedWorkout{}

	if _, err := a.Tokens.Token(ctx, userID, 0); err != nil {
		a.Logger.Warn("Skipping fetch, no usable token", "user_id", userID, "error", err)
		return workouts
	}
	client := a.Client(userID, 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/exercises?samples=true&route=true", nil)
	if err != nil {
		return workouts
	}
	res := integrations.Call[[]json.RawMessage](client, req, a.Provider, "exercises")
	if !res.OK() {
		a.Logger.Warn("Exercise list failed", "user_id", userID, "status", res.Status, "error", res.Error(a.Provider))
		return workouts
	}

	inRange := 0
	for _, raw := range res.Value {
		var ex exercise
		if err := json.Unmarshal(raw, &ex); err != nil {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping malformed exercise", "user_id", userID, "error", err)
			continue
		}
		local, err := ex.start()
		if err != nil {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping exercise without start", "user_id", userID, "exercise_id", ex.ID, "error", err)
			continue
		}
		utc := local.Add(-time.Duration(ex.StartUTCOffset) * time.Minute)
		if utc.Before(start) || utc.After(end) {
			continue
		}
		// Only exercises inside the window count toward the FIT budget.
		allowFit := inRange < EnrichLimit
		inRange++

		w, err := a.normalize(ctx, client, &ex, local, allowFit)
		if err != nil {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping exercise", "user_id", userID, "exercise_id", ex.ID, "error", err)
			continue
		}
		workouts = append(workouts, w)
	}

	metrics.RecordWorkoutsFetched(a.Provider.String(), len(workouts))
	a.Logger.Info("Fetched workouts", "user_id", userID, "listed", len(res.Value), "normalized", len(workouts))
	return workouts
}

func (a *Adapter) normalize(ctx context.Context, client *http.Client, ex *exercise, local time.Time, allowFit bool) (types.NormalizedWorkout, error) {
	var seconds float64
	if ex.Duration != "" {
		d, err := parseDuration(ex.Duration)
		if err != nil {
			return types.NormalizedWorkout{}, err
		}
		seconds = d
	}

	raw := activity.Raw{
		Provider:       a.Provider,
		VendorID:       ex.ID,
		SportCode:      ex.sport(),
		Start:          local,
		ElapsedSeconds: seconds,
		DistanceMeters: ex.Distance,
		AvgHeartRate:   ex.HeartRate.Average,
		MaxHeartRate:   ex.HeartRate.Maximum,
	}
	raw.Streams, raw.Altitudes = ex.streams()
	if len(raw.Altitudes) == 0 {
		raw.Altitudes = ex.routeAltitudes()
	}

	if raw.Streams.Empty() && allowFit && ex.ID != "" {
		if fit := a.downloadFit(ctx, client, ex.ID); fit != nil {
			fromFit := fit.Raw(a.Provider, ex.ID)
			raw.Streams = fromFit.Streams
			if len(raw.Altitudes) == 0 {
				raw.Altitudes = fromFit.Altitudes
			}
			if raw.ElapsedSeconds == 0 {
				raw.ElapsedSeconds = fromFit.ElapsedSeconds
			}
			if raw.DistanceMeters == 0 {
				raw.DistanceMeters = fromFit.DistanceMeters
			}
			if raw.AvgHeartRate == 0 {
				raw.AvgHeartRate = fromFit.AvgHeartRate
			}
			if raw.MaxHeartRate == 0 {
				raw.MaxHeartRate = fromFit.MaxHeartRate
			}
		}
	}

	return activity.Normalize(raw)
}

// downloadFit fetches and decodes the exercise's FIT export. Best-effort.
func (a *Adapter) downloadFit(ctx context.Context, client *http.Client, id string) *fit_parser.Activity {
	if err := a.Wait(ctx); err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/exercises/"+url.PathEscape(id)+"/fit", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "*/*")
	res := integrations.Call[[]byte](client, req, a.Provider, "exercises/{id}/fit")
	if !res.OK() {
		a.Logger.Debug("FIT download failed", "exercise_id", id, "status", res.Status)
		return nil
	}
	act, err := fit_parser.ParseFitFile(res.Value)
	if err != nil {
		a.Logger.Debug("FIT decode failed", "exercise_id", id, "error", err)
		return nil
	}
	return act
}
