// Package strava implements the Strava integration: OAuth, paged activity listing
// with detail and stream enrichment, and single-activity fetches for webhooks.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/domain/activity"
	"github.com/fitglue/workoutsync/pkg/infrastructure/metrics"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"
	APIBase  = "https://www.strava.com/api/v3"

	PageSize = 200
	// EnrichLimit is how many activities get detail and stream calls per fetch.
	EnrichLimit = 50
	// maxPages stops a misbehaving vendor from paging forever.
	maxPages = 100

	// ImmediateThreshold is the refresh window before a vendor call.
	ImmediateThreshold = 5 * time.Minute
	// HealthCheckThreshold is the look-ahead used by the reconciler.
	HealthCheckThreshold = 4 * time.Hour
)

var DefaultScopes = []string{"read", "activity:read_all"}

var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

type Adapter struct {
	*integrations.Base

	// APIBase is overridable for tests.
	APIBase string
	scope   string
}

var (
	_ integrations.Adapter         = (*Adapter)(nil)
	_ integrations.AccountResolver = (*Adapter)(nil)
	_ integrations.ActivityFetcher = (*Adapter)(nil)
	_ integrations.RefreshPolicy   = (*Adapter)(nil)
)

func New(cfg integrations.ProviderConfig, store shared.CredentialStore, opts integrations.Options) (*Adapter, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	base, err := integrations.NewBase(types.ProviderStrava, cfg, Endpoint, store, true, opts)
	if err != nil {
		return nil, err
	}
	// Strava wants a comma separated scope list, not the space separated one oauth2 builds.
	base.OAuth.Scopes = nil
	return &Adapter{
		Base:    base,
		APIBase: APIBase,
		scope:   strings.Join(cfg.Scopes, ","),
	}, nil
}

func (a *Adapter) OAuthURL(state string) (string, bool) {
	return a.Base.OAuthURL(state,
		oauth2.SetAuthURLParam("scope", a.scope),
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	)
}

func (a *Adapter) RefreshLookAhead() time.Duration {
	return HealthCheckThreshold
}

// ExchangeCode links the Strava athlete to userID. The token response embeds the
// athlete, so the external account id is known immediately.
func (a *Adapter) ExchangeCode(ctx context.Context, userID, code, _ string) (*integrations.TokenSet, error) {
	tok, err := a.Exchange(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	return a.SaveGrant(ctx, userID, tok, athleteID(tok))
}

func athleteID(tok *oauth2.Token) string {
	raw, ok := tok.Extra("athlete").(map[string]interface{})
	if !ok {
		return ""
	}
	switch id := raw["id"].(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case string:
		return id
	}
	return ""
}

// ResolveAccountID asks Strava who the token belongs to.
func (a *Adapter) ResolveAccountID(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/athlete", nil)
	if err != nil {
		return "", err
	}
	res := integrations.Call[athlete](a.LookupClient(userID, ImmediateThreshold), req, a.Provider, "athlete")
	if err := res.Error(a.Provider); err != nil {
		return "", err
	}
	if res.Value.ID == 0 {
		return "", fmt.Errorf("%w: athlete without id", integrations.ErrDataShape)
	}
	return strconv.FormatInt(res.Value.ID, 10), nil
}

// FetchWorkouts lists activities between start and end and normalizes them.
// The first EnrichLimit activities are enriched with detail and streams; the rest
// pass through as listed. Failures degrade to fewer or no workouts.
func (a *Adapter) FetchWorkouts(ctx context.Context, userID string, start, end time.Time) []types.NormalizedWorkout {
	workouts := []types.NormalizedWorkout{}

	if _, err := a.Tokens.Token(ctx, userID, ImmediateThreshold); err != nil {
		a.Logger.Warn("Skipping fetch, no usable token", "user_id", userID, "error", err)
		return workouts
	}
	client := a.Client(userID, ImmediateThreshold)

	items := a.listActivities(ctx, client, userID, start, end)
	for i, raw := range items {
		var act rawActivity
		if err := json.Unmarshal(raw, &act); err != nil {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping malformed activity", "user_id", userID, "error", err)
			continue
		}

		var streams streamSet
		if i < EnrichLimit && act.ID != 0 {
			streams = a.enrich(ctx, client, &act)
		}

		w, err := a.normalize(&act, streams)
		if err != nil {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping activity", "user_id", userID, "activity_id", act.ID, "error", err)
			continue
		}
		workouts = append(workouts, w)
	}

	metrics.RecordWorkoutsFetched(a.Provider.String(), len(workouts))
	a.Logger.Info("Fetched workouts", "user_id", userID, "listed", len(items), "normalized", len(workouts))
	return workouts
}

// listActivities pages until a short page, an empty page or a failed call.
// Items stay raw so one malformed entry does not sink its page.
func (a *Adapter) listActivities(ctx context.Context, client *http.Client, userID string, start, end time.Time) []json.RawMessage {
	var all []json.RawMessage
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("after", strconv.FormatInt(start.Unix(), 10))
		q.Set("before", strconv.FormatInt(end.Unix(), 10))
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(PageSize))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/athlete/activities?"+q.Encode(), nil)
		if err != nil {
			break
		}
		res := integrations.Call[[]json.RawMessage](client, req, a.Provider, "athlete/activities")
		if !res.OK() {
			a.Logger.Warn("Activity list failed", "user_id", userID, "page", page, "status", res.Status, "error", res.Error(a.Provider))
			break
		}
		all = append(all, res.Value...)
		if len(res.Value) < PageSize {
			break
		}
	}
	return all
}

// enrich backfills act from the detail endpoint and returns its streams.
// Both calls are best-effort.
func (a *Adapter) enrich(ctx context.Context, client *http.Client, act *rawActivity) streamSet {
	id := strconv.FormatInt(act.ID, 10)

	if err := a.Wait(ctx); err != nil {
		return nil
	}
	if req, err := a.detailRequest(ctx, id); err == nil {
		res := integrations.Call[rawActivity](client, req, a.Provider, "activities/{id}")
		if res.OK() {
			act.fillFrom(&res.Value)
		} else {
			a.Logger.Debug("Detail fetch failed", "activity_id", id, "status", res.Status)
		}
	}

	if err := a.Wait(ctx); err != nil {
		return nil
	}
	req, err := a.streamsRequest(ctx, id)
	if err != nil {
		return nil
	}
	res := integrations.Call[streamSet](client, req, a.Provider, "activities/{id}/streams")
	if !res.OK() {
		a.Logger.Debug("Stream fetch failed", "activity_id", id, "status", res.Status)
		return nil
	}
	return res.Value
}

func (a *Adapter) detailRequest(ctx context.Context, id string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/activities/"+url.PathEscape(id), nil)
}

func (a *Adapter) streamsRequest(ctx context.Context, id string) (*http.Request, error) {
	q := url.Values{}
	q.Set("keys", streamKeys)
	q.Set("key_by_type", "true")
	return http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/activities/"+url.PathEscape(id)+"/streams?"+q.Encode(), nil)
}

func (a *Adapter) normalize(act *rawActivity, streams streamSet) (types.NormalizedWorkout, error) {
	start := act.StartDateLocal
	if start.IsZero() {
		start = act.StartDate
	}
	vendorID := ""
	if act.ID != 0 {
		vendorID = strconv.FormatInt(act.ID, 10)
	}

	running := activity.ParseActivityType(act.sport()) == types.ActivityRunning
	s, altitudes := toStreams(streams, running)

	return activity.Normalize(activity.Raw{
		Provider:       a.Provider,
		VendorID:       vendorID,
		SportCode:      act.sport(),
		Start:          start,
		ElapsedSeconds: act.ElapsedTime,
		MovingSeconds:  act.MovingTime,
		DistanceMeters: act.Distance,
		AvgSpeedMPS:    act.AverageSpeed,
		AvgHeartRate:   act.AverageHeartrate,
		MaxHeartRate:   act.MaxHeartrate,
		ElevationGain:  act.TotalElevationGain,
		Altitudes:      altitudes,
		Streams:        s,
	})
}

// FetchActivity fetches one activity for webhook processing. A 401 refreshes the
// token and retries once; a 5xx waits RetryDelay and retries once. Every failure is
// reported through onError and nothing is logged.
func (a *Adapter) FetchActivity(ctx context.Context, userID, activityID string, onError integrations.ErrorCallback) (*types.NormalizedWorkout, bool) {
	report := func(status int, body []byte, msg string) {
		if onError != nil {
			onError(status, body, msg)
		}
	}

	rec, err := a.Tokens.Token(ctx, userID, ImmediateThreshold)
	if err != nil {
		report(0, nil, fmt.Sprintf("no usable %s token: %v", a.Provider, err))
		return nil, false
	}
	token := rec.AccessToken

	res := a.getActivity(ctx, token, activityID)
	switch {
	case res.Unauthorized():
		rec, err = a.Tokens.ForceRefresh(ctx, userID)
		if err != nil {
			report(res.Status, res.Body, fmt.Sprintf("token rejected and refresh failed: %v", err))
			return nil, false
		}
		token = rec.AccessToken
		res = a.getActivity(ctx, token, activityID)
	case res.Transient():
		if err := a.Sleep(ctx, a.Opts.RetryDelay); err != nil {
			report(res.Status, res.Body, err.Error())
			return nil, false
		}
		res = a.getActivity(ctx, token, activityID)
	}
	if !res.OK() {
		report(res.Status, res.Body, res.Message())
		return nil, false
	}

	act := res.Value
	var streams streamSet
	if req, err := a.streamsRequest(ctx, activityID); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
		if sr := integrations.Call[streamSet](a.Opts.HTTPClient, req, a.Provider, "activities/{id}/streams"); sr.OK() {
			streams = sr.Value
		}
	}

	w, err := a.normalize(&act, streams)
	if err != nil {
		report(res.Status, res.Body, err.Error())
		return nil, false
	}
	return &w, true
}

func (a *Adapter) getActivity(ctx context.Context, token, activityID string) integrations.Result[rawActivity] {
	req, err := a.detailRequest(ctx, activityID)
	if err != nil {
		return integrations.Result[rawActivity]{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return integrations.Call[rawActivity](a.Opts.HTTPClient, req, a.Provider, "activities/{id}")
}

// OwnerOf maps a Strava athlete id to the local user that linked it.
func (a *Adapter) OwnerOf(ctx context.Context, athleteID string) (string, error) {
	recs, err := a.Store.FindByExternalAccount(ctx, a.Provider, athleteID)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", shared.ErrCredentialNotFound
	}
	if len(recs) > 1 {
		a.Logger.Warn("Athlete linked to several users", "athlete_id", athleteID, "count", len(recs))
	}
	return recs[0].UserID, nil
}
