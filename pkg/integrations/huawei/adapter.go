// Package huawei implements the Huawei Health Kit integration.
package huawei

import (
	"bytes"
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
	"github.com/fitglue/workoutsync/pkg/domain/timeline"
	"github.com/fitglue/workoutsync/pkg/infrastructure/metrics"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	AuthURL     = "https://oauth-login.cloud.huawei.com/oauth2/v3/authorize"
	TokenURL    = "https://oauth-login.cloud.huawei.com/oauth2/v3/token"
	APIBase     = "https://health-api.cloud.huawei.com/healthkit/v1"
	UserInfoURL = "https://account.cloud.huawei.com/rest.php?nsp_svc=GOpen.User.getInfo"

	// ImmediateThreshold is the refresh window before a vendor call.
	ImmediateThreshold = 60 * time.Second
	// EnrichLimit is how many records get a polymerized timeline per fetch.
	EnrichLimit = 50
	maxPages    = 20
)

var DefaultScopes = []string{
	"openid",
	"https://www.huawei.com/healthkit/activityrecord.read",
	"https://www.huawei.com/healthkit/heartrate.read",
	"https://www.huawei.com/healthkit/distance.read",
	"https://www.huawei.com/healthkit/speed.read",
	"https://www.huawei.com/healthkit/location.read",
}

var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// timelineTypes are polymerized into the workout timeline.
var timelineTypes = []string{
	"com.huawei.instantaneous.heart_rate",
	"com.huawei.instantaneous.altitude",
	"com.huawei.instantaneous.speed",
}

type Adapter struct {
	*integrations.Base

	APIBase     string
	UserInfoURL string
}

var (
	_ integrations.Adapter         = (*Adapter)(nil)
	_ integrations.AccountResolver = (*Adapter)(nil)
)

func New(cfg integrations.ProviderConfig, store shared.CredentialStore, opts integrations.Options) (*Adapter, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	base, err := integrations.NewBase(types.ProviderHuawei, cfg, Endpoint, store, true, opts)
	if err != nil {
		return nil, err
	}
	return &Adapter{Base: base, APIBase: APIBase, UserInfoURL: UserInfoURL}, nil
}

// OAuthURL asks for offline access so Huawei issues a refresh token.
func (a *Adapter) OAuthURL(state string) (string, bool) {
	return a.Base.OAuthURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode links the Huawei account. The openID lookup is best-effort; the
// reconciler back-fills it when it fails here.
func (a *Adapter) ExchangeCode(ctx context.Context, userID, code, _ string) (*integrations.TokenSet, error) {
	tok, err := a.Exchange(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	openID, err := a.openID(ctx, tok.AccessToken)
	if err != nil {
		a.Logger.Warn("Could not resolve Huawei openID", "user_id", userID, "error", err)
	}
	return a.SaveGrant(ctx, userID, tok, openID)
}

func (a *Adapter) ResolveAccountID(ctx context.Context, userID string) (string, error) {
	rec, err := a.Tokens.Token(ctx, userID, ImmediateThreshold)
	if err != nil {
		return "", err
	}
	return a.openID(ctx, rec.AccessToken)
}

// openID calls the account user-info service, which takes the token as a form field.
func (a *Adapter) openID(ctx context.Context, accessToken string) (string, error) {
	form := url.Values{}
	form.Set("access_token", accessToken)
	form.Set("getNickName", "0")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.UserInfoURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res := integrations.Call[userInfo](a.Opts.LookupClient, req, a.Provider, "user/info")
	if err := res.Error(a.Provider); err != nil {
		return "", err
	}
	if res.Value.OpenID == "" {
		return "", fmt.Errorf("%w: user info without openID", integrations.ErrDataShape)
	}
	return res.Value.OpenID, nil
}

// FetchWorkouts lists activity records between start and end following
// nextPageToken, and adds a polymerized timeline to the first EnrichLimit records.
func (a *Adapter) FetchWorkouts(ctx context.Context, userID string, start, end time.Time) []types.NormalizedWorkout {
	workouts := []types.NormalizedWorkout{}

	if _, err := a.Tokens.Token(ctx, userID, ImmediateThreshold); err != nil {
		a.Logger.Warn("Skipping fetch, no usable token", "user_id", userID, "error", err)
		return workouts
	}
	client := a.Client(userID, ImmediateThreshold)

	items := a.listRecords(ctx, client, userID, start, end)
	for i, raw := range items {
		var rec activityRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.StartTime == 0 {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping malformed activity record", "user_id", userID, "error", err)
			continue
		}

		var streams timeline.Streams
		if i < EnrichLimit {
			streams = a.polymerize(ctx, client, &rec)
		}

		w, err := a.normalize(&rec, streams)
		if err != nil {
			metrics.RecordSkippedItem(a.Provider.String())
			a.Logger.Warn("Skipping activity record", "user_id", userID, "record_id", rec.ID, "error", err)
			continue
		}
		workouts = append(workouts, w)
	}

	metrics.RecordWorkoutsFetched(a.Provider.String(), len(workouts))
	a.Logger.Info("Fetched workouts", "user_id", userID, "listed", len(items), "normalized", len(workouts))
	return workouts
}

func (a *Adapter) listRecords(ctx context.Context, client *http.Client, userID string, start, end time.Time) []json.RawMessage {
	var all []json.RawMessage
	pageToken := ""
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.APIBase+"/activityRecords?"+q.Encode(), nil)
		if err != nil {
			break
		}
		res := integrations.Call[activityRecordsResponse](client, req, a.Provider, "activityRecords")
		if !res.OK() {
			a.Logger.Warn("Activity record list failed", "user_id", userID, "page", page, "status", res.Status, "error", res.Error(a.Provider))
			break
		}
		all = append(all, res.Value.ActivityRecord...)
		pageToken = res.Value.NextPageToken
		if pageToken == "" || len(res.Value.ActivityRecord) == 0 {
			break
		}
	}
	return all
}

// polymerize fetches the instantaneous samples recorded during rec. Best-effort.
func (a *Adapter) polymerize(ctx context.Context, client *http.Client, rec *activityRecord) timeline.Streams {
	var streams timeline.Streams
	if rec.EndTime <= rec.StartTime {
		return streams
	}
	if err := a.Wait(ctx); err != nil {
		return streams
	}

	body := polymerizeRequest{StartTime: rec.StartTime, EndTime: rec.EndTime}
	for _, t := range timelineTypes {
		body.PolymerizeWith = append(body.PolymerizeWith, dataType{DataTypeName: t})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return streams
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.APIBase+"/sampleSet:polymerize", bytes.NewReader(payload))
	if err != nil {
		return streams
	}
	req.Header.Set("Content-Type", "application/json")

	res := integrations.Call[polymerizeResponse](client, req, a.Provider, "sampleSet:polymerize")
	if !res.OK() {
		a.Logger.Debug("Polymerize failed", "record_id", rec.ID, "status", res.Status)
		return streams
	}

	origin := epoch(rec.StartTime)
	put := func(s *timeline.Series, off int, v float64) {
		if *s == nil {
			*s = make(timeline.Series)
		}
		(*s)[off] = v
	}
	for _, g := range res.Value.Group {
		for _, set := range g.SampleSet {
			for _, p := range set.SamplePoints {
				off := int(epoch(p.StartTime).Sub(origin) / time.Second)
				if off < 0 {
					continue
				}
				switch {
				case strings.Contains(p.DataTypeName, "heart_rate"):
					if v, ok := p.field("bpm"); ok {
						put(&streams.HeartRate, off, v)
					}
				case strings.Contains(p.DataTypeName, "altitude"):
					if v, ok := p.field("altitude"); ok {
						put(&streams.Altitude, off, v)
					}
				case strings.Contains(p.DataTypeName, "speed"):
					if v, ok := p.field("speed"); ok {
						put(&streams.Velocity, off, v)
					}
				}
			}
		}
	}
	return streams
}

// summary collects the per-record statistics from activitySummary.dataSummary.
type summary struct {
	distance float64
	avgHR    float64
	maxHR    float64
	ascent   *float64
}

func summarize(points []samplePoint) summary {
	var s summary
	for _, p := range points {
		name := p.DataTypeName
		switch {
		case strings.Contains(name, "distance"):
			if v, ok := p.field("distance"); ok {
				s.distance = v
			}
		case strings.Contains(name, "heart_rate"):
			if v, ok := p.field("avg"); ok {
				s.avgHR = v
			}
			if v, ok := p.field("max"); ok {
				s.maxHR = v
			}
		case strings.Contains(name, "altitude"), strings.Contains(name, "elevation"):
			for _, f := range []string{"ascent_total", "elevation_gain", "ascent"} {
				if v, ok := p.field(f); ok {
					s.ascent = &v
					break
				}
			}
		}
	}
	return s
}

func (a *Adapter) normalize(rec *activityRecord, streams timeline.Streams) (types.NormalizedWorkout, error) {
	sum := summarize(rec.ActivitySummary.DataSummary)
	elapsed := 0.0
	if rec.EndTime > rec.StartTime {
		elapsed = float64(rec.EndTime-rec.StartTime) / 1000
	}

	var altitudes []float64
	for _, off := range streams.Offsets() {
		if v, ok := streams.Altitude[off]; ok {
			altitudes = append(altitudes, v)
		}
	}

	return activity.Normalize(activity.Raw{
		Provider:       a.Provider,
		VendorID:       rec.ID,
		SportCode:      sportCode(rec.ActivityType),
		Start:          wallClock(epoch(rec.StartTime), rec.TimeZone),
		ElapsedSeconds: elapsed,
		MovingSeconds:  float64(rec.ActiveTime) / 1000,
		DistanceMeters: sum.distance,
		AvgHeartRate:   sum.avgHR,
		MaxHeartRate:   sum.maxHR,
		ElevationGain:  sum.ascent,
		Altitudes:      altitudes,
		Streams:        streams,
	})
}
