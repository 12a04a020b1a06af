package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/integrations/strava"
	"github.com/fitglue/workoutsync/pkg/testing/mocks"
	"github.com/fitglue/workoutsync/pkg/types"
)

var _ Strava = (*strava.Adapter)(nil)

type fakeStrava struct {
	owners       map[string]string
	workout      *types.NormalizedWorkout
	fail         bool
	fetched      []string
	disconnected []string
}

func (f *fakeStrava) OwnerOf(_ context.Context, athleteID string) (string, error) {
	if u, ok := f.owners[athleteID]; ok {
		return u, nil
	}
	return "", shared.ErrCredentialNotFound
}

func (f *fakeStrava) FetchActivity(_ context.Context, userID, activityID string, onError integrations.ErrorCallback) (*types.NormalizedWorkout, bool) {
	f.fetched = append(f.fetched, userID+"/"+activityID)
	if f.fail {
		onError(http.StatusServiceUnavailable, []byte(`{"message":"down"}`), "down")
		return nil, false
	}
	return f.workout, true
}

func (f *fakeStrava) Disconnect(_ context.Context, userID string) error {
	f.disconnected = append(f.disconnected, userID)
	return nil
}

func newTestHandler(f *fakeStrava, pub shared.Publisher) *Handler {
	return NewHandler(Config{Strava: f, Publisher: pub, VerifyToken: "secret"})
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChallenge(t *testing.T) {
	h := newTestHandler(&fakeStrava{}, &mocks.RecordingPublisher{})

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "valid", query: "hub.mode=subscribe&hub.verify_token=secret&hub.challenge=abc", status: http.StatusOK},
		{name: "wrong token", query: "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=abc", status: http.StatusForbidden},
		{name: "wrong mode", query: "hub.mode=unsubscribe&hub.verify_token=secret&hub.challenge=abc", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				var got map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "abc", got["hub.challenge"])
			}
		})
	}
}

func TestChallenge_NoVerifyTokenConfigured(t *testing.T) {
	h := NewHandler(Config{Strava: &fakeStrava{}, Publisher: &mocks.RecordingPublisher{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.verify_token=&hub.challenge=abc", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActivityCreate_PublishesUpsert(t *testing.T) {
	start := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	f := &fakeStrava{
		owners:  map[string]string{"4242": "u1"},
		workout: &types.NormalizedWorkout{ExternalID: "strava_99", ActivityType: types.ActivityRunning, StartTime: start, EndTime: start.Add(time.Hour)},
	}
	pub := &mocks.RecordingPublisher{}

	rec := post(t, newTestHandler(f, pub), `{"object_type":"activity","object_id":99,"aspect_type":"create","owner_id":4242,"subscription_id":1,"event_time":1717225200}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1/99"}, f.fetched)
	require.Len(t, pub.Events, 1)
	assert.Equal(t, shared.TopicWorkoutsNormalized, pub.Topics[0])
	assert.Equal(t, shared.EventTypeWorkoutUpserted, pub.Events[0].Type())
	assert.Equal(t, "strava_99", pub.Events[0].Subject())

	var we types.WorkoutEvent
	require.NoError(t, pub.Events[0].DataAs(&we))
	assert.Equal(t, "u1", we.UserID)
	assert.Equal(t, types.WorkoutUpserted, we.Action)
	require.NotNil(t, we.Workout)
	assert.Equal(t, types.ActivityRunning, we.Workout.ActivityType)
}

func TestActivityUpdate_FetchFailureStillAnswers200(t *testing.T) {
	f := &fakeStrava{owners: map[string]string{"4242": "u1"}, fail: true}
	pub := &mocks.RecordingPublisher{}

	rec := post(t, newTestHandler(f, pub), `{"object_type":"activity","object_id":99,"aspect_type":"update","owner_id":4242}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.fetched, 1)
	assert.Empty(t, pub.Events)
}

func TestActivityDelete_PublishesDelete(t *testing.T) {
	f := &fakeStrava{owners: map[string]string{"4242": "u1"}}
	pub := &mocks.RecordingPublisher{}

	rec := post(t, newTestHandler(f, pub), `{"object_type":"activity","object_id":99,"aspect_type":"delete","owner_id":4242}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.fetched)
	require.Len(t, pub.Events, 1)
	assert.Equal(t, shared.EventTypeWorkoutDeleted, pub.Events[0].Type())

	var we types.WorkoutEvent
	require.NoError(t, pub.Events[0].DataAs(&we))
	assert.Equal(t, "strava_99", we.ExternalID)
	assert.Equal(t, types.WorkoutDeleted, we.Action)
	assert.Nil(t, we.Workout)
}

func TestAthleteDeauthorized_Disconnects(t *testing.T) {
	f := &fakeStrava{owners: map[string]string{"4242": "u1"}}

	rec := post(t, newTestHandler(f, &mocks.RecordingPublisher{}), `{"object_type":"athlete","object_id":4242,"aspect_type":"update","owner_id":4242,"updates":{"authorized":"false"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, f.disconnected)
}

func TestAthleteOtherUpdate_Ignored(t *testing.T) {
	f := &fakeStrava{owners: map[string]string{"4242": "u1"}}

	post(t, newTestHandler(f, &mocks.RecordingPublisher{}), `{"object_type":"athlete","object_id":4242,"aspect_type":"update","owner_id":4242,"updates":{"title":"x"}}`)

	assert.Empty(t, f.disconnected)
}

func TestUnknownAthlete_Ignored(t *testing.T) {
	f := &fakeStrava{}
	pub := &mocks.RecordingPublisher{}

	rec := post(t, newTestHandler(f, pub), `{"object_type":"activity","object_id":99,"aspect_type":"create","owner_id":1}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.fetched)
	assert.Empty(t, pub.Events)
}

func TestMalformedEvent(t *testing.T) {
	rec := post(t, newTestHandler(&fakeStrava{}, &mocks.RecordingPublisher{}), `{"object_id":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcess_PublishError(t *testing.T) {
	f := &fakeStrava{owners: map[string]string{"4242": "u1"}}
	pub := &mocks.MockPublisher{
		PublishCloudEventFunc: func(context.Context, string, event.Event) (string, error) {
			return "", errors.New("pubsub down")
		},
	}

	err := newTestHandler(f, pub).Process(context.Background(), Event{ObjectType: ObjectActivity, AspectType: AspectDelete, ObjectID: 99, OwnerID: 4242})

	assert.ErrorContains(t, err, "pubsub down")
}
