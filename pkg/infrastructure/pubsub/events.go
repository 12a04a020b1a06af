package pubsub

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/types"
)

// NewCloudEvent creates a standardized CloudEvent v1.0 with a fresh id.
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion("1.0")
	e.SetID(uuid.NewString())
	e.SetType(eventType)
	e.SetSource(source)
	e.SetTime(time.Now().UTC())

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// NewWorkoutEvent wraps a workout change. The subject is the external id so
// subscribers can deduplicate without decoding the payload.
func NewWorkoutEvent(source string, we types.WorkoutEvent) (cloudevents.Event, error) {
	eventType := shared.EventTypeWorkoutUpserted
	if we.Action == types.WorkoutDeleted {
		eventType = shared.EventTypeWorkoutDeleted
	}
	if we.ExternalID == "" {
		return cloudevents.Event{}, fmt.Errorf("workout event for user %s has no external id", we.UserID)
	}
	e, err := NewCloudEvent(source, eventType, we)
	if err != nil {
		return e, err
	}
	e.SetSubject(we.ExternalID)
	e.SetExtension("provider", we.Provider.String())
	return e, nil
}
