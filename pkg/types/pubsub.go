package types

// PubSubMessage is the payload of a Pub/Sub event via Cloud Event.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
}

// WorkoutAction describes what happened to a workout upstream.
type WorkoutAction string

const (
	WorkoutUpserted WorkoutAction = "upsert"
	WorkoutDeleted  WorkoutAction = "delete"
)

// WorkoutEvent is published for the persistence layer, which deduplicates on ExternalID.
type WorkoutEvent struct {
	UserID     string             `json:"user_id"`
	Provider   Provider           `json:"provider"`
	Action     WorkoutAction      `json:"action"`
	ExternalID string             `json:"external_id"`
	Workout    *NormalizedWorkout `json:"workout,omitempty"`
}

// SyncRequest triggers a workout fetch for one user and provider.
type SyncRequest struct {
	UserID    string   `json:"user_id"`
	Provider  Provider `json:"provider"`
	StartDate string   `json:"start_date"` // YYYY-MM-DD or RFC 3339
	EndDate   string   `json:"end_date"`
}

// ReconcileRequest triggers the integration health check. An empty Provider means all.
type ReconcileRequest struct {
	Provider Provider `json:"provider,omitempty"`
}
