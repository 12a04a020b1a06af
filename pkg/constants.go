package shared

const (
	ProjectID = "fitglue-project" // Can be overridden by env var in main if needed

	TopicWorkoutsNormalized = "topic-workouts-normalized"
	TopicWorkoutSync        = "topic-workout-sync"
	TopicIntegrationHealth  = "topic-integration-health"

	CollectionCredentials = "integration_credentials"

	EventTypeWorkoutUpserted = "com.fitglue.workout.upserted"
	EventTypeWorkoutDeleted  = "com.fitglue.workout.deleted"
	EventTypeReconciled      = "com.fitglue.integration.reconciled"
	EventTypeSyncRequested   = "com.fitglue.workout.sync.requested"
)
