package types

import "time"

// ActivityType is the canonical activity taxonomy shared by all providers.
type ActivityType string

const (
	ActivityRunning  ActivityType = "running"
	ActivityWalking  ActivityType = "walking"
	ActivityHiking   ActivityType = "hiking"
	ActivityCycling  ActivityType = "cycling"
	ActivitySwimming ActivityType = "swimming"
	ActivityOther    ActivityType = "other"
)

// HasPace reports whether pace (minutes per km) is meaningful for the type.
func (t ActivityType) HasPace() bool {
	switch t {
	case ActivityRunning, ActivityWalking, ActivityHiking:
		return true
	}
	return false
}

// NormalizedWorkout is the canonical workout produced by every provider adapter.
// StartTime and EndTime hold local wall-clock values in the UTC location.
type NormalizedWorkout struct {
	ActivityType    ActivityType    `json:"activity_type"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	DurationMinutes *int            `json:"duration_minutes"`
	DurationSeconds *int            `json:"duration_seconds"`
	DistanceKm      *float64        `json:"distance_km"`
	AvgPace         *string         `json:"avg_pace"`
	AvgHeartRate    *int            `json:"avg_heart_rate"`
	MaxHeartRate    *int            `json:"max_heart_rate"`
	ElevationGain   *int            `json:"elevation_gain"`
	ExternalID      string          `json:"external_id"`
	Timeline        []TimelinePoint `json:"timeline"`
}

// TimelinePoint is one downsampled sample of a workout's time series.
type TimelinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	HeartRate *int      `json:"heart_rate,omitempty"`
	Pace      *string   `json:"pace,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Distance  *float64  `json:"distance,omitempty"`
	Cadence   *int      `json:"cadence,omitempty"`
}
