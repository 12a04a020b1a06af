// Package activity converts vendor-specific activity shapes into NormalizedWorkout.
package activity

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fitglue/workoutsync/pkg/domain/timeline"
	"github.com/fitglue/workoutsync/pkg/domain/units"
	"github.com/fitglue/workoutsync/pkg/types"
)

// ErrMissingStart is returned when a vendor activity has no usable start time.
var ErrMissingStart = errors.New("activity has no start time")

// Raw is the vendor-neutral intermediate every adapter decodes into.
// Zero numeric values mean "not reported".
type Raw struct {
	Provider  types.Provider
	VendorID  string
	SportCode string

	// Start carries the activity's local wall clock. Its location is ignored.
	Start time.Time

	ElapsedSeconds float64
	MovingSeconds  float64
	DistanceMeters float64
	AvgSpeedMPS    float64
	AvgHeartRate   float64
	MaxHeartRate   float64

	// ElevationGain is the vendor's own total. When nil, gain is derived from Altitudes.
	ElevationGain *float64
	Altitudes     []float64

	Streams timeline.Streams
}

// Normalize is the single conversion point from a vendor activity to the canonical workout.
func Normalize(raw Raw) (types.NormalizedWorkout, error) {
	if raw.Start.IsZero() {
		return types.NormalizedWorkout{}, fmt.Errorf("%s activity %q: %w", raw.Provider, raw.VendorID, ErrMissingStart)
	}

	typ := ParseActivityType(raw.SportCode)
	start := WallClock(raw.Start)

	w := types.NormalizedWorkout{
		ActivityType: typ,
		StartTime:    start,
		EndTime:      start,
		ExternalID:   ExternalID(raw.Provider, raw.VendorID, start, raw.DistanceMeters),
	}

	duration := raw.MovingSeconds
	if duration <= 0 {
		duration = raw.ElapsedSeconds
	}
	if duration > 0 {
		secs := int(math.Round(duration))
		mins := int(math.Round(duration / 60))
		w.DurationSeconds = &secs
		w.DurationMinutes = &mins
	}

	elapsed := raw.ElapsedSeconds
	if elapsed <= 0 {
		elapsed = duration
	}
	if elapsed > 0 {
		w.EndTime = start.Add(time.Duration(math.Round(elapsed)) * time.Second)
	}

	if raw.DistanceMeters > 0 {
		km := units.MetersToKm(raw.DistanceMeters)
		w.DistanceKm = &km
	}

	if typ.HasPace() {
		w.AvgPace = averagePace(raw.AvgSpeedMPS, raw.DistanceMeters, duration)
	}

	w.AvgHeartRate = positiveInt(raw.AvgHeartRate)
	w.MaxHeartRate = positiveInt(raw.MaxHeartRate)

	if raw.ElevationGain != nil {
		w.ElevationGain = positiveInt(*raw.ElevationGain)
	} else {
		w.ElevationGain = ElevationGain(raw.Altitudes)
	}

	w.Timeline = timeline.Sample(start, raw.Streams, timeline.Options{WithPace: typ.HasPace()})
	return w, nil
}

func averagePace(speed, meters, seconds float64) *string {
	if pace, ok := units.PaceFromSpeed(speed); ok {
		return &pace
	}
	if pace, ok := units.PaceFromDistance(meters/1000, seconds/60); ok {
		return &pace
	}
	return nil
}

// ElevationGain sums the positive differences between consecutive altitudes.
// Returns nil when the sum is not positive.
func ElevationGain(altitudes []float64) *int {
	var gain float64
	for i := 1; i < len(altitudes); i++ {
		if d := altitudes[i] - altitudes[i-1]; d > 0 {
			gain += d
		}
	}
	return positiveInt(gain)
}

// ExternalID builds the deduplication key "{provider}_{vendorID}". Without a vendor id
// it falls back to "{provider}_{startUnix}_{meters}".
func ExternalID(provider types.Provider, vendorID string, start time.Time, meters float64) string {
	if vendorID != "" {
		return fmt.Sprintf("%s_%s", provider, vendorID)
	}
	return fmt.Sprintf("%s_%d_%d", provider, start.Unix(), int64(math.Round(meters)))
}

// WallClock keeps t's calendar fields in the UTC location with second precision.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func positiveInt(v float64) *int {
	n := int(math.Round(v))
	if n <= 0 {
		return nil
	}
	return &n
}
