// Package units converts vendor measurements into the canonical units used by workouts.
package units

import (
	"fmt"
	"math"
)

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// MetersToKm converts meters to kilometers with 3-decimal precision.
func MetersToKm(m float64) float64 {
	return Round(m/1000, 3)
}

// FormatPace renders seconds per kilometer as "M:SS".
// Seconds are rounded first so the result never shows 60 seconds.
func FormatPace(secondsPerKm float64) string {
	total := int(math.Round(secondsPerKm))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// PaceFromSpeed converts an average speed in m/s to "M:SS" per kilometer.
func PaceFromSpeed(mps float64) (string, bool) {
	if mps <= 0 || math.IsNaN(mps) || math.IsInf(mps, 0) {
		return "", false
	}
	return FormatPace(1000 / mps), true
}

// PaceFromDistance derives "M:SS" per kilometer from a distance and a duration in minutes.
func PaceFromDistance(km, minutes float64) (string, bool) {
	if km <= 0 || minutes <= 0 {
		return "", false
	}
	return FormatPace(minutes * 60 / km), true
}

// KmhToMps converts km/h to m/s.
func KmhToMps(kmh float64) float64 {
	return kmh / 3.6
}
