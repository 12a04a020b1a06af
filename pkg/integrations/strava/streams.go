package strava

import (
	"github.com/fitglue/workoutsync/pkg/domain/timeline"
)

// streamKeys are requested in one call; Strava aligns them all on the time stream.
const streamKeys = "time,heartrate,altitude,velocity_smooth,distance,cadence"

// toStreams keys every stream by the time stream's elapsed seconds.
// Strava reports running cadence per leg, so it is doubled for runs.
func toStreams(set streamSet, running bool) (timeline.Streams, []float64) {
	var out timeline.Streams
	offsets := set["time"].Data
	if len(offsets) == 0 {
		return out, nil
	}

	series := func(key string, scale float64) timeline.Series {
		data := set[key].Data
		if len(data) == 0 {
			return nil
		}
		s := make(timeline.Series, len(data))
		for i, v := range data {
			if i >= len(offsets) {
				break
			}
			s[int(offsets[i])] = v * scale
		}
		return s
	}

	cadenceScale := 1.0
	if running {
		cadenceScale = 2
	}
	out.HeartRate = series("heartrate", 1)
	out.Altitude = series("altitude", 1)
	out.Velocity = series("velocity_smooth", 1)
	out.Distance = series("distance", 1)
	out.Cadence = series("cadence", cadenceScale)

	return out, set["altitude"].Data
}
