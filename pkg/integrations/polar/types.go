package polar

import (
	"strconv"
	"strings"
	"time"

	"github.com/fitglue/workoutsync/pkg/domain/timeline"
	"github.com/fitglue/workoutsync/pkg/domain/units"
)

// Sample types as reported by AccessLink.
const (
	sampleHeartRate = "0"
	sampleSpeed     = "1" // km/h
	sampleCadence   = "2"
	sampleAltitude  = "3"
	sampleDistance  = "10" // meters
)

type exercise struct {
	ID                string  `json:"id"`
	StartTime         string  `json:"start_time"`
	StartUTCOffset    int     `json:"start_time_utc_offset"`
	Duration          string  `json:"duration"`
	Distance          float64 `json:"distance"`
	Sport             string  `json:"sport"`
	DetailedSportInfo string  `json:"detailed_sport_info"`
	HasRoute          bool    `json:"has_route"`
	HeartRate         struct {
		Average float64 `json:"average"`
		Maximum float64 `json:"maximum"`
	} `json:"heart_rate"`
	Samples []sample     `json:"samples"`
	Route   []routePoint `json:"route"`
}

type sample struct {
	RecordingRate int    `json:"recording_rate"`
	SampleType    string `json:"sample_type"`
	Data          string `json:"data"`
}

type routePoint struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Time      string   `json:"time"`
	Altitude  *float64 `json:"altitude"`
}

type registerRequest struct {
	MemberID string `json:"member-id"`
}

func (e *exercise) sport() string {
	if e.DetailedSportInfo != "" {
		return e.DetailedSportInfo
	}
	return e.Sport
}

// start parses the local start time. AccessLink omits the zone.
func (e *exercise) start() (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.000", time.RFC3339} {
		if t, err := time.Parse(layout, e.StartTime); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: "2006-01-02T15:04:05", Value: e.StartTime}
}

// streams expands each sample series using its own recording rate.
func (e *exercise) streams() (timeline.Streams, []float64) {
	var s timeline.Streams
	var altitudes []float64
	for _, smp := range e.Samples {
		rate := smp.RecordingRate
		if rate <= 0 {
			rate = 1
		}
		var target *timeline.Series
		scale := func(v float64) float64 { return v }
		switch smp.SampleType {
		case sampleHeartRate:
			target = &s.HeartRate
		case sampleSpeed:
			target = &s.Velocity
			scale = units.KmhToMps
		case sampleCadence:
			target = &s.Cadence
		case sampleAltitude:
			target = &s.Altitude
		case sampleDistance:
			target = &s.Distance
		default:
			continue
		}
		for i, field := range strings.Split(smp.Data, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				continue
			}
			if *target == nil {
				*target = make(timeline.Series)
			}
			(*target)[i*rate] = scale(v)
			if smp.SampleType == sampleAltitude {
				altitudes = append(altitudes, v)
			}
		}
	}
	return s, altitudes
}

// routeAltitudes is the elevation fallback when no altitude samples were recorded.
func (e *exercise) routeAltitudes() []float64 {
	var out []float64
	for _, p := range e.Route {
		if p.Altitude != nil {
			out = append(out, *p.Altitude)
		}
	}
	return out
}
