package strava

import (
	"time"
)

// rawActivity is the subset of Strava's SummaryActivity and DetailedActivity we read.
type rawActivity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	ElapsedTime        float64   `json:"elapsed_time"`
	MovingTime         float64   `json:"moving_time"`
	Distance           float64   `json:"distance"`
	AverageSpeed       float64   `json:"average_speed"`
	AverageHeartrate   float64   `json:"average_heartrate"`
	MaxHeartrate       float64   `json:"max_heartrate"`
	TotalElevationGain *float64  `json:"total_elevation_gain"`
	HasHeartrate       bool      `json:"has_heartrate"`
}

// sport prefers the newer sport_type over the legacy type.
func (a *rawActivity) sport() string {
	if a.SportType != "" {
		return a.SportType
	}
	return a.Type
}

// fillFrom backfills fields the list response left empty.
func (a *rawActivity) fillFrom(d *rawActivity) {
	if a.AverageHeartrate == 0 {
		a.AverageHeartrate = d.AverageHeartrate
	}
	if a.MaxHeartrate == 0 {
		a.MaxHeartrate = d.MaxHeartrate
	}
	if a.AverageSpeed == 0 {
		a.AverageSpeed = d.AverageSpeed
	}
	if a.TotalElevationGain == nil {
		a.TotalElevationGain = d.TotalElevationGain
	}
	if a.Distance == 0 {
		a.Distance = d.Distance
	}
	if a.MovingTime == 0 {
		a.MovingTime = d.MovingTime
	}
	if a.ElapsedTime == 0 {
		a.ElapsedTime = d.ElapsedTime
	}
}

// stream is one entry of a key_by_type streams response.
type stream struct {
	Data         []float64 `json:"data"`
	SeriesType   string    `json:"series_type"`
	OriginalSize int       `json:"original_size"`
	Resolution   string    `json:"resolution"`
}

type streamSet map[string]stream

type athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}
