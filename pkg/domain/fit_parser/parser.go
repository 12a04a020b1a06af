package fit_parser

import (
	"bytes"
	"fmt"
	"time"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/fitglue/workoutsync/pkg/domain/activity"
	"github.com/fitglue/workoutsync/pkg/domain/timeline"
	"github.com/fitglue/workoutsync/pkg/types"
)

// FIT message order: FileId -> DeviceInfo -> Records -> Lap -> Session -> Activity
// Records come BEFORE the Session summary, so everything is collected first.

// Activity is what a FIT activity file contributes to a workout.
type Activity struct {
	Sport     string
	StartTime time.Time

	ElapsedSeconds float64
	TimerSeconds   float64
	DistanceMeters float64
	AvgHeartRate   float64
	MaxHeartRate   float64
	TotalAscent    *float64

	// Altitudes in record order, for deriving elevation gain when TotalAscent is absent.
	Altitudes []float64
	Streams   timeline.Streams
}

type record struct {
	ts        time.Time
	heartRate *float64
	cadence   *float64
	speed     *float64
	altitude  *float64
	distance  *float64
}

// ParseFitFile decodes the session summary and per-second records of a FIT activity file.
// Multiple sessions are summed into one.
func ParseFitFile(data []byte) (*Activity, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty FIT data")
	}

	fitDec := decoder.New(bytes.NewReader(data))

	var records []record
	act := &Activity{}
	var sessionStart time.Time

	for fitDec.Next() {
		fitData, err := fitDec.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIT file: %w", err)
		}

		for i := range fitData.Messages {
			msg := &fitData.Messages[i]
			switch msg.Num {
			case typedef.MesgNumRecord:
				if r, ok := parseRecord(msg); ok {
					records = append(records, r)
				}

			case typedef.MesgNumSession:
				s := mesgdef.NewSession(msg)
				addSession(act, s)
				if sessionStart.IsZero() && !s.StartTime.IsZero() {
					sessionStart = s.StartTime.UTC()
				}
			}
		}
	}

	if len(records) == 0 && sessionStart.IsZero() {
		return nil, fmt.Errorf("no records or sessions found in FIT file")
	}

	origin := sessionStart
	if len(records) > 0 && (origin.IsZero() || records[0].ts.Before(origin)) {
		origin = records[0].ts
	}
	act.StartTime = origin
	act.Streams = buildStreams(origin, records)
	for _, r := range records {
		if r.altitude != nil {
			act.Altitudes = append(act.Altitudes, *r.altitude)
		}
	}

	return act, nil
}

// Raw adapts the decoded file to the normalizer's input.
func (a *Activity) Raw(provider types.Provider, vendorID string) activity.Raw {
	return activity.Raw{
		Provider:       provider,
		VendorID:       vendorID,
		SportCode:      a.Sport,
		Start:          a.StartTime,
		ElapsedSeconds: a.ElapsedSeconds,
		MovingSeconds:  a.TimerSeconds,
		DistanceMeters: a.DistanceMeters,
		AvgHeartRate:   a.AvgHeartRate,
		MaxHeartRate:   a.MaxHeartRate,
		ElevationGain:  a.TotalAscent,
		Altitudes:      a.Altitudes,
		Streams:        a.Streams,
	}
}

func addSession(act *Activity, s *mesgdef.Session) {
	if act.Sport == "" && s.Sport != typedef.SportInvalid {
		act.Sport = s.Sport.String()
	}
	if s.TotalElapsedTime != 0xFFFFFFFF {
		act.ElapsedSeconds += float64(s.TotalElapsedTime) / 1000
	}
	if s.TotalTimerTime != 0xFFFFFFFF {
		act.TimerSeconds += float64(s.TotalTimerTime) / 1000
	}
	if s.TotalDistance != 0xFFFFFFFF {
		act.DistanceMeters += float64(s.TotalDistance) / 100
	}
	if s.AvgHeartRate != 0xFF && act.AvgHeartRate == 0 {
		act.AvgHeartRate = float64(s.AvgHeartRate)
	}
	if s.MaxHeartRate != 0xFF && float64(s.MaxHeartRate) > act.MaxHeartRate {
		act.MaxHeartRate = float64(s.MaxHeartRate)
	}
	if s.TotalAscent != 0xFFFF {
		ascent := float64(s.TotalAscent)
		if act.TotalAscent != nil {
			ascent += *act.TotalAscent
		}
		act.TotalAscent = &ascent
	}
}

// parseRecord extracts record data from a FIT message
func parseRecord(msg *proto.Message) (record, bool) {
	recordMsg := mesgdef.NewRecord(msg)

	if recordMsg.Timestamp.IsZero() {
		return record{}, false
	}
	r := record{ts: recordMsg.Timestamp.UTC()}

	if recordMsg.HeartRate != 0xFF { // 0xFF is invalid
		r.heartRate = ptr(float64(recordMsg.HeartRate))
	}

	if recordMsg.Cadence != 0xFF {
		r.cadence = ptr(float64(recordMsg.Cadence))
	}

	// Speed (FIT uses mm/s, we want m/s)
	switch {
	case recordMsg.Speed != 0xFFFF:
		r.speed = ptr(float64(recordMsg.Speed) / 1000)
	case recordMsg.EnhancedSpeed != 0xFFFFFFFF:
		r.speed = ptr(float64(recordMsg.EnhancedSpeed) / 1000)
	}

	// Altitude (FIT uses 5 * (altitude + 500) scale)
	switch {
	case recordMsg.Altitude != 0xFFFF:
		r.altitude = ptr(float64(recordMsg.Altitude)/5 - 500)
	case recordMsg.EnhancedAltitude != 0xFFFFFFFF:
		r.altitude = ptr(float64(recordMsg.EnhancedAltitude)/5 - 500)
	}

	// Distance (FIT uses centimeters)
	if recordMsg.Distance != 0xFFFFFFFF {
		r.distance = ptr(float64(recordMsg.Distance) / 100)
	}

	return r, true
}

func buildStreams(origin time.Time, records []record) timeline.Streams {
	var s timeline.Streams
	put := func(series *timeline.Series, off int, v *float64) {
		if v == nil {
			return
		}
		if *series == nil {
			*series = make(timeline.Series)
		}
		(*series)[off] = *v
	}
	for _, r := range records {
		off := int(r.ts.Sub(origin) / time.Second)
		put(&s.HeartRate, off, r.heartRate)
		put(&s.Cadence, off, r.cadence)
		put(&s.Velocity, off, r.speed)
		put(&s.Altitude, off, r.altitude)
		put(&s.Distance, off, r.distance)
	}
	return s
}

func ptr(v float64) *float64 { return &v }
