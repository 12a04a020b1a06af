package file_generators

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/fitglue/workoutsync/pkg/types"
)

var sports = map[types.ActivityType]typedef.Sport{
	types.ActivityRunning:  typedef.SportRunning,
	types.ActivityWalking:  typedef.SportWalking,
	types.ActivityHiking:   typedef.SportHiking,
	types.ActivityCycling:  typedef.SportCycling,
	types.ActivitySwimming: typedef.SportSwimming,
	types.ActivityOther:    typedef.SportGeneric,
}

// GenerateFitFile exports a normalized workout as a FIT activity file.
// Timeline points become Record messages; the summary becomes a single Session.
func GenerateFitFile(w types.NormalizedWorkout) ([]byte, error) {
	if w.StartTime.IsZero() {
		return nil, fmt.Errorf("workout has no start time")
	}
	startTime := w.StartTime

	fit := &proto.FIT{
		Messages: []proto.Message{},
	}

	// 1. FileId message
	fileId := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(startTime)
	fit.Messages = append(fit.Messages, fileId.ToMesg(nil))

	// 2. Records
	for _, p := range w.Timeline {
		rec := mesgdef.NewRecord(nil).SetTimestamp(p.Timestamp)
		if p.HeartRate != nil {
			rec.SetHeartRate(clampUint8(*p.HeartRate))
		}
		if p.Cadence != nil {
			rec.SetCadence(clampUint8(*p.Cadence))
		}
		if p.Altitude != nil {
			rec.SetAltitude(uint16(math.Round((*p.Altitude + 500) * 5)))
		}
		if p.Distance != nil {
			rec.SetDistance(uint32(math.Round(*p.Distance * 100000)))
		}
		if p.Pace != nil {
			if mps, ok := speedFromPace(*p.Pace); ok {
				rec.SetSpeed(uint16(math.Round(mps * 1000)))
			}
		}
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	// 3. Session message
	sport, ok := sports[w.ActivityType]
	if !ok {
		sport = typedef.SportGeneric
	}
	endTime := w.EndTime
	if endTime.Before(startTime) {
		endTime = startTime
	}
	sessionMsg := mesgdef.NewSession(nil).
		SetTimestamp(endTime).
		SetSport(sport).
		SetStartTime(startTime).
		SetTotalElapsedTime(uint32(endTime.Sub(startTime).Milliseconds()))
	if w.DurationSeconds != nil {
		sessionMsg.SetTotalTimerTime(uint32(*w.DurationSeconds * 1000))
	}
	if w.DistanceKm != nil {
		sessionMsg.SetTotalDistance(uint32(math.Round(*w.DistanceKm * 100000)))
	}
	if w.AvgHeartRate != nil {
		sessionMsg.SetAvgHeartRate(clampUint8(*w.AvgHeartRate))
	}
	if w.MaxHeartRate != nil {
		sessionMsg.SetMaxHeartRate(clampUint8(*w.MaxHeartRate))
	}
	if w.ElevationGain != nil {
		sessionMsg.SetTotalAscent(uint16(*w.ElevationGain))
	}
	fit.Messages = append(fit.Messages, sessionMsg.ToMesg(nil))

	// 4. Activity message
	activityMsg := mesgdef.NewActivity(nil).
		SetTimestamp(endTime).
		SetType(typedef.ActivityManual).
		SetNumSessions(1)
	fit.Messages = append(fit.Messages, activityMsg.ToMesg(nil))

	var buf bytes.Buffer
	enc := encoder.New(&buf)

	if err := enc.Encode(fit); err != nil {
		return nil, fmt.Errorf("failed to encode FIT file: %w", err)
	}

	return buf.Bytes(), nil
}

// speedFromPace turns "M:SS" per kilometer back into m/s.
func speedFromPace(pace string) (float64, bool) {
	min, sec, ok := strings.Cut(pace, ":")
	if !ok {
		return 0, false
	}
	m, err1 := strconv.Atoi(min)
	s, err2 := strconv.Atoi(sec)
	if err1 != nil || err2 != nil || m*60+s == 0 {
		return 0, false
	}
	return 1000 / float64(m*60+s), true
}

func clampUint8(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 254: // 0xFF is the invalid marker
		return 254
	}
	return uint8(v)
}
