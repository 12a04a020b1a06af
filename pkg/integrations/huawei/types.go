package huawei

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type activityRecordsResponse struct {
	ActivityRecord []json.RawMessage `json:"activityRecord"`
	NextPageToken  string            `json:"nextPageToken"`
}

type activityRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	StartTime       int64           `json:"startTime"`
	EndTime         int64           `json:"endTime"`
	ActiveTime      int64           `json:"activeTime"`
	ActivityType    json.RawMessage `json:"activityType"`
	TimeZone        string          `json:"timeZone"`
	ActivitySummary struct {
		DataSummary []samplePoint `json:"dataSummary"`
	} `json:"activitySummary"`
}

type samplePoint struct {
	StartTime    int64        `json:"startTime"`
	EndTime      int64        `json:"endTime"`
	DataTypeName string       `json:"dataTypeName"`
	Value        []fieldValue `json:"value"`
}

type fieldValue struct {
	FieldName    string   `json:"fieldName"`
	FloatValue   *float64 `json:"floatValue"`
	IntegerValue *int64   `json:"integerValue"`
}

func (v fieldValue) number() (float64, bool) {
	switch {
	case v.FloatValue != nil:
		return *v.FloatValue, true
	case v.IntegerValue != nil:
		return float64(*v.IntegerValue), true
	}
	return 0, false
}

func (p samplePoint) field(name string) (float64, bool) {
	for _, v := range p.Value {
		if strings.EqualFold(v.FieldName, name) {
			return v.number()
		}
	}
	return 0, false
}

type polymerizeRequest struct {
	PolymerizeWith []dataType `json:"polymerizeWith"`
	StartTime      int64      `json:"startTime"`
	EndTime        int64      `json:"endTime"`
}

type dataType struct {
	DataTypeName string `json:"dataTypeName"`
}

type polymerizeResponse struct {
	Group []struct {
		SampleSet []struct {
			SamplePoints []samplePoint `json:"samplePoints"`
		} `json:"sampleSet"`
	} `json:"group"`
}

type userInfo struct {
	OpenID      string `json:"openID"`
	DisplayName string `json:"displayName"`
}

// epoch converts a Health Kit timestamp. Records use milliseconds and sample
// points use nanoseconds.
func epoch(v int64) time.Time {
	if v > 1e15 {
		return time.Unix(0, v).UTC()
	}
	return time.UnixMilli(v).UTC()
}

// sportCodes maps Health Kit's numeric activity types to names the normalizer understands.
var sportCodes = map[int]string{
	1:  "biking",
	7:  "walking",
	8:  "running",
	35: "hiking",
	56: "running",
	57: "running",
	58: "running",
	82: "swimming",
	83: "swimming",
	84: "swimming",
}

// sportCode accepts both the numeric and the string form of activityType.
func sportCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return sportCodes[n]
		}
		return s
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return sportCodes[n]
	}
	return ""
}

// wallClock shifts t into the record's "+0800" style zone.
func wallClock(t time.Time, zone string) time.Time {
	if zone == "" {
		return t
	}
	z, err := time.Parse("-0700", zone)
	if err != nil {
		return t
	}
	_, offset := z.Zone()
	return t.In(time.FixedZone(zone, offset))
}
