package activity

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/fitglue/workoutsync/pkg/types"
)

// Substring rules are evaluated in order; the first match wins.
var sportRules = []struct {
	needle string
	typ    types.ActivityType
}{
	{"run", types.ActivityRunning},
	{"ride", types.ActivityCycling},
	{"cycle", types.ActivityCycling},
	{"cycling", types.ActivityCycling},
	{"bike", types.ActivityCycling},
	{"biking", types.ActivityCycling},
	{"swim", types.ActivitySwimming},
	{"walk", types.ActivityWalking},
	{"hike", types.ActivityHiking},
}

var canonicalTypes = map[string]types.ActivityType{
	string(types.ActivityRunning):  types.ActivityRunning,
	string(types.ActivityWalking):  types.ActivityWalking,
	string(types.ActivityHiking):   types.ActivityHiking,
	string(types.ActivityCycling):  types.ActivityCycling,
	string(types.ActivitySwimming): types.ActivitySwimming,
	string(types.ActivityOther):    types.ActivityOther,
}

// ParseActivityType maps a vendor sport code such as "TrailRun", "ROAD_BIKING" or
// "Open Water Swim" onto the canonical taxonomy. Codes are compared case-insensitively.
// Anything unrecognized, including the empty string, is running.
func ParseActivityType(code string) types.ActivityType {
	folded := cases.Fold().String(strings.TrimSpace(code))
	if t, ok := canonicalTypes[folded]; ok {
		return t
	}
	for _, rule := range sportRules {
		if strings.Contains(folded, rule.needle) {
			return rule.typ
		}
	}
	return types.ActivityRunning
}
