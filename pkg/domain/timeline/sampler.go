// Package timeline compresses irregular workout streams into a bounded chartable series.
package timeline

import (
	"math"
	"sort"
	"time"

	"github.com/fitglue/workoutsync/pkg/domain/units"
	"github.com/fitglue/workoutsync/pkg/types"
)

// MaxPoints bounds the length of every sampled timeline.
const MaxPoints = 500

// Series maps elapsed seconds from the workout start to a sample value.
type Series map[int]float64

// Streams holds the parallel streams of one workout.
// Velocity is in m/s and Distance in meters; streams may use different sampling rates.
type Streams struct {
	HeartRate Series
	Altitude  Series
	Velocity  Series
	Distance  Series
	Cadence   Series
}

// Options controls how sample values are rendered.
type Options struct {
	// WithPace renders velocity as a "M:SS" pace. Off for types where pace is meaningless.
	WithPace bool
}

func (s Streams) all() []Series {
	return []Series{s.HeartRate, s.Altitude, s.Velocity, s.Distance, s.Cadence}
}

// Empty reports whether no stream has any value.
func (s Streams) Empty() bool {
	for _, series := range s.all() {
		if len(series) > 0 {
			return false
		}
	}
	return true
}

// Offsets returns the sorted union of offsets that carry at least one value.
func (s Streams) Offsets() []int {
	seen := make(map[int]struct{})
	for _, series := range s.all() {
		for off := range series {
			seen[off] = struct{}{}
		}
	}
	offsets := make([]int, 0, len(seen))
	for off := range seen {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	return offsets
}

// Sample downsamples the streams to at most MaxPoints points. When there are more
// than MaxPoints offsets exactly MaxPoints points are returned, evenly spread, with
// the first and last offsets always kept. Returns nil when there is no data.
func Sample(start time.Time, s Streams, opts Options) []types.TimelinePoint {
	offsets := s.Offsets()
	if len(offsets) == 0 {
		return nil
	}

	picked := pickIndices(len(offsets), MaxPoints)
	points := make([]types.TimelinePoint, 0, len(picked))
	for _, i := range picked {
		points = append(points, s.pointAt(start, offsets[i], opts))
	}
	return points
}

// pickIndices selects evenly spaced indices in [0, n). With n <= max every index is kept;
// otherwise exactly max indices are returned, starting at 0 and ending at n-1.
func pickIndices(n, max int) []int {
	if n <= max {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, max)
	for i := range idx {
		idx[i] = int(int64(i) * int64(n-1) / int64(max-1))
	}
	return idx
}

func (s Streams) pointAt(start time.Time, off int, opts Options) types.TimelinePoint {
	p := types.TimelinePoint{Timestamp: start.Add(time.Duration(off) * time.Second)}

	if v, ok := s.HeartRate[off]; ok && v > 0 {
		hr := int(math.Round(v))
		p.HeartRate = &hr
	}
	if v, ok := s.Altitude[off]; ok {
		alt := units.Round(v, 1)
		p.Altitude = &alt
	}
	if v, ok := s.Distance[off]; ok {
		km := units.MetersToKm(v)
		p.Distance = &km
	}
	if v, ok := s.Cadence[off]; ok && v > 0 {
		cad := int(math.Round(v))
		p.Cadence = &cad
	}
	if opts.WithPace {
		if v, ok := s.Velocity[off]; ok {
			if pace, ok := units.PaceFromSpeed(v); ok {
				p.Pace = &pace
			}
		}
	}
	return p
}
