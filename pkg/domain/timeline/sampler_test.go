package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC)

func secondly(n int, value func(i int) float64) Series {
	s := make(Series, n)
	for i := 0; i < n; i++ {
		s[i] = value(i)
	}
	return s
}

func TestSample_Bounds(t *testing.T) {
	for _, n := range []int{1, 2, 499, 500, 501, 999, 1000, 1001, 3601, 25000} {
		streams := Streams{HeartRate: secondly(n, func(i int) float64 { return 120 + float64(i%40) })}

		points := Sample(start, streams, Options{})

		want := n
		if want > MaxPoints {
			want = MaxPoints
		}
		require.Len(t, points, want, "n=%d", n)
		assert.Equal(t, start, points[0].Timestamp, "n=%d", n)
		assert.Equal(t, start.Add(time.Duration(n-1)*time.Second), points[len(points)-1].Timestamp, "n=%d", n)
		for i := 1; i < len(points); i++ {
			require.True(t, points[i].Timestamp.After(points[i-1].Timestamp), "n=%d i=%d", n, i)
		}
	}
}

func TestSample_Empty(t *testing.T) {
	assert.Nil(t, Sample(start, Streams{}, Options{}))
	assert.Nil(t, Sample(start, Streams{HeartRate: Series{}}, Options{}))
}

func TestSample_UnionOfIrregularStreams(t *testing.T) {
	streams := Streams{
		HeartRate: Series{0: 100, 1: 101, 2: 102, 3: 103},
		Altitude:  Series{0: 10.04, 5: 12},
		Distance:  Series{5: 1234.5678},
	}

	points := Sample(start, streams, Options{})

	require.Len(t, points, 5)
	last := points[4]
	assert.Equal(t, start.Add(5*time.Second), last.Timestamp)
	assert.Nil(t, last.HeartRate)
	require.NotNil(t, last.Altitude)
	assert.Equal(t, 12.0, *last.Altitude)
	require.NotNil(t, last.Distance)
	assert.Equal(t, 1.235, *last.Distance)

	first := points[0]
	require.NotNil(t, first.HeartRate)
	assert.Equal(t, 100, *first.HeartRate)
	assert.Equal(t, 10.0, *first.Altitude)
	assert.Nil(t, first.Distance)
}

func TestSample_Pace(t *testing.T) {
	streams := Streams{Velocity: Series{0: 3.333, 1: 0}}

	points := Sample(start, streams, Options{WithPace: true})
	require.Len(t, points, 2)
	require.NotNil(t, points[0].Pace)
	assert.Equal(t, "5:00", *points[0].Pace)
	assert.Nil(t, points[1].Pace)

	points = Sample(start, streams, Options{WithPace: false})
	assert.Nil(t, points[0].Pace)
}

func TestSample_Deterministic(t *testing.T) {
	streams := Streams{
		HeartRate: secondly(7200, func(i int) float64 { return float64(i % 180) }),
		Cadence:   secondly(7200, func(i int) float64 { return 85 }),
	}
	assert.Equal(t, Sample(start, streams, Options{}), Sample(start, streams, Options{}))
}

func TestPickIndices(t *testing.T) {
	idx := pickIndices(501, 500)
	require.Len(t, idx, 500)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, 500, idx[499])
	for i := 1; i < len(idx); i++ {
		assert.Greater(t, idx[i], idx[i-1])
	}
}
