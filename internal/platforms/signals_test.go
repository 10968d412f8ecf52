package platforms

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulprint/soulprint-sync/internal/model"
)

func TestDiversityScoreSingleCategory(t *testing.T) {
	assert.Equal(t, 0.0, DiversityScore(map[string]int{"rock": 12}))
	assert.Equal(t, 0.0, DiversityScore(map[string]int{}))
	assert.Equal(t, 0.0, DiversityScore(nil))
}

func TestDiversityScoreIncreasesAsDistributionFlattens(t *testing.T) {
	// Same categories, progressively flatter counts.
	skewed := DiversityScore(map[string]int{"a": 97, "b": 1, "c": 1, "d": 1})
	lopsided := DiversityScore(map[string]int{"a": 70, "b": 10, "c": 10, "d": 10})
	flat := DiversityScore(map[string]int{"a": 25, "b": 25, "c": 25, "d": 25})

	assert.Less(t, skewed, lopsided)
	assert.Less(t, lopsided, flat)
	assert.InDelta(t, 1.0, flat, 1e-9, "uniform distribution normalizes to 1")
}

func TestDiversityScoreBounded(t *testing.T) {
	dists := []map[string]int{
		{"a": 1, "b": 1},
		{"a": 1000, "b": 1},
		{"a": 3, "b": 5, "c": 7, "d": 11, "e": 13},
		{"a": 4, "b": 0, "c": 2},
	}
	for _, d := range dists {
		s := DiversityScore(d)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0+1e-9)
		assert.False(t, math.IsNaN(s))
	}
}

func TestDayPartBuckets(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{5, RhythmMorning},
		{11, RhythmMorning},
		{12, RhythmAfternoon},
		{16, RhythmAfternoon},
		{17, RhythmEvening},
		{21, RhythmEvening},
		{22, RhythmNight},
		{2, RhythmNight},
		{4, RhythmNight},
	}
	for _, c := range cases {
		ts := time.Date(2026, 3, 10, c.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, c.want, DayPart(ts), "hour %d", c.hour)
	}
}

func TestTemporalRhythmDominantAndTieBreak(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
	}

	dominant, hist := TemporalRhythm([]time.Time{at(9), at(10), at(18), at(9)})
	assert.Equal(t, RhythmMorning, dominant)
	assert.Equal(t, 3, hist[RhythmMorning])
	assert.Equal(t, 1, hist[RhythmEvening])

	// Equal counts resolve by bucket name so repeated runs agree.
	dominant, _ = TemporalRhythm([]time.Time{at(9), at(18)})
	assert.Equal(t, RhythmEvening, dominant)

	dominant, hist = TemporalRhythm(nil)
	assert.Equal(t, "", dominant)
	assert.Empty(t, hist)
}

func TestCategoryHistogram(t *testing.T) {
	buckets := map[string][]string{
		"gaming": {"game", "esports"},
		"music":  {"music", "band"},
	}
	hist := CategoryHistogram([]string{
		"Indie Game Devs",
		"ESports Central",
		"Jazz Band Collective",
		"Knitting Circle",
	}, buckets)

	assert.Equal(t, 2, hist["gaming"])
	assert.Equal(t, 1, hist["music"])
	assert.Equal(t, 1, hist["other"])
}

func TestTopN(t *testing.T) {
	got := topN(map[string]int{"a": 3, "b": 5, "c": 3, "d": 1}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, map[string]int{"b": 5, "a": 3, "c": 3}, got)

	assert.Len(t, topN(map[string]int{"x": 1}, 5), 1)
	assert.Empty(t, topN(nil, 5))
}

func TestDescriptorQualityFor(t *testing.T) {
	d := Descriptor{QualityHigh: 30, QualityMedium: 10}

	assert.Equal(t, model.QualityLow, d.QualityFor(0))
	assert.Equal(t, model.QualityLow, d.QualityFor(9))
	assert.Equal(t, model.QualityMedium, d.QualityFor(10))
	assert.Equal(t, model.QualityMedium, d.QualityFor(29))
	assert.Equal(t, model.QualityHigh, d.QualityFor(30))
	assert.Equal(t, model.QualityHigh, d.QualityFor(500))

	// Quality never decreases as record count grows.
	rank := map[model.Quality]int{model.QualityLow: 0, model.QualityMedium: 1, model.QualityHigh: 2}
	prev := 0
	for n := 0; n <= 60; n++ {
		cur := rank[d.QualityFor(n)]
		require.GreaterOrEqual(t, cur, prev, "quality dropped at %d records", n)
		prev = cur
	}
}
