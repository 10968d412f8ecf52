package platforms

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DiversityScore computes the normalized Shannon entropy of a category
// frequency distribution: 0 for a single category, 1 for a uniform spread
// across every observed category.
func DiversityScore(freq map[string]int) float64 {
	var total float64
	k := 0
	for _, n := range freq {
		if n > 0 {
			total += float64(n)
			k++
		}
	}
	if k <= 1 || total == 0 {
		return 0
	}
	var h float64
	for _, n := range freq {
		if n <= 0 {
			continue
		}
		p := float64(n) / total
		h -= p * math.Log(p)
	}
	return h / math.Log(float64(k))
}

// Day-part buckets for temporal rhythm classification.
const (
	RhythmMorning   = "morning"   // 05:00–11:59
	RhythmAfternoon = "afternoon" // 12:00–16:59
	RhythmEvening   = "evening"   // 17:00–21:59
	RhythmNight     = "night"     // 22:00–04:59
)

// DayPart maps a timestamp onto its rhythm bucket.
func DayPart(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return RhythmMorning
	case h >= 12 && h < 17:
		return RhythmAfternoon
	case h >= 17 && h < 22:
		return RhythmEvening
	default:
		return RhythmNight
	}
}

// TemporalRhythm buckets activity timestamps into day parts and returns the
// dominant bucket plus the full histogram. The mode is "" when there is no
// activity at all.
func TemporalRhythm(timestamps []time.Time) (string, map[string]int) {
	buckets := map[string]int{}
	for _, ts := range timestamps {
		buckets[DayPart(ts)]++
	}
	mode := ""
	best := 0
	// Deterministic tie-break on bucket name.
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if buckets[name] > best {
			mode, best = name, buckets[name]
		}
	}
	return mode, buckets
}

// CategoryHistogram buckets free-text labels by keyword. A label counts
// toward every bucket whose keyword it contains; labels matching nothing
// count toward "other".
func CategoryHistogram(labels []string, buckets map[string][]string) map[string]int {
	out := map[string]int{}
	for _, label := range labels {
		lower := strings.ToLower(label)
		matched := false
		for bucket, keywords := range buckets {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					out[bucket]++
					matched = true
					break
				}
			}
		}
		if !matched {
			out["other"]++
		}
	}
	return out
}

// histogramToPatterns widens an int histogram for JSON pattern maps.
func histogramToPatterns(h map[string]int) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// topN keeps the n highest-frequency entries of a histogram, breaking ties
// by name for determinism.
func topN(h map[string]int, n int) map[string]int {
	type kv struct {
		k string
		v int
	}
	entries := make([]kv, 0, len(h))
	for k, v := range h {
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].v != entries[j].v {
			return entries[i].v > entries[j].v
		}
		return entries[i].k < entries[j].k
	})
	if n > len(entries) {
		n = len(entries)
	}
	out := make(map[string]int, n)
	for _, e := range entries[:n] {
		out[e.k] = e.v
	}
	return out
}

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }
