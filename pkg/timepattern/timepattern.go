// Package timepattern derives inter-arrival, session and hour-of-day features from
// the battle timestamps of one player.
package timepattern

import (
	"math"
	"sort"
	"time"
)

const (
	// UltraShortSeconds bounds an ultra short interval. Short intervals use the same bound.
	UltraShortSeconds = 0.5
	SessionGapSeconds = 1800.0
	MarathonGap       = 300.0
	MarathonMinHours  = 3.0
	RegularityCap     = 10.0

	// MinBattles is the smallest sequence the extractor scores.
	MinBattles = 3
)

// Features is the time pattern of one player over a window.
type Features struct {
	TotalBattles int       `json:"total_battles"`
	Intervals    []float64 `json:"-"`

	MeanInterval   float64 `json:"mean_interval"`
	StdInterval    float64 `json:"std_interval"`
	TimeRegularity float64 `json:"time_regularity"`
	TooRegular     bool    `json:"too_regular"`
	MaxGapHours    float64 `json:"max_gap_hours"`

	ShortRatio      float64 `json:"short_ratio"`
	ShortStreakMax  int     `json:"short_streak_max"`
	UltraShortRatio float64 `json:"ultra_short_ratio"`
	UltraShortCount int     `json:"ultra_short_count"`

	TotalSessions    int     `json:"total_sessions"`
	AvgSessionLength float64 `json:"avg_session_length"`
	SessionVariance  float64 `json:"session_variance"`
	AvgInSessionGap  float64 `json:"avg_in_session_gap"`

	MarathonCount        int     `json:"marathon_count"`
	LongestMarathonHours float64 `json:"longest_marathon_hours"`
	TotalMarathonBattles int     `json:"total_marathon_battles"`

	HourHistogram    [24]int `json:"hour_histogram"`
	HourDiversity    int     `json:"hour_diversity"`
	ActiveHoursRatio float64 `json:"active_hours_ratio"`
	ActiveHourSpread int     `json:"active_hour_spread"`
	ActiveHourStart  int     `json:"active_hour_start"`
	ActiveDays       int     `json:"active_days"`
}

// Scored reports whether the sequence was long enough to compute interval features.
func (f Features) Scored() bool {
	return f.TotalBattles >= MinBattles
}

// Extract computes the features of a timestamp sequence. The input does not need to be
// sorted and is not modified. Hours are taken in UTC. Sequences shorter than MinBattles
// only carry TotalBattles.
func Extract(timestamps []time.Time) Features {
	ts := make([]time.Time, len(timestamps))
	copy(ts, timestamps)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	f := Features{TotalBattles: len(ts)}
	if len(ts) < MinBattles {
		return f
	}
	hours(&f, ts)

	f.Intervals = intervals(ts)
	f.MeanInterval = mean(f.Intervals)
	f.StdInterval = std(f.Intervals, f.MeanInterval)
	f.TimeRegularity = regularity(f.MeanInterval, f.StdInterval)
	f.TooRegular = f.MeanInterval > 0 && f.StdInterval/f.MeanInterval < 0.1
	f.MaxGapHours = maxOf(f.Intervals) / 3600

	shortIntervals(&f)
	sessions(&f)
	marathons(&f, ts)
	return f
}

func intervals(ts []time.Time) []float64 {
	out := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		out = append(out, ts[i].Sub(ts[i-1]).Seconds())
	}
	return out
}

func regularity(mean, std float64) float64 {
	if mean <= 0 {
		return 0
	}
	if std == 0 {
		return RegularityCap
	}
	return math.Min(mean/std, RegularityCap)
}

func shortIntervals(f *Features) {
	streak := 0
	for _, gap := range f.Intervals {
		if gap > UltraShortSeconds {
			streak = 0
			continue
		}
		f.UltraShortCount++
		streak++
		f.ShortStreakMax = max(f.ShortStreakMax, streak)
	}

	n := float64(len(f.Intervals))
	f.UltraShortRatio = float64(f.UltraShortCount) / n
	f.ShortRatio = f.UltraShortRatio
}

func sessions(f *Features) {
	lengths := []float64{1}
	var inSession []float64
	for _, gap := range f.Intervals {
		if gap > SessionGapSeconds {
			lengths = append(lengths, 1)
			continue
		}
		lengths[len(lengths)-1]++
		inSession = append(inSession, gap)
	}

	f.TotalSessions = len(lengths)
	f.AvgSessionLength = mean(lengths)
	if f.AvgSessionLength > 0 {
		f.SessionVariance = std(lengths, f.AvgSessionLength) / f.AvgSessionLength
	}
	f.AvgInSessionGap = mean(inSession)
}

func marathons(f *Features, ts []time.Time) {
	flush := func(from, to int) {
		span := ts[to].Sub(ts[from]).Hours()
		if span < MarathonMinHours {
			return
		}
		f.MarathonCount++
		f.TotalMarathonBattles += to - from + 1
		f.LongestMarathonHours = math.Max(f.LongestMarathonHours, span)
	}

	start := 0
	for i, gap := range f.Intervals {
		if gap > MarathonGap {
			flush(start, i)
			start = i + 1
		}
	}
	flush(start, len(ts)-1)
}

func hours(f *Features, ts []time.Time) {
	days := make(map[string]struct{})
	for _, t := range ts {
		u := t.UTC()
		f.HourHistogram[u.Hour()]++
		days[u.Format(time.DateOnly)] = struct{}{}
	}
	f.ActiveDays = len(days)

	for _, n := range f.HourHistogram {
		if n > 0 {
			f.HourDiversity++
		}
	}
	f.ActiveHoursRatio = float64(f.HourDiversity) / 24
	f.ActiveHourSpread, f.ActiveHourStart = hourSpread(f.HourHistogram, len(ts))
}

// hourSpread finds the smallest circular window of hours holding at least 80% of the
// battles. Equal windows resolve to the earliest starting hour.
func hourSpread(hist [24]int, total int) (int, int) {
	if total == 0 {
		return 0, 0
	}
	for width := 1; width <= 24; width++ {
		for start := 0; start < 24; start++ {
			sum := 0
			for k := 0; k < width; k++ {
				sum += hist[(start+k)%24]
			}
			if sum*5 >= total*4 {
				return width, start
			}
		}
	}
	return 24, 0
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// std is the population standard deviation.
func std(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += (x - mean) * (x - mean)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func maxOf(xs []float64) float64 {
	out := 0.0
	for _, x := range xs {
		out = math.Max(out, x)
	}
	return out
}
