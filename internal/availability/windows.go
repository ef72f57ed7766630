package availability

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// CandidateWindows returns slot windows of length duration, stepped by step,
// inside [windowStart, windowEnd) that do not overlap any taken interval and
// do not start in the past. Used when a specialist bulk-publishes availability
// around slots that already exist.
//
// All times are expected to be in the same location (timezone).
func CandidateWindows(windowStart, windowEnd time.Time, duration, step time.Duration, taken []Interval, now time.Time) []Interval {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var windows []Interval
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), taken) {
			windows = append(windows, Interval{Start: t, End: t.Add(duration)})
		}
	}
	return windows
}

func overlapsAny(start, end time.Time, taken []Interval) bool {
	for _, b := range taken {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
