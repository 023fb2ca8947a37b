package slots

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds the interval covering a booking that starts at start and
// runs for the given number of minutes.
func NewInterval(start time.Time, durationMinutes int) Interval {
	return Interval{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints (a ends exactly where b starts) do not overlap, so back-to-back
// appointments are always allowed.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// ConflictsWith returns the first interval in busy that overlaps candidate,
// or a zero Interval and false when there is none.
func ConflictsWith(candidate Interval, busy []Interval) (Interval, bool) {
	for _, iv := range busy {
		if Overlaps(candidate, iv) {
			return iv, true
		}
	}
	return Interval{}, false
}
