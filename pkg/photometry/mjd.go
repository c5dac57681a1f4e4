package photometry

import (
	"math"
	"time"
)

// mjdUnixEpoch is the MJD of 1970-01-01T00:00:00Z.
const mjdUnixEpoch = 40587.0

const secondsPerDay = 86400.0

const (
	// DiscoveryLookback is how far before discovery a default window starts.
	DiscoveryLookback = 100 * 24 * time.Hour

	// DiscoveryLookahead caps how far after discovery a default window ends.
	DiscoveryLookahead = 365 * 24 * time.Hour
)

// MJDFromTime converts t to a Modified Julian Date.
func MJDFromTime(t time.Time) float64 {
	return mjdUnixEpoch + float64(t.UTC().UnixNano())/1e9/secondsPerDay
}

// TimeFromMJD converts a Modified Julian Date to a UTC time.
func TimeFromMJD(mjd float64) time.Time {
	secs := (mjd - mjdUnixEpoch) * secondsPerDay
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

// DiscoveryWindow returns the window used when a transient's discovery date
// is known: from 100 days before discovery to one year after it, clipped to
// now.
func DiscoveryWindow(discovery, now time.Time) TimeWindow {
	start := discovery.Add(-DiscoveryLookback)
	end := discovery.Add(DiscoveryLookahead)
	if end.After(now) {
		end = now
	}
	endMJD := roundTo(MJDFromTime(end), 3)
	return TimeWindow{
		Min: roundTo(MJDFromTime(start), 3),
		Max: &endMJD,
	}
}

// ParseDiscoveryDate accepts the date layouts seen in transient catalogues.
func ParseDiscoveryDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
