package atlas

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRateLimitWait is used when a 429 message carries no usable duration.
const DefaultRateLimitWait = 10 * time.Second

var waitPattern = regexp.MustCompile(`(?i)available\s+in\s+(\d+(?:\.\d+)?)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|h)\b`)

// ParseWaitDuration extracts the cooldown from a rate-limit message such as
// "Request was throttled. Expected available in 37 seconds.". It reports
// false when the message names no duration.
func ParseWaitDuration(message string) (time.Duration, bool) {
	m := waitPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n < 0 {
		return 0, false
	}

	unit := time.Second
	switch strings.ToLower(m[2])[0] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	}
	return time.Duration(n * float64(unit)), true
}

// WaitDuration is ParseWaitDuration with a fallback for unparseable messages.
func WaitDuration(message string, fallback time.Duration) time.Duration {
	if d, ok := ParseWaitDuration(message); ok {
		return d
	}
	return fallback
}
