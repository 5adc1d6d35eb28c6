package dateparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m|days?|d)?\b`)

// ParseDuration reads event lengths like "2 hours", "90 min", "1h30m",
// "1.5 hours" or a bare "2" (hours). ok is false when nothing usable is
// found or the total is not positive.
func ParseDuration(s string) (d time.Duration, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(strings.ReplaceAll(s, " ", "")); err == nil {
		return d, d > 0
	}

	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "half an hour"), strings.Contains(lower, "half hour"):
		return 30 * time.Minute, true
	case lower == "an hour", lower == "one hour":
		return time.Hour, true
	}

	var total time.Duration
	for _, m := range durationPattern.FindAllStringSubmatch(lower, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := time.Hour
		switch {
		case strings.HasPrefix(m[2], "m"):
			unit = time.Minute
		case strings.HasPrefix(m[2], "d"):
			unit = 24 * time.Hour
		}
		total += time.Duration(n * float64(unit))
	}
	return total, total > 0
}
