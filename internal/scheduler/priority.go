package scheduler

import (
	"time"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// defaultNotificationTime is assumed when a schedule lists no times.
const defaultNotificationTime = "23:59"

// NearestUpcoming returns the soonest future wall-clock time from the
// schedule's HH:MM list, in now's location. Times already past today roll
// to tomorrow.
func NearestUpcoming(now time.Time, times []string) time.Time {
	if len(times) == 0 {
		times = []string{defaultNotificationTime}
	}

	var nearest time.Time
	for _, hhmm := range times {
		parsed, err := time.Parse("15:04", hhmm)
		if err != nil {
			continue
		}
		candidate := time.Date(now.Year(), now.Month(), now.Day(),
			parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if nearest.IsZero() || candidate.Before(nearest) {
			nearest = candidate
		}
	}
	if nearest.IsZero() {
		return NearestUpcoming(now, []string{defaultNotificationTime})
	}
	return nearest
}

// PriorityFor maps the distance to the nearest notification hour onto the
// queue priority ladder.
func PriorityFor(now time.Time, times []string) monitor.Priority {
	hoursUntil := NearestUpcoming(now, times).Sub(now).Hours()
	switch {
	case hoursUntil < 1:
		return monitor.PriorityCritical
	case hoursUntil < 3:
		return monitor.PriorityHigh
	case hoursUntil < 6:
		return monitor.PriorityMedium
	default:
		return monitor.PriorityLow
	}
}
