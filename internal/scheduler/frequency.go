package scheduler

import (
	"time"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// FrequencyRules holds the adaptive cadence thresholds, in days.
type FrequencyRules struct {
	YoungCaseDays     int
	RecentChangeDays  int
	HighStaleDays     int
	VeryStaleDays     int
	HighStaleInterval int
	VeryStaleInterval int
}

// DefaultRules matches the reference cadence: young and recently active
// cases on every tick, quiet cases daily, cases unchanged for over 30 days
// every three days, cases unchanged for over 90 days weekly.
func DefaultRules() FrequencyRules {
	return FrequencyRules{
		YoungCaseDays:     7,
		RecentChangeDays:  7,
		HighStaleDays:     30,
		VeryStaleDays:     90,
		HighStaleInterval: 3,
		VeryStaleInterval: 7,
	}
}

// Due decides whether the case file should be scraped this tick.
func (r FrequencyRules) Due(now time.Time, cf monitor.CaseFile, snap *monitor.Snapshot) bool {
	daysSince := func(t time.Time) float64 {
		return now.Sub(t).Hours() / 24
	}

	// Young cases always scrape.
	if daysSince(cf.CreatedAt) < float64(r.YoungCaseDays) {
		return true
	}
	// Never scraped successfully.
	if snap == nil {
		return true
	}
	sinceScrape := daysSince(snap.LastScrapedAt)
	if snap.LastChangedAt != nil {
		sinceChange := daysSince(*snap.LastChangedAt)
		switch {
		case sinceChange < float64(r.RecentChangeDays):
			return true
		case sinceChange > float64(r.VeryStaleDays):
			return sinceScrape >= float64(r.VeryStaleInterval)
		case sinceChange > float64(r.HighStaleDays):
			return sinceScrape >= float64(r.HighStaleInterval)
		}
	}
	return sinceScrape >= 1
}
