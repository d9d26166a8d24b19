// Package clock provides the zone-pinned system clock.
package clock

import (
	"fmt"
	"time"
)

// Zoned implements monitor.Clock against the wall clock, pinned to one
// IANA location. Dedup keys and schedule math depend on this zone, so a
// single instance is built at startup and shared.
type Zoned struct {
	loc *time.Location
}

// New loads the IANA zone and returns a clock pinned to it.
func New(zone string) (*Zoned, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", zone, err)
	}
	return &Zoned{loc: loc}, nil
}

// Now returns the current time in the configured zone.
func (c *Zoned) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the configured zone.
func (c *Zoned) Location() *time.Location {
	return c.loc
}
