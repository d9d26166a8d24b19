// Package snapshot implements the normalization, hashing and diffing
// pipeline that turns raw portal extractions into canonical snapshots and
// change sets.
package snapshot

// Canonical is one normalized binnacle as it participates in hashing and
// in the stored snapshot payload. JSON keys are declared in lexicographic
// order so marshaling yields the fixed serialization the hash is defined
// over. NotificationCount is part of the hash so added notifications flip
// the hash even when every binnacle field matches.
type Canonical struct {
	Acto              *string `json:"acto"`
	EntryDate         *string `json:"entryDate"`
	Fojas             *int    `json:"fojas"`
	Folios            *int    `json:"folios"`
	Index             int     `json:"index"`
	NotificationCount int     `json:"notificationCount"`
	NotificationType  *string `json:"notificationType"`
	ProvedioDate      *string `json:"provedioDate"`
	Resolution        *string `json:"resolution"`
	ResolutionDate    *string `json:"resolutionDate"`
	Sumilla           *string `json:"sumilla"`
	UserDescription   *string `json:"userDescription"`
}

// identity is the diff join key: entries from consecutive scrapes are the
// same binnacle when these three match.
type identity struct {
	resolutionDate string
	entryDate      string
	resolution     string
}

func (c Canonical) identity() identity {
	return identity{
		resolutionDate: deref(c.ResolutionDate),
		entryDate:      deref(c.EntryDate),
		resolution:     deref(c.Resolution),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
