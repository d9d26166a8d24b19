package snapshot

import (
	"strconv"
	"strings"
	"time"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Portal date layouts, most specific first.
var dateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// normString trims s and maps empty or whitespace-only values to nil.
func normString(s string) *string {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	return &t
}

// normInt parses a base-10 integer; failures map to nil.
func normInt(s string) *int {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return nil
	}
	return &n
}

// normDate parses a portal DD/MM/YYYY[ HH:MM[:SS]] value. The literal "-"
// and unparseable values map to nil. The ISO form is zone-naive so the
// canonical payload hashes identically across DST boundaries.
func normDate(s string) (*time.Time, *string) {
	t := strings.TrimSpace(s)
	if t == "" || t == "-" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, t)
		if err != nil {
			continue
		}
		var iso string
		if layout == "02/01/2006" {
			iso = parsed.Format("2006-01-02")
		} else {
			iso = parsed.Format("2006-01-02T15:04:05")
		}
		return &parsed, &iso
	}
	return nil, nil
}

// Normalize converts one raw binnacle plus its notification count into
// canonical form.
func Normalize(raw monitor.RawBinnacle, notificationCount int) Canonical {
	_, resolutionDate := normDate(raw.ResolutionDate)
	_, entryDate := normDate(raw.EntryDate)
	_, provedioDate := normDate(raw.ProvedioDate)
	return Canonical{
		Acto:              normString(raw.Acto),
		EntryDate:         entryDate,
		Fojas:             normInt(raw.Fojas),
		Folios:            normInt(raw.Folios),
		Index:             raw.Index,
		NotificationCount: notificationCount,
		NotificationType:  normString(raw.NotificationType),
		ProvedioDate:      provedioDate,
		Resolution:        normString(raw.Resolution),
		ResolutionDate:    resolutionDate,
		Sumilla:           normString(raw.Sumilla),
		UserDescription:   normString(raw.UserDescription),
	}
}

// NormalizeAll normalizes the full extraction; notifications is keyed by
// binnacle index.
func NormalizeAll(raws []monitor.RawBinnacle, notifications map[int][]monitor.RawNotification) []Canonical {
	out := make([]Canonical, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw, len(notifications[raw.Index])))
	}
	return out
}

// ToBinnacle builds the persistence entity for one raw binnacle. The type
// tag is RESOLUTION exactly when a resolution date parsed.
func ToBinnacle(caseFileID int64, raw monitor.RawBinnacle) monitor.Binnacle {
	resolutionDate, _ := normDate(raw.ResolutionDate)
	entryDate, _ := normDate(raw.EntryDate)
	provedioDate, _ := normDate(raw.ProvedioDate)
	typ := monitor.BinnacleWrit
	if resolutionDate != nil {
		typ = monitor.BinnacleResolution
	}
	return monitor.Binnacle{
		CaseFileID:       caseFileID,
		Index:            raw.Index,
		ResolutionDate:   resolutionDate,
		EntryDate:        entryDate,
		Resolution:       normString(raw.Resolution),
		Acto:             normString(raw.Acto),
		Fojas:            normInt(raw.Fojas),
		Folios:           normInt(raw.Folios),
		ProvedioDate:     provedioDate,
		Sumilla:          normString(raw.Sumilla),
		UserDescription:  normString(raw.UserDescription),
		NotificationType: normString(raw.NotificationType),
		Type:             typ,
		ProceduralStage:  normString(raw.ProceduralStage),
	}
}

// ToNotification builds the persistence entity for one raw notification.
func ToNotification(raw monitor.RawNotification) monitor.Notification {
	shipDate, _ := normDate(raw.ShipDate)
	issuedDate, _ := normDate(raw.IssuedDate)
	sentDate, _ := normDate(raw.SentDate)
	arrivalDate, _ := normDate(raw.ArrivalDate)
	chargeDate, _ := normDate(raw.ChargeDate)
	returnDate, _ := normDate(raw.ReturnDate)
	resolvedDate, _ := normDate(raw.ResolvedDate)
	return monitor.Notification{
		Code:           strings.TrimSpace(raw.Code),
		Addressee:      normString(raw.Addressee),
		ShipDate:       shipDate,
		Attachments:    normString(raw.Attachments),
		DeliveryMethod: normString(raw.DeliveryMethod),
		IssuedDate:     issuedDate,
		SentDate:       sentDate,
		ArrivalDate:    arrivalDate,
		ChargeDate:     chargeDate,
		ReturnDate:     returnDate,
		ResolvedDate:   resolvedDate,
	}
}

// ValidBinnacle drops entries that fail the minimum schema: a positive
// index and at least one of entry date or resolution date present.
func ValidBinnacle(raw monitor.RawBinnacle) bool {
	if raw.Index < 1 {
		return false
	}
	entry, _ := normDate(raw.EntryDate)
	resolution, _ := normDate(raw.ResolutionDate)
	return entry != nil || resolution != nil
}
