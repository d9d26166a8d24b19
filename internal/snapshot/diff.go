package snapshot

import (
	"strconv"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Change is one structural or field-level difference between two
// consecutive canonical lists.
type Change struct {
	Type      monitor.ChangeType
	FieldName string
	OldValue  string
	NewValue  string
}

// Diff compares two canonical lists keyed by (resolutionDate, entryDate,
// resolution). Emission order is deterministic: new entries in index
// order, then unmatched old entries in their original order.
func Diff(old, current []Canonical) []Change {
	oldByKey := make(map[identity]Canonical, len(old))
	for _, entry := range old {
		if _, dup := oldByKey[entry.identity()]; !dup {
			oldByKey[entry.identity()] = entry
		}
	}

	matched := make(map[identity]bool, len(old))
	var changes []Change
	for _, entry := range current {
		key := entry.identity()
		prev, ok := oldByKey[key]
		if !ok {
			changes = append(changes, Change{Type: monitor.ChangeNewBinnacle, NewValue: deref(entry.Sumilla)})
			continue
		}
		matched[key] = true
		changes = append(changes, fieldChanges(prev, entry)...)
	}

	for _, entry := range old {
		if !matched[entry.identity()] {
			changes = append(changes, Change{Type: monitor.ChangeRemovedBinnacle, OldValue: deref(entry.Sumilla)})
		}
	}
	return changes
}

// fieldChanges emits one MODIFIED_BINNACLE per differing comparable field.
func fieldChanges(old, current Canonical) []Change {
	var changes []Change
	emit := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			changes = append(changes, Change{
				Type:      monitor.ChangeModifiedBinnacle,
				FieldName: field,
				OldValue:  oldVal,
				NewValue:  newVal,
			})
		}
	}
	emit("notificationType", deref(old.NotificationType), deref(current.NotificationType))
	emit("acto", deref(old.Acto), deref(current.Acto))
	emit("fojas", intString(old.Fojas), intString(current.Fojas))
	emit("folios", intString(old.Folios), intString(current.Folios))
	emit("provedioDate", deref(old.ProvedioDate), deref(current.ProvedioDate))
	emit("sumilla", deref(old.Sumilla), deref(current.Sumilla))
	emit("userDescription", deref(old.UserDescription), deref(current.UserDescription))
	emit("notificationCount", strconv.Itoa(old.NotificationCount), strconv.Itoa(current.NotificationCount))
	return changes
}

func intString(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
