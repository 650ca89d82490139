package event

import "sort"

// Compare orders two events by the canonical two-tier key: server-assigned
// version when both have one, client timestamp otherwise. An unversioned
// event always sorts after a versioned one. The timestamp tier is a
// best-effort, clock-skew-sensitive convention that only applies before an
// event is accepted; once a version exists it is never consulted.
func Compare(a, b Event) int {
	switch {
	case a.Version == 0 && b.Version == 0:
		switch {
		case a.Timestamp.Before(b.Timestamp.Time):
			return -1
		case a.Timestamp.After(b.Timestamp.Time):
			return 1
		default:
			return 0
		}
	case a.Version == 0:
		return 1
	case b.Version == 0:
		return -1
	default:
		return a.Version - b.Version
	}
}

// SortCanonical sorts events in place by the canonical order.
func SortCanonical(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return Compare(events[i], events[j]) < 0
	})
}

// SortByVersion sorts store items in place by ascending version.
func SortByVersion(items []StoreItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Version < items[j].Version
	})
}

// SortByTimestamp sorts events in place by ascending client timestamp. The
// sync engine uses this to push one entity's pending events in the order
// they were created.
func SortByTimestamp(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp.Time)
	})
}
