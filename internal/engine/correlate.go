package engine

import (
	"sort"
	"time"
)

// matchConfirmed finds the snapshot row that is the confirmed form of an
// optimistic entity, if one exists. Matching is attempted in strict priority
// order, first match wins:
//
//  1. exact id — the write path round-tripped the client id
//  2. correlation marker — the row carries the sentinel sub-item embedding
//     the optimistic entity's temporary identity (the robust path)
//  3. heuristic — same title and createdAt within the window; best-effort
//     fallback for rows created through a path that could not carry a
//     marker, trading a small false-positive risk for eliminating
//     duplicate-row flicker
//
// The function is idempotent and side-effect-free; it is re-evaluated on
// every reconciliation pass because the snapshot itself is mutable.
func matchConfirmed(add Entity, snapshot map[string]Entity, heuristicWindow time.Duration) (string, bool) {
	if _, ok := snapshot[add.ID]; ok {
		return add.ID, true
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if tempID, ok := findMarker(snapshot[id].SubItems); ok && tempID == add.ID {
			return id, true
		}
	}

	for _, id := range ids {
		row := snapshot[id]
		if row.Title != add.Title {
			continue
		}
		if absDuration(row.CreatedAt.Sub(add.CreatedAt)) <= heuristicWindow {
			return id, true
		}
	}

	return "", false
}

// contentDuplicate reports whether a pushed insert is a second physical row
// for what the user perceives as one action: same title and the same due
// date, or no due date on either side and creation within the window. This
// guards against the server or a retried write producing two rows.
func contentDuplicate(row, candidate Entity, window time.Duration) bool {
	if row.Title != candidate.Title {
		return false
	}
	if row.DueAt != nil && candidate.DueAt != nil {
		return row.DueAt.Equal(*candidate.DueAt)
	}
	if row.DueAt == nil && candidate.DueAt == nil {
		return absDuration(row.CreatedAt.Sub(candidate.CreatedAt)) <= window
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
