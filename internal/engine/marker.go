package engine

import "strings"

// MarkerLabel is the reserved label of the correlation marker: a sentinel
// sub-item embedded into create payloads so that server-pushed rows can be
// traced back to the optimistic entity that anticipated them, regardless of
// notification ordering or duplication. It is implementation plumbing and
// never user-visible; projection strips it.
const MarkerLabel = "__choreboard_sync__"

const markerIDPrefix = "cid-"

// MarkerSubItem builds the correlation marker for a temporary identity.
// The write layer stores it verbatim with the rest of the sub-items.
func MarkerSubItem(tempID string) SubItem {
	return SubItem{
		ID:    markerIDPrefix + tempID,
		Label: MarkerLabel,
		Done:  true,
	}
}

// markerTempID extracts the temporary identity embedded in a correlation
// marker. A sub-item with the reserved label but an unparsable id is
// treated as no marker at all.
func markerTempID(s SubItem) (string, bool) {
	if s.Label != MarkerLabel {
		return "", false
	}
	tempID, ok := strings.CutPrefix(s.ID, markerIDPrefix)
	if !ok || tempID == "" {
		return "", false
	}
	return tempID, true
}

// findMarker returns the temporary identity carried by the first
// correlation marker among items, if any.
func findMarker(items []SubItem) (string, bool) {
	for _, s := range items {
		if tempID, ok := markerTempID(s); ok {
			return tempID, ok
		}
	}
	return "", false
}

// stripMarkers removes correlation markers, returning the original slice
// untouched when none are present.
func stripMarkers(items []SubItem) []SubItem {
	found := false
	for _, s := range items {
		if _, ok := markerTempID(s); ok {
			found = true
			break
		}
	}
	if !found {
		return items
	}
	stripped := make([]SubItem, 0, len(items)-1)
	for _, s := range items {
		if _, ok := markerTempID(s); !ok {
			stripped = append(stripped, s)
		}
	}
	return stripped
}
