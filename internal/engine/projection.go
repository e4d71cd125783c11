package engine

import "sort"

// Member is one entry of the household roster used for display fill-in.
type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Roster maps member ids to display metadata.
type Roster map[string]Member

// View is the reconciled collection split into role-based sub-lists by the
// ownership discriminator, each independently sorted by createdAt
// descending.
type View struct {
	Mine       []Entity
	Unassigned []Entity
	Others     []Entity
}

// project derives the presented collection from the snapshot and the three
// overlays: strip correlation markers, append unmatched optimistic adds,
// apply remaining updates by shallow merge, hide pending deletes, drop
// terminal rows, fill in roster metadata, then split and sort. Pure.
func project(snapshot map[string]Entity, ledger *Ledger, viewerID string, roster Roster) View {
	rows := make([]Entity, 0, len(snapshot)+len(ledger.adds))
	for _, row := range snapshot {
		row = row.clone()
		row.SubItems = stripMarkers(row.SubItems)
		rows = append(rows, row)
	}
	for _, add := range ledger.adds {
		rows = append(rows, add.clone())
	}

	var view View
	for _, row := range rows {
		if patch, ok := ledger.updates[row.ID]; ok {
			row = patch.apply(row)
		}
		if ledger.pendingDelete(row.ID) {
			continue
		}
		if terminalStatus(row.Status) {
			continue
		}
		if member, ok := roster[row.AssigneeID]; ok {
			if row.AssigneeName == "" {
				row.AssigneeName = member.Name
			}
			if row.AssigneeAvatar == "" {
				row.AssigneeAvatar = member.Avatar
			}
		}

		switch {
		case row.AssigneeID == "":
			view.Unassigned = append(view.Unassigned, row)
		case row.AssigneeID == viewerID:
			view.Mine = append(view.Mine, row)
		default:
			view.Others = append(view.Others, row)
		}
	}

	sortByCreatedAtDesc(view.Mine)
	sortByCreatedAtDesc(view.Unassigned)
	sortByCreatedAtDesc(view.Others)
	return view
}

func sortByCreatedAtDesc(rows []Entity) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
}
