package engine

import "time"

// applyBatch folds one drained batch into the snapshot. Inserts, updates,
// and deletes are id-keyed upserts and removals, so application is
// idempotent and commutative across distinct ids within a batch.
func applyBatch(snapshot map[string]Entity, batch Batch, window time.Duration) {
	for id, row := range batch.Inserts {
		if terminalStatus(row.Status) {
			// a row already in a terminal state is irrelevant to an
			// active list
			continue
		}
		if _, ok := snapshot[id]; ok {
			continue
		}
		if duplicateInSnapshot(snapshot, row, window) {
			continue
		}
		snapshot[id] = row.clone()
	}

	for id, row := range batch.Updates {
		if terminalStatus(row.Status) {
			// the row leaves the active list
			delete(snapshot, id)
			continue
		}
		next := row.clone()
		if prior, ok := snapshot[id]; ok {
			// keep the original createdAt so an unrelated field edit
			// does not re-sort the row to the top of the list
			next.CreatedAt = prior.CreatedAt
		}
		snapshot[id] = next
	}

	for id := range batch.Deletes {
		delete(snapshot, id)
	}
}

func duplicateInSnapshot(snapshot map[string]Entity, row Entity, window time.Duration) bool {
	for _, existing := range snapshot {
		if contentDuplicate(existing, row, window) {
			return true
		}
	}
	return false
}

// evictConfirmed retires overlay entries that the snapshot now satisfies
// and records confirmed temporary-to-server identity mappings in index.
func evictConfirmed(snapshot map[string]Entity, ledger *Ledger, index map[string]string, window time.Duration) {
	// optimistic updates superseded by the snapshot
	for id, patch := range ledger.updates {
		row, ok := snapshot[id]
		if ok {
			if patch.satisfiedBy(row) {
				delete(ledger.updates, id)
			}
			continue
		}
		// a requested terminal transition removes the row from the
		// active snapshot; its absence is the confirmation
		if patch.Status != nil && terminalStatus(*patch.Status) {
			delete(ledger.updates, id)
		}
	}

	// pending deletes confirmed by absence. Monotonic: once confirmed the
	// id does not return to the set unless the user restores it.
	for id := range ledger.pendingDeletes {
		if _, ok := snapshot[id]; !ok {
			delete(ledger.pendingDeletes, id)
		}
	}

	// optimistic adds matched against the snapshot
	for _, add := range append([]Entity(nil), ledger.adds...) {
		serverID, ok := matchConfirmed(add, snapshot, window)
		if !ok {
			continue
		}
		row := snapshot[serverID]
		// the optimistic createdAt wins over the server timestamp so the
		// confirmed row keeps its visual position
		row.CreatedAt = add.CreatedAt
		row.SubItems = stripMarkers(row.SubItems)
		snapshot[serverID] = row

		index[add.ID] = serverID
		ledger.rekey(add.ID, serverID)
		ledger.DiscardOptimisticAdd(add.ID)
	}
}
