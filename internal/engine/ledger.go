package engine

// Ledger holds the three optimistic overlays applied on top of the last
// known server snapshot: pending adds, pending updates, and pending
// deletes. Operations are pure state transitions with no I/O; the engine
// serializes access and the reconciler consumes the overlays on the next
// derivation.
type Ledger struct {
	// adds in creation order, keyed by temporary identity
	adds []Entity
	// at most one override per entity id; repeated edits merge per field
	updates map[string]FieldPatch
	// ids hidden from the projected view even while physically present in
	// the snapshot
	pendingDeletes map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		updates:        map[string]FieldPatch{},
		pendingDeletes: map[string]struct{}{},
	}
}

// AddOptimistic appends a locally-created entity. It never rejects; the
// caller is responsible for DiscardOptimisticAdd if the originating write
// fails.
func (l *Ledger) AddOptimistic(e Entity) {
	l.adds = append(l.adds, e.clone())
}

// UpdateOptimistic merges fields into the existing override for the id,
// later calls winning per field. A status change and a sub-item toggle
// issued in quick succession both survive.
func (l *Ledger) UpdateOptimistic(id string, patch FieldPatch) {
	l.updates[id] = l.updates[id].merge(patch)
}

// MarkPendingDelete hides the id from the projected view.
func (l *Ledger) MarkPendingDelete(id string) {
	l.pendingDeletes[id] = struct{}{}
}

// UndoPendingDelete restores a hidden id; the rollback path when a delete's
// network call fails.
func (l *Ledger) UndoPendingDelete(id string) {
	delete(l.pendingDeletes, id)
}

// DiscardOptimisticAdd drops an unconfirmed add; the rollback path when a
// create's network call fails.
func (l *Ledger) DiscardOptimisticAdd(id string) {
	for i, e := range l.adds {
		if e.ID == id {
			l.adds = append(l.adds[:i], l.adds[i+1:]...)
			return
		}
	}
}

func (l *Ledger) addByID(id string) (Entity, bool) {
	for _, e := range l.adds {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

func (l *Ledger) pendingDelete(id string) bool {
	_, ok := l.pendingDeletes[id]
	return ok
}

// rekey moves any update override and pending-delete mark from a temporary
// identity to the server identity that replaced it.
func (l *Ledger) rekey(tempID, serverID string) {
	if tempID == serverID {
		return
	}
	if patch, ok := l.updates[tempID]; ok {
		delete(l.updates, tempID)
		l.updates[serverID] = l.updates[serverID].merge(patch)
	}
	if _, ok := l.pendingDeletes[tempID]; ok {
		delete(l.pendingDeletes, tempID)
		l.pendingDeletes[serverID] = struct{}{}
	}
}
