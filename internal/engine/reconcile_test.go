package engine

import (
	"reflect"
	"testing"
	"time"
)

func snapshotOf(rows ...Entity) map[string]Entity {
	m := make(map[string]Entity, len(rows))
	for _, r := range rows {
		m[r.ID] = r
	}
	return m
}

func TestApplyBatchInsertRules(t *testing.T) {
	existing := Entity{ID: "task-1", Title: "Dishes", Status: StatusOpen, CreatedAt: baseTime}
	snapshot := snapshotOf(existing)

	batch := newBatch()
	// already-present id keeps the snapshot row untouched
	batch.Inserts["task-1"] = Entity{ID: "task-1", Title: "Dishes CHANGED", Status: StatusOpen, CreatedAt: baseTime}
	// terminal insert is irrelevant to an active list
	batch.Inserts["task-2"] = Entity{ID: "task-2", Title: "Done thing", Status: StatusCompleted, CreatedAt: baseTime}
	// content duplicate of the existing row
	batch.Inserts["task-3"] = Entity{ID: "task-3", Title: "Dishes", Status: StatusOpen, CreatedAt: baseTime.Add(5 * time.Second)}
	// a genuinely new row lands
	batch.Inserts["task-4"] = Entity{ID: "task-4", Title: "Laundry", Status: StatusOpen, CreatedAt: baseTime}

	applyBatch(snapshot, batch, time.Minute)

	if got := snapshot["task-1"].Title; got != "Dishes" {
		t.Errorf("insert for an existing id must not clobber the row, got title %q", got)
	}
	if _, ok := snapshot["task-2"]; ok {
		t.Errorf("terminal insert should be skipped")
	}
	if _, ok := snapshot["task-3"]; ok {
		t.Errorf("content duplicate should be skipped")
	}
	if _, ok := snapshot["task-4"]; !ok {
		t.Errorf("new row should land in the snapshot")
	}
}

func TestApplyBatchUpdateRules(t *testing.T) {
	snapshot := snapshotOf(
		Entity{ID: "task-1", Title: "Dishes", Status: StatusOpen, CreatedAt: baseTime},
		Entity{ID: "task-2", Title: "Laundry", Status: StatusOpen, CreatedAt: baseTime},
	)

	batch := newBatch()
	// field edit keeps original createdAt so the row does not re-sort
	batch.Updates["task-1"] = Entity{ID: "task-1", Title: "Dishes twice", Status: StatusOpen, CreatedAt: baseTime.Add(time.Hour)}
	// terminal transition removes the row
	batch.Updates["task-2"] = Entity{ID: "task-2", Title: "Laundry", Status: StatusCompleted, CreatedAt: baseTime}
	// update for an unknown id upserts (missed insert notification)
	batch.Updates["task-3"] = Entity{ID: "task-3", Title: "Vacuum", Status: StatusOpen, CreatedAt: baseTime}

	applyBatch(snapshot, batch, time.Minute)

	row := snapshot["task-1"]
	if row.Title != "Dishes twice" {
		t.Errorf("update should replace fields, got %q", row.Title)
	}
	if !row.CreatedAt.Equal(baseTime) {
		t.Errorf("update must preserve original createdAt, got %v", row.CreatedAt)
	}
	if _, ok := snapshot["task-2"]; ok {
		t.Errorf("terminal update should remove the row")
	}
	if _, ok := snapshot["task-3"]; !ok {
		t.Errorf("update for an unknown id should upsert")
	}
}

func TestApplyBatchDelete(t *testing.T) {
	snapshot := snapshotOf(Entity{ID: "task-1", Status: StatusOpen})
	batch := newBatch()
	batch.Deletes["task-1"] = struct{}{}
	batch.Deletes["task-404"] = struct{}{}

	applyBatch(snapshot, batch, time.Minute)
	if len(snapshot) != 0 {
		t.Errorf("delete should remove the row, snapshot: %v", snapshot)
	}
}

func TestApplyBatchIdempotent(t *testing.T) {
	batch := newBatch()
	batch.Inserts["task-1"] = Entity{ID: "task-1", Title: "Dishes", Status: StatusOpen, CreatedAt: baseTime}
	batch.Updates["task-2"] = Entity{ID: "task-2", Title: "Laundry", Status: StatusOpen, CreatedAt: baseTime}
	batch.Deletes["task-3"] = struct{}{}

	first := snapshotOf(Entity{ID: "task-3", Status: StatusOpen})
	applyBatch(first, batch, time.Minute)

	second := make(map[string]Entity, len(first))
	for id, row := range first {
		second[id] = row
	}
	applyBatch(second, batch, time.Minute)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("applying the same batch twice diverged:\nonce:  %v\ntwice: %v", first, second)
	}
}

func TestApplyBatchOrderIndependent(t *testing.T) {
	changes := []Change{
		{Kind: ChangeInsert, ID: "task-1", Entity: Entity{ID: "task-1", Title: "Dishes", Status: StatusOpen, CreatedAt: baseTime}},
		{Kind: ChangeUpdate, ID: "task-2", Entity: Entity{ID: "task-2", Title: "Laundry", Status: StatusOpen, CreatedAt: baseTime}},
		{Kind: ChangeDelete, ID: "task-3"},
		{Kind: ChangeInsert, ID: "task-4", Entity: Entity{ID: "task-4", Title: "Vacuum", Status: StatusOpen, CreatedAt: baseTime}},
	}

	build := func(order []int) map[string]Entity {
		agg := NewAggregator(time.Hour, func(Batch) {})
		defer agg.Close()
		for _, i := range order {
			agg.Intake(changes[i])
		}
		batch, _ := agg.drain()
		snapshot := snapshotOf(Entity{ID: "task-3", Status: StatusOpen, CreatedAt: baseTime})
		applyBatch(snapshot, batch, time.Minute)
		return snapshot
	}

	forward := build([]int{0, 1, 2, 3})
	reversed := build([]int{3, 2, 1, 0})
	if !reflect.DeepEqual(forward, reversed) {
		t.Errorf("batch application depends on intake order:\nforward:  %v\nreversed: %v", forward, reversed)
	}
}

func TestEvictConfirmedUpdateSatisfied(t *testing.T) {
	ledger := NewLedger()
	ledger.UpdateOptimistic("task-1", FieldPatch{Title: strPtr("Dishes twice")})
	ledger.UpdateOptimistic("task-2", FieldPatch{Title: strPtr("not yet echoed")})

	snapshot := snapshotOf(
		Entity{ID: "task-1", Title: "Dishes twice", Status: StatusOpen},
		Entity{ID: "task-2", Title: "old title", Status: StatusOpen},
	)
	evictConfirmed(snapshot, ledger, map[string]string{}, time.Minute)

	if _, ok := ledger.updates["task-1"]; ok {
		t.Errorf("satisfied override should be evicted")
	}
	if _, ok := ledger.updates["task-2"]; !ok {
		t.Errorf("unsatisfied override must survive eviction")
	}
}

func TestEvictConfirmedTerminalByAbsence(t *testing.T) {
	ledger := NewLedger()
	ledger.UpdateOptimistic("task-1", FieldPatch{Status: strPtr(StatusCompleted)})
	ledger.UpdateOptimistic("task-2", FieldPatch{Title: strPtr("renamed")})

	// both ids absent from the snapshot
	snapshot := map[string]Entity{}
	evictConfirmed(snapshot, ledger, map[string]string{}, time.Minute)

	if _, ok := ledger.updates["task-1"]; ok {
		t.Errorf("terminal transition confirmed by absence should be evicted")
	}
	if _, ok := ledger.updates["task-2"]; !ok {
		t.Errorf("non-terminal override for an absent id must survive, it may be keyed by a temp id")
	}
}

func TestEvictConfirmedDeleteMonotonic(t *testing.T) {
	ledger := NewLedger()
	ledger.MarkPendingDelete("task-1")

	snapshot := map[string]Entity{}
	evictConfirmed(snapshot, ledger, map[string]string{}, time.Minute)
	if ledger.pendingDelete("task-1") {
		t.Fatalf("absence confirms the delete; the mark should be retired")
	}

	// the id coming back later (undo on the server, another user recreating
	// it) must not be hidden by a stale mark
	snapshot["task-1"] = Entity{ID: "task-1", Title: "Dishes", Status: StatusOpen}
	evictConfirmed(snapshot, ledger, map[string]string{}, time.Minute)
	view := project(snapshot, ledger, "", Roster{})
	if len(view.Unassigned) != 1 {
		t.Errorf("resurrected row should be visible, view: %+v", view)
	}
}

func TestEvictConfirmedAddByMarker(t *testing.T) {
	optimisticAt := baseTime
	serverAt := baseTime.Add(3 * time.Second)

	ledger := NewLedger()
	ledger.AddOptimistic(Entity{ID: "tmp-1", Title: "Dishes", Status: StatusOpen, CreatedAt: optimisticAt})
	ledger.UpdateOptimistic("tmp-1", FieldPatch{Points: intPtr(4)})

	snapshot := snapshotOf(Entity{
		ID:        "task-9",
		Title:     "Dishes",
		Status:    StatusOpen,
		CreatedAt: serverAt,
		SubItems:  []SubItem{{ID: "s1", Label: "rinse"}, MarkerSubItem("tmp-1")},
	})

	index := map[string]string{}
	evictConfirmed(snapshot, ledger, index, time.Minute)

	if len(ledger.adds) != 0 {
		t.Fatalf("confirmed add should leave the ledger, adds: %v", ledger.adds)
	}
	if index["tmp-1"] != "task-9" {
		t.Errorf("correlation index missing tmp-1 -> task-9: %v", index)
	}

	row := snapshot["task-9"]
	if !row.CreatedAt.Equal(optimisticAt) {
		t.Errorf("confirmed row should keep the optimistic createdAt for sort stability, got %v", row.CreatedAt)
	}
	for _, s := range row.SubItems {
		if s.Label == MarkerLabel {
			t.Errorf("marker should be stripped from the confirmed row")
		}
	}
	if len(row.SubItems) != 1 || row.SubItems[0].ID != "s1" {
		t.Errorf("real sub-items must survive marker stripping: %v", row.SubItems)
	}

	// the quick edit made against the temp id follows the server id
	if patch, ok := ledger.updates["task-9"]; !ok || patch.Points == nil || *patch.Points != 4 {
		t.Errorf("override should be rekeyed to the server id: %v", ledger.updates)
	}
}

func TestEvictConfirmedUnmatchedAddStays(t *testing.T) {
	ledger := NewLedger()
	ledger.AddOptimistic(Entity{ID: "tmp-1", Title: "Dishes", Status: StatusOpen, CreatedAt: baseTime})

	snapshot := snapshotOf(Entity{ID: "task-1", Title: "Laundry", Status: StatusOpen, CreatedAt: baseTime})
	evictConfirmed(snapshot, ledger, map[string]string{}, time.Minute)

	if len(ledger.adds) != 1 {
		t.Errorf("unmatched add must stay visible until its row arrives")
	}
}
