// Package engine implements the optimistic state reconciliation engine that
// backs a realtime-synced collection (tasks, rewards, shopping list). It
// presents a single consistent view of a collection whose true state lives
// in a remote database and changes from three uncoordinated sources: the
// local user's optimistic mutations, a debounced stream of change
// notifications pushed for any client's mutations, and authoritative
// refetches.
package engine

import "time"

// Collection names a realtime-synced collection an engine instance can back.
type Collection string

const (
	CollectionTasks     Collection = "tasks"
	CollectionRewards   Collection = "rewards"
	CollectionListItems Collection = "list_items"
)

// Entity statuses. Completed and archived are terminal: a row in a terminal
// status leaves the active view.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

func terminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusArchived
}

// SubItem is an ordered child of an entity (checklist step, reward perk).
type SubItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Entity is a row in a realtime-synced collection. Before the server has
// confirmed a locally-created entity, ID holds a client-generated temporary
// identity.
type Entity struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	AssigneeID string     `json:"assigneeId,omitempty"`
	Points     int        `json:"points,omitempty"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
	SubItems   []SubItem  `json:"subItems,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	// Display metadata filled in from the household roster at projection
	// time. Push-delivered rows are a narrower shape than fully joined
	// read-model rows, so these are never trusted from the wire.
	AssigneeName   string `json:"assigneeName,omitempty"`
	AssigneeAvatar string `json:"assigneeAvatar,omitempty"`
}

func (e Entity) clone() Entity {
	if e.SubItems != nil {
		items := make([]SubItem, len(e.SubItems))
		copy(items, e.SubItems)
		e.SubItems = items
	}
	if e.DueAt != nil {
		due := *e.DueAt
		e.DueAt = &due
	}
	return e
}

// FieldPatch is a partial field-set applied on top of an entity. Nil fields
// are untouched; a non-nil SubItems replaces the whole sub-item list.
type FieldPatch struct {
	Title      *string
	Status     *string
	AssigneeID *string
	Points     *int
	DueAt      *time.Time
	ClearDueAt bool
	SubItems   []SubItem
}

// merge folds a later patch into p, later values winning per field.
func (p FieldPatch) merge(later FieldPatch) FieldPatch {
	if later.Title != nil {
		p.Title = later.Title
	}
	if later.Status != nil {
		p.Status = later.Status
	}
	if later.AssigneeID != nil {
		p.AssigneeID = later.AssigneeID
	}
	if later.Points != nil {
		p.Points = later.Points
	}
	if later.DueAt != nil {
		p.DueAt = later.DueAt
		p.ClearDueAt = false
	}
	if later.ClearDueAt {
		p.DueAt = nil
		p.ClearDueAt = true
	}
	if later.SubItems != nil {
		p.SubItems = later.SubItems
	}
	return p
}

func (p FieldPatch) apply(e Entity) Entity {
	e = e.clone()
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.AssigneeID != nil {
		e.AssigneeID = *p.AssigneeID
	}
	if p.Points != nil {
		e.Points = *p.Points
	}
	if p.DueAt != nil {
		due := *p.DueAt
		e.DueAt = &due
	}
	if p.ClearDueAt {
		e.DueAt = nil
	}
	if p.SubItems != nil {
		items := make([]SubItem, len(p.SubItems))
		copy(items, p.SubItems)
		e.SubItems = items
	}
	return e
}

// satisfiedBy reports whether the snapshot row already reflects every field
// the patch requested. A satisfied patch is superseded and can be evicted.
func (p FieldPatch) satisfiedBy(e Entity) bool {
	if p.Title != nil && e.Title != *p.Title {
		return false
	}
	if p.Status != nil && e.Status != *p.Status {
		return false
	}
	if p.AssigneeID != nil && e.AssigneeID != *p.AssigneeID {
		return false
	}
	if p.Points != nil && e.Points != *p.Points {
		return false
	}
	if p.DueAt != nil && (e.DueAt == nil || !e.DueAt.Equal(*p.DueAt)) {
		return false
	}
	if p.ClearDueAt && e.DueAt != nil {
		return false
	}
	if p.SubItems != nil && !subItemsSatisfied(p.SubItems, e.SubItems) {
		return false
	}
	return true
}

// subItemsSatisfied compares done flags by sub-item id: the row satisfies
// the patch when every patched sub-item exists with the requested done
// state. Labels are not compared; toggles only move the done flag.
func subItemsSatisfied(want, have []SubItem) bool {
	byID := make(map[string]SubItem, len(have))
	for _, s := range have {
		byID[s.ID] = s
	}
	for _, w := range want {
		h, ok := byID[w.ID]
		if !ok || h.Done != w.Done {
			return false
		}
	}
	return true
}
