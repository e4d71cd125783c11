package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"choreboard/api/internal/realtime"
	"choreboard/api/internal/util"
)

const (
	// DefaultDebounceWindow coalesces notification bursts before a
	// reconciliation pass runs.
	DefaultDebounceWindow = 100 * time.Millisecond
	// DefaultHeuristicWindow bounds the createdAt distance for heuristic
	// correlation matches and content duplicate detection.
	DefaultHeuristicWindow = 60 * time.Second

	writeTimeout = 10 * time.Second
)

// WriteUpdate is the action-discriminated body of an update write.
type WriteUpdate struct {
	Action    string
	Fields    FieldPatch
	SubItemID string
}

// Update actions understood by the write layer.
const (
	ActionSetFields     = "set_fields"
	ActionSetStatus     = "set_status"
	ActionClaim         = "claim"
	ActionToggleSubItem = "toggle_subitem"
)

// Writer performs the actual network writes for a collection. Calls are
// issued fire-and-forget from the engine's perspective; a returned error
// triggers rollback of the specific optimistic overlay that anticipated
// success.
type Writer interface {
	Create(ctx context.Context, scope string, collection Collection, e Entity) error
	Update(ctx context.Context, scope string, collection Collection, id string, upd WriteUpdate) error
	Delete(ctx context.Context, scope string, collection Collection, id string) error
}

// Options configures one reconciliation unit. Engines are explicitly scoped
// to a single collection and household; independent instances cannot
// cross-contaminate.
type Options struct {
	Scope      string
	Collection Collection
	ViewerID   string
	Writer     Writer
	Roster     Roster

	DebounceWindow  time.Duration
	HeuristicWindow time.Duration

	// OnChange fires after every state transition; the render trigger.
	OnChange func()
	// OnError surfaces a failed write after its overlay was reverted;
	// the transient user notification hook.
	OnError func(op, id string, err error)
}

// Engine owns the server snapshot and the optimistic ledger for one
// collection+scope and derives the projected view from them. Mutation
// handlers and the aggregator flush are serialized by one mutex, the Go
// rendition of the single-threaded event loop the design assumes.
type Engine struct {
	scope      string
	collection Collection
	viewerID   string
	writer     Writer
	roster     Roster

	heuristicWindow time.Duration
	onChange        func()
	onError         func(op, id string, err error)
	now             func() time.Time

	mu       sync.Mutex
	snapshot map[string]Entity
	ledger   *Ledger
	// correlation index: temporary identity -> confirmed server identity
	index map[string]string

	agg *Aggregator
}

func New(opts Options) (*Engine, error) {
	if opts.Scope == "" {
		return nil, fmt.Errorf("engine: scope is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("engine: collection is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("engine: writer is required")
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.HeuristicWindow <= 0 {
		opts.HeuristicWindow = DefaultHeuristicWindow
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}
	if opts.OnError == nil {
		opts.OnError = func(op, id string, err error) {
			log.Printf("engine: %s %s failed: %v", op, id, err)
		}
	}
	if opts.Roster == nil {
		opts.Roster = Roster{}
	}

	e := &Engine{
		scope:           opts.Scope,
		collection:      opts.Collection,
		viewerID:        opts.ViewerID,
		writer:          opts.Writer,
		roster:          opts.Roster,
		heuristicWindow: opts.HeuristicWindow,
		onChange:        opts.OnChange,
		onError:         opts.OnError,
		now:             time.Now,
		snapshot:        map[string]Entity{},
		ledger:          NewLedger(),
		index:           map[string]string{},
	}
	e.agg = NewAggregator(opts.DebounceWindow, e.applyFlush)
	return e, nil
}

// Close cancels the debounce timer and drops queued notifications.
// In-flight writes are not cancelled; their optimistic effects are
// abandoned with the engine.
func (e *Engine) Close() {
	e.agg.Close()
}

// HandleEvent decodes and scope-filters one pushed notification and queues
// it for the next batched transition. Invalid payloads degrade to an
// ignored notification, never a failure.
func (e *Engine) HandleEvent(ev realtime.Event) {
	if ev.Scope != e.scope || ev.Collection != string(e.collection) {
		return
	}
	change, err := decodeChange(ev)
	if err != nil {
		log.Printf("engine: ignoring notification for %s/%s: %v", ev.Scope, ev.Collection, err)
		return
	}
	e.agg.Intake(change)
}

// Consume feeds events from a subscription channel until it closes or ctx
// is cancelled, then shuts the aggregator down.
func (e *Engine) Consume(ctx context.Context, events <-chan realtime.Event) {
	defer e.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.HandleEvent(ev)
		}
	}
}

func decodeChange(ev realtime.Event) (Change, error) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var entity Entity
		if err := json.Unmarshal(ev.New, &entity); err != nil {
			return Change{}, fmt.Errorf("decode row: %w", err)
		}
		if strings.TrimSpace(entity.ID) == "" {
			return Change{}, fmt.Errorf("row without id")
		}
		if entity.Status == "" {
			entity.Status = StatusOpen
		}
		kind := ChangeInsert
		if ev.Type == realtime.EventUpdate {
			kind = ChangeUpdate
		}
		return Change{Kind: kind, ID: entity.ID, Entity: entity}, nil
	case realtime.EventDelete:
		if ev.Old == nil || ev.Old.ID == "" {
			return Change{}, fmt.Errorf("delete without id")
		}
		return Change{Kind: ChangeDelete, ID: ev.Old.ID}, nil
	default:
		return Change{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// applyFlush is the aggregator's flush callback: one batched snapshot
// transition followed by overlay eviction. It never fails; reconciliation
// has no external effects.
func (e *Engine) applyFlush(batch Batch) {
	e.mu.Lock()
	applyBatch(e.snapshot, batch, e.heuristicWindow)
	evictConfirmed(e.snapshot, e.ledger, e.index, e.heuristicWindow)
	e.mu.Unlock()
	e.onChange()
}

// ReplaceSnapshot installs an authoritative read, superseding any queued
// deltas, and retires overlays the fresh snapshot confirms.
func (e *Engine) ReplaceSnapshot(rows []Entity) {
	e.mu.Lock()
	e.snapshot = make(map[string]Entity, len(rows))
	for _, row := range rows {
		if row.ID == "" || terminalStatus(row.Status) {
			continue
		}
		e.snapshot[row.ID] = row.clone()
	}
	evictConfirmed(e.snapshot, e.ledger, e.index, e.heuristicWindow)
	e.mu.Unlock()
	e.onChange()
}

// View derives the projected sub-views from the current snapshot and
// overlays. Pure with respect to engine state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return project(e.snapshot, e.ledger, e.viewerID, e.roster)
}

// ResolveID translates a temporary identity to its confirmed server
// identity once known.
func (e *Engine) ResolveID(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if serverID, ok := e.index[id]; ok {
		return serverID
	}
	return id
}

// Add creates an entity optimistically and issues the create write with an
// embedded correlation marker. Returns the temporary identity; state is
// visible to View immediately.
func (e *Engine) Add(title string, fields FieldPatch) string {
	now := e.now()
	entity := fields.apply(Entity{
		ID:        util.NewTempID(),
		Title:     title,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	})

	e.mu.Lock()
	e.ledger.AddOptimistic(entity)
	e.mu.Unlock()
	e.onChange()

	payload := entity.clone()
	payload.SubItems = append(payload.SubItems, MarkerSubItem(entity.ID))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := e.writer.Create(ctx, e.scope, e.collection, payload); err != nil {
			e.mu.Lock()
			e.ledger.DiscardOptimisticAdd(entity.ID)
			e.mu.Unlock()
			e.onChange()
			e.onError("add", entity.ID, err)
		}
	}()
	return entity.ID
}

// Update merges a field patch into the entity's override and issues the
// write.
func (e *Engine) Update(id string, patch FieldPatch) {
	e.applyUpdate(id, patch, WriteUpdate{Action: ActionSetFields, Fields: patch})
}

// SetStatus transitions the entity's status; terminal statuses remove it
// from the active view on the next render.
func (e *Engine) SetStatus(id, status string) {
	patch := FieldPatch{Status: &status}
	e.applyUpdate(id, patch, WriteUpdate{Action: ActionSetStatus, Fields: patch})
}

// Claim assigns the entity to a member (or unassigns with an empty id).
func (e *Engine) Claim(id, memberID string) {
	patch := FieldPatch{AssigneeID: &memberID}
	e.applyUpdate(id, patch, WriteUpdate{Action: ActionClaim, Fields: patch})
}

// ToggleSubItem flips one sub-item's done flag.
func (e *Engine) ToggleSubItem(id, subItemID string) {
	e.mu.Lock()
	current, ok := e.presentedLocked(id)
	if !ok {
		e.mu.Unlock()
		return
	}
	items := make([]SubItem, len(current.SubItems))
	copy(items, current.SubItems)
	found := false
	for i := range items {
		if items[i].ID == subItemID {
			items[i].Done = !items[i].Done
			found = true
			break
		}
	}
	e.mu.Unlock()
	if !found {
		return
	}
	e.applyUpdate(id, FieldPatch{SubItems: items}, WriteUpdate{
		Action:    ActionToggleSubItem,
		SubItemID: subItemID,
	})
}

func (e *Engine) applyUpdate(id string, patch FieldPatch, upd WriteUpdate) {
	e.mu.Lock()
	prior, hadPrior := e.ledger.updates[id]
	e.ledger.UpdateOptimistic(id, patch)
	writeID := id
	if serverID, ok := e.index[id]; ok {
		writeID = serverID
	}
	e.mu.Unlock()
	e.onChange()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := e.writer.Update(ctx, e.scope, e.collection, writeID, upd); err != nil {
			e.mu.Lock()
			if hadPrior {
				e.ledger.updates[id] = prior
			} else {
				delete(e.ledger.updates, id)
			}
			e.mu.Unlock()
			e.onChange()
			e.onError(upd.Action, id, err)
		}
	}()
}

// Delete hides the entity immediately and issues the delete write. Deleting
// a not-yet-confirmed optimistic add just discards it locally; there is no
// server row to remove yet and the create marker will never be matched.
func (e *Engine) Delete(id string) {
	e.mu.Lock()
	if _, ok := e.ledger.addByID(id); ok {
		e.ledger.DiscardOptimisticAdd(id)
		e.mu.Unlock()
		e.onChange()
		return
	}
	e.ledger.MarkPendingDelete(id)
	writeID := id
	if serverID, ok := e.index[id]; ok {
		writeID = serverID
	}
	e.mu.Unlock()
	e.onChange()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := e.writer.Delete(ctx, e.scope, e.collection, writeID); err != nil {
			e.mu.Lock()
			e.ledger.UndoPendingDelete(id)
			e.mu.Unlock()
			e.onChange()
			e.onError("delete", id, err)
		}
	}()
}

// Restore undoes a pending delete before it is confirmed; the only path
// that returns a hidden id to the view.
func (e *Engine) Restore(id string) {
	e.mu.Lock()
	e.ledger.UndoPendingDelete(id)
	e.mu.Unlock()
	e.onChange()
}

// presentedLocked returns the entity as currently presented: the optimistic
// add or snapshot row with any update override applied.
func (e *Engine) presentedLocked(id string) (Entity, bool) {
	base, ok := e.ledger.addByID(id)
	if !ok {
		base, ok = e.snapshot[id]
		if !ok {
			return Entity{}, false
		}
		base = base.clone()
		base.SubItems = stripMarkers(base.SubItems)
	}
	if patch, ok := e.ledger.updates[id]; ok {
		base = patch.apply(base)
	}
	return base, true
}
