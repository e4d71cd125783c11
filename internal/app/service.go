package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"choreboard/api/internal/config"
	"choreboard/api/internal/realtime"
	"choreboard/api/internal/search"
	"choreboard/api/internal/store"
	"choreboard/api/internal/util"
)

var allowedCollections = map[string]struct{}{
	"tasks":      {},
	"rewards":    {},
	"list_items": {},
}

var allowedStatuses = map[string]struct{}{
	"open":      {},
	"completed": {},
	"archived":  {},
}

var idPrefixes = map[string]string{
	"tasks":      "tsk",
	"rewards":    "rwd",
	"list_items": "itm",
}

// CreateItemInput is the create payload. Sub-items are stored verbatim,
// including any correlation marker the client embedded; pushing the row
// back out with the marker intact is what lets that client attribute the
// change notification to its own optimistic entry.
type CreateItemInput struct {
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	AssigneeID string          `json:"assigneeId"`
	Points     int             `json:"points"`
	DueAt      *time.Time      `json:"dueAt"`
	SubItems   []store.SubItem `json:"subItems"`
}

// UpdateItemInput is the action-discriminated update payload.
type UpdateItemInput struct {
	Action     string          `json:"action"`
	Title      *string         `json:"title"`
	Status     *string         `json:"status"`
	AssigneeID *string         `json:"assigneeId"`
	Points     *int            `json:"points"`
	DueAt      *time.Time      `json:"dueAt"`
	ClearDueAt bool            `json:"clearDueAt"`
	SubItems   []store.SubItem `json:"subItems"`
	SubItemID  string          `json:"subItemId"`
}

// Update actions accepted by the write layer.
const (
	actionSetFields     = "set_fields"
	actionSetStatus     = "set_status"
	actionClaim         = "claim"
	actionToggleSubItem = "toggle_subitem"
)

type dataStore interface {
	ListItems(ctx context.Context, householdID, collection string) ([]store.Item, error)
	GetItem(ctx context.Context, householdID, collection, id string) (store.Item, error)
	InsertItem(ctx context.Context, collection string, item store.Item) (store.Item, error)
	UpdateItem(ctx context.Context, householdID, collection string, item store.Item) (store.Item, error)
	DeleteItem(ctx context.Context, householdID, collection, id string) (bool, error)
	ListMembers(ctx context.Context, householdID string) ([]store.Member, error)
	GetHousehold(ctx context.Context, id string) (store.Household, error)
	Ping(ctx context.Context) error
}

type changePublisher interface {
	Publish(ctx context.Context, event realtime.Event) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexItem(record search.ItemRecord)
	DeleteItem(id string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	broker changePublisher
	search searchService
}

func New(cfg config.Config, dataStore dataStore, broker changePublisher, searchService searchService) *Service {
	return &Service{cfg: cfg, store: dataStore, broker: broker, search: searchService}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListItems(ctx context.Context, householdID, collection string) ([]store.Item, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, householdID, collection)
}

func (s *Service) CreateItem(ctx context.Context, householdID, collection string, input CreateItemInput) (store.Item, error) {
	if err := validateCollection(collection); err != nil {
		return store.Item{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	status := input.Status
	if status == "" {
		status = "open"
	}
	if _, ok := allowedStatuses[status]; !ok {
		return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": status})
	}
	if _, err := s.store.GetHousehold(ctx, householdID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Item{}, domainError(http.StatusNotFound, "NOT_FOUND", "household not found", nil)
		}
		return store.Item{}, err
	}

	item := store.Item{
		ID:          util.NewID(idPrefixes[collection]),
		HouseholdID: householdID,
		Title:       strings.TrimSpace(input.Title),
		Status:      status,
		AssigneeID:  input.AssigneeID,
		Points:      input.Points,
		DueAt:       input.DueAt,
		SubItems:    input.SubItems,
	}
	item, err := s.store.InsertItem(ctx, collection, item)
	if err != nil {
		return store.Item{}, err
	}

	s.publishChange(ctx, realtime.EventInsert, collection, item, "")
	s.indexItem(collection, item)
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, householdID, collection, id string, input UpdateItemInput) (store.Item, error) {
	if err := validateCollection(collection); err != nil {
		return store.Item{}, err
	}

	item, err := s.store.GetItem(ctx, householdID, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Item{}, domainError(http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	}
	if err != nil {
		return store.Item{}, err
	}

	switch input.Action {
	case actionSetFields, "":
		if input.Title != nil {
			if strings.TrimSpace(*input.Title) == "" {
				return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be empty", nil)
			}
			item.Title = strings.TrimSpace(*input.Title)
		}
		if input.Status != nil {
			if _, ok := allowedStatuses[*input.Status]; !ok {
				return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": *input.Status})
			}
			item.Status = *input.Status
		}
		if input.AssigneeID != nil {
			item.AssigneeID = *input.AssigneeID
		}
		if input.Points != nil {
			item.Points = *input.Points
		}
		if input.DueAt != nil {
			item.DueAt = input.DueAt
		}
		if input.ClearDueAt {
			item.DueAt = nil
		}
		if input.SubItems != nil {
			item.SubItems = input.SubItems
		}
	case actionSetStatus:
		if input.Status == nil {
			return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status is required", nil)
		}
		if _, ok := allowedStatuses[*input.Status]; !ok {
			return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": *input.Status})
		}
		item.Status = *input.Status
	case actionClaim:
		if input.AssigneeID == nil {
			return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assigneeId is required", nil)
		}
		item.AssigneeID = *input.AssigneeID
	case actionToggleSubItem:
		if input.SubItemID == "" {
			return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subItemId is required", nil)
		}
		found := false
		for i := range item.SubItems {
			if item.SubItems[i].ID == input.SubItemID {
				item.SubItems[i].Done = !item.SubItems[i].Done
				found = true
				break
			}
		}
		if !found {
			return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown sub item", map[string]any{"subItemId": input.SubItemID})
		}
	default:
		return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown action", map[string]any{"action": input.Action})
	}

	item, err = s.store.UpdateItem(ctx, householdID, collection, item)
	if errors.Is(err, store.ErrNotFound) {
		return store.Item{}, domainError(http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	}
	if err != nil {
		return store.Item{}, err
	}

	s.publishChange(ctx, realtime.EventUpdate, collection, item, "")
	s.indexItem(collection, item)
	return item, nil
}

func (s *Service) DeleteItem(ctx context.Context, householdID, collection, id string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	deleted, err := s.store.DeleteItem(ctx, householdID, collection, id)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	}

	s.publishChange(ctx, realtime.EventDelete, collection, store.Item{ID: id, HouseholdID: householdID}, id)
	if s.search != nil {
		s.search.DeleteItem(id)
	}
	return nil
}

func (s *Service) Members(ctx context.Context, householdID string) ([]store.Member, error) {
	if _, err := s.store.GetHousehold(ctx, householdID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "household not found", nil)
		}
		return nil, err
	}
	return s.store.ListMembers(ctx, householdID)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// publishChange emits the row change to the realtime channel. Best effort:
// a missed delta is superseded by the next authoritative read, so a publish
// failure is logged, not returned.
func (s *Service) publishChange(ctx context.Context, eventType realtime.EventType, collection string, item store.Item, deletedID string) {
	if s.broker == nil {
		return
	}
	event := realtime.Event{
		Type:       eventType,
		Scope:      item.HouseholdID,
		Collection: collection,
	}
	if eventType == realtime.EventDelete {
		event.Old = &realtime.EventRef{ID: deletedID}
	} else {
		payload, err := marshalWireItem(item)
		if err != nil {
			log.Printf("app: marshal change payload for %s: %v", item.ID, err)
			return
		}
		event.New = payload
	}
	if err := s.broker.Publish(ctx, event); err != nil {
		log.Printf("app: publish %s change for %s: %v", eventType, collection, err)
	}
}

func (s *Service) indexItem(collection string, item store.Item) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(search.ItemRecord{
		ID:          item.ID,
		Title:       item.Title,
		Collection:  collection,
		HouseholdID: item.HouseholdID,
		Status:      item.Status,
	})
}

func validateCollection(collection string) error {
	if _, ok := allowedCollections[collection]; !ok {
		return domainError(http.StatusNotFound, "NOT_FOUND", "unknown collection", map[string]any{"collection": collection})
	}
	return nil
}
