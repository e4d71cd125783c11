package app

import (
	"encoding/json"
	"time"

	"choreboard/api/internal/store"
)

// wireItem is the row shape shared by API responses and realtime change
// payloads. Field names match what reconciling clients decode.
type wireItem struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	AssigneeID string          `json:"assigneeId,omitempty"`
	Points     int             `json:"points,omitempty"`
	DueAt      *time.Time      `json:"dueAt,omitempty"`
	SubItems   []store.SubItem `json:"subItems,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func toWireItem(item store.Item) wireItem {
	return wireItem{
		ID:         item.ID,
		Title:      item.Title,
		Status:     item.Status,
		AssigneeID: item.AssigneeID,
		Points:     item.Points,
		DueAt:      item.DueAt,
		SubItems:   item.SubItems,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

func toWireItems(items []store.Item) []wireItem {
	out := make([]wireItem, 0, len(items))
	for _, item := range items {
		out = append(out, toWireItem(item))
	}
	return out
}

func marshalWireItem(item store.Item) (json.RawMessage, error) {
	return json.Marshal(toWireItem(item))
}
