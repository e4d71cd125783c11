package store

import "time"

type Household struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Member struct {
	ID          string
	HouseholdID string
	Name        string
	Avatar      string
	CreatedAt   time.Time
}

// SubItem is one ordered child of an item, stored as jsonb. Correlation
// marker sub-items submitted by clients are stored verbatim; the write
// layer never interprets them.
type SubItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Item is a row of one of the synced collections (tasks, rewards,
// list_items); the three tables share this shape.
type Item struct {
	ID          string
	HouseholdID string
	Title       string
	Status      string
	AssigneeID  string
	Points      int
	DueAt       *time.Time
	SubItems    []SubItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
