// Package realtime carries per-row change events between the write layer
// and subscribed clients over Redis pub/sub. Delivery is at-least-once and
// may be unordered or duplicated; consumers are expected to tolerate both.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is the wire envelope for one row change. New holds the full row for
// inserts and updates; Old carries only the id for deletes. The payload is
// left raw so consumers can run their own validating decode.
type Event struct {
	Type       EventType       `json:"eventType"`
	Scope      string          `json:"scope"`
	Collection string          `json:"collection"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        *EventRef       `json:"old,omitempty"`
}

type EventRef struct {
	ID string `json:"id"`
}

func (e Event) validate() error {
	switch e.Type {
	case EventInsert, EventUpdate:
		if len(e.New) == 0 {
			return fmt.Errorf("%s event without new row", e.Type)
		}
	case EventDelete:
		if e.Old == nil || strings.TrimSpace(e.Old.ID) == "" {
			return fmt.Errorf("delete event without old id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if strings.TrimSpace(e.Scope) == "" {
		return fmt.Errorf("event without scope")
	}
	return nil
}
