package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxItems = "choreboard_items"

// Meili implements Searcher plus indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the items index.
// The caller should proceed without it if the instance stays unhealthy;
// search falls back to Postgres FTS.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxItems,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxItems, err)
	}

	index := m.client.Index(idxItems)
	filterable := []interface{}{"householdId", "collection", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxItems, err)
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxItems, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the items index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:  limit,
		Offset: int64(q.Offset),
	}
	var filters []string
	if q.FilterHousehold != "" {
		filters = append(filters, fmt.Sprintf("householdId = %q", q.FilterHousehold))
	}
	if q.FilterCollection != "" {
		filters = append(filters, fmt.Sprintf("collection = %q", q.FilterCollection))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxItems).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, Result{
			ID:          decodeString(hit, "id"),
			Title:       decodeString(hit, "title"),
			Collection:  decodeString(hit, "collection"),
			HouseholdID: decodeString(hit, "householdId"),
			Status:      decodeString(hit, "status"),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexItem adds or updates one item in the search index.
func (m *Meili) IndexItem(record ItemRecord) error {
	_, err := m.client.Index(idxItems).AddDocuments([]ItemRecord{record}, nil)
	return err
}

// IndexItems bulk-indexes items.
func (m *Meili) IndexItems(records []ItemRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxItems).AddDocuments(records, nil)
	return err
}

// DeleteItem removes one item from the search index.
func (m *Meili) DeleteItem(id string) error {
	_, err := m.client.Index(idxItems).DeleteDocument(id, nil)
	return err
}
