package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"choreboard/api/internal/config"
	"choreboard/api/internal/realtime"
	"choreboard/api/internal/search"
	"choreboard/api/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	households map[string]store.Household
	members    []store.Member
	items      map[string]store.Item
	pingErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		households: map[string]store.Household{
			"hh-1": {ID: "hh-1", Name: "The Pattersons"},
		},
		members: []store.Member{
			{ID: "m-1", HouseholdID: "hh-1", Name: "Alex", Avatar: "fox"},
			{ID: "m-2", HouseholdID: "hh-1", Name: "Sam", Avatar: "owl"},
		},
		items: map[string]store.Item{},
	}
}

func itemKey(collection, id string) string { return collection + "/" + id }

func (f *fakeStore) ListItems(_ context.Context, householdID, collection string) ([]store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Item
	for key, item := range f.items {
		if strings.HasPrefix(key, collection+"/") && item.HouseholdID == householdID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) GetItem(_ context.Context, householdID, collection, id string) (store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemKey(collection, id)]
	if !ok || item.HouseholdID != householdID {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) InsertItem(_ context.Context, collection string, item store.Item) (store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	f.items[itemKey(collection, item.ID)] = item
	return item, nil
}

func (f *fakeStore) UpdateItem(_ context.Context, householdID, collection string, item store.Item) (store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prior, ok := f.items[itemKey(collection, item.ID)]
	if !ok || prior.HouseholdID != householdID {
		return store.Item{}, store.ErrNotFound
	}
	item.CreatedAt = prior.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	f.items[itemKey(collection, item.ID)] = item
	return item, nil
}

func (f *fakeStore) DeleteItem(_ context.Context, householdID, collection, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemKey(collection, id)]
	if !ok || item.HouseholdID != householdID {
		return false, nil
	}
	delete(f.items, itemKey(collection, id))
	return true, nil
}

func (f *fakeStore) ListMembers(_ context.Context, householdID string) ([]store.Member, error) {
	var out []store.Member
	for _, m := range f.members {
		if m.HouseholdID == householdID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetHousehold(_ context.Context, id string) (store.Household, error) {
	hh, ok := f.households[id]
	if !ok {
		return store.Household{}, store.ErrNotFound
	}
	return hh, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeBroker struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *fakeBroker) Publish(_ context.Context, event realtime.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBroker) last(t *testing.T) realtime.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		t.Fatal("no event published")
	}
	return b.events[len(b.events)-1]
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.ItemRecord
	deleted []string
}

func (s *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{{ID: "hit-1", Title: q.Text}}, Total: 1, Query: q.Text}
}

func (s *fakeSearch) IndexItem(record search.ItemRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, record)
}

func (s *fakeSearch) DeleteItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
}

type testAPI struct {
	server *httptest.Server
	store  *fakeStore
	broker *fakeBroker
	search *fakeSearch
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	fs := newFakeStore()
	fb := &fakeBroker{}
	fsearch := &fakeSearch{}
	service := New(config.Config{}, fs, fb, fsearch)
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return &testAPI{server: server, store: fs, broker: fb, search: fsearch}
}

func (a *testAPI) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (a *testAPI) seedTask(t *testing.T, item store.Item) store.Item {
	t.Helper()
	if item.HouseholdID == "" {
		item.HouseholdID = "hh-1"
	}
	if item.Status == "" {
		item.Status = "open"
	}
	inserted, err := a.store.InsertItem(context.Background(), "tasks", item)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return inserted
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestCreateItem(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.request(t, http.MethodPost, "/api/households/hh-1/tasks", map[string]any{
		"title":  "  Take out trash  ",
		"points": 3,
		"subItems": []map[string]any{
			{"id": "s1", "label": "bag it"},
			{"id": "cid-abc123", "label": "__choreboard_sync__", "done": true},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}

	id, _ := body["id"].(string)
	if !strings.HasPrefix(id, "tsk_") {
		t.Errorf("expected tsk_ prefixed id, got %q", id)
	}
	if body["title"] != "Take out trash" {
		t.Errorf("title should be trimmed, got %q", body["title"])
	}
	if body["status"] != "open" {
		t.Errorf("status should default to open, got %q", body["status"])
	}

	// the insert event carries the full row with the marker stored verbatim
	event := api.broker.last(t)
	if event.Type != realtime.EventInsert || event.Scope != "hh-1" || event.Collection != "tasks" {
		t.Errorf("wrong event envelope: %+v", event)
	}
	if !strings.Contains(string(event.New), "__choreboard_sync__") {
		t.Errorf("marker should round-trip through the change payload: %s", event.New)
	}

	api.search.mu.Lock()
	indexed := len(api.search.indexed)
	api.search.mu.Unlock()
	if indexed != 1 {
		t.Errorf("create should index the item, indexed %d", indexed)
	}
}

func TestCreateItemValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing title", "/api/households/hh-1/tasks", map[string]any{"title": "  "}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown status", "/api/households/hh-1/tasks", map[string]any{"title": "x", "status": "paused"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown collection", "/api/households/hh-1/chores", map[string]any{"title": "x"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown household", "/api/households/hh-404/tasks", map[string]any{"title": "x"}, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := api.request(t, http.MethodPost, tc.path, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tc.status, body)
			}
			if got := errorCode(body); got != tc.code {
				t.Errorf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

func TestListItems(t *testing.T) {
	api := newTestAPI(t)
	api.seedTask(t, store.Item{ID: "tsk_1", Title: "Dishes"})
	api.seedTask(t, store.Item{ID: "tsk_2", Title: "Laundry"})

	resp, body := api.request(t, http.MethodGet, "/api/households/hh-1/tasks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %v", body)
	}
}

func TestUpdateItemActions(t *testing.T) {
	api := newTestAPI(t)
	api.seedTask(t, store.Item{
		ID:       "tsk_1",
		Title:    "Groceries",
		SubItems: []store.SubItem{{ID: "s1", Label: "eggs"}},
	})

	resp, body := api.request(t, http.MethodPatch, "/api/households/hh-1/tasks/tsk_1", map[string]any{
		"action": "set_status", "status": "completed",
	})
	if resp.StatusCode != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("set_status failed: %d %v", resp.StatusCode, body)
	}
	if event := api.broker.last(t); event.Type != realtime.EventUpdate {
		t.Errorf("expected update event, got %+v", event)
	}

	resp, body = api.request(t, http.MethodPatch, "/api/households/hh-1/tasks/tsk_1", map[string]any{
		"action": "claim", "assigneeId": "m-1",
	})
	if resp.StatusCode != http.StatusOK || body["assigneeId"] != "m-1" {
		t.Fatalf("claim failed: %d %v", resp.StatusCode, body)
	}

	resp, body = api.request(t, http.MethodPatch, "/api/households/hh-1/tasks/tsk_1", map[string]any{
		"action": "toggle_subitem", "subItemId": "s1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle failed: %d %v", resp.StatusCode, body)
	}
	subItems, _ := body["subItems"].([]any)
	first, _ := subItems[0].(map[string]any)
	if first["done"] != true {
		t.Errorf("sub-item should be toggled done: %v", subItems)
	}

	// plain field patch with no action
	resp, body = api.request(t, http.MethodPatch, "/api/households/hh-1/tasks/tsk_1", map[string]any{
		"title": "Groceries for the week",
	})
	if resp.StatusCode != http.StatusOK || body["title"] != "Groceries for the week" {
		t.Fatalf("set_fields failed: %d %v", resp.StatusCode, body)
	}
}

func TestUpdateItemErrors(t *testing.T) {
	api := newTestAPI(t)
	api.seedTask(t, store.Item{ID: "tsk_1", Title: "Groceries"})

	cases := []struct {
		name   string
		id     string
		body   map[string]any
		status int
	}{
		{"unknown item", "tsk_404", map[string]any{"action": "claim", "assigneeId": "m-1"}, http.StatusNotFound},
		{"unknown action", "tsk_1", map[string]any{"action": "merge"}, http.StatusUnprocessableEntity},
		{"set_status without status", "tsk_1", map[string]any{"action": "set_status"}, http.StatusUnprocessableEntity},
		{"toggle without subItemId", "tsk_1", map[string]any{"action": "toggle_subitem"}, http.StatusUnprocessableEntity},
		{"toggle unknown subItem", "tsk_1", map[string]any{"action": "toggle_subitem", "subItemId": "nope"}, http.StatusUnprocessableEntity},
		{"empty title", "tsk_1", map[string]any{"title": " "}, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := api.request(t, http.MethodPatch, "/api/households/hh-1/tasks/"+tc.id, tc.body)
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tc.status, body)
			}
		})
	}
}

func TestDeleteItem(t *testing.T) {
	api := newTestAPI(t)
	api.seedTask(t, store.Item{ID: "tsk_1", Title: "Dishes"})

	resp, body := api.request(t, http.MethodDelete, "/api/households/hh-1/tasks/tsk_1", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("delete failed: %d %v", resp.StatusCode, body)
	}

	event := api.broker.last(t)
	if event.Type != realtime.EventDelete || event.Old == nil || event.Old.ID != "tsk_1" {
		t.Errorf("delete event wrong: %+v", event)
	}

	api.search.mu.Lock()
	deleted := api.search.deleted
	api.search.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "tsk_1" {
		t.Errorf("delete should drop the search document: %v", deleted)
	}

	resp, _ = api.request(t, http.MethodDelete, "/api/households/hh-1/tasks/tsk_1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete should 404, got %d", resp.StatusCode)
	}
}

func TestMembers(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.request(t, http.MethodGet, "/api/households/hh-1/members", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	members, _ := body["members"].([]any)
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %v", body)
	}

	resp, _ = api.request(t, http.MethodGet, "/api/households/hh-404/members", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown household should 404, got %d", resp.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.request(t, http.MethodGet, "/api/search?q=trash&household=hh-1&collection=tasks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["query"] != "trash" {
		t.Errorf("query echo missing: %v", body)
	}
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Errorf("expected 1 canned result, got %v", body)
	}
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.request(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("health failed: %d %v", resp.StatusCode, body)
	}

	resp, _ = api.request(t, http.MethodGet, "/api/ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready should pass with a healthy store, got %d", resp.StatusCode)
	}

	api.store.pingErr = fmt.Errorf("connection refused")
	resp, body = api.request(t, http.MethodGet, "/api/ready", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready should fail when the store is down, got %d", resp.StatusCode)
	}
	if body["status"] != "not_ready" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	api := newTestAPI(t)

	req, _ := http.NewRequest(http.MethodOptions, api.server.URL+"/api/households/hh-1/tasks", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
