// Package client is the HTTP write-layer client used by reconciling
// consumers. It implements engine.Writer against the choreboard API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"choreboard/api/internal/engine"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) itemsURL(scope string, collection engine.Collection) string {
	return fmt.Sprintf("%s/api/households/%s/%s", c.baseURL, scope, collection)
}

// List performs the authoritative read for one collection.
func (c *Client) List(ctx context.Context, scope string, collection engine.Collection) ([]engine.Entity, error) {
	var out struct {
		Items []engine.Entity `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, c.itemsURL(scope, collection), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Members fetches the household roster for projection fill-in.
func (c *Client) Members(ctx context.Context, scope string) (engine.Roster, error) {
	var out struct {
		Members []engine.Member `json:"members"`
	}
	url := fmt.Sprintf("%s/api/households/%s/members", c.baseURL, scope)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	roster := make(engine.Roster, len(out.Members))
	for _, m := range out.Members {
		roster[m.ID] = m
	}
	return roster, nil
}

// Create issues the create write. The entity already carries the
// correlation marker sub-item the engine embedded.
func (c *Client) Create(ctx context.Context, scope string, collection engine.Collection, e engine.Entity) error {
	body := map[string]any{
		"title":      e.Title,
		"status":     e.Status,
		"assigneeId": e.AssigneeID,
		"points":     e.Points,
		"subItems":   e.SubItems,
	}
	if e.DueAt != nil {
		body["dueAt"] = e.DueAt
	}
	return c.do(ctx, http.MethodPost, c.itemsURL(scope, collection), body, nil)
}

type updateBody struct {
	Action     string           `json:"action"`
	Title      *string          `json:"title,omitempty"`
	Status     *string          `json:"status,omitempty"`
	AssigneeID *string          `json:"assigneeId,omitempty"`
	Points     *int             `json:"points,omitempty"`
	DueAt      *time.Time       `json:"dueAt,omitempty"`
	ClearDueAt bool             `json:"clearDueAt,omitempty"`
	SubItems   []engine.SubItem `json:"subItems,omitempty"`
	SubItemID  string           `json:"subItemId,omitempty"`
}

// Update issues an action-discriminated update write.
func (c *Client) Update(ctx context.Context, scope string, collection engine.Collection, id string, upd engine.WriteUpdate) error {
	body := updateBody{
		Action:     upd.Action,
		Title:      upd.Fields.Title,
		Status:     upd.Fields.Status,
		AssigneeID: upd.Fields.AssigneeID,
		Points:     upd.Fields.Points,
		DueAt:      upd.Fields.DueAt,
		ClearDueAt: upd.Fields.ClearDueAt,
		SubItems:   upd.Fields.SubItems,
		SubItemID:  upd.SubItemID,
	}
	url := fmt.Sprintf("%s/%s", c.itemsURL(scope, collection), id)
	return c.do(ctx, http.MethodPatch, url, body, nil)
}

// Delete issues the delete write.
func (c *Client) Delete(ctx context.Context, scope string, collection engine.Collection, id string) error {
	url := fmt.Sprintf("%s/%s", c.itemsURL(scope, collection), id)
	return c.do(ctx, http.MethodDelete, url, nil, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Errorf("api %d %s: %s", resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("api returned status %d", resp.StatusCode)
}
