package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// collectionTables whitelists the synced collections; table names are never
// interpolated from caller input directly.
var collectionTables = map[string]string{
	"tasks":      "tasks",
	"rewards":    "rewards",
	"list_items": "list_items",
}

func tableFor(collection string) (string, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return table, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListItems(ctx context.Context, householdID, collection string) ([]Item, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, household_id, title, status, assignee_id, points, due_at, sub_items, created_at, updated_at
		FROM %s
		WHERE household_id = $1
		ORDER BY created_at DESC, id DESC
	`, table)
	rows, err := s.db.QueryContext(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetItem(ctx context.Context, householdID, collection, id string) (Item, error) {
	table, err := tableFor(collection)
	if err != nil {
		return Item{}, err
	}
	query := fmt.Sprintf(`
		SELECT id, household_id, title, status, assignee_id, points, due_at, sub_items, created_at, updated_at
		FROM %s
		WHERE household_id = $1 AND id = $2
	`, table)
	item, err := scanItem(s.db.QueryRowContext(ctx, query, householdID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	return item, nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, collection string, item Item) (Item, error) {
	table, err := tableFor(collection)
	if err != nil {
		return Item{}, err
	}
	subItems, err := json.Marshal(item.SubItems)
	if err != nil {
		return Item{}, fmt.Errorf("marshal sub items: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, household_id, title, status, assignee_id, points, due_at, sub_items)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		RETURNING created_at, updated_at
	`, table)
	err = s.db.QueryRowContext(ctx, query,
		item.ID, item.HouseholdID, item.Title, item.Status, item.AssigneeID, item.Points, item.DueAt, subItems,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("insert %s: %w", collection, err)
	}
	return item, nil
}

// UpdateItem replaces the item's mutable fields, preserving created_at.
// Returns ErrNotFound when no row matches.
func (s *PostgresStore) UpdateItem(ctx context.Context, householdID, collection string, item Item) (Item, error) {
	table, err := tableFor(collection)
	if err != nil {
		return Item{}, err
	}
	subItems, err := json.Marshal(item.SubItems)
	if err != nil {
		return Item{}, fmt.Errorf("marshal sub items: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $3, status = $4, assignee_id = NULLIF($5, ''), points = $6, due_at = $7, sub_items = $8, updated_at = NOW()
		WHERE household_id = $1 AND id = $2
		RETURNING created_at, updated_at
	`, table)
	err = s.db.QueryRowContext(ctx, query,
		householdID, item.ID, item.Title, item.Status, item.AssigneeID, item.Points, item.DueAt, subItems,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("update %s %s: %w", collection, item.ID, err)
	}
	item.HouseholdID = householdID
	return item, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, householdID, collection, id string) (bool, error) {
	table, err := tableFor(collection)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE household_id = $1 AND id = $2`, table)
	result, err := s.db.ExecContext(ctx, query, householdID, id)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, householdID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, household_id, name, COALESCE(avatar, ''), created_at
		FROM members
		WHERE household_id = $1
		ORDER BY name
	`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.HouseholdID, &m.Name, &m.Avatar, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) GetHousehold(ctx context.Context, id string) (Household, error) {
	var h Household
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM households WHERE id = $1`, id).
		Scan(&h.ID, &h.Name, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Household{}, ErrNotFound
	}
	if err != nil {
		return Household{}, fmt.Errorf("get household %s: %w", id, err)
	}
	return h, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item         Item
		assigneeID   sql.NullString
		dueAt        sql.NullTime
		subItemsJSON []byte
	)
	err := row.Scan(
		&item.ID, &item.HouseholdID, &item.Title, &item.Status,
		&assigneeID, &item.Points, &dueAt, &subItemsJSON,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Item{}, err
	}
	if assigneeID.Valid {
		item.AssigneeID = assigneeID.String
	}
	if dueAt.Valid {
		due := dueAt.Time
		item.DueAt = &due
	}
	if len(subItemsJSON) > 0 {
		if err := json.Unmarshal(subItemsJSON, &item.SubItems); err != nil {
			return Item{}, fmt.Errorf("decode sub items: %w", err)
		}
	}
	return item, nil
}
