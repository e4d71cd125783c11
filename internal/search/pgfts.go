package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var ftsTables = map[string]string{
	"tasks":      "tasks",
	"rewards":    "rewards",
	"list_items": "list_items",
}

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL query across the collection tables using
// plainto_tsquery and ts_rank on the title.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var householdFilter string
	if q.FilterHousehold != "" {
		householdFilter = fmt.Sprintf(" AND t.household_id = $%d", argN)
		args = append(args, q.FilterHousehold)
		argN++
	}

	var subQueries []string
	for collection, table := range ftsTables {
		if q.FilterCollection != "" && q.FilterCollection != collection {
			continue
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS collection, t.id, t.title, t.household_id, t.status,
				ts_rank(to_tsvector('english', t.title), %s) AS rank
			FROM %s t
			WHERE to_tsvector('english', t.title) @@ %s%s`,
			collection, tsQuery, table, tsQuery, householdFilter))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT collection, id, title, household_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Collection, &r.ID, &r.Title, &r.HouseholdID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable items for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, error) {
	var records []ItemRecord
	for collection, table := range ftsTables {
		rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, title, household_id, status FROM %s
		`, table))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", collection, err)
		}
		for rows.Next() {
			r := ItemRecord{Collection: collection}
			if err := rows.Scan(&r.ID, &r.Title, &r.HouseholdID, &r.Status); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", collection, err)
			}
			records = append(records, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate %s: %w", collection, err)
		}
		rows.Close()
	}
	return records, nil
}
