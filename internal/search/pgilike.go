package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher with a plain ILIKE scan as a fallback. Lead
// volume per company is small enough that the sequential scan is fine.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL substring searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search matches the query text as a substring of the lead's name, phone,
// email or notes, within the caller's scope.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
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

	where := []string{`(l.name ILIKE '%' || $1 || '%'
		OR l.phone ILIKE '%' || $1 || '%'
		OR COALESCE(l.email, '') ILIKE '%' || $1 || '%'
		OR l.notes ILIKE '%' || $1 || '%')`}
	args := []any{q.Text}
	argN := 2

	if q.CompanyID != "" {
		where = append(where, fmt.Sprintf("l.company_id = $%d", argN))
		args = append(args, q.CompanyID)
		argN++
	}
	if len(q.OwnerIDs) > 0 {
		marks := make([]string, len(q.OwnerIDs))
		for i, id := range q.OwnerIDs {
			marks[i] = fmt.Sprintf("$%d", argN)
			args = append(args, id)
			argN++
		}
		where = append(where, fmt.Sprintf("l.owner_id IN (%s)", strings.Join(marks, ",")))
	}

	condition := strings.Join(where, " AND ")
	ctx := context.Background()

	var total int
	countSQL := "SELECT COUNT(*) FROM leads l WHERE " + condition
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT l.id, l.name, l.phone, l.status, l.owner_id, u.name, l.company_id, l.is_priority
		FROM leads l
		JOIN users u ON u.id = l.owner_id
		WHERE %s
		ORDER BY l.created_at DESC
		LIMIT %d OFFSET %d`, condition, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Status, &r.OwnerID, &r.OwnerName, &r.CompanyID, &r.IsPriority); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every lead for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]LeadRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT l.id, l.name, l.phone, COALESCE(l.email, ''), l.status, l.notes,
			l.owner_id, u.name, l.company_id, l.is_priority
		FROM leads l
		JOIN users u ON u.id = l.owner_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load leads: %w", err)
	}
	defer rows.Close()

	leads := make([]LeadRecord, 0)
	for rows.Next() {
		var lead LeadRecord
		if err := rows.Scan(&lead.ID, &lead.Name, &lead.Phone, &lead.Email, &lead.Status, &lead.Notes,
			&lead.OwnerID, &lead.OwnerName, &lead.CompanyID, &lead.IsPriority); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}
