package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewired-gh/metroevents/internal/models"
)

// Log appends one search audit record.
func (s *Store) Log(ctx context.Context, q models.SearchQuery) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("invalid search query: %w", err)
	}

	categories := q.Categories
	if categories == nil {
		categories = []string{}
	}
	cats, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO search_queries(id, categories_json, from_utc_ns, to_utc_ns, client_fingerprint, occurred_utc_ns, user_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, string(cats), nullableTime(q.FromUTC), nullableTime(q.ToUTC),
		q.ClientFingerprint, q.OccurredUTC.UTC().UnixNano(), nullableString(q.UserID))
	if err != nil {
		return fmt.Errorf("failed to insert search query: %w", err)
	}
	return nil
}

// RecentQueries returns up to limit audit records, oldest first among the
// newest limit. A non-positive limit returns every record.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]models.SearchQuery, error) {
	query := `
SELECT id, categories_json, from_utc_ns, to_utc_ns, client_fingerprint, occurred_utc_ns, user_id
FROM (
	SELECT rowid AS seq, * FROM search_queries ORDER BY occurred_utc_ns DESC, seq DESC LIMIT ?
) ORDER BY occurred_utc_ns, seq`
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search log: %w", err)
	}
	defer rows.Close()

	out := make([]models.SearchQuery, 0)
	for rows.Next() {
		var (
			q        models.SearchQuery
			cats     string
			from, to sql.NullInt64
			occurred int64
			userID   sql.NullString
		)
		if err := rows.Scan(&q.ID, &cats, &from, &to, &q.ClientFingerprint, &occurred, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan search query: %w", err)
		}
		if err := json.Unmarshal([]byte(cats), &q.Categories); err != nil {
			return nil, fmt.Errorf("invalid categories for query %s: %w", q.ID, err)
		}
		q.FromUTC = timeFromNullable(from)
		q.ToUTC = timeFromNullable(to)
		q.OccurredUTC = time.Unix(0, occurred).UTC()
		if userID.Valid {
			u := userID.String
			q.UserID = &u
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search log: %w", err)
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
