package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/metroevents/internal/models"
)

const eventColumns = `id, title, category, tags_csv, starts_on_ns, ends_on_ns, venue, city,
	location_address, url, latitude, longitude, entry_price, age_restriction,
	media_url, description, external_key`

// Get retrieves an event by ID.
func (s *Store) Get(ctx context.Context, id int64) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %d: %w", id, err)
	}
	return ev, nil
}

// FetchAll returns every event ordered by start time.
func (s *Store) FetchAll(ctx context.Context) ([]models.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starts_on_ns, id`)
}

// FetchFuture returns the events starting at or after now, ordered by start time.
func (s *Store) FetchFuture(ctx context.Context, now time.Time) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE starts_on_ns >= ? ORDER BY starts_on_ns, id`,
		now.UTC().UnixNano())
}

// FetchDistinctCategories returns the distinct non-empty categories, sorted.
func (s *Store) FetchDistinctCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM events WHERE TRIM(category) <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Add inserts a new event and sets its ID.
func (s *Store) Add(ctx context.Context, ev *models.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO events(title, category, tags_csv, starts_on_ns, ends_on_ns, venue, city,
	location_address, url, latitude, longitude, entry_price, age_restriction,
	media_url, description, external_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, insertArgs(ev)...)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event id: %w", err)
	}
	ev.ID = id
	return nil
}

// Update overwrites an existing event.
func (s *Store) Update(ctx context.Context, ev *models.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	args := append(insertArgs(ev), ev.ID)
	res, err := s.db.ExecContext(ctx, `
UPDATE events SET title = ?, category = ?, tags_csv = ?, starts_on_ns = ?, ends_on_ns = ?,
	venue = ?, city = ?, location_address = ?, url = ?, latitude = ?, longitude = ?,
	entry_price = ?, age_restriction = ?, media_url = ?, description = ?, external_key = ?
WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %d: %w", ev.ID, err)
	}
	return requireAffected(res, ev.ID)
}

// Delete removes an event.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event %d: %w", id, err)
	}
	return requireAffected(res, id)
}

// Upsert adds the event when its ID is zero and updates it otherwise.
func (s *Store) Upsert(ctx context.Context, ev *models.Event) error {
	if ev.ID == 0 {
		return s.Add(ctx, ev)
	}
	return s.Update(ctx, ev)
}

// UpsertByExternalKey writes imported events keyed by ExternalKey in one
// transaction. Events without a key are rejected. It returns how many rows
// were inserted and how many updated.
func (s *Store) UpsertByExternalKey(ctx context.Context, events []models.Event) (inserted, updated int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range events {
		ev := &events[i]
		if ev.ExternalKey == "" {
			return 0, 0, fmt.Errorf("event %q has no external key", ev.Title)
		}
		if err := ev.Validate(); err != nil {
			return 0, 0, fmt.Errorf("invalid event %q: %w", ev.ExternalKey, err)
		}

		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE external_key = ?`, ev.ExternalKey).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
INSERT INTO events(title, category, tags_csv, starts_on_ns, ends_on_ns, venue, city,
	location_address, url, latitude, longitude, entry_price, age_restriction,
	media_url, description, external_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, insertArgs(ev)...)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to insert event %q: %w", ev.ExternalKey, err)
			}
			if ev.ID, err = res.LastInsertId(); err != nil {
				return 0, 0, fmt.Errorf("failed to read event id: %w", err)
			}
			inserted++
		case err != nil:
			return 0, 0, fmt.Errorf("failed to look up event %q: %w", ev.ExternalKey, err)
		default:
			ev.ID = id
			if _, err := tx.ExecContext(ctx, `
UPDATE events SET title = ?, category = ?, tags_csv = ?, starts_on_ns = ?, ends_on_ns = ?,
	venue = ?, city = ?, location_address = ?, url = ?, latitude = ?, longitude = ?,
	entry_price = ?, age_restriction = ?, media_url = ?, description = ?, external_key = ?
WHERE id = ?`, append(insertArgs(ev), id)...); err != nil {
				return 0, 0, fmt.Errorf("failed to update event %q: %w", ev.ExternalKey, err)
			}
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return inserted, updated, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*models.Event, error) {
	var (
		ev          models.Event
		startsOn    int64
		endsOn      sql.NullInt64
		lat, lon    sql.NullFloat64
		price       sql.NullString
		externalKey sql.NullString
	)
	err := r.Scan(&ev.ID, &ev.Title, &ev.Category, &ev.TagsCSV, &startsOn, &endsOn,
		&ev.Venue, &ev.City, &ev.LocationAddress, &ev.URL, &lat, &lon, &price,
		&ev.AgeRestriction, &ev.MediaURL, &ev.Description, &externalKey)
	if err != nil {
		return nil, err
	}

	ev.StartsOn = time.Unix(0, startsOn).UTC()
	if endsOn.Valid {
		t := time.Unix(0, endsOn.Int64).UTC()
		ev.EndsOn = &t
	}
	if lat.Valid {
		ev.Latitude = &lat.Float64
	}
	if lon.Valid {
		ev.Longitude = &lon.Float64
	}
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("invalid entry price %q: %w", price.String, err)
		}
		ev.EntryPrice = &d
	}
	ev.ExternalKey = externalKey.String
	return &ev, nil
}

// insertArgs returns the column values in eventColumns order, minus id.
func insertArgs(ev *models.Event) []any {
	var endsOn, lat, lon, price, externalKey any
	if ev.EndsOn != nil {
		endsOn = ev.EndsOn.UTC().UnixNano()
	}
	if ev.Latitude != nil {
		lat = *ev.Latitude
	}
	if ev.Longitude != nil {
		lon = *ev.Longitude
	}
	if ev.EntryPrice != nil {
		price = ev.EntryPrice.String()
	}
	if ev.ExternalKey != "" {
		externalKey = ev.ExternalKey
	}
	return []any{
		strings.TrimSpace(ev.Title), strings.TrimSpace(ev.Category), ev.TagsCSV,
		ev.StartsOn.UTC().UnixNano(), endsOn, ev.Venue, ev.City, ev.LocationAddress,
		ev.URL, lat, lon, price, ev.AgeRestriction, ev.MediaURL, ev.Description, externalKey,
	}
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event %d: %w", id, ErrEventNotFound)
	}
	return nil
}
