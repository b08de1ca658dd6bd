package ics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
)

const maxConcurrentFetches = 4

// keySpace namespaces the name-based UUIDs used as external keys.
var keySpace = uuid.MustParse("6f1c2a52-3f5e-4c1b-9d7e-8a0d5b7e4c21")

// Feed is one calendar subscription.
type Feed struct {
	Name            string
	URL             string
	DefaultCategory string // used when a VEVENT has no CATEGORIES
	City            string
}

// Fetcher downloads a feed body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Upserter writes imported events keyed by ExternalKey.
type Upserter interface {
	UpsertByExternalKey(ctx context.Context, events []models.Event) (inserted, updated int, err error)
}

// ImportError is a non-fatal problem with one feed or one VEVENT.
type ImportError struct {
	Feed string
	UID  string
	Err  error
}

func (e ImportError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("import error for feed %s: %v", e.Feed, e.Err)
	}
	return fmt.Sprintf("import error for feed %s event %s: %v", e.Feed, e.UID, e.Err)
}

func (e ImportError) Unwrap() error { return e.Err }

// Result summarises one import run.
type Result struct {
	Feeds    int
	Events   int
	Inserted int
	Updated  int
}

// Importer pulls feeds into the event store.
type Importer struct {
	fetcher        Fetcher
	store          Upserter
	feeds          []Feed
	horizon        time.Duration
	maxOccurrences int
	now            func() time.Time
}

// NewImporter creates an importer that keeps occurrences starting within
// horizon from the time of each run.
func NewImporter(fetcher Fetcher, store Upserter, feeds []Feed, horizon time.Duration) *Importer {
	return &Importer{
		fetcher: fetcher,
		store:   store,
		feeds:   feeds,
		horizon: horizon,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run imports every feed. Feeds are fetched concurrently and written in
// configuration order. A failing feed or VEVENT is reported in the error
// slice and skipped; the returned error is reserved for ctx cancellation.
func (im *Importer) Run(ctx context.Context) (Result, []ImportError, error) {
	var (
		res  Result
		errs []ImportError
	)
	if err := ctx.Err(); err != nil {
		return res, errs, err
	}
	from := im.now()
	to := from.Add(im.horizon)

	type collected struct {
		events []models.Event
		errs   []ImportError
	}
	results := make([]collected, len(im.feeds))

	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)
	for i, feed := range im.feeds {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			events, feedErrs := im.collect(ctx, feed, from, to)
			results[i] = collected{events: events, errs: feedErrs}
			return nil
		})
	}
	_ = g.Wait()

	for i, feed := range im.feeds {
		if err := ctx.Err(); err != nil {
			return res, errs, err
		}

		errs = append(errs, results[i].errs...)
		events := results[i].events
		if events == nil {
			continue
		}

		ins, upd, err := im.store.UpsertByExternalKey(ctx, events)
		if err != nil {
			errs = append(errs, ImportError{Feed: feed.Name, Err: err})
			continue
		}
		res.Feeds++
		res.Events += len(events)
		res.Inserted += ins
		res.Updated += upd
		logger.Info("Imported feed %s: %d events (%d new, %d updated)", feed.Name, len(events), ins, upd)
	}

	for _, e := range errs {
		logger.Warn("%v", e)
	}
	return res, errs, nil
}

// collect fetches, parses and expands one feed. A nil slice means the feed
// could not be read at all.
func (im *Importer) collect(ctx context.Context, feed Feed, from, to time.Time) ([]models.Event, []ImportError) {
	body, err := im.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return nil, []ImportError{{Feed: feed.Name, Err: err}}
	}

	vevents, parseErrs, err := Parse(body)
	if err != nil {
		return nil, []ImportError{{Feed: feed.Name, Err: err}}
	}

	var errs []ImportError
	for _, pe := range parseErrs {
		errs = append(errs, ImportError{Feed: feed.Name, Err: pe})
	}

	events := make([]models.Event, 0, len(vevents))
	for _, ve := range vevents {
		occs, truncated, err := Expand(ve, from, to, im.maxOccurrences)
		if err != nil {
			errs = append(errs, ImportError{Feed: feed.Name, UID: ve.UID, Err: err})
			continue
		}
		if truncated {
			logger.Warn("Feed %s event %s: occurrences truncated", feed.Name, ve.UID)
		}
		for _, occ := range occs {
			ev := toEvent(feed, ve, occ)
			if err := ev.Validate(); err != nil {
				errs = append(errs, ImportError{Feed: feed.Name, UID: ve.UID, Err: err})
				continue
			}
			events = append(events, ev)
		}
	}
	return events, errs
}

func toEvent(feed Feed, ve VEvent, occ Occurrence) models.Event {
	category := feed.DefaultCategory
	var tags []string
	if len(ve.Categories) > 0 {
		category = ve.Categories[0]
		tags = ve.Categories[1:]
	}

	description := strings.TrimSpace(ve.Description)
	if description == "" {
		description = ve.Summary
	}

	ev := models.Event{
		Title:       strings.TrimSpace(ve.Summary),
		Category:    category,
		TagsCSV:     strings.Join(tags, ","),
		StartsOn:    occ.Start,
		Venue:       ve.Location,
		City:        feed.City,
		URL:         ve.URL,
		Description: description,
		ExternalKey: ExternalKey(feed.Name, ve.UID, occ.Start),
	}
	if !occ.End.IsZero() {
		end := occ.End
		ev.EndsOn = &end
	}
	return ev
}

// ExternalKey derives a stable key for one occurrence of a feed event.
func ExternalKey(feed, uid string, start time.Time) string {
	name := feed + "\x00" + uid + "\x00" + start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(keySpace, []byte(name)).String()
}
