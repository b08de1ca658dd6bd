// Package seed loads sample events from a YAML file into an empty store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
)

// File is the seed file layout.
type File struct {
	Entries []Entry `yaml:"events"`
}

// Entry is one seeded event. The start is either absolute (starts_on) or
// relative to the day of seeding (starts_in_days plus an optional at time).
type Entry struct {
	Title           string           `yaml:"title"`
	Category        string           `yaml:"category"`
	Tags            []string         `yaml:"tags"`
	StartsOn        *time.Time       `yaml:"starts_on"`
	StartsInDays    int              `yaml:"starts_in_days"`
	At              string           `yaml:"at"` // "15:04", UTC
	Duration        time.Duration    `yaml:"duration"`
	Venue           string           `yaml:"venue"`
	City            string           `yaml:"city"`
	LocationAddress string           `yaml:"location_address"`
	URL             string           `yaml:"url"`
	Latitude        *float64         `yaml:"latitude"`
	Longitude       *float64         `yaml:"longitude"`
	EntryPrice      *decimal.Decimal `yaml:"entry_price"`
	AgeRestriction  string           `yaml:"age_restriction"`
	MediaURL        string           `yaml:"media_url"`
	Description     string           `yaml:"description"`
}

// Store is the part of the event store seeding needs.
type Store interface {
	Count(ctx context.Context) (int, error)
	Add(ctx context.Context, ev *models.Event) error
}

// Load reads and decodes a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Events converts the entries to events, resolving relative starts against now.
func (f *File) Events(now time.Time) ([]models.Event, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	events := make([]models.Event, 0, len(f.Entries))
	for i, e := range f.Entries {
		start, err := e.start(today)
		if err != nil {
			return nil, fmt.Errorf("seed event %d (%q): %w", i, e.Title, err)
		}

		ev := models.Event{
			Title:           e.Title,
			Category:        e.Category,
			TagsCSV:         strings.Join(e.Tags, ","),
			StartsOn:        start,
			Venue:           e.Venue,
			City:            e.City,
			LocationAddress: e.LocationAddress,
			URL:             e.URL,
			Latitude:        e.Latitude,
			Longitude:       e.Longitude,
			EntryPrice:      e.EntryPrice,
			AgeRestriction:  e.AgeRestriction,
			MediaURL:        e.MediaURL,
			Description:     e.Description,
		}
		if e.Duration > 0 {
			end := start.Add(e.Duration)
			ev.EndsOn = &end
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("seed event %d (%q): %w", i, e.Title, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (e Entry) start(today time.Time) (time.Time, error) {
	if e.StartsOn != nil {
		return e.StartsOn.UTC(), nil
	}
	start := today.AddDate(0, 0, e.StartsInDays)
	if e.At == "" {
		return start, nil
	}
	clock, err := time.Parse("15:04", e.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid at %q: %w", e.At, err)
	}
	return start.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute), nil
}

// Apply seeds store from path when the store holds no events. It returns the
// number of events added.
func Apply(ctx context.Context, store Store, path string, now time.Time) (int, error) {
	if path == "" {
		return 0, nil
	}

	n, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Debug("Store holds %d events, skipping seed", n)
		return 0, nil
	}

	f, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("Seed file %s not found, skipping", path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	events, err := f.Events(now)
	if err != nil {
		return 0, err
	}
	for i := range events {
		if err := store.Add(ctx, &events[i]); err != nil {
			return i, fmt.Errorf("failed to seed %q: %w", events[i].Title, err)
		}
	}
	logger.Info("Seeded %d events from %s", len(events), path)
	return len(events), nil
}
