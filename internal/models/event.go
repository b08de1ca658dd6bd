// Package models defines the core domain entities for the metroevents application.
// These models represent scheduled public events, calendar dates, and audited search queries.
// All models include built-in validation to ensure data integrity throughout the application.
//
// Terminology:
//   - Event: a scheduled public happening with one category and optional free-text tags.
//   - Date: a UTC calendar day, the key of the index's by-date view.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event represents a scheduled public happening.
//
// Events are created, updated and deleted only through the event store; the
// index holds read-only copies taken during a rebuild.
type Event struct {
	ID              int64            `json:"id" yaml:"id"`
	Title           string           `json:"title" yaml:"title"`
	Category        string           `json:"category" yaml:"category"`
	TagsCSV         string           `json:"tags,omitempty" yaml:"tags"` // comma-separated, optional
	StartsOn        time.Time        `json:"starts_on" yaml:"starts_on"` // UTC
	EndsOn          *time.Time       `json:"ends_on,omitempty" yaml:"ends_on"`
	Venue           string           `json:"venue,omitempty" yaml:"venue"`
	City            string           `json:"city,omitempty" yaml:"city"`
	LocationAddress string           `json:"location_address,omitempty" yaml:"location_address"`
	URL             string           `json:"url,omitempty" yaml:"url"`
	Latitude        *float64         `json:"latitude,omitempty" yaml:"latitude"`
	Longitude       *float64         `json:"longitude,omitempty" yaml:"longitude"`
	EntryPrice      *decimal.Decimal `json:"entry_price,omitempty" yaml:"entry_price"`
	AgeRestriction  string           `json:"age_restriction,omitempty" yaml:"age_restriction"` // "All ages", "13+", "18+"
	MediaURL        string           `json:"media_url,omitempty" yaml:"media_url"`
	Description     string           `json:"description" yaml:"description"`

	// ExternalKey identifies events imported from a feed so re-imports update
	// instead of duplicating. Empty for events entered by hand.
	ExternalKey string `json:"-" yaml:"-"`
}

// Validate checks that all event fields are valid.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return errors.New("event title must not be empty")
	}
	if strings.TrimSpace(e.Category) == "" {
		return errors.New("event category must not be empty")
	}
	if strings.TrimSpace(e.Description) == "" {
		return errors.New("event description must not be empty")
	}
	if e.StartsOn.IsZero() {
		return errors.New("event start must be set")
	}
	if e.EndsOn != nil && e.EndsOn.Before(e.StartsOn) {
		return errors.New("event end must not be before its start")
	}
	if e.Latitude != nil && (*e.Latitude < -90 || *e.Latitude > 90) {
		return errors.New("latitude must be between -90 and 90")
	}
	if e.Longitude != nil && (*e.Longitude < -180 || *e.Longitude > 180) {
		return errors.New("longitude must be between -180 and 180")
	}
	if e.EntryPrice != nil && e.EntryPrice.IsNegative() {
		return errors.New("entry price must not be negative")
	}
	return nil
}

// Tags returns the trimmed, non-empty entries of TagsCSV.
func (e *Event) Tags() []string {
	if e.TagsCSV == "" {
		return nil
	}
	parts := strings.Split(e.TagsCSV, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// StartDate returns the UTC calendar date the event starts on.
func (e *Event) StartDate() Date {
	return DateOf(e.StartsOn)
}
