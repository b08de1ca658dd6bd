package models

import (
	"errors"
	"time"
)

// SearchQuery is the audit record written for every search request.
type SearchQuery struct {
	ID                string     `json:"id"`
	Categories        []string   `json:"categories"`
	FromUTC           *time.Time `json:"from_utc,omitempty"`
	ToUTC             *time.Time `json:"to_utc,omitempty"`
	ClientFingerprint string     `json:"client_fingerprint"`
	OccurredUTC       time.Time  `json:"occurred_utc"`
	UserID            *string    `json:"user_id,omitempty"` // set only for identified callers
}

// Validate checks that all search query fields are valid
func (q *SearchQuery) Validate() error {
	if q.ID == "" {
		return errors.New("search query ID must not be empty")
	}
	if q.OccurredUTC.IsZero() {
		return errors.New("occurred at must be set")
	}
	if q.OccurredUTC.After(time.Now().Add(time.Minute)) {
		return errors.New("occurred at must not be in the future")
	}
	return nil
}
