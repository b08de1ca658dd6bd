// Package audit delivers search audit records to durable or broadcast sinks.
//
// Sinks are composed: an AsyncSink sits in front of the request path and
// hands records to a background worker, which writes them to the configured
// backend (the SQLite search log, a Redis channel, or both through Tee).
package audit

import (
	"context"
	"errors"

	"github.com/rewired-gh/metroevents/internal/models"
)

// Sink accepts one audit record.
type Sink interface {
	Log(ctx context.Context, q models.SearchQuery) error
}

// Tee writes every record to each sink in order and joins their errors.
type Tee []Sink

// Log implements Sink.
func (t Tee) Log(ctx context.Context, q models.SearchQuery) error {
	var errs []error
	for _, s := range t {
		if err := s.Log(ctx, q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
