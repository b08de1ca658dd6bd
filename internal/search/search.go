// Package search runs filtered event searches against the shared index.
//
// A Service warms the index lazily from the event store on first use, writes
// an audit record for every request, feeds the requested categories into the
// index's recent-query log and returns the matches ordered by start time.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/metroevents/internal/index"
	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
)

// EventStore supplies the events the index is built from.
type EventStore interface {
	FetchFuture(ctx context.Context, now time.Time) ([]models.Event, error)
}

// AuditSink records search requests. Failures never reach the caller of Search.
type AuditSink interface {
	Log(ctx context.Context, q models.SearchQuery) error
}

// Request is one search.
type Request struct {
	Categories        []string
	From, To          *time.Time
	ClientFingerprint string
	UserID            *string
}

// Service executes searches.
type Service struct {
	store EventStore
	audit AuditSink
	index *index.EventsIndex
	now   func() time.Time

	warmMu sync.Mutex
}

// NewService creates a search service. A nil audit sink disables auditing.
func NewService(store EventStore, audit AuditSink, idx *index.EventsIndex) *Service {
	return &Service{
		store: store,
		audit: audit,
		index: idx,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Search returns the events matching req sorted ascending by start time.
// The only error is a failed warm-up of an empty index.
func (s *Service) Search(ctx context.Context, req Request) ([]models.Event, error) {
	if err := s.ensureWarm(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	s.record(ctx, req, now)
	s.index.EnqueueSearch(req.Categories)

	var from, to *models.Date
	if req.From != nil {
		d := models.DateOf(*req.From)
		from = &d
	}
	if req.To != nil {
		d := models.DateOf(*req.To)
		to = &d
	}

	results := s.index.Search(req.Categories, from, to)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartsOn.Before(results[j].StartsOn)
	})

	logger.Debug("Search categories=%v matched %d events", req.Categories, len(results))
	return results, nil
}

// Warm loads future events into the index if it has never been populated.
func (s *Service) Warm(ctx context.Context) error {
	return s.ensureWarm(ctx)
}

// Reload unconditionally rebuilds the index from the store's future events.
func (s *Service) Reload(ctx context.Context) error {
	s.warmMu.Lock()
	defer s.warmMu.Unlock()
	return s.rebuild(ctx)
}

// ensureWarm populates an empty index once. Concurrent callers wait for the
// first one; on failure the index stays as it was and the next call retries.
func (s *Service) ensureWarm(ctx context.Context) error {
	if len(s.index.Categories()) > 0 {
		return nil
	}

	s.warmMu.Lock()
	defer s.warmMu.Unlock()

	if len(s.index.Categories()) > 0 {
		return nil
	}
	return s.rebuild(ctx)
}

func (s *Service) rebuild(ctx context.Context) error {
	events, err := s.store.FetchFuture(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to warm index: %w", err)
	}
	s.index.Rebuild(events)
	logger.Info("Index rebuilt with %d upcoming events across %d categories", len(events), len(s.index.Categories()))
	return nil
}

func (s *Service) record(ctx context.Context, req Request, now time.Time) {
	if s.audit == nil {
		return
	}

	q := models.SearchQuery{
		ID:                uuid.New().String(),
		Categories:        append([]string(nil), req.Categories...),
		ClientFingerprint: req.ClientFingerprint,
		OccurredUTC:       now,
		UserID:            req.UserID,
	}
	if req.From != nil {
		t := req.From.UTC()
		q.FromUTC = &t
	}
	if req.To != nil {
		t := req.To.UTC()
		q.ToUTC = &t
	}

	if err := s.audit.Log(ctx, q); err != nil {
		logger.Warn("Failed to record search query %s: %v", q.ID, err)
	}
}
