// Package index provides the in-memory events index used by search and recommendations.
//
// An EventsIndex holds one immutable snapshot of derived views (by date, by id,
// category inverted index, category vocabulary and an upcoming-events heap)
// plus two bounded behavioural logs: recent search categories and recently
// viewed event ids.
//
// # Thread Safety
//
// EventsIndex is safe for concurrent use. Rebuild constructs a complete new
// snapshot and publishes it with a single atomic pointer swap, so snapshot
// readers take no lock and never observe a mix of generations. The two logs
// share a sync.RWMutex: appends are exclusive, reads are shared, and no method
// acquires it while already holding it.
package index

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/metroevents/internal/models"
)

const (
	// DefaultMaxQueries is the capacity of the recent-query log.
	DefaultMaxQueries = 64
	// DefaultMaxViewed is the capacity of the recently-viewed log.
	DefaultMaxViewed = 16
	// DefaultFrequencyWindow is the number of recent queries CategoryFrequency considers.
	DefaultFrequencyWindow = 30
)

// EventsIndex is the process-wide events index. Create one with New at
// startup and pass it to every component that needs it.
type EventsIndex struct {
	snap atomic.Pointer[snapshot]

	mu      sync.RWMutex
	queries []queryEntry // oldest first
	viewed  []int64      // oldest first

	maxQueries int
	maxViewed  int
	now        func() time.Time
}

type queryEntry struct {
	categories []string
	at         time.Time
}

// New creates an empty index. Non-positive capacities fall back to the defaults.
func New(maxQueries, maxViewed int) *EventsIndex {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}
	if maxViewed <= 0 {
		maxViewed = DefaultMaxViewed
	}
	idx := &EventsIndex{
		maxQueries: maxQueries,
		maxViewed:  maxViewed,
		now:        func() time.Time { return time.Now().UTC() },
	}
	idx.snap.Store(emptySnapshot())
	return idx
}

// Rebuild replaces every snapshot view with ones derived from events.
// The upcoming heap admits events starting at or after the moment of the call.
// The search and viewed logs are left untouched.
func (idx *EventsIndex) Rebuild(events []models.Event) {
	idx.snap.Store(buildSnapshot(events, idx.now()))
}

// Categories returns the distinct category names currently indexed.
func (idx *EventsIndex) Categories() []string {
	s := idx.snap.Load()
	out := make([]string, len(s.categories))
	copy(out, s.categories)
	return out
}

// Len returns the number of indexed events.
func (idx *EventsIndex) Len() int {
	return len(idx.snap.Load().byID)
}

// Get returns the indexed copy of an event.
func (idx *EventsIndex) Get(id int64) (models.Event, bool) {
	ev, ok := idx.snap.Load().byID[id]
	if !ok {
		return models.Event{}, false
	}
	return *ev, true
}

// BuiltAt returns the instant the current snapshot was built; zero before the first Rebuild.
func (idx *EventsIndex) BuiltAt() time.Time {
	return idx.snap.Load().builtAt
}

// PeekUpcoming returns up to take events ascending by start time without
// consuming the upcoming heap. Repeated calls return the same list until the
// next Rebuild.
func (idx *EventsIndex) PeekUpcoming(take int) []models.Event {
	return idx.snap.Load().peekUpcoming(take)
}

// Search returns the events matching every requested category
// (case-insensitive) and starting within [from, to]. A nil bound defaults to
// the earliest or latest indexed date. With no categories and no bounds every
// event is returned. Result order is unspecified.
func (idx *EventsIndex) Search(categories []string, from, to *models.Date) []models.Event {
	cats := normalizeCategories(categories)
	keys := make([]string, len(cats))
	for i, c := range cats {
		keys[i] = categoryKey(c)
	}
	return idx.snap.Load().search(keys, from, to)
}
