package index

import (
	"container/heap"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/metroevents/internal/models"
)

// snapshot is one immutable generation of derived views. It is built off to
// the side by Rebuild and never modified after publication.
type snapshot struct {
	byDate        map[models.Date][]*models.Event // each day ascending by start
	dates         []models.Date                   // keys of byDate, ascending
	byID          map[int64]*models.Event
	ordered       []*models.Event // every event, ascending by start
	idsByCategory map[string]map[int64]struct{}
	categories    []string     // first-seen spelling per category key, sorted
	upcoming      upcomingHeap // start >= builtAt
	builtAt       time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byDate:        map[models.Date][]*models.Event{},
		byID:          map[int64]*models.Event{},
		idsByCategory: map[string]map[int64]struct{}{},
	}
}

// buildSnapshot derives every view from events. When two events share an ID
// the last one wins.
func buildSnapshot(events []models.Event, now time.Time) *snapshot {
	s := emptySnapshot()
	s.builtAt = now

	last := make(map[int64]int, len(events))
	for i := range events {
		last[events[i].ID] = i
	}

	spelling := make(map[string]string)
	for i := range events {
		if last[events[i].ID] != i {
			continue
		}
		e := events[i] // copy in; callers keep no handle on index state
		ev := &e

		s.byID[ev.ID] = ev
		s.ordered = append(s.ordered, ev)

		d := ev.StartDate()
		s.byDate[d] = append(s.byDate[d], ev)

		if key := categoryKey(ev.Category); key != "" {
			set, ok := s.idsByCategory[key]
			if !ok {
				set = make(map[int64]struct{})
				s.idsByCategory[key] = set
				spelling[key] = strings.TrimSpace(ev.Category)
			}
			set[ev.ID] = struct{}{}
		}

		if !ev.StartsOn.Before(now) {
			s.upcoming = append(s.upcoming, ev)
		}
	}

	sortByStart(s.ordered)
	for d, list := range s.byDate {
		sortByStart(list)
		s.dates = append(s.dates, d)
	}
	sort.Slice(s.dates, func(i, j int) bool { return s.dates[i].Before(s.dates[j]) })

	for key := range s.idsByCategory {
		s.categories = append(s.categories, spelling[key])
	}
	sort.Slice(s.categories, func(i, j int) bool {
		return categoryKey(s.categories[i]) < categoryKey(s.categories[j])
	})

	heap.Init(&s.upcoming)
	return s
}

// search applies the filter decision table:
//
//	categories | range | result
//	-----------+-------+------------------------------------------
//	none       | none  | every indexed event
//	some       | none  | intersection of the category id sets
//	none       | some  | events starting within [from, to]
//	some       | some  | intersection restricted to [from, to]
//
// An unknown category or an inverted range short-circuits to empty.
func (s *snapshot) search(categories []string, from, to *models.Date) []models.Event {
	hasCategories := len(categories) > 0
	hasRange := from != nil || to != nil

	switch {
	case !hasCategories && !hasRange:
		return copyEvents(s.ordered)

	case hasCategories && !hasRange:
		ids := s.intersect(categories)
		return s.collect(ids)

	case !hasCategories && hasRange:
		return s.inRange(from, to, nil)

	default:
		ids := s.intersect(categories)
		if len(ids) == 0 {
			return []models.Event{}
		}
		return s.inRange(from, to, ids)
	}
}

// intersect returns the ids present under every category key. A key missing
// from the index yields an empty set.
func (s *snapshot) intersect(keys []string) map[int64]struct{} {
	sets := make([]map[int64]struct{}, 0, len(keys))
	for _, k := range keys {
		set, ok := s.idsByCategory[k]
		if !ok {
			return nil
		}
		sets = append(sets, set)
	}

	// Smallest set first keeps the intersection cheap.
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })

	acc := make(map[int64]struct{}, len(sets[0]))
	for id := range sets[0] {
		acc[id] = struct{}{}
	}
	for _, set := range sets[1:] {
		for id := range acc {
			if _, ok := set[id]; !ok {
				delete(acc, id)
			}
		}
		if len(acc) == 0 {
			break
		}
	}
	return acc
}

func (s *snapshot) collect(ids map[int64]struct{}) []models.Event {
	out := make([]*models.Event, 0, len(ids))
	for id := range ids {
		if ev, ok := s.byID[id]; ok {
			out = append(out, ev)
		}
	}
	sortByStart(out)
	return copyEvents(out)
}

// inRange walks the by-date view between from and to inclusive. A nil bound
// falls back to the earliest or latest indexed date. A nil candidates set
// admits every event.
func (s *snapshot) inRange(from, to *models.Date, candidates map[int64]struct{}) []models.Event {
	out := []models.Event{}
	if len(s.dates) == 0 {
		return out
	}

	start := s.dates[0]
	if from != nil {
		start = *from
	}
	end := s.dates[len(s.dates)-1]
	if to != nil {
		end = *to
	}
	if end.Before(start) {
		return out
	}

	i := sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(start) })
	for ; i < len(s.dates) && !s.dates[i].After(end); i++ {
		for _, ev := range s.byDate[s.dates[i]] {
			if candidates != nil {
				if _, ok := candidates[ev.ID]; !ok {
					continue
				}
			}
			out = append(out, *ev)
		}
	}
	return out
}

// peekUpcoming drains a throwaway copy of the heap; the published heap is never touched.
func (s *snapshot) peekUpcoming(take int) []models.Event {
	if take <= 0 || len(s.upcoming) == 0 {
		return []models.Event{}
	}
	tmp := make(upcomingHeap, len(s.upcoming))
	copy(tmp, s.upcoming)

	if take > len(tmp) {
		take = len(tmp)
	}
	out := make([]models.Event, 0, take)
	for len(out) < take {
		ev := heap.Pop(&tmp).(*models.Event)
		out = append(out, *ev)
	}
	return out
}

// upcomingHeap is a min-heap on start time; ties are ordered by ID.
type upcomingHeap []*models.Event

func (h upcomingHeap) Len() int           { return len(h) }
func (h upcomingHeap) Less(i, j int) bool { return startsBefore(h[i], h[j]) }
func (h upcomingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *upcomingHeap) Push(x any) { *h = append(*h, x.(*models.Event)) }

func (h *upcomingHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

func startsBefore(a, b *models.Event) bool {
	if !a.StartsOn.Equal(b.StartsOn) {
		return a.StartsOn.Before(b.StartsOn)
	}
	return a.ID < b.ID
}

func sortByStart(events []*models.Event) {
	sort.SliceStable(events, func(i, j int) bool { return startsBefore(events[i], events[j]) })
}

func copyEvents(events []*models.Event) []models.Event {
	out := make([]models.Event, len(events))
	for i, ev := range events {
		out[i] = *ev
	}
	return out
}

// categoryKey is the case-insensitive lookup key for a category name.
func categoryKey(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// normalizeCategories trims, drops blanks and collapses case-insensitive
// duplicates, keeping the first spelling.
func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		key := categoryKey(c)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(c))
	}
	return out
}
