package index

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/metroevents/internal/models"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestIndex(t *testing.T) *EventsIndex {
	t.Helper()
	idx := New(0, 0)
	idx.now = func() time.Time { return baseTime }
	return idx
}

func makeEvent(id int64, category string, start time.Time, tags string) models.Event {
	return models.Event{
		ID:          id,
		Title:       fmt.Sprintf("Event %d", id),
		Category:    category,
		TagsCSV:     tags,
		StartsOn:    start,
		Description: "test event",
	}
}

func ids(events []models.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func sortedIDs(events []models.Event) []int64 {
	out := ids(events)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func date(y int, m time.Month, d int) *models.Date {
	return &models.Date{Year: y, Month: m, Day: d}
}

func scenarioEvents() []models.Event {
	return []models.Event{
		makeEvent(1, "Music", baseTime.Add(48*time.Hour), ""),
		makeEvent(2, "Music", baseTime.Add(240*time.Hour), "live"),
		makeEvent(3, "Art", baseTime.Add(24*time.Hour), ""),
	}
}

func TestNewIndexIsEmpty(t *testing.T) {
	idx := newTestIndex(t)

	if got := idx.Categories(); len(got) != 0 {
		t.Errorf("Categories() = %v, want empty", got)
	}
	if got := idx.Search(nil, nil, nil); len(got) != 0 {
		t.Errorf("Search() = %v, want empty", got)
	}
	if got := idx.PeekUpcoming(5); len(got) != 0 {
		t.Errorf("PeekUpcoming() = %v, want empty", got)
	}
	if !idx.BuiltAt().IsZero() {
		t.Errorf("BuiltAt() = %v, want zero", idx.BuiltAt())
	}
}

func TestRebuildCategories(t *testing.T) {
	idx := newTestIndex(t)
	idx.Rebuild([]models.Event{
		makeEvent(1, "Music", baseTime, ""),
		makeEvent(2, "music", baseTime, ""),
		makeEvent(3, " Art ", baseTime, ""),
		makeEvent(4, "", baseTime, ""),
		makeEvent(5, "Food", baseTime, ""),
	})

	got := idx.Categories()
	want := []string{"Art", "Food", "Music"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Categories() = %v, want %v", got, want)
	}
	if idx.Len() != 5 {
		t.Errorf("Len() = %d, want 5", idx.Len())
	}
	if !idx.BuiltAt().Equal(baseTime) {
		t.Errorf("BuiltAt() = %v, want %v", idx.BuiltAt(), baseTime)
	}
}

func TestRebuildDuplicateIDLastWins(t *testing.T) {
	idx := newTestIndex(t)
	idx.Rebuild([]models.Event{
		makeEvent(1, "Music", baseTime, ""),
		makeEvent(1, "Art", baseTime, ""),
	})

	ev, ok := idx.Get(1)
	if !ok || ev.Category != "Art" {
		t.Fatalf("Get(1) = %+v, %v; want category Art", ev, ok)
	}
	if got := idx.Search([]string{"Music"}, nil, nil); len(got) != 0 {
		t.Errorf("Search(Music) = %v, want empty", ids(got))
	}
}

func TestRebuildIsolatesCallerSlice(t *testing.T) {
	idx := newTestIndex(t)
	events := scenarioEvents()
	idx.Rebuild(events)

	events[0].Title = "mutated"
	ev, _ := idx.Get(1)
	if ev.Title == "mutated" {
		t.Error("index shares memory with the caller's slice")
	}

	got := idx.Search(nil, nil, nil)
	got[0].Title = "mutated again"
	ev, _ = idx.Get(got[0].ID)
	if ev.Title == "mutated again" {
		t.Error("index shares memory with search results")
	}
}

func TestSearchScenario(t *testing.T) {
	idx := newTestIndex(t)
	idx.Rebuild(scenarioEvents())

	got := idx.Search([]string{"Music"}, nil, nil)
	if !reflect.DeepEqual(ids(got), []int64{1, 2}) {
		t.Errorf("Search(Music) = %v, want [1 2]", ids(got))
	}
	if got := idx.Search([]string{"Dance"}, nil, nil); len(got) != 0 {
		t.Errorf("Search(Dance) = %v, want empty", ids(got))
	}
}

func TestSearchDecisionTable(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 6, d, 18, 0, 0, 0, time.UTC) }
	events := []models.Event{
		makeEvent(1, "Music", day(2), ""),
		makeEvent(2, "Music", day(5), ""),
		makeEvent(3, "Art", day(3), ""),
		makeEvent(4, "Food", day(9), ""),
	}

	tests := []struct {
		name       string
		categories []string
		from, to   *models.Date
		want       []int64
	}{
		{"no filters", nil, nil, nil, []int64{1, 2, 3, 4}},
		{"blank categories only", []string{" ", ""}, nil, nil, []int64{1, 2, 3, 4}},
		{"single category", []string{"Music"}, nil, nil, []int64{1, 2}},
		{"case insensitive", []string{"mUSIC"}, nil, nil, []int64{1, 2}},
		{"unknown category", []string{"Dance"}, nil, nil, []int64{}},
		{"known and unknown", []string{"Music", "Dance"}, nil, nil, []int64{}},
		{"two categories AND", []string{"Music", "Art"}, nil, nil, []int64{}},
		{"repeated category", []string{"Music", "music"}, nil, nil, []int64{1, 2}},
		{"closed range inclusive", nil, date(2025, 6, 3), date(2025, 6, 5), []int64{2, 3}},
		{"from only", nil, date(2025, 6, 5), nil, []int64{2, 4}},
		{"to only", nil, nil, date(2025, 6, 3), []int64{1, 3}},
		{"range outside data", nil, date(2025, 7, 1), date(2025, 7, 2), []int64{}},
		{"inverted range", nil, date(2025, 6, 9), date(2025, 6, 2), []int64{}},
		{"category within range", []string{"Music"}, date(2025, 6, 4), nil, []int64{2}},
		{"category range miss", []string{"Art"}, date(2025, 6, 4), date(2025, 6, 9), []int64{}},
		{"category inverted range", []string{"Music"}, date(2025, 6, 5), date(2025, 6, 2), []int64{}},
	}

	idx := newTestIndex(t)
	idx.Rebuild(events)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.Search(tt.categories, tt.from, tt.to)
			if got == nil {
				t.Fatal("Search() returned nil, want non-nil slice")
			}
			if !reflect.DeepEqual(sortedIDs(got), tt.want) {
				t.Errorf("Search() = %v, want %v", sortedIDs(got), tt.want)
			}
		})
	}
}

func TestSearchIntersectsMultipleCategories(t *testing.T) {
	// Each event carries one category, so a two-category AND can only match
	// when both names resolve to the same key.
	idx := newTestIndex(t)
	idx.Rebuild([]models.Event{
		makeEvent(1, "Music", baseTime, ""),
		makeEvent(2, "Art", baseTime, ""),
	})

	s := idx.snap.Load()
	got := s.intersect([]string{"music", "art"})
	if len(got) != 0 {
		t.Errorf("intersect(music, art) = %v, want empty", got)
	}
	got = s.intersect([]string{"music"})
	if _, ok := got[1]; !ok || len(got) != 1 {
		t.Errorf("intersect(music) = %v, want {1}", got)
	}
}

func TestRebuildDisjointSets(t *testing.T) {
	idx := newTestIndex(t)
	idx.Rebuild([]models.Event{
		makeEvent(1, "Music", baseTime.Add(time.Hour), ""),
		makeEvent(2, "Art", baseTime.Add(2*time.Hour), ""),
	})
	idx.Rebuild([]models.Event{
		makeEvent(10, "Food", baseTime.Add(time.Hour), ""),
		makeEvent(11, "Music", baseTime.Add(3*time.Hour), ""),
	})

	for _, ev := range idx.Search(nil, nil, nil) {
		if ev.ID < 10 {
			t.Errorf("Search() returned event %d from the previous snapshot", ev.ID)
		}
	}
	if got := idx.Search([]string{"Art"}, nil, nil); len(got) != 0 {
		t.Errorf("Search(Art) = %v, want empty", ids(got))
	}
	if got := ids(idx.Search([]string{"Music"}, nil, nil)); !reflect.DeepEqual(got, []int64{11}) {
		t.Errorf("Search(Music) = %v, want [11]", got)
	}
	if got := idx.Categories(); !reflect.DeepEqual(got, []string{"Food", "Music"}) {
		t.Errorf("Categories() = %v", got)
	}
	if _, ok := idx.Get(1); ok {
		t.Error("Get(1) found an event from the previous snapshot")
	}
}

func TestRebuildKeepsLogs(t *testing.T) {
	idx := newTestIndex(t)
	idx.EnqueueSearch([]string{"Music"})
	idx.PushRecentlyViewed(7)

	idx.Rebuild(scenarioEvents())

	if got := idx.CategoryFrequency(0); got["music"] != 1 {
		t.Errorf("CategoryFrequency() = %v, want music:1", got)
	}
	if got := idx.RecentlyViewed(10); !reflect.DeepEqual(got, []int64{7}) {
		t.Errorf("RecentlyViewed() = %v, want [7]", got)
	}
}

func TestPeekUpcoming(t *testing.T) {
	idx := newTestIndex(t)
	idx.Rebuild([]models.Event{
		makeEvent(1, "Music", baseTime.Add(-time.Hour), ""), // already started
		makeEvent(2, "Music", baseTime.Add(5*time.Hour), ""),
		makeEvent(3, "Art", baseTime.Add(time.Hour), ""),
		makeEvent(4, "Art", baseTime, ""), // starts exactly now
		makeEvent(5, "Food", baseTime.Add(time.Hour), ""),
	})

	first := idx.PeekUpcoming(3)
	second := idx.PeekUpcoming(3)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("PeekUpcoming() not idempotent: %v then %v", ids(first), ids(second))
	}
	if got := ids(first); !reflect.DeepEqual(got, []int64{4, 3, 5}) {
		t.Errorf("PeekUpcoming(3) = %v, want [4 3 5]", got)
	}
	if got := ids(idx.PeekUpcoming(100)); !reflect.DeepEqual(got, []int64{4, 3, 5, 2}) {
		t.Errorf("PeekUpcoming(100) = %v, want [4 3 5 2]", got)
	}
	if got := idx.PeekUpcoming(0); len(got) != 0 {
		t.Errorf("PeekUpcoming(0) = %v, want empty", ids(got))
	}
	if got := ids(idx.PeekUpcoming(3)); !reflect.DeepEqual(got, []int64{4, 3, 5}) {
		t.Errorf("PeekUpcoming(3) after draining copies = %v", got)
	}
}

func TestEnqueueSearchBounded(t *testing.T) {
	idx := newTestIndex(t)
	for i := 0; i < 100; i++ {
		idx.EnqueueSearch([]string{fmt.Sprintf("c%d", i)})
	}

	idx.mu.RLock()
	n := len(idx.queries)
	idx.mu.RUnlock()
	if n != DefaultMaxQueries {
		t.Errorf("query log size = %d, want %d", n, DefaultMaxQueries)
	}

	freq := idx.CategoryFrequency(0)
	if len(freq) != DefaultFrequencyWindow {
		t.Fatalf("CategoryFrequency() has %d keys, want %d", len(freq), DefaultFrequencyWindow)
	}
	for i := 0; i < 70; i++ {
		if _, ok := freq[fmt.Sprintf("c%d", i)]; ok {
			t.Errorf("c%d is outside the window but was counted", i)
		}
	}
	for i := 70; i < 100; i++ {
		want := i - 69 // newest (c99) weighs 30, oldest in window (c70) weighs 1
		if got := freq[fmt.Sprintf("c%d", i)]; got != want {
			t.Errorf("weight of c%d = %d, want %d", i, got, want)
		}
	}
}

func TestCategoryFrequencyWeights(t *testing.T) {
	idx := newTestIndex(t)
	idx.EnqueueSearch([]string{"Art"})
	idx.EnqueueSearch([]string{"Music", "music"})
	idx.EnqueueSearch(nil)
	idx.EnqueueSearch([]string{"MUSIC", "Food"})

	tests := []struct {
		window int
		want   map[string]int
	}{
		{0, map[string]int{"music": 4 + 2, "food": 4, "art": 1}},
		{2, map[string]int{"music": 2, "food": 2}},
		{3, map[string]int{"music": 3 + 1, "food": 3}},
		{50, map[string]int{"music": 6, "food": 4, "art": 1}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("window=%d", tt.window), func(t *testing.T) {
			if got := idx.CategoryFrequency(tt.window); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CategoryFrequency(%d) = %v, want %v", tt.window, got, tt.want)
			}
		})
	}
}

func TestCategoryFrequencyOf(t *testing.T) {
	queries := [][]string{{"Art"}, {"Music"}, {"music", " Food "}}
	got := CategoryFrequencyOf(queries, 2)
	want := map[string]int{"music": 2 + 1, "food": 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CategoryFrequencyOf() = %v, want %v", got, want)
	}
	if got := CategoryFrequencyOf(nil, 0); len(got) != 0 {
		t.Errorf("CategoryFrequencyOf(nil) = %v, want empty", got)
	}
}

func TestRecentlyViewed(t *testing.T) {
	idx := newTestIndex(t)
	for id := int64(1); id <= 20; id++ {
		idx.PushRecentlyViewed(id)
	}

	got := idx.RecentlyViewed(100)
	if len(got) != DefaultMaxViewed {
		t.Fatalf("RecentlyViewed() has %d ids, want %d", len(got), DefaultMaxViewed)
	}
	if got[0] != 20 || got[len(got)-1] != 5 {
		t.Errorf("RecentlyViewed() = %v, want 20..5", got)
	}

	if got := idx.RecentlyViewed(3); !reflect.DeepEqual(got, []int64{20, 19, 18}) {
		t.Errorf("RecentlyViewed(3) = %v", got)
	}
	if got := idx.RecentlyViewed(0); len(got) != 0 {
		t.Errorf("RecentlyViewed(0) = %v, want empty", got)
	}

	idx.PushRecentlyViewed(10)
	if got := idx.RecentlyViewed(3); !reflect.DeepEqual(got, []int64{10, 20, 19}) {
		t.Errorf("RecentlyViewed(3) after re-view = %v, want [10 20 19]", got)
	}
	if got := idx.RecentlyViewed(100); len(got) != DefaultMaxViewed {
		t.Errorf("re-view changed log size to %d", len(got))
	}
}

func TestConcurrentAccess(t *testing.T) {
	idx := New(0, 0)
	events := scenarioEvents()
	for i := range events {
		events[i].StartsOn = time.Now().Add(time.Duration(i+1) * time.Hour)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch (w + i) % 6 {
				case 0:
					idx.Rebuild(events)
				case 1:
					idx.EnqueueSearch([]string{"Music"})
				case 2:
					idx.PushRecentlyViewed(int64(i))
				case 3:
					_ = idx.Search([]string{"Music"}, nil, nil)
				case 4:
					_ = idx.PeekUpcoming(2)
				default:
					_ = idx.CategoryFrequency(0)
					_ = idx.RecentlyViewed(5)
					_ = idx.Categories()
				}
			}
		}(w)
	}
	wg.Wait()

	if got := idx.Len(); got != len(events) {
		t.Errorf("Len() = %d, want %d", got, len(events))
	}
}
