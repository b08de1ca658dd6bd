package main

import (
	"testing"

	"github.com/rewired-gh/metroevents/internal/models"
)

func TestCategoryStats(t *testing.T) {
	queries := []models.SearchQuery{
		{Categories: []string{"Music"}},
		{Categories: []string{"Food", "music", "MUSIC"}},
		{Categories: []string{"Art", " "}},
		{},
	}

	stats := categoryStats(queries, 30)

	want := []categoryStat{
		{name: "music", raw: 2, weighted: 3},
		{name: "art", raw: 1, weighted: 3},
		{name: "food", raw: 1, weighted: 2},
	}
	if len(stats) != len(want) {
		t.Fatalf("got %d stats, want %d: %+v", len(stats), len(want), stats)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

func TestCategoryStats_Window(t *testing.T) {
	queries := []models.SearchQuery{
		{Categories: []string{"Music"}},
		{Categories: []string{"Food"}},
	}

	stats := categoryStats(queries, 1)
	if len(stats) != 2 || stats[0].name != "food" || stats[0].weighted != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	// Outside the window: counted raw, no weight.
	if stats[1].name != "music" || stats[1].raw != 1 || stats[1].weighted != 0 {
		t.Errorf("stats[1] = %+v", stats[1])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a very long category name", 10); got != "a very ..." {
		t.Errorf("truncate = %q", got)
	}
}
