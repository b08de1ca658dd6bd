// Command searchstats summarises the search audit log: how often each category
// was requested and the recency-weighted interest the recommender would see.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/metroevents/internal/config"
	"github.com/rewired-gh/metroevents/internal/index"
	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
	"github.com/rewired-gh/metroevents/internal/recommend"
	"github.com/rewired-gh/metroevents/internal/storage"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	window     = flag.Int("window", index.DefaultFrequencyWindow, "Number of most recent queries to weight")
	limit      = flag.Int("limit", 1000, "Number of audit records to read (0 for all)")
	top        = flag.Int("top", 10, "Number of categories to list")
)

type categoryStat struct {
	name     string
	raw      int
	weighted int
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init("warn", "text")

	store, err := storage.NewStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	queries, err := store.RecentQueries(context.Background(), *limit)
	if err != nil {
		log.Fatalf("Failed to read search log: %v", err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("SEARCH LOG SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	if len(queries) == 0 {
		fmt.Println("No searches recorded")
		return
	}

	printOverview(queries)
	stats := categoryStats(queries, *window)
	printCategories(stats, *top)

	weighted := make(map[string]int, len(stats))
	for _, s := range stats {
		if s.weighted > 0 {
			weighted[s.name] = s.weighted
		}
	}
	fmt.Printf("\nRecommendation interest (top %d): %v\n", cfg.Recommend.InterestTop,
		recommend.TopCategories(weighted, cfg.Recommend.InterestTop))
}

func printOverview(queries []models.SearchQuery) {
	fingerprints := make(map[string]struct{})
	users := make(map[string]struct{})
	dated, unfiltered := 0, 0
	for _, q := range queries {
		fingerprints[q.ClientFingerprint] = struct{}{}
		if q.UserID != nil {
			users[*q.UserID] = struct{}{}
		}
		if q.FromUTC != nil || q.ToUTC != nil {
			dated++
		}
		if len(q.Categories) == 0 && q.FromUTC == nil && q.ToUTC == nil {
			unfiltered++
		}
	}

	first, last := queries[0].OccurredUTC, queries[len(queries)-1].OccurredUTC
	fmt.Printf("Searches:          %d (%s to %s)\n", len(queries), first.Format("2006-01-02 15:04"), last.Format("2006-01-02 15:04"))
	fmt.Printf("Clients:           %d fingerprints, %d identified users\n", len(fingerprints), len(users))
	fmt.Printf("With date range:   %d (%.1f%%)\n", dated, pct(dated, len(queries)))
	fmt.Printf("Unfiltered:        %d (%.1f%%)\n", unfiltered, pct(unfiltered, len(queries)))
}

// categoryStats counts raw requests per category over every query and the
// recency weight over the last window queries.
func categoryStats(queries []models.SearchQuery, window int) []categoryStat {
	sets := make([][]string, len(queries))
	raw := make(map[string]int)
	for i, q := range queries {
		sets[i] = q.Categories
		seen := make(map[string]struct{})
		for _, c := range q.Categories {
			key := strings.ToLower(strings.TrimSpace(c))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			raw[key]++
		}
	}
	weighted := index.CategoryFrequencyOf(sets, window)

	stats := make([]categoryStat, 0, len(raw))
	for name, n := range raw {
		stats = append(stats, categoryStat{name: name, raw: n, weighted: weighted[name]})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].weighted != stats[j].weighted {
			return stats[i].weighted > stats[j].weighted
		}
		if stats[i].raw != stats[j].raw {
			return stats[i].raw > stats[j].raw
		}
		return stats[i].name < stats[j].name
	})
	return stats
}

func printCategories(stats []categoryStat, top int) {
	fmt.Printf("\n%-24s %-10s %-10s\n", "Category", "Searches", "Weighted")
	fmt.Println(strings.Repeat("-", 46))
	for i, s := range stats {
		if i >= top {
			fmt.Printf("... and %d more\n", len(stats)-top)
			break
		}
		fmt.Printf("%-24s %-10d %-10d\n", truncate(s.name, 24), s.raw, s.weighted)
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
