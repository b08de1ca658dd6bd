// Package recommend ranks upcoming events against a caller's recent interests.
//
// Each candidate from the index's upcoming view is scored with a two-factor
// composite:
//
//	score = w_sim × jaccard(tags(event), interest) + w_time × 1/(1 + hours_until_start/24)
//
// The interest set is the top-weighted categories of recent searches.
// Jaccard similarity rewards overlap between the event's category and tags and
// that interest set. The temporal term decays toward 0 the further away the
// start is and is 0 once the event has started.
//
// Recently viewed events are excluded regardless of score.
package recommend

import (
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/metroevents/internal/index"
	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
)

// Options tunes the ranking. Zero fields take the DefaultOptions value.
type Options struct {
	DefaultTake      int
	PoolFactor       int
	InterestTop      int
	ViewedWindow     int
	FrequencyWindow  int
	SimilarityWeight float64
	TemporalWeight   float64
}

// DefaultOptions returns the stock ranking parameters.
func DefaultOptions() Options {
	return Options{
		DefaultTake:      5,
		PoolFactor:       6,
		InterestTop:      3,
		ViewedWindow:     10,
		FrequencyWindow:  index.DefaultFrequencyWindow,
		SimilarityWeight: 0.65,
		TemporalWeight:   0.35,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultTake <= 0 {
		o.DefaultTake = d.DefaultTake
	}
	if o.PoolFactor <= 0 {
		o.PoolFactor = d.PoolFactor
	}
	if o.InterestTop <= 0 {
		o.InterestTop = d.InterestTop
	}
	if o.ViewedWindow <= 0 {
		o.ViewedWindow = d.ViewedWindow
	}
	if o.FrequencyWindow <= 0 {
		o.FrequencyWindow = d.FrequencyWindow
	}
	if o.SimilarityWeight == 0 && o.TemporalWeight == 0 {
		o.SimilarityWeight = d.SimilarityWeight
		o.TemporalWeight = d.TemporalWeight
	}
	return o
}

// Scored is a ranked candidate with its score components.
type Scored struct {
	Event      models.Event
	Similarity float64
	Temporal   float64
	Score      float64
}

// Service produces recommendations. It only reads the index.
type Service struct {
	index *index.EventsIndex
	opts  Options
	now   func() time.Time
}

// New creates a recommendation service over idx.
func New(idx *index.EventsIndex, opts Options) *Service {
	return &Service{
		index: idx,
		opts:  opts.withDefaults(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Recommend returns up to take upcoming, not recently viewed events ranked by
// composite score. take <= 0 uses the configured default.
func (s *Service) Recommend(take int) []models.Event {
	scored := s.RecommendScored(take)
	out := make([]models.Event, len(scored))
	for i, sc := range scored {
		out[i] = sc.Event
	}
	return out
}

// RecommendScored is Recommend with the score breakdown of each result.
func (s *Service) RecommendScored(take int) []Scored {
	if take <= 0 {
		take = s.opts.DefaultTake
	}

	interest := TopCategories(s.index.CategoryFrequency(s.opts.FrequencyWindow), s.opts.InterestTop)
	excluded := make(map[int64]struct{})
	for _, id := range s.index.RecentlyViewed(s.opts.ViewedWindow) {
		excluded[id] = struct{}{}
	}
	pool := s.index.PeekUpcoming(take * s.opts.PoolFactor)

	ranked := Rank(pool, interest, excluded, s.now(), s.opts.SimilarityWeight, s.opts.TemporalWeight)
	logger.Debug("Recommend: interest=%v pool=%d excluded=%d ranked=%d", interest, len(pool), len(excluded), len(ranked))

	if take > len(ranked) {
		take = len(ranked)
	}
	return ranked[:take]
}

// Rank scores every candidate not in excluded and returns those with a
// positive score, descending. Ties keep candidate order. Never returns nil.
func Rank(candidates []models.Event, interest []string, excluded map[int64]struct{}, now time.Time, simWeight, timeWeight float64) []Scored {
	interestSet := make(map[string]struct{}, len(interest))
	for _, c := range interest {
		interestSet[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	ranked := make([]Scored, 0, len(candidates))
	for _, ev := range candidates {
		if _, skip := excluded[ev.ID]; skip {
			continue
		}
		sim := Jaccard(TagSet(ev), interestSet)
		tp := TemporalProximity(ev.StartsOn, now)
		score := CompositeScore(sim, tp, simWeight, timeWeight)
		if score <= 0 {
			continue
		}
		ranked = append(ranked, Scored{Event: ev, Similarity: sim, Temporal: tp, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// TopCategories returns the n heaviest keys of freq. Ties are broken by name
// so the result is deterministic.
func TopCategories(freq map[string]int, n int) []string {
	keys := make([]string, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n < len(keys) {
		keys = keys[:n]
	}
	return keys
}

// TagSet is the lower-cased set of an event's category and tags.
func TagSet(ev models.Event) map[string]struct{} {
	set := make(map[string]struct{})
	if c := strings.ToLower(strings.TrimSpace(ev.Category)); c != "" {
		set[c] = struct{}{}
	}
	for _, t := range ev.Tags() {
		set[strings.ToLower(t)] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TemporalProximity returns 1/(1 + hours_until_start/24), or 0 once the
// event has started. It approaches 1 as the start approaches now.
func TemporalProximity(start, now time.Time) float64 {
	if !start.After(now) {
		return 0
	}
	hours := start.Sub(now).Hours()
	return 1 / (1 + hours/24)
}

// CompositeScore blends similarity and temporal proximity.
func CompositeScore(similarity, temporal, simWeight, timeWeight float64) float64 {
	return simWeight*similarity + timeWeight*temporal
}
