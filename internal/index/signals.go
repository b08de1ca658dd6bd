package index

// EnqueueSearch appends the categories of one search to the recent-query log,
// evicting the oldest entries beyond capacity. An empty set is recorded too.
func (idx *EventsIndex) EnqueueSearch(categories []string) {
	entry := queryEntry{categories: normalizeCategories(categories), at: idx.now()}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.queries = append(idx.queries, entry)
	if over := len(idx.queries) - idx.maxQueries; over > 0 {
		idx.queries = append(idx.queries[:0:0], idx.queries[over:]...)
	}
}

// PushRecentlyViewed records that an event was opened. The log behaves as a
// newest-first set: re-viewing an id moves it to the front, and once capacity
// is exceeded the oldest id is evicted.
func (idx *EventsIndex) PushRecentlyViewed(eventID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, id := range idx.viewed {
		if id == eventID {
			idx.viewed = append(idx.viewed[:i], idx.viewed[i+1:]...)
			break
		}
	}
	idx.viewed = append(idx.viewed, eventID)
	if over := len(idx.viewed) - idx.maxViewed; over > 0 {
		idx.viewed = append(idx.viewed[:0:0], idx.viewed[over:]...)
	}
}

// RecentlyViewed returns up to take ids, newest first.
func (idx *EventsIndex) RecentlyViewed(take int) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if take > len(idx.viewed) {
		take = len(idx.viewed)
	}
	if take <= 0 {
		return []int64{}
	}
	out := make([]int64, 0, take)
	for i := len(idx.viewed) - 1; len(out) < take; i-- {
		out = append(out, idx.viewed[i])
	}
	return out
}

// CategoryFrequency builds a recency-weighted histogram over the most recent
// window queries (DefaultFrequencyWindow when window <= 0). The newest entry
// weighs as many as the entries considered, each older one weighs one less,
// never below 1. Keys are lower-cased category names.
func (idx *EventsIndex) CategoryFrequency(window int) map[string]int {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.queries)
	if window > n {
		window = n
	}
	return weightedFrequency(idx.queries[n-window:])
}

// weightedFrequency weights entries (oldest first) so the last one counts len(entries).
func weightedFrequency(entries []queryEntry) map[string]int {
	freq := make(map[string]int)
	weight := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		w := max(1, weight)
		for _, c := range entries[i].categories {
			freq[categoryKey(c)] += w
		}
		weight--
	}
	return freq
}

// CategoryFrequencyOf applies the CategoryFrequency weighting to an arbitrary
// oldest-first sequence of category sets, such as queries read back from the
// audit log.
func CategoryFrequencyOf(queries [][]string, window int) map[string]int {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	if window > len(queries) {
		window = len(queries)
	}
	entries := make([]queryEntry, 0, window)
	for _, cats := range queries[len(queries)-window:] {
		entries = append(entries, queryEntry{categories: normalizeCategories(cats)})
	}
	return weightedFrequency(entries)
}
