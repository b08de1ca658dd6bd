package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/rewired-gh/metroevents/internal/identity"
	"github.com/rewired-gh/metroevents/internal/index"
	"github.com/rewired-gh/metroevents/internal/models"
	"github.com/rewired-gh/metroevents/internal/recommend"
	"github.com/rewired-gh/metroevents/internal/search"
	"github.com/rewired-gh/metroevents/internal/storage"
)

const testSecret = "test-secret"

type testEnv struct {
	store   *storage.Store
	index   *index.EventsIndex
	handler http.Handler
	today   time.Time
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store, err := storage.NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	seed := []models.Event{
		{Title: "Jazz Night", Category: "Music", TagsCSV: "jazz,live", StartsOn: today.AddDate(0, 0, 1).Add(20 * time.Hour), Description: "Trio"},
		{Title: "Street Food", Category: "Food", TagsCSV: "outdoor", StartsOn: today.AddDate(0, 0, 2).Add(12 * time.Hour), Description: "Stalls"},
		{Title: "Symphony", Category: "Music", TagsCSV: "classical", StartsOn: today.AddDate(0, 0, 5).Add(19 * time.Hour), Description: "Orchestra"},
	}
	for i := range seed {
		if err := store.Add(context.Background(), &seed[i]); err != nil {
			t.Fatalf("failed to add event: %v", err)
		}
	}

	idx := index.New(0, 0)
	srv := New(
		store,
		search.NewService(store, store, idx),
		recommend.New(idx, recommend.DefaultOptions()),
		idx,
		identity.NewResolver("", testSecret),
		opts,
	)
	return &testEnv{store: store, index: idx, handler: srv.Handler(), today: today}
}

func (e *testEnv) get(t *testing.T, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := identity.IssueToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return tok
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func titles(events []models.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Title
	}
	return out
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.get(t, "/events?category=music&category=MUSIC,%20", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var fpCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.DefaultCookieName {
			fpCookie = c
		}
	}
	if fpCookie == nil {
		t.Fatal("expected fingerprint cookie on first visit")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	resp := decode[EventsResponse](t, rec)
	if want := []string{"music"}; !reflect.DeepEqual(resp.Filters.Categories, want) {
		t.Errorf("filters = %v, want %v", resp.Filters.Categories, want)
	}
	if want := []string{"Jazz Night", "Symphony"}; !reflect.DeepEqual(titles(resp.Events), want) {
		t.Errorf("events = %v, want %v", titles(resp.Events), want)
	}
	if want := []string{"Food", "Music"}; !reflect.DeepEqual(resp.AvailableCategories, want) {
		t.Errorf("available = %v, want %v", resp.AvailableCategories, want)
	}
	if resp.ShowRecommendations || len(resp.Recommendations) != 0 {
		t.Errorf("anonymous callers should not get recommendations: %+v", resp.Recommendations)
	}

	recent, err := env.store.RecentQueries(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentQueries failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ClientFingerprint != fpCookie.Value || recent[0].UserID != nil {
		t.Errorf("unexpected audit records: %+v", recent)
	}
}

func TestListEvents_DateRange(t *testing.T) {
	env := newTestEnv(t, Options{})

	from := env.today.AddDate(0, 0, 2).Format(time.DateOnly)
	rec := env.get(t, "/events?from="+from, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[EventsResponse](t, rec)
	if want := []string{"Street Food", "Symphony"}; !reflect.DeepEqual(titles(resp.Events), want) {
		t.Errorf("events = %v, want %v", titles(resp.Events), want)
	}

	to := env.today.AddDate(0, 0, 1).Format(time.RFC3339)
	rec = env.get(t, "/events?to="+to, "")
	resp = decode[EventsResponse](t, rec)
	if want := []string{"Jazz Night"}; !reflect.DeepEqual(titles(resp.Events), want) {
		t.Errorf("events = %v, want %v", titles(resp.Events), want)
	}
}

func TestListEvents_BadDate(t *testing.T) {
	env := newTestEnv(t, Options{})
	for _, q := range []string{"from=tomorrow", "to=2025-13-01"} {
		if rec := env.get(t, "/events?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestListEvents_AuthenticatedGetsRecommendations(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.get(t, "/events?category=Music", token(t, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[EventsResponse](t, rec)
	if !resp.ShowRecommendations {
		t.Fatal("expected recommendations for an authenticated caller")
	}
	if len(resp.Recommendations) == 0 || resp.Recommendations[0].Category != "Music" {
		t.Errorf("recommendations = %v", titles(resp.Recommendations))
	}

	recent, err := env.store.RecentQueries(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentQueries failed: %v", err)
	}
	if len(recent) != 1 || recent[0].UserID == nil || *recent[0].UserID != "user-1" {
		t.Errorf("audit record should carry the user id: %+v", recent)
	}
}

func TestGetEvent(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		target string
		token  string
		want   int
	}{
		{"found", "/events/2", "", http.StatusOK},
		{"missing", "/events/99", "", http.StatusNotFound},
		{"not a number", "/events/abc", "", http.StatusBadRequest},
		{"zero", "/events/0", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.get(t, tt.target, tt.token); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if got := env.index.RecentlyViewed(10); len(got) != 0 {
		t.Errorf("anonymous views should not be recorded: %v", got)
	}

	rec := env.get(t, "/events/3", token(t, "user-1"))
	ev := decode[models.Event](t, rec)
	if ev.Title != "Symphony" {
		t.Errorf("title = %q", ev.Title)
	}
	if got := env.index.RecentlyViewed(10); !reflect.DeepEqual(got, []int64{3}) {
		t.Errorf("recently viewed = %v, want [3]", got)
	}
}

func TestRecommendations(t *testing.T) {
	env := newTestEnv(t, Options{})

	// Warm the index through a search.
	env.get(t, "/events", "")

	rec := env.get(t, "/recommendations?take=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[map[string][]models.Event](t, rec)
	if len(resp["events"]) != 2 {
		t.Errorf("got %d recommendations, want 2", len(resp["events"]))
	}

	if rec := env.get(t, "/recommendations?take=many", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCategoriesAndHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := decode[map[string][]string](t, env.get(t, "/categories", ""))
	if want := []string{"Food", "Music"}; !reflect.DeepEqual(resp["categories"], want) {
		t.Errorf("categories = %v, want %v", resp["categories"], want)
	}

	env.get(t, "/events", "")
	health := decode[HealthResponse](t, env.get(t, "/health", ""))
	if health.Status != "ok" || health.IndexedCount != 3 {
		t.Errorf("health = %+v", health)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		if rec := env.get(t, "/categories", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := env.get(t, "/categories", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Health checks are never limited.
	if rec := env.get(t, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if !rl.getLimiter("10.0.0.1").Allow() {
		t.Fatal("first request should pass")
	}
	if rl.getLimiter("10.0.0.1").Allow() {
		t.Error("second request from the same client should be limited")
	}
	if !rl.getLimiter("10.0.0.2").Allow() {
		t.Error("other clients have their own budget")
	}

	// Idle visitors are swept.
	later := time.Now().Add(2 * visitorIdle)
	rl.now = func() time.Time { return later }
	rl.getLimiter("10.0.0.3")
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor should have been swept")
	}
}

func TestNormalizeCategories(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"none", nil, []string{}},
		{"blanks", []string{"", "  ", ","}, []string{}},
		{"comma separated", []string{"Music, Food"}, []string{"Music", "Food"}},
		{"case-insensitive duplicates keep first", []string{"music", "MUSIC", "Food,music"}, []string{"music", "Food"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeCategories(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeCategories(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDateParam(t *testing.T) {
	got, err := parseDateParam("2025-06-03")
	if err != nil || got == nil || !got.Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date only = %v, %v", got, err)
	}
	got, err = parseDateParam("2025-06-03T23:30:00-02:00")
	if err != nil || got == nil || models.DateOf(*got) != (models.Date{Year: 2025, Month: 6, Day: 4}) {
		t.Errorf("rfc3339 = %v, %v", got, err)
	}
	if got, err := parseDateParam(""); got != nil || err != nil {
		t.Errorf("empty = %v, %v", got, err)
	}
	if _, err := parseDateParam("03/06/2025"); err == nil {
		t.Error("expected error")
	}
}
