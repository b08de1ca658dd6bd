// Package api exposes events, search and recommendations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/rewired-gh/metroevents/internal/identity"
	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
	"github.com/rewired-gh/metroevents/internal/search"
)

// EventStore is the part of the event store the handlers read directly.
type EventStore interface {
	Get(ctx context.Context, id int64) (*models.Event, error)
	FetchDistinctCategories(ctx context.Context) ([]string, error)
}

// Searcher runs searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]models.Event, error)
}

// Recommender produces ranked suggestions.
type Recommender interface {
	Recommend(take int) []models.Event
}

// Index is the part of the events index the handlers touch.
type Index interface {
	PushRecentlyViewed(eventID int64)
	Len() int
	BuiltAt() time.Time
}

// Identifier resolves the caller of a request.
type Identifier interface {
	Resolve(w http.ResponseWriter, req *http.Request) identity.Identity
}

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64 // 0 disables rate limiting
	RateLimitBurst int
}

// Server wires the HTTP handlers to the services.
type Server struct {
	store    EventStore
	search   Searcher
	recs     Recommender
	index    Index
	ident    Identifier
	opts     Options
	limiter  *RateLimiter
	startUTC time.Time
}

// New creates a server.
func New(store EventStore, searcher Searcher, recs Recommender, idx Index, ident Identifier, opts Options) *Server {
	s := &Server{
		store:    store,
		search:   searcher,
		recs:     recs,
		index:    idx,
		ident:    ident,
		opts:     opts,
		startUTC: time.Now().UTC(),
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	return s
}

// Handler returns the root handler with routing and middleware applied.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.GET("/categories", s.limit(s.handleCategories))
	router.GET("/events", s.limit(s.handleListEvents))
	router.GET("/events/:id", s.limit(s.handleGetEvent))
	router.GET("/recommendations", s.limit(s.handleRecommendations))

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := len(origins) == 1 && origins[0] == "*"
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: !wildcard,
	}).Handler(router)

	return loggingMiddleware(securityHeaders(corsHandler))
}

func (s *Server) limit(next httprouter.Handle) httprouter.Handle {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Limit(next)
}

// securityHeaders applies the standard hardening headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request method, path, status and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("%s %s from %s: %d in %v", r.Method, r.RequestURI, r.RemoteAddr, rec.status, time.Since(start))
	})
}
