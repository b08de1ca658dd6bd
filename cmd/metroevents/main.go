package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/metroevents/internal/api"
	"github.com/rewired-gh/metroevents/internal/audit"
	"github.com/rewired-gh/metroevents/internal/config"
	"github.com/rewired-gh/metroevents/internal/ics"
	"github.com/rewired-gh/metroevents/internal/identity"
	"github.com/rewired-gh/metroevents/internal/index"
	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/recommend"
	"github.com/rewired-gh/metroevents/internal/search"
	"github.com/rewired-gh/metroevents/internal/seed"
	"github.com/rewired-gh/metroevents/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load .env if present so secrets can stay out of the config file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.NewStore(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if _, err := seed.Apply(ctx, store, cfg.Seed.File, time.Now().UTC()); err != nil {
		logger.Fatal("Failed to seed storage: %v", err)
	}

	sink, closeRedis, err := newAuditSink(ctx, cfg.Audit, store)
	if err != nil {
		logger.Fatal("Failed to initialize audit sink: %v", err)
	}
	defer func() {
		if err := closeRedis(); err != nil {
			logger.Warn("Failed to close redis client: %v", err)
		}
	}()

	idx := index.New(cfg.Index.MaxQueries, cfg.Index.MaxViewed)
	var searchAudit search.AuditSink
	if sink != nil {
		searchAudit = sink
	}
	searchSvc := search.NewService(store, searchAudit, idx)
	if err := searchSvc.Warm(ctx); err != nil {
		// Not fatal: the first search retries the warm-up.
		logger.Warn("Initial index warm-up failed: %v", err)
	}

	recSvc := recommend.New(idx, recommend.Options{
		DefaultTake:      cfg.Recommend.Take,
		PoolFactor:       cfg.Recommend.PoolFactor,
		InterestTop:      cfg.Recommend.InterestTop,
		ViewedWindow:     cfg.Recommend.ViewedWindow,
		FrequencyWindow:  cfg.Recommend.FrequencyWindow,
		SimilarityWeight: cfg.Recommend.SimilarityWeight,
		TemporalWeight:   cfg.Recommend.TemporalWeight,
	})

	server := api.New(store, searchSvc, recSvc, idx,
		identity.NewResolver(cfg.Identity.CookieName, cfg.Identity.JWTSecret),
		api.Options{
			CORSOrigins:    cfg.Server.CORSOrigins,
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
		})

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * cfg.Server.WriteTimeout,
	}

	var scheduler *cron.Cron
	if cfg.ICS.Enabled {
		scheduler, err = newImportScheduler(ctx, cfg.ICS, store, searchSvc)
		if err != nil {
			logger.Fatal("Failed to schedule calendar import: %v", err)
		}
		scheduler.Start()
		logger.Info("Calendar import scheduled (%s, %d feeds)", cfg.ICS.Schedule, len(cfg.ICS.Feeds))
	} else {
		logger.Debug("Calendar import disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening on %s", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if scheduler != nil {
			select {
			case <-scheduler.Stop().Done():
			case <-shutdownCtx.Done():
				logger.Warn("Calendar import still running at shutdown")
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed: %v", err)
		}
		if sink != nil {
			if err := sink.Close(shutdownCtx); err != nil {
				logger.Warn("Audit sink did not drain: %v", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed: %v", err)
		return
	}
	logger.Info("Service stopped")
}

// newAuditSink builds the configured audit chain behind an async buffer.
// The sink is nil when auditing is disabled. The returned func closes the
// redis client, if one was opened, and must run after the sink is drained.
func newAuditSink(ctx context.Context, cfg config.AuditConfig, store *storage.Store) (*audit.AsyncSink, func() error, error) {
	closeFn := func() error { return nil }

	var sinks audit.Tee
	if cfg.Backend == "sqlite" || cfg.Backend == "both" {
		sinks = append(sinks, store)
	}
	if cfg.Backend == "redis" || cfg.Backend == "both" {
		client, err := audit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = client.Close
		sinks = append(sinks, audit.NewRedisSink(client, cfg.RedisChannel))
	}
	if len(sinks) == 0 {
		logger.Info("Search auditing disabled")
		return nil, closeFn, nil
	}

	var next audit.Sink = sinks
	if len(sinks) == 1 {
		next = sinks[0]
	}
	logger.Info("Search auditing to %s (buffer %d)", cfg.Backend, cfg.Buffer)
	return audit.NewAsync(next, cfg.Buffer, cfg.WriteTimeout), closeFn, nil
}

// newImportScheduler registers the calendar import job. Each run imports every
// feed and then reloads the index so new events become searchable.
func newImportScheduler(ctx context.Context, cfg config.ICSConfig, store *storage.Store, searchSvc *search.Service) (*cron.Cron, error) {
	feeds := make([]ics.Feed, len(cfg.Feeds))
	for i, f := range cfg.Feeds {
		feeds[i] = ics.Feed{Name: f.Name, URL: f.URL, DefaultCategory: f.DefaultCategory, City: f.City}
	}
	importer := ics.NewImporter(
		ics.NewClient(cfg.Timeout, cfg.MaxRetries),
		store,
		feeds,
		time.Duration(cfg.HorizonDays)*24*time.Hour,
	)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(cfg.Schedule, func() {
		start := time.Now()
		res, errs, err := importer.Run(ctx)
		if err != nil {
			logger.Warn("Calendar import interrupted: %v", err)
			return
		}
		if err := searchSvc.Reload(ctx); err != nil {
			logger.Error("Failed to reload index after import: %v", err)
		}
		logger.Info("Calendar import completed in %v: %d feeds, %d events (%d new, %d updated), %d errors",
			time.Since(start), res.Feeds, res.Events, res.Inserted, res.Updated, len(errs))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
