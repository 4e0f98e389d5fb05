package main

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"flex_reviews/internal/adapters/hostaway"
	"flex_reviews/internal/adapters/observability"
	redisad "flex_reviews/internal/adapters/redis"
	"flex_reviews/internal/app"
	"flex_reviews/internal/cache"
	"flex_reviews/internal/normalize"
	"flex_reviews/internal/shared"
	mysqlrepo "flex_reviews/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv, "ingestor")

	log.Info().
		Str("base", cfg.HostawayBase).
		Int("workers", cfg.Workers).
		Int("listings", len(cfg.ListingIDs)).
		Bool("strict", cfg.IngestStrict).
		Msg("ingestor starting")

	if len(cfg.ListingIDs) == 0 {
		log.Fatal().Msg("LISTING_IDS is empty; nothing to ingest")
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)

	client, err := hostaway.New(cfg.HostawayBase, cfg.HostawayKey, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Hostaway client")
	}
	kv := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	c := cache.New(kv, cfg.CacheNamespace, cfg.CacheTTL)
	opts := normalize.Options{Strict: cfg.IngestStrict, DefaultRating: cfg.DefaultRating}
	ing := app.NewIngestionService(client, repo, c, opts, cfg.IngestPageSize)

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, id := range cfg.ListingIDs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(listingID int64) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := ing.IngestListing(ctx, listingID)
			if err != nil {
				log.Warn().Int64("listing_id", listingID).Err(err).Msg("ingest failed")
				return
			}
			log.Info().
				Int64("listing_id", listingID).
				Int("processed", res.ProcessedCount).
				Int("skipped", res.SkippedCount).
				Msg("ingest ok")
		}(id)
	}

	wg.Wait()
	log.Info().Msg("ingestion completed")
}
