package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"flex_reviews/internal/adapters/hostaway"
	"flex_reviews/internal/cache"
	"flex_reviews/internal/domain"
	"flex_reviews/internal/normalize"
)

// ErrBatchFailed marks a strict-mode normalization abort.
var ErrBatchFailed = errors.New("normalization batch failed")

type IngestionService struct {
	src      domain.ReviewSource
	repo     domain.ReviewRepository
	cache    *cache.Cache
	opts     normalize.Options
	pageSize int
}

func NewIngestionService(src domain.ReviewSource, r domain.ReviewRepository, c *cache.Cache, opts normalize.Options, pageSize int) *IngestionService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &IngestionService{src: src, repo: r, cache: c, opts: opts, pageSize: pageSize}
}

// IngestListing pulls the listing's raw reviews page by page, normalizes
// them, and upserts the survivors. Upstream 404/401/403 are recorded as
// misses and end the run gracefully; anything else bubbles up.
func (s *IngestionService) IngestListing(ctx context.Context, listingID int64) (normalize.BatchResult, error) {
	var agg normalize.BatchResult
	agg.OK = true

	for offset := 0; ; offset += s.pageSize {
		raws, err := s.src.GetReviews(ctx, listingID, s.pageSize, offset)
		if err != nil {
			switch {
			case errors.Is(err, hostaway.ErrNotFound):
				_ = s.repo.LogMiss(ctx, listingID, 404, "not found")
			case errors.Is(err, hostaway.ErrUnauthorized):
				_ = s.repo.LogMiss(ctx, listingID, 401, "unauthorized")
			case errors.Is(err, hostaway.ErrForbidden):
				_ = s.repo.LogMiss(ctx, listingID, 403, "forbidden")
			default:
				return agg, err
			}
			// evict stale entries so we don't keep serving an old snapshot
			s.invalidateListing(ctx, listingID)
			return agg, nil
		}
		if len(raws) == 0 {
			break
		}

		res := normalize.Batch(raws, s.opts)
		agg.ProcessedCount += res.ProcessedCount
		agg.SkippedCount += res.SkippedCount
		agg.Errors = append(agg.Errors, res.Errors...)
		agg.Warnings = append(agg.Warnings, res.Warnings...)

		if s.opts.Strict && !res.OK {
			agg.OK = false
			return agg, fmt.Errorf("%w: listing %d: %s", ErrBatchFailed, listingID, res.Errors[0].Reason)
		}

		if len(res.Items) > 0 {
			if err := s.repo.UpsertReviews(ctx, res.Items); err != nil {
				return agg, fmt.Errorf("upsert reviews for listing %d: %w", listingID, err)
			}
		}
		for _, w := range res.Warnings {
			log.Warn().Int64("listing_id", listingID).Msg(w)
		}

		if len(raws) < s.pageSize {
			break
		}
	}

	// always invalidate after a successful pass, even when zero reviews
	// survived, to drop stale entries
	s.invalidateListing(ctx, listingID)
	agg.OK = agg.ProcessedCount > 0 || agg.SkippedCount == 0
	return agg, nil
}

func (s *IngestionService) invalidateListing(ctx context.Context, listingID int64) {
	// derived list keys always carry parameters after listingId, so the `&`
	// pins the value boundary: listing 5 never sweeps listing 55
	pattern := fmt.Sprintf("%s:reviews:*listingId=%d&*", s.cache.Namespace(), listingID)
	s.cache.Invalidate(ctx, "", pattern)
}
