package app

import (
	"context"
	"strconv"
	"time"

	"flex_reviews/internal/cache"
	"flex_reviews/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type QueryService struct {
	repo  domain.ReviewRepository
	cache *cache.Cache
}

func NewQueryService(r domain.ReviewRepository, c *cache.Cache) *QueryService {
	return &QueryService{repo: r, cache: c}
}

// normalizeQuery applies paging/sorting defaults before the cache key is
// derived, so equivalent requests share one key.
func normalizeQuery(q domain.ReviewsQuery) domain.ReviewsQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	if q.SortBy == "" {
		q.SortBy = domain.SortByDate
	}
	if q.Order == "" {
		q.Order = domain.OrderDesc
	}
	return q
}

// listParams echoes only the defined query parameters; undefined ones never
// reach the key.
func listParams(q domain.ReviewsQuery) map[string]string {
	p := map[string]string{
		"page":   strconv.Itoa(q.Page),
		"limit":  strconv.Itoa(q.Limit),
		"sortBy": string(q.SortBy),
		"order":  string(q.Order),
	}
	f := q.Filter
	if f.ListingID != nil {
		p["listingId"] = strconv.FormatInt(*f.ListingID, 10)
	}
	if f.ReviewType != nil {
		p["type"] = string(*f.ReviewType)
	}
	if f.Channel != nil {
		p["channel"] = string(*f.Channel)
	}
	if f.Approved != nil {
		p["approved"] = strconv.FormatBool(*f.Approved)
	}
	if f.From != nil {
		p["from"] = f.From.String()
	}
	if f.To != nil {
		p["to"] = f.To.String()
	}
	if f.MinRating != nil {
		p["minRating"] = strconv.FormatFloat(*f.MinRating, 'f', -1, 64)
	}
	if f.MaxRating != nil {
		p["maxRating"] = strconv.FormatFloat(*f.MaxRating, 'f', -1, 64)
	}
	if f.HasResponse != nil {
		p["hasResponse"] = strconv.FormatBool(*f.HasResponse)
	}
	return p
}

// ListReviews assembles the list response read-through: cache hit wins,
// otherwise the store result is written through with the default TTL.
func (s *QueryService) ListReviews(ctx context.Context, q domain.ReviewsQuery) (domain.ReviewsResponse, error) {
	q = normalizeQuery(q)
	params := listParams(q)
	key := s.cache.Key("reviews", params)

	var resp domain.ReviewsResponse
	if _, ok := s.cache.Get(ctx, key, &resp); ok {
		resp.Meta.Cached = true
		resp.Meta.CacheKey = key
		return resp, nil
	}

	page, err := s.repo.ListReviews(ctx, q)
	if err != nil {
		return domain.ReviewsResponse{}, err
	}

	totalPages := 0
	if page.Total > 0 {
		totalPages = (page.Total + q.Limit - 1) / q.Limit
	}
	reviews := page.Items
	if reviews == nil {
		reviews = []domain.Review{}
	}
	resp = domain.ReviewsResponse{
		Reviews: reviews,
		Pagination: domain.Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      page.Total,
			TotalPages: totalPages,
			HasNext:    q.Page < totalPages,
			HasPrev:    q.Page > 1 && page.Total > 0,
		},
		Filters: q.Filter,
		Meta: domain.ListMeta{
			Cached:      false,
			ProcessedAt: domain.NewTimestamp(time.Now()),
			Source:      "store",
		},
	}
	s.cache.Set(ctx, key, resp, cache.SetOptions{Source: "store", Params: params})
	return resp, nil
}

func (s *QueryService) GetReview(ctx context.Context, id int64) (domain.Review, error) {
	key := s.cache.Key("review", map[string]string{"id": strconv.FormatInt(id, 10)})
	var rv domain.Review
	if _, ok := s.cache.Get(ctx, key, &rv); ok {
		return rv, nil
	}
	rv, err := s.repo.GetReview(ctx, id)
	if err != nil {
		return domain.Review{}, err
	}
	s.cache.Set(ctx, key, rv, cache.SetOptions{Source: "store"})
	return rv, nil
}

func (s *QueryService) ListAudit(ctx context.Context, reviewID int64, limit int) ([]domain.AuditEntry, error) {
	// audit reads skip the cache: low volume, and operators expect to see
	// the entry for the transition they just made
	return s.repo.ListAudit(ctx, reviewID, limit)
}

func (s *QueryService) CacheStats() cache.MetricsSnapshot {
	return s.cache.Metrics().Snapshot()
}
