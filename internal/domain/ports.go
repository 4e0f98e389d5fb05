package domain

import (
	"context"
	"time"
)

type ReviewRepository interface {
	// Write paths
	UpsertReviews(ctx context.Context, rs []Review) error
	// SetApproval performs the conditional transition "approved=target where
	// id=? and approved<>target" and appends the audit entry in the same
	// transaction. Returns ErrNoChange when the row count is not one and the
	// review exists, ErrNotFound when it does not.
	SetApproval(ctx context.Context, id int64, approved bool, response *string, actor string) (Review, error)
	LogMiss(ctx context.Context, listingID int64, status int, reason string) error

	// Read paths
	GetReview(ctx context.Context, id int64) (Review, error)
	ListReviews(ctx context.Context, q ReviewsQuery) (ReviewsPage, error)
	ListAudit(ctx context.Context, reviewID int64, limit int) ([]AuditEntry, error)
}

// ReviewSource supplies raw, untrusted review records. Fetch/auth/retry
// mechanics live behind this port.
type ReviewSource interface {
	GetReviews(ctx context.Context, listingID int64, limit, offset int) ([]map[string]any, error)
}

// KVStore is the minimal key-value surface the cache layer needs.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
	// ScanDel deletes every key matching pattern via incremental cursor
	// scanning, never a single blocking full-keyspace enumeration.
	ScanDel(ctx context.Context, pattern string) (int, error)
}

// Read models & queries

type SortField string

const (
	SortByDate   SortField = "date"
	SortByRating SortField = "rating"
	SortByName   SortField = "name"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

type ReviewFilter struct {
	ListingID   *int64      `json:"listingId,omitempty"`
	ReviewType  *ReviewType `json:"reviewType,omitempty"`
	Channel     *Channel    `json:"channel,omitempty"`
	Approved    *bool       `json:"approved,omitempty"`
	From        *Timestamp  `json:"from,omitempty"`
	To          *Timestamp  `json:"to,omitempty"`
	MinRating   *float64    `json:"minRating,omitempty"`
	MaxRating   *float64    `json:"maxRating,omitempty"`
	HasResponse *bool       `json:"hasResponse,omitempty"`
}

type ReviewsQuery struct {
	Filter ReviewFilter
	SortBy SortField
	Order  SortOrder
	Page   int
	Limit  int
}

type ReviewsPage struct {
	Items []Review
	Total int
}

// Assembled list-response contract handed to the HTTP layer.

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type ListMeta struct {
	Cached      bool      `json:"cached"`
	CacheKey    string    `json:"cacheKey,omitempty"`
	ProcessedAt Timestamp `json:"processedAt"`
	Source      string    `json:"source"` // upstream|fallback|store
}

type ReviewsResponse struct {
	Reviews    []Review     `json:"reviews"`
	Pagination Pagination   `json:"pagination"`
	Filters    ReviewFilter `json:"filters"`
	Meta       ListMeta     `json:"meta"`
}
