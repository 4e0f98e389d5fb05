package app

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"

	"flex_reviews/internal/adapters/observability"
	"flex_reviews/internal/cache"
	"flex_reviews/internal/domain"
)

// ApprovalService owns the Pending<->Approved state machine. The store's
// conditional update makes each transition exactly-once under concurrency;
// this layer adds the post-commit cache invalidation and bulk fan-out.
type ApprovalService struct {
	repo  domain.ReviewRepository
	cache *cache.Cache
}

func NewApprovalService(r domain.ReviewRepository, c *cache.Cache) *ApprovalService {
	return &ApprovalService{repo: r, cache: c}
}

// SetApproval runs one transition. ErrNoChange means the review already
// holds the target state; no audit entry was written and nothing was
// invalidated. Invalidation runs strictly after the store commit so readers
// never observe eviction for a write that could still roll back; an
// invalidation failure is logged and counted, never surfaced, because the
// approval itself has already committed.
func (s *ApprovalService) SetApproval(ctx context.Context, id int64, approved bool, response *string, actor string) (domain.Review, error) {
	action := "approve"
	if !approved {
		action = "unapprove"
	}

	rv, err := s.repo.SetApproval(ctx, id, approved, response, actor)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoChange):
			observability.ObserveApproval(action, "no_change")
		case errors.Is(err, domain.ErrNotFound):
			observability.ObserveApproval(action, "not_found")
		default:
			observability.ObserveApproval(action, "error")
		}
		return domain.Review{}, err
	}
	observability.ObserveApproval(action, "ok")

	s.invalidateAfterTransition(ctx, []domain.Review{rv})
	return rv, nil
}

type BulkFailure struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

type BulkResult struct {
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Failures []BulkFailure `json:"failures,omitempty"`
}

// FullySuccessful reports whether no id failed; anything else is a partial
// success, never a rollback of the ids that did transition.
func (r BulkResult) FullySuccessful() bool { return r.Failed == 0 }

// SetApprovalBulk applies the transition independently per id. Cache
// invalidation happens once at the end, after every store commit.
func (s *ApprovalService) SetApprovalBulk(ctx context.Context, ids []int64, approved bool, actor string) (BulkResult, error) {
	var (
		res     BulkResult
		changed []domain.Review
	)
	action := "approve"
	if !approved {
		action = "unapprove"
	}
	for _, id := range ids {
		rv, err := s.repo.SetApproval(ctx, id, approved, nil, actor)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, BulkFailure{ID: id, Reason: err.Error()})
			switch {
			case errors.Is(err, domain.ErrNoChange):
				observability.ObserveApproval(action, "no_change")
			case errors.Is(err, domain.ErrNotFound):
				observability.ObserveApproval(action, "not_found")
			default:
				observability.ObserveApproval(action, "error")
			}
			continue
		}
		observability.ObserveApproval(action, "ok")
		res.Updated++
		changed = append(changed, rv)
	}
	if len(changed) > 0 {
		s.invalidateAfterTransition(ctx, changed)
	}
	return res, nil
}

// invalidateAfterTransition drops the exact per-review entries and every
// list-level cached query. List keys embed listingId as a parameter, so the
// wildcard covers the affected listings' partitions as well.
func (s *ApprovalService) invalidateAfterTransition(ctx context.Context, changed []domain.Review) {
	deleted := 0
	for _, rv := range changed {
		exact := s.cache.Key("review", map[string]string{"id": strconv.FormatInt(rv.ID, 10)})
		deleted += s.cache.Invalidate(ctx, exact, "")
	}
	deleted += s.cache.Invalidate(ctx, "", s.cache.Namespace()+":reviews:*")
	log.Debug().Int("deleted", deleted).Int("transitions", len(changed)).Msg("cache invalidated after approval")
}
