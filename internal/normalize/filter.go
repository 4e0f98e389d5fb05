package normalize

import (
	"sort"
	"strings"

	"flex_reviews/internal/domain"
)

// Filter returns the subset of reviews matching every set predicate. Pure;
// the input slice is never mutated.
func Filter(reviews []domain.Review, f domain.ReviewFilter) []domain.Review {
	out := make([]domain.Review, 0, len(reviews))
	for _, rv := range reviews {
		if f.ListingID != nil && rv.ListingID != *f.ListingID {
			continue
		}
		if f.ReviewType != nil && rv.ReviewType != *f.ReviewType {
			continue
		}
		if f.Channel != nil && rv.Channel != *f.Channel {
			continue
		}
		if f.Approved != nil && rv.Approved != *f.Approved {
			continue
		}
		if f.From != nil && rv.CreatedAt.Before(f.From.Time) {
			continue
		}
		if f.To != nil && rv.CreatedAt.After(f.To.Time) {
			continue
		}
		if f.MinRating != nil && rv.Rating < *f.MinRating {
			continue
		}
		if f.MaxRating != nil && rv.Rating > *f.MaxRating {
			continue
		}
		if f.HasResponse != nil {
			has := rv.ResponseText != nil && *rv.ResponseText != ""
			if has != *f.HasResponse {
				continue
			}
		}
		out = append(out, rv)
	}
	return out
}

// Sort stably orders a copy of reviews by date, rating, or guest name.
func Sort(reviews []domain.Review, field domain.SortField, order domain.SortOrder) []domain.Review {
	out := make([]domain.Review, len(reviews))
	copy(out, reviews)

	less := func(a, b domain.Review) bool {
		switch field {
		case domain.SortByRating:
			return a.Rating < b.Rating
		case domain.SortByName:
			return strings.ToLower(a.GuestName) < strings.ToLower(b.GuestName)
		default: // date
			return a.CreatedAt.Before(b.CreatedAt.Time)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == domain.OrderDesc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}
