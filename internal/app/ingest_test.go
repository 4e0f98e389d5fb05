package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flex_reviews/internal/adapters/hostaway"
	"flex_reviews/internal/app"
	"flex_reviews/internal/cache"
	"flex_reviews/internal/domain"
	"flex_reviews/internal/normalize"
)

type fakeSource struct {
	pages [][]map[string]any
	err   error
	calls int
}

func (f *fakeSource) GetReviews(ctx context.Context, listingID int64, limit, offset int) ([]map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	idx := offset / limit
	if idx >= len(f.pages) {
		return nil, nil
	}
	return f.pages[idx], nil
}

func rawRec(id int64, overrides map[string]any) map[string]any {
	raw := map[string]any{
		"id":         float64(id),
		"listingId":  float64(5),
		"guestName":  "Ana",
		"comment":    "Great stay",
		"rating":     float64(9),
		"createdAt":  "2024-01-15T14:30:00Z",
		"reviewType": "guest",
		"channel":    "airbnb",
	}
	for k, v := range overrides {
		raw[k] = v
	}
	return raw
}

func TestIngestListing_PagesAndInvalidates(t *testing.T) {
	src := &fakeSource{pages: [][]map[string]any{
		{rawRec(1, nil), rawRec(2, nil)},
		{rawRec(3, nil)}, // short page ends the run
	}}
	repo := &fakeRepo{}
	kv := newMemKV()
	c := cache.New(kv, "flex", 0)
	ctx := context.Background()

	// entries for the ingested listing, another listing, and a listing whose
	// id shares the prefix
	require.True(t, c.Set(ctx, c.Key("reviews", map[string]string{"listingId": "5", "page": "1"}), "v", cache.SetOptions{}))
	require.True(t, c.Set(ctx, c.Key("reviews", map[string]string{"listingId": "9", "page": "1"}), "v", cache.SetOptions{}))
	require.True(t, c.Set(ctx, c.Key("reviews", map[string]string{"listingId": "55", "page": "1"}), "v", cache.SetOptions{}))

	svc := app.NewIngestionService(src, repo, c, normalize.Options{}, 2)
	res, err := svc.IngestListing(ctx, 5)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 3, res.ProcessedCount)
	require.Zero(t, res.SkippedCount)
	require.Equal(t, 2, src.calls)

	for _, id := range []int64{1, 2, 3} {
		_, err := repo.GetReview(ctx, id)
		require.NoError(t, err, "id %d", id)
	}

	// only the ingested listing's partition was dropped; listing 55 survives
	// even though its id starts with the ingested one
	require.ElementsMatch(t, []string{
		c.Key("reviews", map[string]string{"listingId": "9", "page": "1"}),
		c.Key("reviews", map[string]string{"listingId": "55", "page": "1"}),
	}, kv.keys())
}

func TestIngestListing_UpstreamMissRecordedGracefully(t *testing.T) {
	src := &fakeSource{err: hostaway.ErrNotFound}
	repo := &fakeRepo{}
	kv := newMemKV()
	c := cache.New(kv, "flex", 0)
	ctx := context.Background()

	require.True(t, c.Set(ctx, c.Key("reviews", map[string]string{"listingId": "5", "page": "1"}), "v", cache.SetOptions{}))

	svc := app.NewIngestionService(src, repo, c, normalize.Options{}, 100)
	_, err := svc.IngestListing(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, repo.misses)
	require.Empty(t, kv.keys(), "stale entries are evicted on a miss too")
}

func TestIngestListing_PermissiveSkipsBadRecords(t *testing.T) {
	src := &fakeSource{pages: [][]map[string]any{
		{rawRec(1, nil), rawRec(2, map[string]any{"createdAt": "garbage"})},
	}}
	repo := &fakeRepo{}
	svc := app.NewIngestionService(src, repo, cache.New(newMemKV(), "flex", 0), normalize.Options{}, 100)

	res, err := svc.IngestListing(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 1, res.ProcessedCount)
	require.Equal(t, 1, res.SkippedCount)

	_, err = repo.GetReview(context.Background(), 1)
	require.NoError(t, err)
	_, err = repo.GetReview(context.Background(), 2)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngestListing_StrictAbortsOnFirstFailure(t *testing.T) {
	src := &fakeSource{pages: [][]map[string]any{
		{rawRec(1, nil), rawRec(2, map[string]any{"createdAt": "garbage"}), rawRec(3, nil)},
	}}
	repo := &fakeRepo{}
	svc := app.NewIngestionService(src, repo, cache.New(newMemKV(), "flex", 0), normalize.Options{Strict: true}, 100)

	res, err := svc.IngestListing(context.Background(), 5)
	require.ErrorIs(t, err, app.ErrBatchFailed)
	require.False(t, res.OK)

	// nothing from the aborted batch reached the store
	_, err = repo.GetReview(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
