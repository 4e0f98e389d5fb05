//go:build integration || !unit

package mysql_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"flex_reviews/internal/domain"
	mysqlrepo "flex_reviews/internal/storage/mysql"
)

// ---------- small helpers ----------
func pstr(s string) *string     { return &s }
func pi64(i int64) *int64       { return &i }
func pbool(b bool) *bool        { return &b }
func pfloat(f float64) *float64 { return &f }

func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Fatalf("%s not set; export it (e.g. MIGRATIONS_DIR=/path/to/sql)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)

	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=flex",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:%s@tcp(127.0.0.1:%s)/%s?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		"root", hostPort, "flex")

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

func seedReview(id, listing int64, approved bool, created time.Time) domain.Review {
	return domain.Review{
		ID:         id,
		ListingID:  listing,
		GuestName:  "Ana",
		Comment:    "Great stay",
		Rating:     8.5,
		Categories: map[string]float64{"cleanliness": 8.0, "location": 9.0},
		ReviewType: domain.GuestReview,
		Channel:    domain.ChannelAirbnb,
		Approved:   approved,
		CreatedAt:  domain.NewTimestamp(created),
		UpdatedAt:  domain.NewTimestamp(created),
		RawJSON:    []byte(`{}`),
	}
}

// ---------- the tests ----------
func TestRepo_MySQL_UpsertQueryAndApprove(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }

	r1 := seedReview(1, 5, false, day(1))
	r2 := seedReview(2, 5, true, day(10))
	r2.GuestName = "Bob"
	r2.Rating = 4.0
	r2.ResponseText = pstr("thanks")
	rd := domain.NewTimestamp(day(11))
	r2.ResponseDate = &rd
	r3 := seedReview(3, 7, false, day(20))
	r3.Channel = domain.ChannelBooking

	if err := repo.UpsertReviews(ctx, []domain.Review{r1, r2, r3}); err != nil {
		t.Fatalf("UpsertReviews: %v", err)
	}

	// re-ingest must not wipe the stored operator response
	r2b := r2
	r2b.ResponseText = nil
	r2b.ResponseDate = nil
	r2b.Comment = "Great stay, updated"
	if err := repo.UpsertReviews(ctx, []domain.Review{r2b}); err != nil {
		t.Fatalf("UpsertReviews (again): %v", err)
	}
	got, err := repo.GetReview(ctx, 2)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.Comment != "Great stay, updated" {
		t.Fatalf("comment not updated: %q", got.Comment)
	}
	if got.ResponseText == nil || *got.ResponseText != "thanks" {
		t.Fatalf("response wiped by re-ingest: %+v", got.ResponseText)
	}
	if len(got.Categories) != 2 {
		t.Fatalf("categories round-trip: %v", got.Categories)
	}

	if _, err := repo.GetReview(ctx, 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// filters
	page, err := repo.ListReviews(ctx, domain.ReviewsQuery{Filter: domain.ReviewFilter{ListingID: pi64(5)}, Limit: 10, Page: 1})
	if err != nil {
		t.Fatalf("ListReviews by listing: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("listing filter: total=%d items=%d", page.Total, len(page.Items))
	}
	// default ordering is newest first
	if page.Items[0].ID != 2 || page.Items[1].ID != 1 {
		t.Fatalf("unexpected order: %d, %d", page.Items[0].ID, page.Items[1].ID)
	}

	page, err = repo.ListReviews(ctx, domain.ReviewsQuery{Filter: domain.ReviewFilter{HasResponse: pbool(true)}, Limit: 10, Page: 1})
	if err != nil {
		t.Fatalf("ListReviews by response: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != 2 {
		t.Fatalf("hasResponse filter: %+v", page)
	}

	page, err = repo.ListReviews(ctx, domain.ReviewsQuery{Filter: domain.ReviewFilter{MinRating: pfloat(5), Approved: pbool(false)}, Limit: 10, Page: 1})
	if err != nil {
		t.Fatalf("ListReviews by rating: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("minRating+approved filter: total=%d", page.Total)
	}

	// sort by rating ascending
	page, err = repo.ListReviews(ctx, domain.ReviewsQuery{SortBy: domain.SortByRating, Order: domain.OrderAsc, Limit: 10, Page: 1})
	if err != nil {
		t.Fatalf("ListReviews sorted: %v", err)
	}
	if page.Items[0].ID != 2 {
		t.Fatalf("expected lowest rating first, got id %d", page.Items[0].ID)
	}

	// paging
	page, err = repo.ListReviews(ctx, domain.ReviewsQuery{Limit: 2, Page: 2})
	if err != nil {
		t.Fatalf("ListReviews paged: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 1 {
		t.Fatalf("paging: total=%d items=%d", page.Total, len(page.Items))
	}

	// approval transition + audit
	rv, err := repo.SetApproval(ctx, 1, true, pstr("Glad you enjoyed it"), "ops@flex")
	if err != nil {
		t.Fatalf("SetApproval: %v", err)
	}
	if !rv.Approved || rv.ResponseText == nil {
		t.Fatalf("unexpected review after approval: %+v", rv)
	}

	// same transition again is a no-op
	if _, err := repo.SetApproval(ctx, 1, true, nil, "ops@flex"); !errors.Is(err, domain.ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}
	if _, err := repo.SetApproval(ctx, 404, true, nil, "ops@flex"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	entries, err := repo.ListAudit(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.AuditApproved || entries[0].Actor != "ops@flex" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}

	// misses table accepts repeat writes for the same listing
	if err := repo.LogMiss(ctx, 999, 404, "not found"); err != nil {
		t.Fatalf("LogMiss: %v", err)
	}
	if err := repo.LogMiss(ctx, 999, 403, "forbidden"); err != nil {
		t.Fatalf("LogMiss (again): %v", err)
	}
}

func TestRepo_MySQL_ConcurrentApproval(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	if err := repo.UpsertReviews(ctx, []domain.Review{seedReview(1, 5, false, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}); err != nil {
		t.Fatalf("UpsertReviews: %v", err)
	}

	const racers = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		oks      int
		noChange int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.SetApproval(ctx, 1, true, nil, "ops@flex")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, domain.ErrNoChange):
				noChange++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if oks != 1 || noChange != racers-1 {
		t.Fatalf("expected exactly one winner, got ok=%d no_change=%d", oks, noChange)
	}

	entries, err := repo.ListAudit(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}

	rv, err := repo.GetReview(ctx, 1)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if !rv.Approved {
		t.Fatalf("expected approved final state")
	}
}
