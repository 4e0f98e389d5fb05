//go:build integration || !unit

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	goredis "github.com/redis/go-redis/v9"

	httpserver "flex_reviews/internal/adapters/http_server"
	redisad "flex_reviews/internal/adapters/redis"
	"flex_reviews/internal/app"
	"flex_reviews/internal/cache"
	"flex_reviews/internal/domain"
	mysqlrepo "flex_reviews/internal/storage/mysql"
)

// ---------- helpers ----------
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

func startStack(t *testing.T) (*mysqlrepo.Repo, *cache.Cache, *httptest.Server) {
	t.Helper()

	// isolated MySQL container
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

	// in-process redis for the cache layer
	mr := miniredis.RunT(t)
	kv := redisad.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	c := cache.New(kv, "flex", 300*time.Second)

	repo := mysqlrepo.New(db)
	srv := httpserver.New()
	srv.MountHandlers(&httpserver.Handlers{
		Q: app.NewQueryService(repo, c),
		A: app.NewApprovalService(repo, c),
	})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)

	return repo, c, ts
}

func seed(t *testing.T, repo *mysqlrepo.Repo, id, listing int64, approved bool, created time.Time) {
	t.Helper()
	rv := domain.Review{
		ID:         id,
		ListingID:  listing,
		GuestName:  "Ana",
		Comment:    "Great stay",
		Rating:     8.5,
		Categories: map[string]float64{"cleanliness": 8.0},
		ReviewType: domain.GuestReview,
		Channel:    domain.ChannelAirbnb,
		Approved:   approved,
		CreatedAt:  domain.NewTimestamp(created),
		UpdatedAt:  domain.NewTimestamp(created),
		RawJSON:    []byte(`{}`),
	}
	if err := repo.UpsertReviews(context.Background(), []domain.Review{rv}); err != nil {
		t.Fatalf("seed review %d: %v", id, err)
	}
}

// ---------- the tests ----------
func TestHTTP_EndToEnd_ListApproveAndAudit(t *testing.T) {
	repo, _, ts := startStack(t)
	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }
	seed(t, repo, 1, 5, false, day(1))
	seed(t, repo, 2, 5, false, day(2))
	seed(t, repo, 3, 9, true, day(3))

	client := ts.Client()

	// list, cold cache
	res, err := client.Get(ts.URL + "/v1/reviews?listingId=5")
	if err != nil {
		t.Fatalf("GET reviews: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if res.Header.Get("ETag") == "" {
		t.Fatalf("missing ETag")
	}
	var list domain.ReviewsResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	res.Body.Close()
	if list.Pagination.Total != 2 || list.Meta.Cached {
		t.Fatalf("unexpected first list: %+v", list.Meta)
	}

	// second read is served from cache
	res, err = client.Get(ts.URL + "/v1/reviews?listingId=5")
	if err != nil {
		t.Fatalf("GET reviews (cached): %v", err)
	}
	etag := res.Header.Get("ETag")
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode cached list: %v", err)
	}
	res.Body.Close()
	if !list.Meta.Cached || list.Meta.CacheKey == "" {
		t.Fatalf("expected cached list: %+v", list.Meta)
	}

	// conditional GET: cached replays are byte-stable, so the ETag matches
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/reviews?listingId=5", nil)
	req.Header.Set("If-None-Match", etag)
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("conditional GET: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", res.StatusCode)
	}

	// approve review 1
	body := bytes.NewBufferString(`{"approved":true,"response":"Glad you enjoyed it"}`)
	req, _ = http.NewRequest(http.MethodPatch, ts.URL+"/v1/reviews/1/approval", body)
	req.Header.Set("X-Actor", "ops@flex")
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("PATCH approval: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approval status %d", res.StatusCode)
	}
	var approved domain.Review
	if err := json.NewDecoder(res.Body).Decode(&approved); err != nil {
		t.Fatalf("decode approval: %v", err)
	}
	res.Body.Close()
	if !approved.Approved || approved.ResponseText == nil {
		t.Fatalf("unexpected approved review: %+v", approved)
	}

	// the same transition again conflicts
	req, _ = http.NewRequest(http.MethodPatch, ts.URL+"/v1/reviews/1/approval", bytes.NewBufferString(`{"approved":true}`))
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("PATCH approval (repeat): %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.StatusCode)
	}

	// approval invalidated the cached list, so the same query is fresh again
	res, err = client.Get(ts.URL + "/v1/reviews?listingId=5")
	if err != nil {
		t.Fatalf("GET reviews after approval: %v", err)
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode refreshed list: %v", err)
	}
	res.Body.Close()
	if list.Meta.Cached {
		t.Fatalf("expected a fresh read after invalidation: %+v", list.Meta)
	}
	for _, rv := range list.Reviews {
		if rv.ID == 1 && !rv.Approved {
			t.Fatalf("refreshed list still shows review 1 pending")
		}
	}

	// the approved filter partitions separately
	res, err = client.Get(ts.URL + "/v1/reviews?listingId=5&approved=true")
	if err != nil {
		t.Fatalf("GET approved reviews: %v", err)
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode approved list: %v", err)
	}
	res.Body.Close()
	if list.Pagination.Total != 1 || list.Reviews[0].ID != 1 {
		t.Fatalf("unexpected approved list: total=%d", list.Pagination.Total)
	}

	// audit trail shows the transition
	res, err = client.Get(ts.URL + "/v1/reviews/1/audit")
	if err != nil {
		t.Fatalf("GET audit: %v", err)
	}
	var entries []domain.AuditEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	res.Body.Close()
	if len(entries) != 1 || entries[0].Action != domain.AuditApproved || entries[0].Actor != "ops@flex" {
		t.Fatalf("unexpected audit: %+v", entries)
	}

	// missing review
	res, err = client.Get(ts.URL + "/v1/reviews/404404")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestHTTP_EndToEnd_BulkApproval(t *testing.T) {
	repo, _, ts := startStack(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	seed(t, repo, 1, 5, false, day)
	seed(t, repo, 2, 5, true, day)

	body := bytes.NewBufferString(`{"ids":[1,2,99],"approved":true}`)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/reviews/approval/bulk", body)
	req.Header.Set("X-Actor", "ops@flex")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST bulk: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", res.StatusCode)
	}

	var out app.BulkResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode bulk result: %v", err)
	}
	if out.Updated != 1 || out.Failed != 2 {
		t.Fatalf("unexpected bulk result: %+v", out)
	}
}
