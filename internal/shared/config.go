package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv         string
	HTTPAddr       string
	MetricsAddr    string
	MySQLDSN       string
	RedisAddr      string
	RedisDB        int
	RedisPass      string
	CacheNamespace string
	CacheTTL       time.Duration
	HostawayBase   string
	HostawayKey    string
	Workers        int
	IngestPageSize int
	IngestStrict   bool
	DefaultRating  *float64
	ListingIDs     []int64
}

func Load() Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:         env("APP_ENV", "prod"),
		HTTPAddr:       env("HTTP_ADDR", ":8080"),
		MetricsAddr:    env("METRICS_ADDR", ":9100"),
		MySQLDSN:       env("MYSQL_DSN", "root:root@tcp(localhost:3306)/flex?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:      env("REDIS_ADDR", "localhost:6379"),
		RedisPass:      env("REDIS_PASSWORD", ""),
		RedisDB:        atoi("REDIS_DB", 0),
		CacheNamespace: env("CACHE_NAMESPACE", "flex"),
		CacheTTL:       time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,
		HostawayBase:   env("HOSTAWAY_BASE_URL", "https://api.hostaway.com/v1"),
		HostawayKey:    env("HOSTAWAY_API_KEY", ""),
		Workers:        atoi("INGEST_WORKERS", 8),
		IngestPageSize: atoi("INGEST_PAGE_SIZE", 100),
		IngestStrict:   env("INGEST_MODE", "permissive") == "strict",
	}
	if v := os.Getenv("INGEST_DEFAULT_RATING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 10 {
			c.DefaultRating = &f
		} else {
			log.Warn().Str("value", v).Msg("INGEST_DEFAULT_RATING must be a number within [0,10]; ignored")
		}
	}
	for _, part := range strings.Split(env("LISTING_IDS", ""), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			c.ListingIDs = append(c.ListingIDs, id)
		} else {
			log.Warn().Str("value", part).Msg("skipping malformed listing id")
		}
	}
	if c.HostawayKey == "" {
		log.Warn().Msg("HOSTAWAY_API_KEY is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
