package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	// DatabaseURL is empty when no Postgres is configured; trip history is then disabled.
	DatabaseURL string

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	NATSURL         string
	LogNATSSubjects bool

	KafkaBrokers []string
	KafkaTopic   string

	OSRMURL           string
	RoutingTimeout    time.Duration
	RoutingMaxRetries int
	RoutingCacheTTL   time.Duration
	// RoutingConcurrency caps in-flight leg fetches per build; 0 is unbounded.
	RoutingConcurrency int

	ArrivalThresholdM float64
	GapToleranceDeg   float64
	NearDestinationM  float64

	PublishInterval time.Duration
	StaleAfter      time.Duration
	SweepInterval   time.Duration

	MetricsAddr string
	Location    *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getenvDefault("APP_ENV", "production"),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		RedisAddr:      getenvDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix: getenvDefault("REDIS_KEY_PREFIX", "jeeproute"),
		NATSURL:        getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		KafkaTopic:     getenvDefault("KAFKA_TOPIC", "jeeproute.trip-events"),
		OSRMURL:        getenvDefault("OSRM_URL", "https://router.project-osrm.org"),
		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	cfg.DatabaseURL = databaseURL()
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.RoutingTimeout, err = millis("ROUTING_TIMEOUT_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PublishInterval, err = millis("PUBLISH_INTERVAL_MS", time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = seconds("STALE_AFTER_SEC", 5*time.Minute, false); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = seconds("SWEEP_INTERVAL_SEC", 30*time.Second, false); err != nil {
		return nil, err
	}
	// 0 disables the route cache
	if cfg.RoutingCacheTTL, err = seconds("ROUTING_CACHE_TTL_SEC", 10*time.Minute, true); err != nil {
		return nil, err
	}
	if cfg.RoutingMaxRetries, err = nonNegativeInt("ROUTING_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RoutingConcurrency, err = nonNegativeInt("ROUTING_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.ArrivalThresholdM, err = positiveFloat("ARRIVAL_THRESHOLD_M", 40); err != nil {
		return nil, err
	}
	if cfg.GapToleranceDeg, err = positiveFloat("GAP_TOLERANCE_DEG", 0.0001); err != nil {
		return nil, err
	}
	if cfg.NearDestinationM, err = positiveFloat("NEAR_DESTINATION_M", 300); err != nil {
		return nil, err
	}

	// Service day for trip history
	tzName := getenvDefault("TZ", "Asia/Manila")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// IsDevelopment reports whether APP_ENV selects the development logger.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars
// when PGDATABASE is set.
func databaseURL() string {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn
	}
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return ""
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func millis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func seconds(key string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 || (sec == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func nonNegativeInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func positiveFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
