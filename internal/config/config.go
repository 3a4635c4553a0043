package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisGeoKey    string
	ReservationTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	InitialRadiusKm float64
	MaxRadiusKm     float64
	RadiusStepKm    float64

	AssumedSpeedKmh  float64
	StalenessWindow  time.Duration
	SnapshotInterval time.Duration

	OSRMEndpoint string
	WebhookURL   string

	StripeHoldAmount int64 // minor units; 0 disables the payment sink
	StripeCurrency   string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "drivers_geo",
		ReservationTTL:   2 * time.Minute,
		KafkaTopic:       "driver-positions",
		InitialRadiusKm:  5,
		MaxRadiusKm:      25,
		RadiusStepKm:     5,
		AssumedSpeedKmh:  30,
		StalenessWindow:  30 * time.Second,
		SnapshotInterval: time.Second,
		StripeCurrency:   "usd",
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setDurationFromEnv(&cfg.ReservationTTL, "RESERVATION_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.InitialRadiusKm, "DISPATCH_INITIAL_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.MaxRadiusKm, "DISPATCH_MAX_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.RadiusStepKm, "DISPATCH_RADIUS_STEP_KM", &errs)

	setFloatFromEnv(&cfg.AssumedSpeedKmh, "TRACKING_ASSUMED_SPEED_KMH", &errs)
	setDurationFromEnv(&cfg.StalenessWindow, "TRACKING_STALENESS_WINDOW", &errs)
	setDurationFromEnv(&cfg.SnapshotInterval, "TRACKING_SNAPSHOT_INTERVAL", &errs)

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setStringFromEnv(&cfg.WebhookURL, "NOTIFY_WEBHOOK_URL")

	setInt64FromEnv(&cfg.StripeHoldAmount, "STRIPE_HOLD_AMOUNT", &errs)
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.InitialRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_INITIAL_RADIUS_KM must be > 0"))
	}
	if cfg.RadiusStepKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_STEP_KM must be > 0"))
	}
	if cfg.MaxRadiusKm < cfg.InitialRadiusKm {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_RADIUS_KM must be >= the initial radius"))
	}
	if cfg.AssumedSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_ASSUMED_SPEED_KMH must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
