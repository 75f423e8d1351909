package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MatchingConfig holds the scoring weights and the cost model used by the
// matching engine. Values are tunable policy, injected at startup so a
// given build scores deterministically; they are never hard-coded in the
// engine itself.
type MatchingConfig struct {
	WeightProfit    float64
	WeightProximity float64
	WeightUrgency   float64

	FuelCostPerKm    float64 // EUR per km, fuel + wear
	DriverCostPerHr  float64 // EUR per driver hour
	AvgSpeedKmh      float64 // planning speed when no routing engine answers
	DefaultMaxDistKm float64 // default vehicle-to-pickup cutoff
	DefaultLimit     int     // suggestion list length when unspecified
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with sane defaults so the
// binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint string
	ETACacheTTL  time.Duration

	JWTSecret string

	StripeAPIKey string

	Matching MatchingConfig

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "vehicles_geo",
		KafkaTopic:      "vehicle-positions",
		ETACacheTTL:     5 * time.Minute,
		Matching: MatchingConfig{
			WeightProfit:     0.4,
			WeightProximity:  0.3,
			WeightUrgency:    0.3,
			FuelCostPerKm:    0.35,
			DriverCostPerHr:  25,
			AvgSpeedKmh:      65,
			DefaultMaxDistKm: 100,
			DefaultLimit:     5,
		},
		LogLevel: "info",
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

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	setFloatFromEnv(&cfg.Matching.WeightProfit, "MATCH_WEIGHT_PROFIT", &errs)
	setFloatFromEnv(&cfg.Matching.WeightProximity, "MATCH_WEIGHT_PROXIMITY", &errs)
	setFloatFromEnv(&cfg.Matching.WeightUrgency, "MATCH_WEIGHT_URGENCY", &errs)
	setFloatFromEnv(&cfg.Matching.FuelCostPerKm, "MATCH_FUEL_COST_PER_KM", &errs)
	setFloatFromEnv(&cfg.Matching.DriverCostPerHr, "MATCH_DRIVER_COST_PER_HOUR", &errs)
	setFloatFromEnv(&cfg.Matching.AvgSpeedKmh, "MATCH_AVG_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.Matching.DefaultMaxDistKm, "MATCH_MAX_DISTANCE_KM", &errs)
	setIntFromEnv(&cfg.Matching.DefaultLimit, "MATCH_DEFAULT_LIMIT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Matching.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_DEFAULT_LIMIT must be > 0"))
	}
	if cfg.Matching.AvgSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_AVG_SPEED_KMH must be > 0"))
	}
	if sum := cfg.Matching.WeightProfit + cfg.Matching.WeightProximity + cfg.Matching.WeightUrgency; sum <= 0 {
		errs = append(errs, fmt.Errorf("matching weights must sum to > 0"))
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

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
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
