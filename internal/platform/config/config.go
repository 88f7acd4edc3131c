// Package config loads process configuration from an optional YAML file and
// FOODLINK_* environment overrides so main stays lean.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const devSigningKey = "dev-secret-key-change-in-production"

type Config struct {
	Server    Server      `yaml:"server"`
	Auth      Auth        `yaml:"auth"`
	Store     Store       `yaml:"store"`
	Redis     RedisConfig `yaml:"redis"`
	Kafka     Kafka       `yaml:"kafka"`
	Assets    Assets      `yaml:"assets"`
	RateLimit RateLimit   `yaml:"rate_limit"`
	Log       Log         `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	// DevTokens mounts POST /dev/token for local testing.
	DevTokens bool `yaml:"dev_tokens"`
}

// Store selects the record backend.
type Store struct {
	Backend string `yaml:"backend"` // memory, postgres or redis
	DSN     string `yaml:"dsn"`
	// Breaker trips after this many consecutive store failures.
	BreakerThreshold int `yaml:"breaker_threshold"`
	WatchBuffer      int `yaml:"watch_buffer"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Group   string   `yaml:"group"`
}

type Assets struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
}

// RateLimit is the per-actor request budget. Zero Requests disables it.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default is the development configuration: in-memory store, no Kafka, no
// asset bucket.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second, RequestTimeout: 30 * time.Second},
		Auth:   Auth{JWTSigningKey: devSigningKey, Issuer: "foodlink"},
		Store:  Store{Backend: "memory", BreakerThreshold: 5, WatchBuffer: 64},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka:     Kafka{Topic: "foodlink.donation-events", Group: "foodlink-notification-projector"},
		Assets:    Assets{Region: "us-east-1", PresignTTL: 15 * time.Minute},
		RateLimit: RateLimit{Requests: 120, Window: time.Minute},
		Log:       Log{Level: "info"},
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv() (Config, error) {
	return Load(os.Getenv("FOODLINK_CONFIG"))
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.RateLimit.Requests < 0 || (c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit needs a positive window when requests is set"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("FOODLINK_ADDR", &c.Server.Addr)
	duration("FOODLINK_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	duration("FOODLINK_REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	str("FOODLINK_JWT_SIGNING_KEY", &c.Auth.JWTSigningKey)
	str("FOODLINK_JWT_ISSUER", &c.Auth.Issuer)
	boolean("FOODLINK_DEV_TOKENS", &c.Auth.DevTokens)
	str("FOODLINK_STORE_BACKEND", &c.Store.Backend)
	str("FOODLINK_STORE_DSN", &c.Store.DSN)
	integer("FOODLINK_STORE_BREAKER_THRESHOLD", &c.Store.BreakerThreshold)
	integer("FOODLINK_STORE_WATCH_BUFFER", &c.Store.WatchBuffer)
	str("FOODLINK_REDIS_URL", &c.Redis.URL)
	integer("FOODLINK_REDIS_POOL_SIZE", &c.Redis.PoolSize)
	boolean("FOODLINK_KAFKA_ENABLED", &c.Kafka.Enabled)
	if v, ok := lookup("FOODLINK_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("FOODLINK_KAFKA_TOPIC", &c.Kafka.Topic)
	str("FOODLINK_KAFKA_GROUP", &c.Kafka.Group)
	integer("FOODLINK_RATE_LIMIT_REQUESTS", &c.RateLimit.Requests)
	duration("FOODLINK_RATE_LIMIT_WINDOW", &c.RateLimit.Window)
	str("FOODLINK_ASSETS_BUCKET", &c.Assets.Bucket)
	str("FOODLINK_ASSETS_REGION", &c.Assets.Region)
	str("FOODLINK_ASSETS_ENDPOINT", &c.Assets.Endpoint)
	str("FOODLINK_ASSETS_ACCESS_KEY_ID", &c.Assets.AccessKeyID)
	str("FOODLINK_ASSETS_SECRET_ACCESS_KEY", &c.Assets.SecretAccessKey)
	duration("FOODLINK_ASSETS_PRESIGN_TTL", &c.Assets.PresignTTL)
	str("FOODLINK_LOG_LEVEL", &c.Log.Level)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
