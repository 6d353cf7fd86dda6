package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSurreal  = "surreal"
	StorePostgres = "postgres"
)

// Broker drivers.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerKafka  = "kafka"
)

// Provider is the read-only view of configuration that infrastructure
// packages depend on.
type Provider interface {
	GetAppAddr() string
	GetInstanceID() string
	GetStoreDriver() string
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
	GetPostgresURL() string
	GetBrokerDriver() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetKafkaBrokers() []string
	GetKafkaTopic() string
	GetJWTSecret() string
	GetJWTIssuer() string
	GetSessionSecret() string
	GetPresenceOfflineGrace() time.Duration
	GetTypingInterval() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	AppAddr    string
	LogFormat  string
	LogLevel   string
	InstanceID string

	StoreDriver      string
	DBUrl            string
	DBNs             string
	DBDb             string
	DBUser           string
	DBPass           string
	DBQueryTimeout   time.Duration
	DBExecuteTimeout time.Duration
	PostgresURL      string

	BrokerDriver  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	KafkaTopic    string

	JWTSecret     string
	JWTIssuer     string
	SessionSecret string

	PresenceOfflineGrace time.Duration
	TypingInterval       time.Duration

	TracingEnabled     bool
	TracingServiceName string
	TracingZipkinURL   string
}

var _ Provider = (*Config)(nil)

// New loads configuration and exits the process when it is invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// Load reads `.env` when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching
// `.env`.
func FromEnv() (*Config, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return def
		}
		return d
	}

	cfg := &Config{
		AppAddr:    getenv("APP_ADDR", ":8080"),
		LogFormat:  getenv("LOG_FORMAT", "text"),
		LogLevel:   getenv("LOG_LEVEL", "debug"),
		InstanceID: getenv("INSTANCE_ID", uuid.NewString()),

		StoreDriver:      strings.ToLower(getenv("STORE_DRIVER", StoreMemory)),
		DBUrl:            os.Getenv("SURREAL_URL"),
		DBNs:             os.Getenv("SURREAL_NS"),
		DBDb:             os.Getenv("SURREAL_DB"),
		DBUser:           os.Getenv("SURREAL_USER"),
		DBPass:           os.Getenv("SURREAL_PASS"),
		DBQueryTimeout:   duration("DB_QUERY_TIMEOUT", 5*time.Second),
		DBExecuteTimeout: duration("DB_EXECUTE_TIMEOUT", 10*time.Second),
		PostgresURL:      os.Getenv("POSTGRES_URL"),

		BrokerDriver:  strings.ToLower(getenv("BROKER_DRIVER", BrokerMemory)),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getenv("KAFKA_TOPIC", "roomchat.events"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     getenv("JWT_ISSUER", "roomchat"),
		SessionSecret: os.Getenv("SESSION_SECRET"),

		PresenceOfflineGrace: duration("PRESENCE_OFFLINE_GRACE", 5*time.Second),
		TypingInterval:       duration("TYPING_INTERVAL", time.Second),

		TracingServiceName: getenv("PUBSUB_TRACING_SERVICE_NAME", "roomchat"),
		TracingZipkinURL:   getenv("PUBSUB_TRACING_ZIPKIN_URL", "http://localhost:9411/api/v2/spans"),
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB: invalid database index %q", v))
		}
		cfg.RedisDB = n
	}
	if v := os.Getenv("PUBSUB_TRACING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PUBSUB_TRACING_ENABLED: invalid bool %q", v))
		}
		cfg.TracingEnabled = b
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal store"))
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}

	switch c.BrokerDriver {
	case BrokerMemory, BrokerRedis:
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("BROKER_DRIVER: unknown driver %q", c.BrokerDriver))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errs
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) GetAppAddr() string                     { return c.AppAddr }
func (c *Config) GetInstanceID() string                  { return c.InstanceID }
func (c *Config) GetStoreDriver() string                 { return c.StoreDriver }
func (c *Config) GetDBURL() string                       { return c.DBUrl }
func (c *Config) GetDBNs() string                        { return c.DBNs }
func (c *Config) GetDBDb() string                        { return c.DBDb }
func (c *Config) GetDBUser() string                      { return c.DBUser }
func (c *Config) GetDBPass() string                      { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration       { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration     { return c.DBExecuteTimeout }
func (c *Config) GetPostgresURL() string                 { return c.PostgresURL }
func (c *Config) GetBrokerDriver() string                { return c.BrokerDriver }
func (c *Config) GetRedisAddr() string                   { return c.RedisAddr }
func (c *Config) GetRedisPassword() string               { return c.RedisPassword }
func (c *Config) GetRedisDB() int                        { return c.RedisDB }
func (c *Config) GetKafkaBrokers() []string              { return c.KafkaBrokers }
func (c *Config) GetKafkaTopic() string                  { return c.KafkaTopic }
func (c *Config) GetJWTSecret() string                   { return c.JWTSecret }
func (c *Config) GetJWTIssuer() string                   { return c.JWTIssuer }
func (c *Config) GetSessionSecret() string               { return c.SessionSecret }
func (c *Config) GetPresenceOfflineGrace() time.Duration { return c.PresenceOfflineGrace }
func (c *Config) GetTypingInterval() time.Duration       { return c.TypingInterval }
