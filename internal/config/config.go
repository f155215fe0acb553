package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Cache     CacheConfig
	CartDB    CartDBConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Sync      SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	APIKeys         string        `envconfig:"API_KEYS" default:""` // comma separated; empty disables the check
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"payndeliver-cart"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// CacheConfig holds the server-side Redis write-behind buffer settings.
type CacheConfig struct {
	BufferEnabled bool          `envconfig:"CART_BUFFER_ENABLED" default:"false"`
	FlushInterval time.Duration `envconfig:"CART_BUFFER_FLUSH_INTERVAL" default:"30s"`
	KeyPrefix     string        `envconfig:"CART_BUFFER_PREFIX" default:"payndeliver:cart"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// CartDBConfig holds cart persistence settings.
type CartDBConfig struct {
	Type string `envconfig:"CART_DB_TYPE" default:"sqlite"` // sqlite, postgres, mongodb or mysql
	Path string `envconfig:"CART_DB_PATH" default:"./data/carts.db"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"CART_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"CART_DB_PORT" default:"5432"`
	Name     string `envconfig:"CART_DB_NAME" default:"payndeliver"`
	User     string `envconfig:"CART_DB_USER" default:"postgres"`
	Password string `envconfig:"CART_DB_PASS" default:""`
	SSLMode  string `envconfig:"CART_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"payndeliver"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"carts"`
}

// CleanupConfig controls deletion of abandoned carts.
type CleanupConfig struct {
	Enabled   bool          `envconfig:"CART_CLEANUP_ENABLED" default:"false"`
	Threshold time.Duration `envconfig:"CART_CLEANUP_THRESHOLD" default:"720h"`
	Interval  time.Duration `envconfig:"CART_CLEANUP_INTERVAL" default:"24h"`
}

// RateLimitConfig holds per-client request limits. Zero RPS disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
}

// StoreConfig selects the client's durable key-value store.
type StoreConfig struct {
	Type          string        `envconfig:"STORE_TYPE" default:"sqlite"` // memory, sqlite, redis or none
	Path          string        `envconfig:"STORE_PATH" default:"./data/cartctl.db"`
	QuotaBytes    int64         `envconfig:"STORE_QUOTA_BYTES" default:"5242880"`
	PollInterval  time.Duration `envconfig:"STORE_POLL_INTERVAL" default:"500ms"`
	RedisAddr     string        `envconfig:"STORE_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"STORE_REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"STORE_REDIS_DB" default:"1"`
	RedisPrefix   string        `envconfig:"STORE_REDIS_PREFIX" default:"payndeliver:local"`
}

// SyncConfig holds settings for talking to the cart server.
type SyncConfig struct {
	BaseURL string        `envconfig:"SYNC_BASE_URL" default:"http://localhost:8080/api"`
	Timeout time.Duration `envconfig:"SYNC_TIMEOUT" default:"10s"`
	APIKey  string        `envconfig:"SYNC_API_KEY" default:""`
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *CartDBConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (c *CartDBConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Keys returns the configured API keys.
func (s *ServerConfig) Keys() []string {
	var keys []string
	for _, k := range strings.Split(s.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
