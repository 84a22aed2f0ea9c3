package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Cache       CacheConfig
	InventoryDB InventoryDBConfig
	Metrics     MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"stockledger-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"` // json or console
}

// CacheConfig holds the stats cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory, redis, or none
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"stockledger:"`
}

// InventoryDBConfig holds inventory database settings.
type InventoryDBConfig struct {
	Type        string `envconfig:"INVENTORY_DB_TYPE" default:"sqlite"` // sqlite, postgres, mysql, or mongodb
	Path        string `envconfig:"INVENTORY_DB_PATH" default:"./data/inventory.db"`
	AutoMigrate bool   `envconfig:"INVENTORY_DB_AUTO_MIGRATE" default:"true"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"INVENTORY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"INVENTORY_DB_PORT" default:"0"`
	Name     string `envconfig:"INVENTORY_DB_NAME" default:"stockledger"`
	User     string `envconfig:"INVENTORY_DB_USER" default:"postgres"`
	Password string `envconfig:"INVENTORY_DB_PASS" default:""`
	SSLMode  string `envconfig:"INVENTORY_DB_SSLMODE" default:"disable"`
	MaxConns int    `envconfig:"INVENTORY_DB_MAX_CONNS" default:"25"`
	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"stockledger"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled         bool          `envconfig:"METRICS_ENABLED" default:"true"`
	RefreshInterval time.Duration `envconfig:"METRICS_REFRESH_INTERVAL" default:"1m"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (i *InventoryDBConfig) PostgresDSN() string {
	port := i.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(i.User, i.Password),
		Host:     fmt.Sprintf("%s:%d", i.Host, port),
		Path:     "/" + i.Name,
		RawQuery: url.Values{"sslmode": []string{i.SSLMode}}.Encode(),
	}
	return u.String()
}

// MySQLDSN returns the MySQL data source name. parseTime is required to scan DATETIME columns.
func (i *InventoryDBConfig) MySQLDSN() string {
	port := i.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = i.User
	cfg.Passwd = i.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", i.Host, port)
	cfg.DBName = i.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// normalize lowercases backend names and folds their aliases.
func (c *Config) normalize() {
	c.InventoryDB.Type = strings.ToLower(strings.TrimSpace(c.InventoryDB.Type))
	switch c.InventoryDB.Type {
	case "postgresql":
		c.InventoryDB.Type = "postgres"
	case "mongo":
		c.InventoryDB.Type = "mongodb"
	}
	c.Cache.Type = strings.ToLower(strings.TrimSpace(c.Cache.Type))
}

// Validate rejects unknown backend names before any connection is attempted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.InventoryDB.Type) {
	case "sqlite", "postgres", "postgresql", "mysql", "mongodb", "mongo":
	default:
		return fmt.Errorf("unsupported INVENTORY_DB_TYPE %q", c.InventoryDB.Type)
	}
	switch strings.ToLower(c.Cache.Type) {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported CACHE_TYPE %q", c.Cache.Type)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("CACHE_TTL cannot be negative")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
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
