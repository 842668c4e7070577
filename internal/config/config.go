package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration for the fluxql query gateway.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	API      APIConfig      `mapstructure:"api"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Scaling  ScalingConfig  `mapstructure:"scaling"`
	BaseURL  string         `mapstructure:"base_url"`
	Debug    bool           `mapstructure:"debug"`
}

// ScalingConfig contains the distributed pub/sub backend settings used for
// cross-instance schema cache invalidation (see internal/pubsub).
type ScalingConfig struct {
	// Backend for distributed schema-cache invalidation.
	// Options: "local" (single instance), "postgres", "redis"
	Backend string `mapstructure:"backend"`

	// RedisURL is the connection URL for Redis-compatible backends.
	// Only used when Backend is "redis"
	RedisURL string `mapstructure:"redis_url"`
}

// TracingConfig contains OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`      // Enable OpenTelemetry tracing
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `mapstructure:"service_name"` // Service name for traces (default: "fluxql")
	Environment string  `mapstructure:"environment"`  // Environment name (development, staging, production)
	SampleRate  float64 `mapstructure:"sample_rate"`  // Sample rate 0.0-1.0 (1.0 = 100%)
	Insecure    bool    `mapstructure:"insecure"`     // Use insecure connection (for local dev)
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"` // Enable Prometheus metrics endpoint
	Port    int    `mapstructure:"port"`    // Port for metrics server (default: 9090)
	Path    string `mapstructure:"path"`    // Path for metrics endpoint (default: /metrics)
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	User               string        `mapstructure:"user"`           // Database user for normal operations
	AdminUser          string        `mapstructure:"admin_user"`     // Optional admin user for migrations (defaults to User)
	Password           string        `mapstructure:"password"`       // Password for runtime user
	AdminPassword      string        `mapstructure:"admin_password"` // Optional password for admin user (defaults to Password)
	Database           string        `mapstructure:"database"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int32         `mapstructure:"max_connections"`
	MinConnections     int32         `mapstructure:"min_connections"`
	MaxConnLifetime    time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime    time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck        time.Duration `mapstructure:"health_check_period"`
	UserMigrationsPath string        `mapstructure:"user_migrations_path"` // Path to user-provided migration files
}

// AuthConfig contains JWT issuance/validation settings used to classify
// anon/authenticated/service_role requests (see internal/access).
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTExpiry      time.Duration `mapstructure:"jwt_expiry"`
	RefreshExpiry  time.Duration `mapstructure:"refresh_expiry"`
	ServiceRoleTTL time.Duration `mapstructure:"service_role_ttl"` // TTL for service role tokens (default: 24h)
	AnonTTL        time.Duration `mapstructure:"anon_ttl"`         // TTL for anonymous tokens (default: 24h)
}

// APIConfig contains REST API pagination settings
type APIConfig struct {
	MaxPageSize     int `mapstructure:"max_page_size"`     // Max rows per request (-1 = unlimited)
	MaxTotalResults int `mapstructure:"max_total_results"` // Max total retrievable rows via offset+limit (-1 = unlimited)
	DefaultPageSize int `mapstructure:"default_page_size"` // Auto-applied when no limit specified (-1 = no default)
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("No .env file found - using environment variables and defaults")
	}

	// Set defaults
	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLUXQL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Try to load config file from specific paths (in order of priority)
	configPaths := []string{
		"./fluxql.yaml",
		"./fluxql.yml",
		"./config/fluxql.yaml",
		"./config/fluxql.yml",
		"/etc/fluxql/fluxql.yaml",
		"/etc/fluxql/fluxql.yml",
	}

	var configLoaded bool
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("file", configPath).Msg("Config file found but could not be parsed, using environment variables and defaults")
			} else {
				log.Info().Str("file", configPath).Msg("Config file loaded")
				configLoaded = true
			}
			break
		}
	}

	if !configLoaded {
		log.Info().Msg("No config file found, using environment variables and defaults")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env", // For when running from subdirectories
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.body_limit", 10*1024*1024) // 10MB, generous for batch write bodies

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.admin_user", "")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.admin_password", "")
	viper.SetDefault("database.database", "fluxql")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.health_check_period", "1m")
	viper.SetDefault("database.user_migrations_path", "/migrations/user")

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "your-secret-key-change-in-production")
	viper.SetDefault("auth.jwt_expiry", "15m")
	viper.SetDefault("auth.refresh_expiry", "168h") // 7 days
	viper.SetDefault("auth.service_role_ttl", "24h")
	viper.SetDefault("auth.anon_ttl", "24h")

	// API defaults
	viper.SetDefault("api.max_page_size", 1000)
	viper.SetDefault("api.max_total_results", 10000)
	viper.SetDefault("api.default_page_size", 1000)

	// Tracing defaults (OpenTelemetry)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.service_name", "fluxql")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	// Metrics defaults (Prometheus)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Scaling defaults (schema cache invalidation backend)
	viper.SetDefault("scaling.backend", "local")
	viper.SetDefault("scaling.redis_url", "")

	// General defaults
	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration error: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth configuration error: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api configuration error: %w", err)
	}
	if c.Tracing.Enabled {
		if err := c.Tracing.Validate(); err != nil {
			return fmt.Errorf("tracing configuration error: %w", err)
		}
	}
	if c.Metrics.Enabled {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics configuration error: %w", err)
		}
	}
	if err := c.Scaling.Validate(); err != nil {
		return fmt.Errorf("scaling configuration error: %w", err)
	}

	if c.BaseURL != "" {
		parsedURL, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("base_url must use http or https scheme, got: %s", parsedURL.Scheme)
		}
	}

	return nil
}

// Validate validates server configuration
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got: %v", sc.ReadTimeout)
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got: %v", sc.WriteTimeout)
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got: %v", sc.IdleTimeout)
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive, got: %d", sc.BodyLimit)
	}
	return nil
}

// Validate validates database configuration
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if dc.Port < 1 || dc.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got: %d", dc.Port)
	}
	if dc.User == "" {
		return fmt.Errorf("database user is required")
	}

	// If AdminUser is not set, default it to User
	if dc.AdminUser == "" {
		dc.AdminUser = dc.User
	}

	if dc.Database == "" {
		return fmt.Errorf("database name is required")
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	sslModeValid := false
	for _, mode := range validSSLModes {
		if dc.SSLMode == mode {
			sslModeValid = true
			break
		}
	}
	if !sslModeValid {
		return fmt.Errorf("invalid ssl_mode: %s (must be one of: %v)", dc.SSLMode, validSSLModes)
	}

	if dc.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got: %d", dc.MaxConnections)
	}
	if dc.MinConnections < 0 {
		return fmt.Errorf("min_connections cannot be negative, got: %d", dc.MinConnections)
	}
	if dc.MaxConnections < dc.MinConnections {
		return fmt.Errorf("max_connections (%d) must be greater than or equal to min_connections (%d)",
			dc.MaxConnections, dc.MinConnections)
	}
	if dc.MaxConnLifetime <= 0 {
		return fmt.Errorf("max_conn_lifetime must be positive, got: %v", dc.MaxConnLifetime)
	}
	if dc.MaxConnIdleTime <= 0 {
		return fmt.Errorf("max_conn_idle_time must be positive, got: %v", dc.MaxConnIdleTime)
	}
	if dc.HealthCheck <= 0 {
		return fmt.Errorf("health_check_period must be positive, got: %v", dc.HealthCheck)
	}

	return nil
}

// Validate validates auth configuration
func (ac *AuthConfig) Validate() error {
	if ac.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if ac.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("please set a secure JWT secret (current value is the default insecure value)")
	}
	if len(ac.JWTSecret) < 32 {
		log.Warn().Msg("JWT secret is shorter than 32 characters - consider using a longer secret for better security")
	}
	if ac.JWTExpiry <= 0 {
		return fmt.Errorf("jwt_expiry must be positive, got: %v", ac.JWTExpiry)
	}
	if ac.RefreshExpiry <= 0 {
		return fmt.Errorf("refresh_expiry must be positive, got: %v", ac.RefreshExpiry)
	}
	if ac.ServiceRoleTTL <= 0 {
		return fmt.Errorf("service_role_ttl must be positive, got: %v", ac.ServiceRoleTTL)
	}
	if ac.AnonTTL <= 0 {
		return fmt.Errorf("anon_ttl must be positive, got: %v", ac.AnonTTL)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string using the runtime user
// Deprecated: Use RuntimeConnectionString() or AdminConnectionString() instead
func (dc *DatabaseConfig) ConnectionString() string {
	return dc.RuntimeConnectionString()
}

// RuntimeConnectionString returns the PostgreSQL connection string for the runtime user
func (dc *DatabaseConfig) RuntimeConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// AdminConnectionString returns the PostgreSQL connection string for the admin user
func (dc *DatabaseConfig) AdminConnectionString() string {
	user := dc.AdminUser
	if user == "" {
		user = dc.User
	}
	password := dc.AdminPassword
	if password == "" {
		password = dc.Password
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// Validate validates API configuration
func (ac *APIConfig) Validate() error {
	if ac.MaxPageSize == 0 || ac.MaxPageSize < -1 {
		return fmt.Errorf("max_page_size must be positive or -1 for unlimited, got: %d", ac.MaxPageSize)
	}
	if ac.MaxTotalResults == 0 || ac.MaxTotalResults < -1 {
		return fmt.Errorf("max_total_results must be positive or -1 for unlimited, got: %d", ac.MaxTotalResults)
	}
	if ac.DefaultPageSize == 0 || ac.DefaultPageSize < -1 {
		return fmt.Errorf("default_page_size must be positive or -1 for no default, got: %d", ac.DefaultPageSize)
	}
	if ac.DefaultPageSize > 0 && ac.MaxPageSize > 0 && ac.DefaultPageSize > ac.MaxPageSize {
		return fmt.Errorf("default_page_size (%d) cannot exceed max_page_size (%d)", ac.DefaultPageSize, ac.MaxPageSize)
	}

	if ac.MaxPageSize == -1 {
		log.Warn().Msg("max_page_size is set to -1 (unlimited) - this may allow expensive queries")
	}
	if ac.MaxTotalResults == -1 {
		log.Warn().Msg("max_total_results is set to -1 (unlimited) - this may allow deep pagination attacks")
	}
	if ac.DefaultPageSize == -1 {
		log.Warn().Msg("default_page_size is set to -1 (no default) - queries without limit parameter will return all rows")
	}

	return nil
}

// Validate validates tracing configuration
func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got: %f", tc.SampleRate)
	}
	if tc.Environment == "production" && tc.SampleRate >= 1.0 {
		log.Warn().Msg("Tracing sample_rate is 100% in production - consider reducing to lower overhead")
	}
	return nil
}

// Validate validates metrics configuration
func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Port < 1 || mc.Port > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got: %d", mc.Port)
	}
	if mc.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}
	if !strings.HasPrefix(mc.Path, "/") {
		return fmt.Errorf("metrics path must start with '/', got: %s", mc.Path)
	}
	return nil
}

// Validate validates scaling configuration
func (sc *ScalingConfig) Validate() error {
	validBackends := []string{"local", "postgres", "redis"}
	backendValid := false
	for _, b := range validBackends {
		if sc.Backend == b {
			backendValid = true
			break
		}
	}
	if !backendValid {
		return fmt.Errorf("invalid scaling backend: %s (must be one of: %v)", sc.Backend, validBackends)
	}
	if sc.Backend == "redis" && sc.RedisURL == "" {
		return fmt.Errorf("redis_url is required when scaling backend is 'redis'")
	}
	return nil
}
