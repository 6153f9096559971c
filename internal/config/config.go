package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Lock backends
const (
	LockBackendAdvisory = "advisory"
	LockBackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Coupon locking configuration
	Lock LockConfig `env:",prefix=LOCK_"`

	// Code generation configuration
	Code CodeConfig `env:",prefix=CODE_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=coupon_books"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=50"`
	MinConns int    `env:"MIN_CONNS,default=5"`
	Migrate  bool   `env:"MIGRATE,default=true"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// LockConfig holds coupon lock configuration
type LockConfig struct {
	DefaultDuration int    `env:"DEFAULT_DURATION,default=300"` // seconds
	Backend         string `env:"BACKEND,default=advisory"`
	SweepSchedule   string `env:"SWEEP_SCHEDULE,default=@every 30s"`
	SweepBatch      int    `env:"SWEEP_BATCH,default=500"`
	MaxConns        int    `env:"MAX_CONNS,default=32"` // advisory locks held at once
}

// CodeConfig holds code generation configuration
type CodeConfig struct {
	Charset       string `env:"CHARSET,default=ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"`
	DefaultLength int    `env:"DEFAULT_LENGTH,default=8"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom loads configuration from the given lookuper
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case LockBackendAdvisory, LockBackendMemory:
	default:
		return fmt.Errorf("invalid LOCK_BACKEND %q: want %q or %q", c.Lock.Backend, LockBackendAdvisory, LockBackendMemory)
	}
	if c.Lock.DefaultDuration <= 0 {
		return fmt.Errorf("LOCK_DEFAULT_DURATION must be positive")
	}
	if c.Lock.MaxConns <= 0 {
		return fmt.Errorf("LOCK_MAX_CONNS must be positive")
	}
	if c.Lock.SweepBatch <= 0 {
		return fmt.Errorf("LOCK_SWEEP_BATCH must be positive")
	}
	if c.Code.DefaultLength <= 0 {
		return fmt.Errorf("CODE_DEFAULT_LENGTH must be positive")
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LockDuration returns the default lock lease
func (c *LockConfig) LockDuration() time.Duration {
	return time.Duration(c.DefaultDuration) * time.Second
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
