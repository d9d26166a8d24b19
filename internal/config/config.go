// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Timezone  string          `mapstructure:"timezone"`
	DB        DBConfig        `mapstructure:"db"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Solver    SolverConfig    `mapstructure:"solver"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	ServiceSecret string `mapstructure:"service_secret"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the shared relational store.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// QueueConfig points at the Redis instance backing the job store.
type QueueConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders the host:port pair for the Redis client.
func (c QueueConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig sets the GCS bucket for attachment blobs.
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PortalConfig identifies the remote judicial portal.
type PortalConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	NavigationRetries int    `mapstructure:"navigation_retries"`
	AntibotMaxRetries int    `mapstructure:"antibot_max_retries"`
}

// BrowserConfig governs the session pool.
type BrowserConfig struct {
	PoolSize            int `mapstructure:"pool_size"`
	MaxPagesPerBrowser  int `mapstructure:"max_pages_per_browser"`
	PageTimeoutMs       int `mapstructure:"page_timeout_ms"`
	NavigationTimeoutMs int `mapstructure:"navigation_timeout_ms"`
}

// PageTimeout converts the page timeout to a duration.
func (c BrowserConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutMs) * time.Millisecond
}

// NavigationTimeout converts the navigation timeout to a duration.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SolverConfig carries external captcha solver credentials and the
// strategy chain order.
type SolverConfig struct {
	ImageAPIKey       string   `mapstructure:"image_api_key"`
	InteractiveAPIKey string   `mapstructure:"interactive_api_key"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	StrategyOrder     []string `mapstructure:"strategy_order"`
}

// SchedulerConfig tunes the adaptive planner.
type SchedulerConfig struct {
	IntervalMinutes   int `mapstructure:"interval_minutes"`
	YoungCaseDays     int `mapstructure:"young_case_days"`
	RecentChangeDays  int `mapstructure:"recent_change_days"`
	HighStaleDays     int `mapstructure:"high_stale_days"`
	VeryStaleDays     int `mapstructure:"very_stale_days"`
	HighStaleInterval int `mapstructure:"high_stale_interval_days"`
	VeryStaleInterval int `mapstructure:"very_stale_interval_days"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// RateLimitConfig sizes the global portal token bucket.
type RateLimitConfig struct {
	Max      int `mapstructure:"max"`
	WindowMs int `mapstructure:"window_ms"`
}

// Window converts the refill window to a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// RetryConfig governs queue backoff.
type RetryConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BackoffBaseSec int `mapstructure:"backoff_base_seconds"`
}

// BackoffBase converts the backoff base to a duration.
func (c RetryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec) * time.Second
}

// ShutdownConfig bounds graceful teardown.
type ShutdownConfig struct {
	DeadlineSeconds int `mapstructure:"deadline_seconds"`
}

// Deadline converts the shutdown deadline to a duration.
func (c ShutdownConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CASEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("timezone", "America/Lima")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.db", 0)
	v.SetDefault("storage.prefix", "tenants")
	v.SetDefault("portal.navigation_retries", 3)
	v.SetDefault("portal.antibot_max_retries", 2)
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.max_pages_per_browser", 20)
	v.SetDefault("browser.page_timeout_ms", 30000)
	v.SetDefault("browser.navigation_timeout_ms", 45000)
	v.SetDefault("solver.timeout_seconds", 90)
	v.SetDefault("solver.strategy_order", []string{"audio", "image", "challenge"})
	v.SetDefault("scheduler.interval_minutes", 10)
	v.SetDefault("scheduler.young_case_days", 7)
	v.SetDefault("scheduler.recent_change_days", 7)
	v.SetDefault("scheduler.high_stale_days", 30)
	v.SetDefault("scheduler.very_stale_days", 90)
	v.SetDefault("scheduler.high_stale_interval_days", 3)
	v.SetDefault("scheduler.very_stale_interval_days", 7)
	v.SetDefault("worker.concurrency", 6)
	v.SetDefault("rate_limit.max", 10)
	v.SetDefault("rate_limit.window_ms", 60000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base_seconds", 30)
	v.SetDefault("shutdown.deadline_seconds", 45)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ServiceSecret == "" {
		return fmt.Errorf("server.service_secret must be set")
	}
	if c.Timezone == "" {
		return fmt.Errorf("timezone must be set")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url must be set")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if c.Browser.MaxPagesPerBrowser <= 0 {
		return fmt.Errorf("browser.max_pages_per_browser must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("rate_limit.max and rate_limit.window_ms must be > 0")
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.interval_minutes must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	return nil
}
