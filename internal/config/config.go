// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Site() SiteConfig
	Auth() AuthConfig
	Health() HealthConfig
	Scraper() ScraperConfig
	Confirm() ConfirmConfig
	Review() ReviewConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserReviewWindowVisible(bool)

	// Server Setters
	SetServerListenAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	SiteCfg     SiteConfig     `mapstructure:"site" yaml:"site"`
	AuthCfg     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	HealthCfg   HealthConfig   `mapstructure:"health" yaml:"health"`
	ScraperCfg  ScraperConfig  `mapstructure:"scraper" yaml:"scraper"`
	ConfirmCfg  ConfirmConfig  `mapstructure:"confirm" yaml:"confirm"`
	ReviewCfg   ReviewConfig   `mapstructure:"review" yaml:"review"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Site() SiteConfig         { return c.SiteCfg }
func (c *Config) Auth() AuthConfig         { return c.AuthCfg }
func (c *Config) Health() HealthConfig     { return c.HealthCfg }
func (c *Config) Scraper() ScraperConfig   { return c.ScraperCfg }
func (c *Config) Confirm() ConfirmConfig   { return c.ConfirmCfg }
func (c *Config) Review() ReviewConfig     { return c.ReviewCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)            { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserReviewWindowVisible(b bool) { c.BrowserCfg.ReviewWindowVisible = b }
func (c *Config) SetServerListenAddr(addr string)      { c.ServerCfg.ListenAddr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the Chrome instance that owns the automation windows.
type BrowserConfig struct {
	Headless            bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU          bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath            string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir         string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args                []string      `mapstructure:"args" yaml:"args"`
	ReviewWindowVisible bool          `mapstructure:"review_window_visible" yaml:"review_window_visible"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScriptTimeout       time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
}

// SiteConfig lists the remote surfaces of the shopping site. They change whenever the
// site does, so all of them can be overridden without a rebuild.
type SiteConfig struct {
	Origin          string   `mapstructure:"origin" yaml:"origin"`
	CookieDomain    string   `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	LandingURL      string   `mapstructure:"landing_url" yaml:"landing_url"`
	ReviewListURL   string   `mapstructure:"review_list_url" yaml:"review_list_url"`
	ReviewWriteURL  string   `mapstructure:"review_write_url" yaml:"review_write_url"`
	ReviewOrdersURL string   `mapstructure:"review_orders_url" yaml:"review_orders_url"`
	OrderListURL    string   `mapstructure:"order_list_url" yaml:"order_list_url"`
	OrderDetailURL  string   `mapstructure:"order_detail_url" yaml:"order_detail_url"`
	ConfirmURL      string   `mapstructure:"confirm_url" yaml:"confirm_url"`
	BeforeWriteURL  string   `mapstructure:"before_write_url" yaml:"before_write_url"`
	PresignURL      string   `mapstructure:"presign_url" yaml:"presign_url"`
	ReviewSubmitURL string   `mapstructure:"review_submit_url" yaml:"review_submit_url"`
	LogoutURL       string   `mapstructure:"logout_url" yaml:"logout_url"`
	BlockedDomains  []string `mapstructure:"blocked_domains" yaml:"blocked_domains"`
}

// AuthConfig tunes the login/logout automation.
type AuthConfig struct {
	LoginTimeout       time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	FieldWaitTimeout   time.Duration `mapstructure:"field_wait_timeout" yaml:"field_wait_timeout"`
	TypingDelay        time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
	AutoLoginTimeout   time.Duration `mapstructure:"auto_login_timeout" yaml:"auto_login_timeout"`
	ReloginTimeout     time.Duration `mapstructure:"relogin_timeout" yaml:"relogin_timeout"`
	NormalizePasswords bool          `mapstructure:"normalize_passwords" yaml:"normalize_passwords"`
}

// HealthConfig configures the periodic session probe.
type HealthConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// RetryConfig mirrors retry.Policy for the range sync.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Factor     float64       `mapstructure:"factor" yaml:"factor"`
	Jitter     time.Duration `mapstructure:"jitter" yaml:"jitter"`
}

// ScraperConfig configures the listing pagination and the full order sync.
type ScraperConfig struct {
	PageSize          int           `mapstructure:"page_size" yaml:"page_size"`
	Workers           int           `mapstructure:"workers" yaml:"workers"`
	LookbackDays      int           `mapstructure:"lookback_days" yaml:"lookback_days"`
	RangePageSize     int           `mapstructure:"range_page_size" yaml:"range_page_size"`
	RangeMaxPages     int           `mapstructure:"range_max_pages" yaml:"range_max_pages"`
	StaleLimit        int           `mapstructure:"stale_limit" yaml:"stale_limit"`
	DetailConcurrency int           `mapstructure:"detail_concurrency" yaml:"detail_concurrency"`
	DetailCacheSize   int           `mapstructure:"detail_cache_size" yaml:"detail_cache_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Retry             RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// ConfirmConfig configures the purchase-confirmation batch.
type ConfirmConfig struct {
	Workers int           `mapstructure:"workers" yaml:"workers"`
	Delay   time.Duration `mapstructure:"delay" yaml:"delay"`
}

// ReviewConfig configures both review submission variants.
type ReviewConfig struct {
	MaxImageBytes     int64         `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	FormTimeout       time.Duration `mapstructure:"form_timeout" yaml:"form_timeout"`
	ListTimeout       time.Duration `mapstructure:"list_timeout" yaml:"list_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	UploadAttempts    int           `mapstructure:"upload_attempts" yaml:"upload_attempts"`
	SkipCompleteClick bool          `mapstructure:"skip_complete_click" yaml:"skip_complete_click"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// ServerConfig configures the boundary server used by the UI.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "musinsa-manager")
	v.SetDefault("logger.log_file", "musinsa-manager.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.review_window_visible", false)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.script_timeout", "60s")

	// -- Site --
	v.SetDefault("site.origin", "https://www.musinsa.com")
	v.SetDefault("site.cookie_domain", "musinsa.com")
	v.SetDefault("site.landing_url", "https://www.musinsa.com/mypage")
	v.SetDefault("site.review_list_url", "https://www.musinsa.com/mypage/myreview")
	v.SetDefault("site.review_write_url", "https://www.musinsa.com/mypage/myreview/write")
	v.SetDefault("site.review_orders_url", "https://goods.musinsa.com/api2/review/v1/mypage/orders")
	v.SetDefault("site.order_list_url", "https://api.musinsa.com/api2/claim/store/mypage/integration/order")
	v.SetDefault("site.order_detail_url", "https://www.musinsa.com/order-service/my/order/get_order_view")
	v.SetDefault("site.confirm_url", "https://order.musinsa.com/api2/order/v1/orders")
	v.SetDefault("site.before_write_url", "https://goods.musinsa.com/api2/review/v1/mypage/reviews/before-write")
	v.SetDefault("site.presign_url", "https://goods.musinsa.com/api2/review/v1/review/pre-signed-url")
	v.SetDefault("site.review_submit_url", "https://goods.musinsa.com/api2/review/v1/mypage/reviews")
	v.SetDefault("site.logout_url", "https://www.musinsa.com/auth/logout")
	v.SetDefault("site.blocked_domains", []string{
		"google-analytics.com",
		"googletagmanager.com",
		"doubleclick.net",
		"hotjar.com",
		"facebook.net",
	})

	// -- Auth --
	v.SetDefault("auth.login_timeout", "8s")
	v.SetDefault("auth.field_wait_timeout", "3s")
	v.SetDefault("auth.typing_delay", "30ms")
	v.SetDefault("auth.auto_login_timeout", "5s")
	v.SetDefault("auth.relogin_timeout", "4s")
	v.SetDefault("auth.normalize_passwords", true)

	// -- Health --
	v.SetDefault("health.interval", "5m")
	v.SetDefault("health.probe_timeout", "15s")

	// -- Scraper --
	v.SetDefault("scraper.page_size", 20)
	v.SetDefault("scraper.workers", 4)
	v.SetDefault("scraper.lookback_days", 90)
	v.SetDefault("scraper.range_page_size", 50)
	v.SetDefault("scraper.range_max_pages", 400)
	v.SetDefault("scraper.stale_limit", 2)
	v.SetDefault("scraper.detail_concurrency", 2)
	v.SetDefault("scraper.detail_cache_size", 512)
	v.SetDefault("scraper.request_timeout", "20s")
	v.SetDefault("scraper.retry.max_retries", 2)
	v.SetDefault("scraper.retry.base_delay", "600ms")
	v.SetDefault("scraper.retry.factor", 1.6)
	v.SetDefault("scraper.retry.jitter", "200ms")

	// -- Confirm --
	v.SetDefault("confirm.workers", 3)
	v.SetDefault("confirm.delay", "50ms")

	// -- Review --
	v.SetDefault("review.max_image_bytes", 6*1024*1024)
	v.SetDefault("review.form_timeout", "24s")
	v.SetDefault("review.list_timeout", "24s")
	v.SetDefault("review.poll_interval", "200ms")
	v.SetDefault("review.upload_attempts", 20)
	v.SetDefault("review.skip_complete_click", true)
	v.SetDefault("review.http_timeout", "30s")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8787")
	v.SetDefault("server.command_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "15s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "MUSINSA_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ScraperCfg.PageSize <= 0 {
		return fmt.Errorf("scraper.page_size must be a positive integer")
	}
	if c.ScraperCfg.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be a positive integer")
	}
	if c.ScraperCfg.RangePageSize <= 0 || c.ScraperCfg.RangeMaxPages <= 0 {
		return fmt.Errorf("scraper.range_page_size and scraper.range_max_pages must be positive integers")
	}
	if c.ScraperCfg.DetailConcurrency <= 0 {
		return fmt.Errorf("scraper.detail_concurrency must be a positive integer")
	}
	if err := c.ScraperCfg.Retry.Validate(); err != nil {
		return fmt.Errorf("scraper.retry configuration invalid: %w", err)
	}
	if c.ConfirmCfg.Workers <= 0 {
		return fmt.Errorf("confirm.workers must be a positive integer")
	}
	if c.HealthCfg.Interval <= 0 {
		return fmt.Errorf("health.interval must be a positive duration")
	}
	if c.AuthCfg.LoginTimeout <= 0 {
		return fmt.Errorf("auth.login_timeout must be a positive duration")
	}
	if c.ReviewCfg.MaxImageBytes <= 0 {
		return fmt.Errorf("review.max_image_bytes must be a positive integer")
	}
	if err := c.SiteCfg.Validate(); err != nil {
		return fmt.Errorf("site configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the retry settings.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if r.Factor < 1.0 {
		return fmt.Errorf("factor must be at least 1.0")
	}
	if r.BaseDelay < 0 || r.Jitter < 0 {
		return fmt.Errorf("base_delay and jitter cannot be negative")
	}
	return nil
}

// Validate checks that every remote surface has a usable absolute URL.
func (s *SiteConfig) Validate() error {
	urls := map[string]string{
		"origin":            s.Origin,
		"landing_url":       s.LandingURL,
		"review_list_url":   s.ReviewListURL,
		"review_write_url":  s.ReviewWriteURL,
		"review_orders_url": s.ReviewOrdersURL,
		"order_list_url":    s.OrderListURL,
		"order_detail_url":  s.OrderDetailURL,
		"confirm_url":       s.ConfirmURL,
		"before_write_url":  s.BeforeWriteURL,
		"presign_url":       s.PresignURL,
		"review_submit_url": s.ReviewSubmitURL,
		"logout_url":        s.LogoutURL,
	}
	for key, u := range urls {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, u)
		}
	}
	if s.CookieDomain == "" {
		return fmt.Errorf("cookie_domain is required")
	}
	return nil
}
