// Package config loads and validates all runtime configuration for the
// webhook gateway.
//
// Configuration is read from a config.yaml file in the working directory,
// overridden by environment variables with prefix APP_ (preferred for
// containers). A nested key like server.listen_port becomes the env var
// APP_SERVER_LISTEN_PORT.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	Server          ServerConfig
	WebClient       WebClientConfig
	PermataLogin    PermataLoginConfig
	PermataWebhook  PermataWebhookConfig
	TokenScheduler  TokenSchedulerConfig
	TelegramAlert   TelegramAlertConfig
	Logger          LoggerConfig
	Cache           CacheConfig
	Redis           RedisConfig
	Metrics         MetricsConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// ListenHost is the interface the server binds to. Default: "0.0.0.0".
	ListenHost string
	// ListenPort is the TCP port. Default: 8080.
	ListenPort int
	// WebhookPath is the single path the ingress adapter serves GET/POST on.
	// Default: "/webhook".
	WebhookPath string
}

// WebClientConfig controls the outbound HTTP client shared by the login and
// forwarder code paths.
type WebClientConfig struct {
	// Timeout bounds every outbound call. Default: 30s.
	Timeout time.Duration
	// MaxRetries is the maximum number of attempts per operation (including
	// the first). Default: 3.
	MaxRetries int
	// RetryDelay is the sleep between retry attempts. Default: 2s.
	RetryDelay time.Duration
}

// PermataLoginConfig holds the bank's OAuth2 login endpoint credentials.
type PermataLoginConfig struct {
	PermataStaticKey string
	APIKey           string
	TokenURL         string
	Username         string
	Password         string
	LoginPayload     string
}

// PermataWebhookConfig holds the bank's callback-status endpoint.
type PermataWebhookConfig struct {
	CallbackStatusURL string
	OrganizationName  string
}

// TokenSchedulerConfig controls the token manager's periodic refresher.
type TokenSchedulerConfig struct {
	// PeriodicIntervalMins is how often the refresher proactively re-logs
	// in. Default: 15.
	PeriodicIntervalMins int
}

// TelegramAlertConfig configures the out-of-band alerter's chat API.
type TelegramAlertConfig struct {
	APIURL             string
	ChatID             string
	MessageThreadID    string
	AlertMessagePrefix string
}

// LoggerConfig controls structured logging and the daily rotating error log.
type LoggerConfig struct {
	// Dir is the directory error log files are written to. Default: "logs".
	Dir string
	// FileName is the base name; files are written as
	// {dir}/{file_name}.{YYYY-MM-DD}.error.log.
	FileName string
	// MaxBackups is the number of old rotated files to retain.
	MaxBackups int
	// MaxSize is the size in megabytes at which a log file is rotated.
	MaxSize int
	// MaxAge is the number of days to retain old log files.
	MaxAge int
	// Compress gzips rotated files.
	Compress bool
	// LocalTime uses the local timezone for rotation filenames and
	// timestamps instead of UTC.
	LocalTime bool
	// Level is the minimum log level. One of: debug, info, warn, error.
	Level string
}

// CacheConfig selects the token cache backend.
type CacheConfig struct {
	// Mode selects where the cached bearer token lives:
	//   "memory" — in-process, not shared across replicas. Default.
	//   "redis"  — shared across replicas behind a load balancer.
	Mode string
}

// RedisConfig holds the Redis connection URL, required only when
// Cache.Mode == "redis".
type RedisConfig struct {
	URL string
}

// MetricsConfig gates the optional /metrics route.
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from config.yaml in the working directory,
// overridden by APP_-prefixed environment variables.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// webclient.timeout and webclient.retry_delay accept a Go duration
	// ("30s"); a bare number is a count of seconds.
	webTimeout := v.GetDuration("webclient.timeout")
	if s := v.GetString("webclient.timeout"); s != "" && strings.Trim(s, "0123456789") == "" {
		webTimeout = time.Duration(v.GetInt("webclient.timeout")) * time.Second
	}
	retryDelay := v.GetDuration("webclient.retry_delay")
	if s := v.GetString("webclient.retry_delay"); s != "" && strings.Trim(s, "0123456789") == "" {
		retryDelay = time.Duration(v.GetInt("webclient.retry_delay")) * time.Second
	}

	cfg := &Config{
		Server: ServerConfig{
			ListenHost:  v.GetString("server.listen_host"),
			ListenPort:  v.GetInt("server.listen_port"),
			WebhookPath: v.GetString("server.webhook_path"),
		},
		WebClient: WebClientConfig{
			Timeout:    webTimeout,
			MaxRetries: v.GetInt("webclient.max_retries"),
			RetryDelay: retryDelay,
		},
		PermataLogin: PermataLoginConfig{
			PermataStaticKey: v.GetString("permata_bank_login.permata_static_key"),
			APIKey:           v.GetString("permata_bank_login.api_key"),
			TokenURL:         v.GetString("permata_bank_login.token_url"),
			Username:         v.GetString("permata_bank_login.username"),
			Password:         v.GetString("permata_bank_login.password"),
			LoginPayload:     v.GetString("permata_bank_login.login_payload"),
		},
		PermataWebhook: PermataWebhookConfig{
			CallbackStatusURL: v.GetString("permata_bank_webhook.callbackstatus_url"),
			OrganizationName:  v.GetString("permata_bank_webhook.organizationname"),
		},
		TokenScheduler: TokenSchedulerConfig{
			PeriodicIntervalMins: v.GetInt("token_scheduler.periodic_interval_mins"),
		},
		TelegramAlert: TelegramAlertConfig{
			APIURL:             v.GetString("telegram_alert.api_url"),
			ChatID:             v.GetString("telegram_alert.chat_id"),
			MessageThreadID:    v.GetString("telegram_alert.message_thread_id"),
			AlertMessagePrefix: v.GetString("telegram_alert.alert_message_prefix"),
		},
		Logger: LoggerConfig{
			Dir:        v.GetString("logger.dir"),
			FileName:   v.GetString("logger.file_name"),
			MaxBackups: v.GetInt("logger.max_backups"),
			MaxSize:    v.GetInt("logger.max_size"),
			MaxAge:     v.GetInt("logger.max_age"),
			Compress:   v.GetBool("logger.compress"),
			LocalTime:  v.GetBool("logger.local_time"),
			Level:      strings.ToLower(v.GetString("logger.level")),
		},
		Cache: CacheConfig{
			Mode: strings.ToLower(v.GetString("cache.mode")),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_host", "0.0.0.0")
	v.SetDefault("server.listen_port", 8080)
	v.SetDefault("server.webhook_path", "/webhook")

	v.SetDefault("webclient.timeout", "30s")
	v.SetDefault("webclient.max_retries", 3)
	v.SetDefault("webclient.retry_delay", "2s")

	v.SetDefault("token_scheduler.periodic_interval_mins", 15)

	v.SetDefault("logger.dir", "logs")
	v.SetDefault("logger.file_name", "gateway")
	v.SetDefault("logger.max_backups", 7)
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.local_time", false)
	v.SetDefault("logger.level", "info")

	v.SetDefault("cache.mode", "memory")
	v.SetDefault("metrics.enabled", true)
}

// validate checks all semantic constraints that cannot be expressed as
// defaults.
func (c *Config) validate() error {
	if c.PermataLogin.TokenURL == "" {
		return fmt.Errorf("config: permata_bank_login.token_url is required")
	}
	if c.PermataLogin.PermataStaticKey == "" {
		return fmt.Errorf("config: permata_bank_login.permata_static_key is required")
	}
	if c.PermataWebhook.CallbackStatusURL == "" {
		return fmt.Errorf("config: permata_bank_webhook.callbackstatus_url is required")
	}

	if c.Server.WebhookPath == "" || c.Server.WebhookPath[0] != '/' {
		return fmt.Errorf("config: server.webhook_path must start with '/', got %q", c.Server.WebhookPath)
	}

	if c.WebClient.MaxRetries < 1 {
		return fmt.Errorf("config: webclient.max_retries must be >= 1, got %d", c.WebClient.MaxRetries)
	}
	if c.WebClient.Timeout <= 0 {
		return fmt.Errorf("config: webclient.timeout must be a positive duration")
	}

	if c.TokenScheduler.PeriodicIntervalMins < 1 {
		return fmt.Errorf("config: token_scheduler.periodic_interval_mins must be >= 1, got %d", c.TokenScheduler.PeriodicIntervalMins)
	}

	switch c.Cache.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: invalid cache.mode %q; must be one of: redis, memory", c.Cache.Mode)
	}
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url is required when cache.mode=redis")
	}

	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logger.level %q; must be one of: debug, info, warn, error", c.Logger.Level)
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
