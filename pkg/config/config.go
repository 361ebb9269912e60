package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Slack     SlackConfig     `json:"slack"`
	Anthropic AnthropicConfig `json:"anthropic"`
	Monitor   MonitorConfig   `json:"monitor"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// SlackConfig contains Slack integration configuration
type SlackConfig struct {
	BotToken         string        `json:"bot_token"`
	SigningSecret    string        `json:"signing_secret"`
	APIBaseURL       string        `json:"api_base_url"`
	RequestTimeout   time.Duration `json:"request_timeout"`
	EventDedupTTL    time.Duration `json:"event_dedup_ttl"`
	SignatureMaxSkew time.Duration `json:"signature_max_skew"`
}

// AnthropicConfig contains LLM API configuration
type AnthropicConfig struct {
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	BaseURL        string        `json:"base_url"`
	MaxTokens      int           `json:"max_tokens"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// MonitorConfig contains health monitoring configuration
type MonitorConfig struct {
	CheckInterval time.Duration `json:"check_interval"`
	HistorySize   int           `json:"history_size"`
	MaxErrors     int           `json:"max_errors"`
	DiskPath      string        `json:"disk_path"`
	Thresholds    Thresholds    `json:"thresholds"`
}

// Thresholds holds the alerting thresholds for health verdicts.
// Warning values mark a degraded sample, critical values override.
type Thresholds struct {
	CPUWarning           float64       `json:"cpu_warning"`
	CPUCritical          float64       `json:"cpu_critical"`
	MemoryWarning        float64       `json:"memory_warning"`
	MemoryCritical       float64       `json:"memory_critical"`
	DiskWarning          float64       `json:"disk_warning"`
	DiskCritical         float64       `json:"disk_critical"`
	ErrorRateWarning     float64       `json:"error_rate_warning"`
	ErrorRateCritical    float64       `json:"error_rate_critical"`
	ResponseTimeWarning  time.Duration `json:"response_time_warning"`
	ResponseTimeCritical time.Duration `json:"response_time_critical"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// DefaultThresholds returns the default health alerting thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning:           70.0,
		CPUCritical:          90.0,
		MemoryWarning:        80.0,
		MemoryCritical:       95.0,
		DiskWarning:          85.0,
		DiskCritical:         95.0,
		ErrorRateWarning:     5.0,
		ErrorRateCritical:    15.0,
		ResponseTimeWarning:  5 * time.Second,
		ResponseTimeCritical: 10 * time.Second,
	}
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "devassist"),
			User:            getEnvString("DB_USER", "devassist"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Slack: SlackConfig{
			BotToken:         getEnvString("SLACK_BOT_TOKEN", ""),
			SigningSecret:    getEnvString("SLACK_SIGNING_SECRET", ""),
			APIBaseURL:       getEnvString("SLACK_API_BASE_URL", "https://slack.com/api"),
			RequestTimeout:   getEnvDuration("SLACK_REQUEST_TIMEOUT", 10*time.Second),
			EventDedupTTL:    getEnvDuration("SLACK_EVENT_DEDUP_TTL", 10*time.Minute),
			SignatureMaxSkew: getEnvDuration("SLACK_SIGNATURE_MAX_SKEW", 5*time.Minute),
		},
		Anthropic: AnthropicConfig{
			APIKey:         getEnvString("ANTHROPIC_API_KEY", ""),
			Model:          getEnvString("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			BaseURL:        getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			MaxTokens:      getEnvInt("ANTHROPIC_MAX_TOKENS", 1000),
			RequestTimeout: getEnvDuration("ANTHROPIC_REQUEST_TIMEOUT", 60*time.Second),
		},
		Monitor: MonitorConfig{
			CheckInterval: getEnvDuration("MONITOR_CHECK_INTERVAL", 30*time.Second),
			HistorySize:   getEnvInt("MONITOR_HISTORY_SIZE", 100),
			MaxErrors:     getEnvInt("MONITOR_MAX_ERRORS", 1000),
			DiskPath:      getEnvString("MONITOR_DISK_PATH", "/"),
			Thresholds: Thresholds{
				CPUWarning:           getEnvFloat("MONITOR_CPU_WARNING", 70.0),
				CPUCritical:          getEnvFloat("MONITOR_CPU_CRITICAL", 90.0),
				MemoryWarning:        getEnvFloat("MONITOR_MEMORY_WARNING", 80.0),
				MemoryCritical:       getEnvFloat("MONITOR_MEMORY_CRITICAL", 95.0),
				DiskWarning:          getEnvFloat("MONITOR_DISK_WARNING", 85.0),
				DiskCritical:         getEnvFloat("MONITOR_DISK_CRITICAL", 95.0),
				ErrorRateWarning:     getEnvFloat("MONITOR_ERROR_RATE_WARNING", 5.0),
				ErrorRateCritical:    getEnvFloat("MONITOR_ERROR_RATE_CRITICAL", 15.0),
				ResponseTimeWarning:  getEnvDuration("MONITOR_RESPONSE_TIME_WARNING", 5*time.Second),
				ResponseTimeCritical: getEnvDuration("MONITOR_RESPONSE_TIME_CRITICAL", 10*time.Second),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token is required")
	}

	if c.Slack.SigningSecret == "" {
		return fmt.Errorf("slack signing secret is required")
	}

	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic API key is required")
	}

	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor check interval must be positive")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port form
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
