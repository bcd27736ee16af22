package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Upstream      UpstreamConfig     `mapstructure:"upstream"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Ingest        IngestConfig       `mapstructure:"ingest"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// UpstreamConfig contains the moderation-log feed configuration
type UpstreamConfig struct {
	Mode           string        `mapstructure:"mode"` // atom, json
	AtomURL        string        `mapstructure:"atom_url"`
	JSONURL        string        `mapstructure:"json_url"`
	CursorParam    string        `mapstructure:"cursor_param"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// URL returns the feed URL for the configured mode.
func (u *UpstreamConfig) URL() string {
	if u.Mode == "atom" {
		return u.AtomURL
	}
	return u.JSONURL
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	SaveRaw          bool          `mapstructure:"save_raw"`
	RawDBFile        string        `mapstructure:"raw_db_file"`
}

// IngestConfig contains reconciliation loop configuration
type IngestConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ExcludedActions []string      `mapstructure:"excluded_actions"`
}

// NotificationConfig contains notification sink configuration
type NotificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Channel        string        `mapstructure:"channel"` // matrix, log
	MatrixServer   string        `mapstructure:"matrix_server"`
	MatrixRoomID   string        `mapstructure:"matrix_room_id"`
	MatrixToken    string        `mapstructure:"matrix_token"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MinSendSpacing time.Duration `mapstructure:"min_send_spacing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("MODLOG")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if token := os.Getenv("MATRIX_ACCESS_TOKEN"); token != "" {
		config.Notifications.MatrixToken = token
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "modlog-listener")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Upstream defaults
	viper.SetDefault("upstream.mode", "json")
	viper.SetDefault("upstream.cursor_param", "before")
	viper.SetDefault("upstream.request_timeout", "30s")
	viper.SetDefault("upstream.retry_attempts", 5)
	viper.SetDefault("upstream.retry_delay", "8s")
	viper.SetDefault("upstream.user_agent", "modlog-listener/1.0")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/modlog.sqlite")
	viper.SetDefault("storage.max_connections", 1)
	viper.SetDefault("storage.max_idle_time", "15m")
	viper.SetDefault("storage.save_raw", false)
	viper.SetDefault("storage.raw_db_file", "./data/modlog_raw.sqlite")

	// Ingest defaults
	viper.SetDefault("ingest.poll_interval", "5m")
	viper.SetDefault("ingest.excluded_actions", []string{"editflair"})

	// Notification defaults
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.channel", "log")
	viper.SetDefault("notifications.send_timeout", "30s")
	viper.SetDefault("notifications.retry_attempts", 3)
	viper.SetDefault("notifications.retry_delay", "10s")
	viper.SetDefault("notifications.min_send_spacing", "1s")

	// Server defaults
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Upstream.Mode != "atom" && c.Upstream.Mode != "json" {
		return fmt.Errorf("unexpected upstream mode: %s", c.Upstream.Mode)
	}
	if c.Upstream.URL() == "" {
		return fmt.Errorf("upstream %s_url is required", c.Upstream.Mode)
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Storage.SaveRaw && c.Storage.RawDBFile == "" {
		return fmt.Errorf("raw_db_file is required when save_raw is enabled")
	}
	if c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("ingest poll interval must be positive")
	}
	if c.Notifications.Channel == "matrix" {
		if c.Notifications.MatrixServer == "" || c.Notifications.MatrixRoomID == "" {
			return fmt.Errorf("matrix_server and matrix_room_id are required for the matrix channel")
		}
	}
	return nil
}
