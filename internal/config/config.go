package config

import (
	"time"
)

type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	API      APIConfig      `mapstructure:"api"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ScannerConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	RateLimitMs int           `mapstructure:"rate_limit_ms"`
}

type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	MaxDepth       int           `mapstructure:"max_depth"`
	RecentScanSkip time.Duration `mapstructure:"recent_scan_skip"`
}

type APIConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// Default returns the configuration the daemon runs with when nothing is
// overridden via flags or APEX_* environment variables.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "apex.db",
			MaxConnections:  1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		Scanner: ScannerConfig{
			Timeout:     15 * time.Second,
			UserAgent:   "ApexSecurityAuditor/1.0",
			RateLimitMs: 100,
		},
		Monitor: MonitorConfig{
			PollInterval:   10 * time.Second,
			BatchSize:      10,
			StaleAfter:     5 * time.Minute,
			MaxDepth:       3,
			RecentScanSkip: 10 * time.Minute,
		},
		API: APIConfig{
			Addr:    ":8787",
			Enabled: true,
		},
	}
}
