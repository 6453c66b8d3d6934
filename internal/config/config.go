package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration for both the api and worker
// processes.
type Config struct {
	Log      LogConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	BankData BankDataConfig
	Oracle   OracleConfig
	Ingest   IngestConfig
	Stats    StatsConfig
	Worker   WorkerConfig
	Archive  ArchiveConfig
	Export   ExportConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port string
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// BankDataConfig holds credentials and endpoint of the external bank
// account data provider.
type BankDataConfig struct {
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
	Country   string
}

// OracleConfig holds settings for the text classification/generation model.
type OracleConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string
}

// IngestConfig holds transaction ingestion settings.
type IngestConfig struct {
	WindowDays int `mapstructure:"window_days"`
}

// StatsConfig holds statistics aggregation settings.
type StatsConfig struct {
	LookbackMonths int `mapstructure:"lookback_months"`
}

// WorkerConfig holds account queue worker settings.
type WorkerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	BatchSize           int `mapstructure:"batch_size"`
	MaxBackoffMinutes   int `mapstructure:"max_backoff_minutes"`
}

// ArchiveConfig holds raw feed archiving settings. Archiving is disabled
// when Bucket is empty.
type ArchiveConfig struct {
	Bucket string
}

// ExportConfig holds statistics snapshot export settings. Export is disabled
// when Project is empty.
type ExportConfig struct {
	Project  string
	Dataset  string
	Table    string
	Schedule string
}

// Load reads configuration from file and env. Env var overrides use prefix
// REFERLUT_, e.g. REFERLUT_BANKDATA_SECRET_ID.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("http.port", "8080")
	v.SetDefault("database.path", "referlut.db")
	v.SetDefault("bankdata.secret_id", "")
	v.SetDefault("bankdata.secret_key", "")
	v.SetDefault("bankdata.base_url", "https://bankaccountdata.gocardless.com/api/v2")
	v.SetDefault("bankdata.country", "GB")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("ingest.window_days", 90)
	v.SetDefault("stats.lookback_months", 12)
	v.SetDefault("worker.poll_interval_seconds", 60)
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.max_backoff_minutes", 1440)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("export.project", "")
	v.SetDefault("export.dataset", "finance")
	v.SetDefault("export.table", "stats_snapshots")
	v.SetDefault("export.schedule", "0 3 * * *")

	v.SetConfigType("toml")
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/referlut")

	v.SetEnvPrefix("REFERLUT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional, env-only deployments are fine
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Validate checks that required settings are present. A process must refuse
// to serve traffic when this fails.
func (c Config) Validate() error {
	if c.BankData.SecretID == "" || c.BankData.SecretKey == "" {
		return fmt.Errorf("config: bankdata secret_id and secret_key are required")
	}
	if c.BankData.BaseURL == "" {
		return fmt.Errorf("config: bankdata base_url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.Ingest.WindowDays <= 0 {
		return fmt.Errorf("config: ingest window_days must be positive, got %d", c.Ingest.WindowDays)
	}
	if c.Stats.LookbackMonths <= 0 {
		return fmt.Errorf("config: stats lookback_months must be positive, got %d", c.Stats.LookbackMonths)
	}
	return nil
}
