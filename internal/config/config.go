package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	ENTSOE     ENTSOEConfig     `yaml:"entsoe"`
	Collection CollectionConfig `yaml:"collection"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	API        APIConfig        `yaml:"api"`
}

type DatabaseConfig struct {
	URL        string `yaml:"url"`
	SchemaPath string `yaml:"schema_path"`
}

type ENTSOEConfig struct {
	BaseURL               string  `yaml:"base_url"`
	SecurityToken         string  `yaml:"security_token"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	RequestBurst          int     `yaml:"request_burst"`
}

type CollectionConfig struct {
	Areas                 []string `yaml:"areas"`
	RateLimitDelaySeconds float64  `yaml:"rate_limit_delay_seconds"`
}

type BackfillConfig struct {
	HistoricalYears       int     `yaml:"historical_years"`
	ChunkMonths           int     `yaml:"chunk_months"`
	RateLimitDelaySeconds float64 `yaml:"rate_limit_delay"`
	MaxConcurrentAreas    int     `yaml:"max_concurrent_areas"`
}

// ChunkSizeDays converts the configured chunk size to days (months x 30).
func (b BackfillConfig) ChunkSizeDays() int {
	return b.ChunkMonths * 30
}

type MonitoringConfig struct {
	MetricsRetentionDays    int     `yaml:"metrics_retention_days"`
	PerformanceThresholdMS  float64 `yaml:"performance_threshold_ms"`
	SuccessRateThreshold    float64 `yaml:"success_rate_threshold"`
	AnomalyDetectionEnabled bool    `yaml:"anomaly_detection_enabled"`
}

type SchedulerConfig struct {
	Enabled                            bool    `yaml:"enabled"`
	RealTimeCollectionIntervalMinutes  int     `yaml:"real_time_collection_interval_minutes"`
	GapAnalysisIntervalHours           int     `yaml:"gap_analysis_interval_hours"`
	DailyBackfillAnalysisHour          int     `yaml:"daily_backfill_analysis_hour"`
	DailyBackfillAnalysisMinute        int     `yaml:"daily_backfill_analysis_minute"`
	JobHealthCheckIntervalMinutes      int     `yaml:"job_health_check_interval_minutes"`
	UsePersistentJobStore              bool    `yaml:"use_persistent_job_store"`
	MaxRetryAttempts                   int     `yaml:"max_retry_attempts"`
	RetryBackoffBaseSeconds            float64 `yaml:"retry_backoff_base_seconds"`
	RetryBackoffMaxSeconds             float64 `yaml:"retry_backoff_max_seconds"`
	JobDefaultsCoalesce                bool    `yaml:"job_defaults_coalesce"`
	JobDefaultsMaxInstances            int     `yaml:"job_defaults_max_instances"`
	JobDefaultsMisfireGraceTimeSeconds int     `yaml:"job_defaults_misfire_grace_time_seconds"`
	FailedJobNotificationThreshold     int     `yaml:"failed_job_notification_threshold"`
}

type APIConfig struct {
	Port           int     `yaml:"port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Load reads the YAML config at path, applies defaults, and honors the
// DATABASE_URL and ENTSOE_SECURITY_TOKEN env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: database.url is required (or set DATABASE_URL)")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.SchemaPath == "" {
		c.Database.SchemaPath = "schema.sql"
	}
	if c.ENTSOE.BaseURL == "" {
		c.ENTSOE.BaseURL = "https://web-api.tp.entsoe.eu/api"
	}
	if c.ENTSOE.RequestTimeoutSeconds == 0 {
		c.ENTSOE.RequestTimeoutSeconds = 30
	}
	if c.ENTSOE.RequestsPerSecond == 0 {
		c.ENTSOE.RequestsPerSecond = 2
	}
	if c.ENTSOE.RequestBurst == 0 {
		c.ENTSOE.RequestBurst = 4
	}
	if len(c.Collection.Areas) == 0 {
		c.Collection.Areas = []string{"DE", "FR", "NL"}
	}
	if c.Collection.RateLimitDelaySeconds == 0 {
		c.Collection.RateLimitDelaySeconds = 0.5
	}
	if c.Backfill.HistoricalYears == 0 {
		c.Backfill.HistoricalYears = 2
	}
	if c.Backfill.ChunkMonths == 0 {
		c.Backfill.ChunkMonths = 1
	}
	if c.Backfill.RateLimitDelaySeconds == 0 {
		c.Backfill.RateLimitDelaySeconds = 0.5
	}
	if c.Backfill.MaxConcurrentAreas == 0 {
		c.Backfill.MaxConcurrentAreas = 3
	}
	if c.Monitoring.MetricsRetentionDays == 0 {
		c.Monitoring.MetricsRetentionDays = 30
	}
	if c.Monitoring.PerformanceThresholdMS == 0 {
		c.Monitoring.PerformanceThresholdMS = 5000
	}
	if c.Monitoring.SuccessRateThreshold == 0 {
		c.Monitoring.SuccessRateThreshold = 0.95
	}
	if c.Scheduler.RealTimeCollectionIntervalMinutes == 0 {
		c.Scheduler.RealTimeCollectionIntervalMinutes = 5
	}
	if c.Scheduler.GapAnalysisIntervalHours == 0 {
		c.Scheduler.GapAnalysisIntervalHours = 6
	}
	if c.Scheduler.JobHealthCheckIntervalMinutes == 0 {
		c.Scheduler.JobHealthCheckIntervalMinutes = 15
	}
	if c.Scheduler.MaxRetryAttempts == 0 {
		c.Scheduler.MaxRetryAttempts = 3
	}
	if c.Scheduler.RetryBackoffBaseSeconds == 0 {
		c.Scheduler.RetryBackoffBaseSeconds = 30
	}
	if c.Scheduler.RetryBackoffMaxSeconds == 0 {
		c.Scheduler.RetryBackoffMaxSeconds = 600
	}
	if c.Scheduler.JobDefaultsMaxInstances == 0 {
		c.Scheduler.JobDefaultsMaxInstances = 1
	}
	if c.Scheduler.JobDefaultsMisfireGraceTimeSeconds == 0 {
		c.Scheduler.JobDefaultsMisfireGraceTimeSeconds = 60
	}
	if c.Scheduler.FailedJobNotificationThreshold == 0 {
		c.Scheduler.FailedJobNotificationThreshold = 3
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RateLimitRPS == 0 {
		c.API.RateLimitRPS = 10
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 20
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("ENTSOE_SECURITY_TOKEN"); v != "" {
		c.ENTSOE.SecurityToken = v
	}
}
