// Package config loads the engine settings from an optional .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	KafkaBrokers              string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopicPrefix          string `mapstructure:"KAFKA_TOPIC_PREFIX"`
	LogLevel                  string `mapstructure:"LOG_LEVEL"`
	HistoryDefaultLimit       int    `mapstructure:"HISTORY_DEFAULT_LIMIT"`
	RequestTimeoutSeconds     int    `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	ReconcileSchedule         string `mapstructure:"RECONCILE_SCHEDULE"`
	OverdueSweepSchedule      string `mapstructure:"OVERDUE_SWEEP_SCHEDULE"`
	LimitAlertNoticePercent   int    `mapstructure:"LIMIT_ALERT_NOTICE_PERCENT"`
	LimitAlertWarningPercent  int    `mapstructure:"LIMIT_ALERT_WARNING_PERCENT"`
	LimitAlertCriticalPercent int    `mapstructure:"LIMIT_ALERT_CRITICAL_PERCENT"`
}

var keys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"KAFKA_BROKERS",
	"KAFKA_TOPIC_PREFIX",
	"LOG_LEVEL",
	"HISTORY_DEFAULT_LIMIT",
	"REQUEST_TIMEOUT_SECONDS",
	"RECONCILE_SCHEDULE",
	"OVERDUE_SWEEP_SCHEDULE",
	"LIMIT_ALERT_NOTICE_PERCENT",
	"LIMIT_ALERT_WARNING_PERCENT",
	"LIMIT_ALERT_CRITICAL_PERCENT",
}

// LoadConfig reads path/.env when present, then the environment. Values
// already set in the environment win over the file.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("load .env: %w", err)
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("KAFKA_TOPIC_PREFIX", "card_ledger")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HISTORY_DEFAULT_LIMIT", 50)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 15)
	viper.SetDefault("RECONCILE_SCHEDULE", "@hourly")
	viper.SetDefault("OVERDUE_SWEEP_SCHEDULE", "@daily")
	viper.SetDefault("LIMIT_ALERT_NOTICE_PERCENT", 50)
	viper.SetDefault("LIMIT_ALERT_WARNING_PERCENT", 75)
	viper.SetDefault("LIMIT_ALERT_CRITICAL_PERCENT", 90)

	// Bind explicitly so keys without defaults still reach Unmarshal.
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}
	return config, config.validate()
}

func (c Config) validate() error {
	if c.HistoryDefaultLimit <= 0 {
		return fmt.Errorf("HISTORY_DEFAULT_LIMIT must be positive, got %d", c.HistoryDefaultLimit)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive, got %d", c.RequestTimeoutSeconds)
	}
	n, w, cr := c.LimitAlertNoticePercent, c.LimitAlertWarningPercent, c.LimitAlertCriticalPercent
	if n <= 0 || n > w || w > cr || cr > 100 {
		return fmt.Errorf("limit alert thresholds must satisfy 0 < notice <= warning <= critical <= 100, got %d, %d and %d", n, w, cr)
	}
	return nil
}

// Brokers splits KAFKA_BROKERS; empty means no broker is configured.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
