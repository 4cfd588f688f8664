package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

const envPrefix = "CERTGUARD"

// LoadConfig loads the configuration from file and environment variables. An empty
// path searches config.yaml in /etc/certguard/ and the working directory.
func LoadConfig(path string, log logger.Logger) (*Config, *viper.Viper, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		log.Warn(context.Background(), "No config file found, using defaults and environment")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/certguard/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", string(constants.DatabaseDriverSQLite))
	v.SetDefault("database.path", "certguard.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "2s")

	v.SetDefault("kafka.topic", "certguard.audit")
	v.SetDefault("kafka.batch_timeout", "200ms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "certguard")
	v.SetDefault("tracing.sample_rate", 0.1)

	v.SetDefault("guard.store", string(constants.StoreBackendSQL))
	v.SetDefault("guard.timezone", "UTC")
	v.SetDefault("guard.week_start", "monday")
	v.SetDefault("guard.store_timeout", constants.DefaultStoreTimeout)
	v.SetDefault("guard.fail_closed_retry_seconds", constants.DefaultFailClosedRetrySeconds)

	v.SetDefault("policy.failure_policy", string(constants.FailOpen))
	v.SetDefault("policy.ip.enabled", true)
	v.SetDefault("policy.ip.max_per_hour", 10)
	v.SetDefault("policy.ip.max_per_day", 50)
	v.SetDefault("policy.ip.cooldown_seconds", 5)
	v.SetDefault("policy.email.enabled", true)
	v.SetDefault("policy.email.max_per_day", 5)
	v.SetDefault("policy.email.max_per_week", 15)
	v.SetDefault("policy.email.max_per_month", 30)
	v.SetDefault("policy.tax_id.enabled", true)
	v.SetDefault("policy.tax_id.max_per_day", 10)
	v.SetDefault("policy.tax_id.max_per_month", 30)
	v.SetDefault("policy.tax_id.max_per_year", 100)
	v.SetDefault("policy.tax_id.escalation.block_threshold", 5)
	v.SetDefault("policy.tax_id.escalation.block_window_hours", 1)
	v.SetDefault("policy.tax_id.escalation.block_duration_hours", 24)
	v.SetDefault("policy.global.enabled", true)
	v.SetDefault("policy.global.max_per_minute", 100)
	v.SetDefault("policy.global.max_per_hour", 2000)

	v.SetDefault("audit.retention_days", constants.DefaultRetentionDays)
	v.SetDefault("audit.max_logs", constants.DefaultMaxLogs)
	v.SetDefault("audit.buffer_size", constants.DefaultAuditBufferSize)
	v.SetDefault("audit.max_retries", constants.DefaultAuditMaxRetries)
	v.SetDefault("audit.retry_backoff", "100ms")
	v.SetDefault("audit.kafka_mirror", false)
	v.SetDefault("audit.signing_key", "")

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", constants.DefaultCleanupInterval)
	v.SetDefault("cleanup.counter_grace", "1h")
	v.SetDefault("cleanup.stats_cache_ttl", constants.DefaultStatsCacheTTL)

	v.SetDefault("admin.issuer", "certguard")
	v.SetDefault("admin.enable_pprof", false)
}
