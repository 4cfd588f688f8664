package config

import (
	"fmt"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Policy   PolicySettings `mapstructure:"policy"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file or DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

func (c *DatabaseConfig) GetDSN() string {
	if constants.DatabaseDriver(c.Driver) == constants.DatabaseDriverSQLite {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// GuardConfig configures the decision path.
type GuardConfig struct {
	Store                  string        `mapstructure:"store"`
	Timezone               string        `mapstructure:"timezone"`
	WeekStart              string        `mapstructure:"week_start"`
	StoreTimeout           time.Duration `mapstructure:"store_timeout"`
	FailClosedRetrySeconds int64         `mapstructure:"fail_closed_retry_seconds"`
}

type AuditConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	MaxLogs       int64         `mapstructure:"max_logs"`
	BufferSize    int           `mapstructure:"buffer_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	KafkaMirror   bool          `mapstructure:"kafka_mirror"`
	// SigningKey, when set, signs mirrored entries with HMAC-SHA256.
	SigningKey string `mapstructure:"signing_key"`
}

type CleanupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// CounterGrace keeps counters around for a while after their window ends.
	CounterGrace  time.Duration `mapstructure:"counter_grace"`
	StatsCacheTTL time.Duration `mapstructure:"stats_cache_ttl"`
}

type AdminConfig struct {
	JWTSecret   string   `mapstructure:"jwt_secret"`
	Issuer      string   `mapstructure:"issuer"`
	EnablePprof bool     `mapstructure:"enable_pprof"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", errors.ErrInvalidConfig, c.Server.Port)
	}

	switch constants.DatabaseDriver(c.Database.Driver) {
	case constants.DatabaseDriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("%w: database.host and database.database are required for postgres", errors.ErrInvalidConfig)
		}
	case constants.DatabaseDriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database.driver %q", errors.ErrInvalidConfig, c.Database.Driver)
	}

	switch constants.StoreBackend(c.Guard.Store) {
	case constants.StoreBackendSQL:
	case constants.StoreBackendRedis:
		if len(c.Redis.Addresses) == 0 {
			return fmt.Errorf("%w: redis.addresses is required when guard.store is redis", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown guard.store %q", errors.ErrInvalidConfig, c.Guard.Store)
	}
	if c.Guard.StoreTimeout <= 0 {
		return fmt.Errorf("%w: guard.store_timeout must be positive", errors.ErrInvalidConfig)
	}

	if c.Audit.RetentionDays <= 0 || c.Audit.MaxLogs <= 0 {
		return fmt.Errorf("%w: audit.retention_days and audit.max_logs must be positive", errors.ErrInvalidConfig)
	}
	if c.Audit.KafkaMirror && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("%w: kafka.brokers and kafka.topic are required for the audit mirror", errors.ErrInvalidConfig)
	}
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		return fmt.Errorf("%w: cleanup.interval must be positive", errors.ErrInvalidConfig)
	}

	policy, err := c.Policy.ToPolicy(c.Guard.FailClosedRetrySeconds)
	if err != nil {
		return err
	}
	return checkCounterGrace(policy, c.Cleanup.CounterGrace)
}

// checkCounterGrace rejects a grace that would let purges or counter TTLs drop
// minute counters an escalation window still sums.
func checkCounterGrace(policy *models.PolicyConfig, grace time.Duration) error {
	if window := policy.MaxEscalationWindow(); grace < window {
		return fmt.Errorf("%w: cleanup.counter_grace %s is shorter than the %s escalation window",
			errors.ErrInvalidConfig, grace, window)
	}
	return nil
}
