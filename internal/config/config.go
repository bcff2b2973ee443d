package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	ServiceName string           `mapstructure:"service_name"`
	LogLevel    string           `mapstructure:"log_level"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	MySQL       DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse  DatabaseConfig   `mapstructure:"clickhouse"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Sync        SyncConfig       `mapstructure:"sync"`
	Recovery    RecoveryConfig   `mapstructure:"recovery"`
	Receiver    ReceiverConfig   `mapstructure:"receiver"`
	Endpoints   []EndpointConfig `mapstructure:"endpoints"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// per-client requests per second on the POST recovery routes; 0 disables
	RecoveryRPS int `mapstructure:"recovery_rps"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

func (b BreakerConfig) OpenFor() time.Duration {
	return time.Duration(b.OpenForMs) * time.Millisecond
}

type SyncConfig struct {
	IngestPath             string        `mapstructure:"ingest_path"`
	HealthPath             string        `mapstructure:"health_path"`
	DeliveryTimeout        time.Duration `mapstructure:"delivery_timeout"`
	HealthTimeout          time.Duration `mapstructure:"health_timeout"`
	MaxRetries             int           `mapstructure:"max_retries"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
	BatchSize              int           `mapstructure:"batch_size"`
	MarkProcessedOnPublish bool          `mapstructure:"mark_processed_on_publish"`
	Breaker                BreakerConfig `mapstructure:"breaker"`
}

type RecoveryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ReceiverConfig struct {
	Addr           string        `mapstructure:"addr"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type EndpointConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	Active  bool   `mapstructure:"active"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (CITYSYNC_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (CITYSYNC_MYSQL_DSN -> mysql.dsn)
	v.SetEnvPrefix("CITYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
