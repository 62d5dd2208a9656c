package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	Kafka      KafkaConfig
	Outbox     OutboxRelayConfig
	Dispatcher DispatcherConfig
	Runner     RunnerConfig
	Mail       MailConfig
	Postback   PostbackConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type ClickHouseConfig struct {
	Hosts    []string `mapstructure:"hosts"`
	Database string   `mapstructure:"database"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`         // json or console
	StorageDriver string `mapstructure:"storage_driver"` // postgres or clickhouse
	RetentionDays int    `mapstructure:"retention_days"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	JobTopic      string   `mapstructure:"job_topic"`
	JobRetryTopic string   `mapstructure:"job_retry_topic"`
	JobDLQTopic   string   `mapstructure:"job_dlq_topic"`
	PostbackGroup string   `mapstructure:"postback_group"`
}

type OutboxRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type DispatcherConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	MaxRunDepth int           `mapstructure:"max_run_depth"`
}

type RunnerConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
}

type MailConfig struct {
	Region           string `mapstructure:"region"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	ConfigurationSet string `mapstructure:"configuration_set"`
}

type PostbackConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/automation/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("AUTOMATION")
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "automation")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.storage_driver", "postgres")
	v.SetDefault("logging.retention_days", 30)
	v.SetDefault("kafka.client_id", "automation")
	v.SetDefault("kafka.job_topic", "automation.jobs")
	v.SetDefault("kafka.job_retry_topic", "automation.jobs.retry")
	v.SetDefault("kafka.job_dlq_topic", "automation.jobs.dlq")
	v.SetDefault("kafka.postback_group", "automation-postback")
	v.SetDefault("outbox.poll_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("dispatcher.timeout", "30s")
	v.SetDefault("dispatcher.lock_ttl", "10m")
	v.SetDefault("dispatcher.max_run_depth", 5)
	v.SetDefault("runner.workers", 8)
	v.SetDefault("runner.poll_interval", "2s")
	v.SetDefault("runner.batch_size", 50)
	v.SetDefault("runner.max_retries", 10)
	v.SetDefault("runner.retry_base", "10s")
	v.SetDefault("mail.region", "us-east-1")
	v.SetDefault("postback.timeout", "10s")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
