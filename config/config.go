package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. ROLEINVITE_REDIS_HOST overrides redis.host.
const EnvPrefix = "roleinvite"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	WriteLanes WriteLanesConfig `mapstructure:"write_lanes"`
	Autorole   AutoroleConfig   `mapstructure:"autorole"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type GRPCConfig struct {
	Address string `mapstructure:"address"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// DSN builds the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Brokers       []string       `mapstructure:"brokers"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Topics        TopicsConfig   `mapstructure:"topics"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

type TopicsConfig struct {
	MemberJoin string `mapstructure:"member_join"`
	DLQ        string `mapstructure:"dlq"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type RateLimitConfig struct {
	CommandsPerMinute int  `mapstructure:"commands_per_minute"`
	FailOpen          bool `mapstructure:"fail_open"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

// WriteLanesConfig sizes the serial executor that orders store writes per community.
type WriteLanesConfig struct {
	Lanes     int `mapstructure:"lanes"`
	Replicas  int `mapstructure:"replicas"`
	QueueSize int `mapstructure:"queue_size"`
}

type AutoroleConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
	// ReportFilePath receives error-level entries only; see logger.Quiet.
	ReportFilePath string `mapstructure:"report_file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("grpc.address", ":9090")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("kafka.consumer_group", "roleinvite")
	v.SetDefault("kafka.topics.member_join", "member.join")
	v.SetDefault("kafka.topics.dlq", "member.join.dlq")
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.consumer.max_retries", 2)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 100)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("ratelimit.commands_per_minute", 30)
	v.SetDefault("ratelimit.fail_open", true)
	v.SetDefault("worker_pool.size", 16)
	v.SetDefault("worker_pool.queue_size", 1024)
	v.SetDefault("write_lanes.lanes", 8)
	v.SetDefault("write_lanes.replicas", 64)
	v.SetDefault("write_lanes.queue_size", 256)
	v.SetDefault("autorole.refresh_interval", time.Minute)
	v.SetDefault("autorole.confirm_timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// LoadConfig reads the TOML file at path. Values may be overridden through
// ROLEINVITE_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.WorkerPool.Size <= 0 {
		return fmt.Errorf("worker_pool.size must be positive, got %d", c.WorkerPool.Size)
	}
	if c.WriteLanes.Lanes <= 0 {
		return fmt.Errorf("write_lanes.lanes must be positive, got %d", c.WriteLanes.Lanes)
	}
	if c.Autorole.RefreshInterval <= 0 {
		return fmt.Errorf("autorole.refresh_interval must be positive")
	}
	if c.Autorole.ConfirmTimeout <= 0 {
		return fmt.Errorf("autorole.confirm_timeout must be positive")
	}
	return nil
}
