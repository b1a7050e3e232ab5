package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backend names shared by the ledger and queue sections.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	GPU      GPUConfig      `yaml:"gpu"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Payment  PaymentConfig  `yaml:"payment"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Queue    QueueConfig    `yaml:"queue"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name               string `yaml:"name"`
	Durable            bool   `yaml:"durable"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	// CPUUnits is the number of CPU search units; 0 means half the logical cores.
	CPUUnits          int           `yaml:"cpu_units"`
	UnitBinary        string        `yaml:"unit_binary"`
	TelemetryInterval uint64        `yaml:"telemetry_interval"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	KillTimeout       time.Duration `yaml:"kill_timeout"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	FinalizeTimeout   time.Duration `yaml:"finalize_timeout"`
	MaxUnitRestarts   int           `yaml:"max_unit_restarts"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AdminPort         int           `yaml:"admin_port"`
}

// GPUConfig describes external GPU search processes.
type GPUConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DetectCommand []string `yaml:"detect_command"`
	Command       []string `yaml:"command"`
}

// DeliveryConfig holds result encryption settings
type DeliveryConfig struct {
	Iterations int `yaml:"iterations"`
}

// PaymentConfig holds the XRPL payment gate settings
type PaymentConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	Destination    string        `yaml:"destination"`
	MinAmountDrops uint64        `yaml:"min_amount_drops"`
	VerifyAttempts int           `yaml:"verify_attempts"`
	VerifyInterval time.Duration `yaml:"verify_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PublicBaseURL  string        `yaml:"public_base_url"`
}

// LedgerConfig selects the job ledger backend and retention
type LedgerConfig struct {
	Backend   string        `yaml:"backend"`
	ResultTTL time.Duration `yaml:"result_ttl"`
	RecordTTL time.Duration `yaml:"record_ttl"`
	Migrate   bool          `yaml:"migrate"`
}

// QueueConfig selects the job queue transport
type QueueConfig struct {
	Backend string `yaml:"backend"`
	Name    string `yaml:"name"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file, then fills defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset tunable with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 {
		c.Server.RateLimit.RequestsPerSecond = 5
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = 10
	}

	if c.Worker.TelemetryInterval == 0 {
		c.Worker.TelemetryInterval = 1000
	}
	if c.Worker.KillTimeout <= 0 {
		c.Worker.KillTimeout = 5 * time.Second
	}
	if c.Worker.FinalizeTimeout <= 0 {
		c.Worker.FinalizeTimeout = 30 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if len(c.GPU.DetectCommand) == 0 {
		c.GPU.DetectCommand = []string{"nvidia-smi", "-L"}
	}

	if c.Delivery.Iterations <= 0 {
		c.Delivery.Iterations = 200_000
	}

	if c.Payment.VerifyAttempts <= 0 {
		c.Payment.VerifyAttempts = 15
	}
	if c.Payment.VerifyInterval <= 0 {
		c.Payment.VerifyInterval = 2 * time.Second
	}
	if c.Payment.RequestTimeout <= 0 {
		c.Payment.RequestTimeout = 10 * time.Second
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = BackendRedis
	}
	if c.Ledger.ResultTTL <= 0 {
		c.Ledger.ResultTTL = 30 * time.Minute
	}
	if c.Ledger.RecordTTL <= 0 {
		c.Ledger.RecordTTL = 24 * time.Hour
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendRedis
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "queue:vanity"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func validPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// validateStorage checks the connection settings the chosen backends need.
func (c *Config) validateStorage() error {
	switch c.Ledger.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if !validPort(c.Database.Port) {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Ledger.Backend)
	}

	switch c.Queue.Backend {
	case BackendMemory, BackendRedis:
	case BackendRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if !validPort(c.RabbitMQ.Port) {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	if (c.Ledger.Backend == BackendRedis || c.Queue.Backend == BackendRedis) && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}
	if c.Ledger.Backend == BackendMemory && c.Queue.Backend != BackendMemory {
		return fmt.Errorf("memory ledger requires the memory queue")
	}

	return nil
}

// ValidateAPIConfig checks the settings the api service needs
func (c *Config) ValidateAPIConfig() error {
	if !validPort(c.Server.Port) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Payment.RPCURL == "" {
		return fmt.Errorf("payment rpc_url is required")
	}

	if c.Payment.Destination == "" {
		return fmt.Errorf("payment destination is required")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Worker.CPUUnits < 0 {
		return fmt.Errorf("worker cpu_units must not be negative")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Worker.ProgressInterval < 0 {
		return fmt.Errorf("worker progress_interval must not be negative")
	}

	if c.Worker.MaxUnitRestarts < 0 {
		return fmt.Errorf("worker max_unit_restarts must not be negative")
	}

	if c.Worker.AdminPort != 0 && !validPort(c.Worker.AdminPort) {
		return fmt.Errorf("invalid worker admin port: %d (must be between %d and %d)", c.Worker.AdminPort, MinPort, MaxPort)
	}

	if c.GPU.Enabled && len(c.GPU.Command) == 0 {
		return fmt.Errorf("gpu command is required when gpu is enabled")
	}

	return nil
}
