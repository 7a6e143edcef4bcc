package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Sync brokers
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
	BrokerMQTT  = "mqtt"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	// Prefix is the service label on the HTTP request metrics
	Prefix string
}

// StoreConfig selects the key-value backend that holds the scoped collections
type StoreConfig struct {
	Backend        string
	KeyPrefix      string
	GuardThreshold int
}

// RedisConfig holds redis connection settings, shared by the redis store and broker
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds MQTT broker settings for change fan-out
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// SyncConfig selects how change notifications travel between service instances
type SyncConfig struct {
	Broker  string
	Channel string
	MQTT    MQTTConfig
}

// CloudConfig points at the remote backup/hydration collaborator. Empty BaseURL disables it.
type CloudConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// Enabled reports whether a cloud collaborator is configured
func (c CloudConfig) Enabled() bool {
	return c.BaseURL != ""
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Store       StoreConfig
	Redis       RedisConfig
	Sync        SyncConfig
	Cloud       CloudConfig
}

// Load loads configuration from environment variables without service name prefix
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", serviceName),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", serviceName),
		},
		Store: StoreConfig{
			Backend:        getEnv("STORE_BACKEND", BackendMemory),
			KeyPrefix:      getEnv("STORE_KEY_PREFIX", ""),
			GuardThreshold: getEnvAsInt("STORE_GUARD_THRESHOLD", 20),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Sync: SyncConfig{
			Broker:  getEnv("SYNC_BROKER", BrokerLocal),
			Channel: getEnv("SYNC_CHANNEL", serviceName+":changes"),
			MQTT: MQTTConfig{
				Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
				ClientID: getEnv("MQTT_CLIENT_ID", serviceName),
				Username: getEnv("MQTT_USERNAME", ""),
				Password: getEnv("MQTT_PASSWORD", ""),
				Topic:    getEnv("MQTT_TOPIC", serviceName+"/changes"),
				QoS:      byte(getEnvAsInt("MQTT_QOS", 1)),
			},
		},
		Cloud: CloudConfig{
			BaseURL:    getEnv("CLOUD_BASE_URL", ""),
			APIKey:     getEnv("CLOUD_API_KEY", ""),
			Timeout:    getEnvAsDuration("CLOUD_TIMEOUT", 30*time.Second),
			RetryCount: getEnvAsInt("CLOUD_RETRY_COUNT", 3),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Sync.Broker {
	case BrokerLocal, BrokerRedis, BrokerMQTT:
	default:
		return fmt.Errorf("unsupported SYNC_BROKER %q", c.Sync.Broker)
	}
	if c.Store.GuardThreshold < 0 {
		return fmt.Errorf("STORE_GUARD_THRESHOLD must not be negative")
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("server_port", c.Server.Port),
		zap.String("store_backend", c.Store.Backend),
		zap.Int("guard_threshold", c.Store.GuardThreshold),
		zap.String("sync_broker", c.Sync.Broker),
		zap.String("db_host", c.DB.Host),
		zap.String("db_name", c.DB.DBName),
		zap.String("redis_addr", c.Redis.Addr),
		zap.Bool("cloud_enabled", c.Cloud.Enabled()),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
