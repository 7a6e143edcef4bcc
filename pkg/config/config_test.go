package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("SYNC_BROKER", BrokerLocal)
	t.Setenv("CLOUD_BASE_URL", "")
	unsetEnv(t, "METRICS_PREFIX")

	cfg, err := Load("okboz")
	require.NoError(t, err)

	assert.Equal(t, "okboz", cfg.ServiceName)
	assert.Equal(t, "okboz", cfg.Metrics.Prefix)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, BrokerLocal, cfg.Sync.Broker)
	assert.Equal(t, 20, cfg.Store.GuardThreshold)
	assert.Equal(t, "okboz:changes", cfg.Sync.Channel)
	assert.False(t, cfg.Cloud.Enabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendRedis)
	t.Setenv("SYNC_BROKER", BrokerMQTT)
	t.Setenv("STORE_GUARD_THRESHOLD", "64")
	t.Setenv("STORE_KEY_PREFIX", "okboz:")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CLOUD_BASE_URL", "https://backup.example.com")
	t.Setenv("CLOUD_TIMEOUT", "5s")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("METRICS_PREFIX", "okboz-edge")

	cfg, err := Load("okboz")
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 64, cfg.Store.GuardThreshold)
	assert.Equal(t, "okboz:", cfg.Store.KeyPrefix)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Cloud.Enabled())
	assert.Equal(t, 5*time.Second, cfg.Cloud.Timeout)
	assert.Equal(t, byte(2), cfg.Sync.MQTT.QoS)
	assert.Equal(t, "okboz-edge", cfg.Metrics.Prefix)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "localstorage")
	t.Setenv("SYNC_BROKER", BrokerLocal)

	_, err := Load("okboz")
	assert.Error(t, err)
}

func TestLoad_RejectsNegativeThreshold(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("SYNC_BROKER", BrokerLocal)
	t.Setenv("STORE_GUARD_THRESHOLD", "-1")

	_, err := Load("okboz")
	assert.Error(t, err)
}

func TestGetEnvAsLogLevel(t *testing.T) {
	t.Setenv("DB_LOG_LEVEL", "silent")
	assert.Equal(t, logger.Silent, getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn))

	t.Setenv("DB_LOG_LEVEL", "nonsense")
	assert.Equal(t, logger.Warn, getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn))
}

func TestDBConfig_GetDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.GetDSN())
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}
