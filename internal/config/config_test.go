package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 5*time.Minute, cfg.PreheatLeadTime)
	assert.Equal(t, 30*time.Second, cfg.CacheJitter)
	assert.Equal(t, 1, cfg.DefaultUserLimit)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SECKILL_QPS", "50")
	t.Setenv("PREHEAT_LEAD_TIME", "10m")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_DSN", "root:pw@tcp(127.0.0.1:3306)/seckill?parseTime=true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 50, cfg.SeckillQPS)
	assert.Equal(t, 10*time.Minute, cfg.PreheatLeadTime)
	assert.Equal(t, "mysql", cfg.DBDriver)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"SECKILL_QPS":        "0",
		"REDIS_DB":           "abc",
		"PREHEAT_INTERVAL":   "soon",
		"DB_DRIVER":          "postgres",
		"MAX_QUANTITY":       "-1",
		"RECORDER_BACKOFF":   "1x",
		"USER_RATE_LIMIT":    "0",
		"DEFAULT_USER_LIMIT": "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seckill.yaml")
	content := []byte(`
http_addr: ":9090"
seckill_qps: 200
preheat_lead_time: 2m
kafka_brokers:
  - "broker-a:9092"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SECKILL_QPS", "300")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.PreheatLeadTime)
	assert.Equal(t, []string{"broker-a:9092"}, cfg.KafkaBrokers)
	// 环境变量优先于文件
	assert.Equal(t, 300, cfg.SeckillQPS)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
