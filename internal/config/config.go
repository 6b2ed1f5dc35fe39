package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig 聚合运行时配置。优先级：环境变量 > CONFIG_FILE(yaml) > 默认值。
type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	// DBDriver 取值 sqlite / mysql；DBDSN 对 sqlite 是文件路径
	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Kafka 集群地址、秒杀成功记录 Topic、消费者组
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroupID string   `yaml:"kafka_group_id"`

	// Redis Stream outbox（热路径 XADD，Relay 异步转 Kafka）
	SuccessStream   string `yaml:"success_stream"`
	SuccessGroup    string `yaml:"success_group"`
	SuccessConsumer string `yaml:"success_consumer"`

	// 成功记录消费：有限重试后进死信表
	RecorderMaxAttempts int           `yaml:"recorder_max_attempts"`
	RecorderBackoff     time.Duration `yaml:"recorder_backoff"`

	// 限流与熔断
	SeckillQPS          int           `yaml:"seckill_qps"`
	UserRateLimit       int           `yaml:"user_rate_limit"`
	UserRateWindow      time.Duration `yaml:"user_rate_window"`
	BreakerMinRequests  uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout"`

	// 预热与布隆过滤器
	PreheatInterval    time.Duration `yaml:"preheat_interval"`
	PreheatLeadTime    time.Duration `yaml:"preheat_lead_time"`
	BloomInterval      time.Duration `yaml:"bloom_interval"`
	BloomExpectedItems uint64        `yaml:"bloom_expected_items"`
	BloomFalsePositive float64       `yaml:"bloom_false_positive"`
	BloomTomorrow      bool          `yaml:"bloom_tomorrow"` // 同时写入次日过滤器
	CacheJitter        time.Duration `yaml:"cache_jitter"`
	SnapshotTTL        time.Duration `yaml:"snapshot_ttl"`

	// 下单
	DefaultUserLimit int           `yaml:"default_user_limit"`
	AttemptTTL       time.Duration `yaml:"attempt_ttl"`
	MaxQuantity      int           `yaml:"max_quantity"`
	CommitTimeout    time.Duration `yaml:"commit_timeout"`

	// 远程协作方（商品、订单、库存服务）
	CatalogURL    string        `yaml:"catalog_url"`
	OrderURL      string        `yaml:"order_url"`
	InventoryURL  string        `yaml:"inventory_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	JWTSecret  string `yaml:"jwt_secret"`
	AdminToken string `yaml:"admin_token"`
}

// Default 返回未经任何覆盖的默认配置。
func Default() AppConfig {
	return AppConfig{
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		DBDriver:            "sqlite",
		DBDSN:               "seckill.db",
		RedisAddr:           "localhost:6379",
		KafkaBrokers:        []string{"localhost:9092"},
		KafkaTopic:          "seckill-success",
		KafkaGroupID:        "seckill-success-recorder",
		SuccessStream:       "seckill:success:outbox",
		SuccessGroup:        "seckill-relay-group",
		SuccessConsumer:     "seckill-relay-1",
		RecorderMaxAttempts: 3,
		RecorderBackoff:     200 * time.Millisecond,
		SeckillQPS:          1000,
		UserRateLimit:       5,
		UserRateWindow:      time.Second,
		BreakerMinRequests:  20,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  10 * time.Second,
		PreheatInterval:     time.Minute,
		PreheatLeadTime:     5 * time.Minute,
		BloomInterval:       time.Minute,
		BloomExpectedItems:  100000,
		BloomFalsePositive:  0.001,
		BloomTomorrow:       true,
		CacheJitter:         30 * time.Second,
		SnapshotTTL:         5 * time.Minute,
		DefaultUserLimit:    1,
		AttemptTTL:          24 * time.Hour,
		MaxQuantity:         1,
		CommitTimeout:       3 * time.Second,
		CatalogURL:          "http://localhost:9001",
		OrderURL:            "http://localhost:9002",
		InventoryURL:        "http://localhost:9001",
		RemoteTimeout:       time.Second,
		JWTSecret:           "dev-jwt-secret",
		AdminToken:          "dev-admin-token",
	}
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.SuccessStream = getEnv("SUCCESS_STREAM", cfg.SuccessStream)
	cfg.SuccessGroup = getEnv("SUCCESS_GROUP", cfg.SuccessGroup)
	cfg.SuccessConsumer = getEnv("SUCCESS_CONSUMER", cfg.SuccessConsumer)
	cfg.CatalogURL = getEnv("CATALOG_URL", cfg.CatalogURL)
	cfg.OrderURL = getEnv("ORDER_URL", cfg.OrderURL)
	cfg.InventoryURL = getEnv("INVENTORY_URL", cfg.InventoryURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)
	if v := getEnv("BLOOM_TOMORROW", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid BLOOM_TOMORROW: %w", err)
		}
		cfg.BloomTomorrow = b
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.RecorderMaxAttempts, err = getEnvInt("RECORDER_MAX_ATTEMPTS", cfg.RecorderMaxAttempts); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RECORDER_MAX_ATTEMPTS: %w", err)
	}
	if cfg.SeckillQPS, err = getEnvInt("SECKILL_QPS", cfg.SeckillQPS); err != nil {
		return AppConfig{}, fmt.Errorf("invalid SECKILL_QPS: %w", err)
	}
	if cfg.UserRateLimit, err = getEnvInt("USER_RATE_LIMIT", cfg.UserRateLimit); err != nil {
		return AppConfig{}, fmt.Errorf("invalid USER_RATE_LIMIT: %w", err)
	}
	if cfg.DefaultUserLimit, err = getEnvInt("DEFAULT_USER_LIMIT", cfg.DefaultUserLimit); err != nil {
		return AppConfig{}, fmt.Errorf("invalid DEFAULT_USER_LIMIT: %w", err)
	}
	if cfg.MaxQuantity, err = getEnvInt("MAX_QUANTITY", cfg.MaxQuantity); err != nil {
		return AppConfig{}, fmt.Errorf("invalid MAX_QUANTITY: %w", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RECORDER_BACKOFF", &cfg.RecorderBackoff},
		{"USER_RATE_WINDOW", &cfg.UserRateWindow},
		{"BREAKER_OPEN_TIMEOUT", &cfg.BreakerOpenTimeout},
		{"PREHEAT_INTERVAL", &cfg.PreheatInterval},
		{"PREHEAT_LEAD_TIME", &cfg.PreheatLeadTime},
		{"BLOOM_INTERVAL", &cfg.BloomInterval},
		{"CACHE_JITTER", &cfg.CacheJitter},
		{"SNAPSHOT_TTL", &cfg.SnapshotTTL},
		{"ATTEMPT_TTL", &cfg.AttemptTTL},
		{"COMMIT_TIMEOUT", &cfg.CommitTimeout},
		{"REMOTE_TIMEOUT", &cfg.RemoteTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 校验取值范围，Load 之外构造的配置（测试、yaml）同样适用。
func (c AppConfig) Validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "mysql" {
		return fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if c.KafkaGroupID == "" {
		return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if c.SuccessStream == "" || c.SuccessGroup == "" || c.SuccessConsumer == "" {
		return fmt.Errorf("SUCCESS_STREAM, SUCCESS_GROUP and SUCCESS_CONSUMER must not be empty")
	}
	if c.RecorderMaxAttempts <= 0 {
		return fmt.Errorf("RECORDER_MAX_ATTEMPTS must be > 0")
	}
	if c.SeckillQPS <= 0 {
		return fmt.Errorf("SECKILL_QPS must be > 0")
	}
	if c.UserRateLimit <= 0 || c.UserRateWindow <= 0 {
		return fmt.Errorf("USER_RATE_LIMIT and USER_RATE_WINDOW must be > 0")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("breaker_failure_ratio must be in (0, 1]")
	}
	if c.PreheatInterval <= 0 || c.BloomInterval <= 0 {
		return fmt.Errorf("PREHEAT_INTERVAL and BLOOM_INTERVAL must be > 0")
	}
	if c.PreheatLeadTime <= 0 {
		return fmt.Errorf("PREHEAT_LEAD_TIME must be > 0")
	}
	if c.CacheJitter < 0 {
		return fmt.Errorf("CACHE_JITTER must be >= 0")
	}
	if c.BloomExpectedItems == 0 || c.BloomFalsePositive <= 0 || c.BloomFalsePositive >= 1 {
		return fmt.Errorf("bloom_expected_items must be > 0 and bloom_false_positive in (0, 1)")
	}
	if c.DefaultUserLimit <= 0 {
		return fmt.Errorf("DEFAULT_USER_LIMIT must be > 0")
	}
	if c.AttemptTTL <= 0 {
		return fmt.Errorf("ATTEMPT_TTL must be > 0")
	}
	if c.MaxQuantity <= 0 {
		return fmt.Errorf("MAX_QUANTITY must be > 0")
	}
	if c.CommitTimeout <= 0 || c.RemoteTimeout <= 0 {
		return fmt.Errorf("COMMIT_TIMEOUT and REMOTE_TIMEOUT must be > 0")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
}

func loadFile(path string, cfg *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration 读取 time.ParseDuration 格式的时长，如 "500ms"、"5m"。
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
