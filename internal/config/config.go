package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-threshold/common/config"
)

// 最新值缓存后端
const (
	LatestBackendPostgres = "postgres"
	LatestBackendRedis    = "redis"
)

// Config 阈值报警服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 阈值报警服务特定配置
	Threshold struct {
		Topics struct {
			Telemetry   string // 遥测订阅主题，如 "telemetry/#"
			AlarmPrefix string // 报警发布主题前缀，如 "alarm"
		}

		// 入站队列配置
		Queue struct {
			Capacity       int           // 队列总容量，默认 1000
			EnqueueTimeout time.Duration // 入队超时，超时即丢弃，默认 1s
		}

		Workers int // 分发 worker 数量，默认 1

		// 最新值缓存
		Latest struct {
			Backend   string // postgres 或 redis
			KeyPrefix string // Redis 键前缀，如 "threshold:latest:"
		}

		AlarmStream      string // 报警 Redis Stream 名称，空表示不推送
		AlarmStreamGroup string // 启动时预建的下游消费者组，可选

		// 初始化配置
		Bootstrap struct {
			SeedRules  bool   // rules 表为空时写入示例规则
			SeedFile   string // 可选 YAML 规则文件
			ResetState bool   // 启动时清空 state 表
		}
	}

	HTTP struct {
		Addr string // 健康检查/指标端口
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.ConnectAttempts = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-threshold"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	// 阈值报警服务配置
	cfg.Threshold.Topics.Telemetry = getEnv("TELEMETRY_TOPIC", "telemetry/#")
	cfg.Threshold.Topics.AlarmPrefix = getEnv("ALARM_TOPIC_PREFIX", "alarm")

	var err error
	if cfg.Threshold.Queue.Capacity, err = getEnvInt("QUEUE_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if cfg.Threshold.Queue.EnqueueTimeout, err = getEnvDuration("ENQUEUE_TIMEOUT", time.Second); err != nil {
		return nil, err
	}
	if cfg.Threshold.Workers, err = getEnvInt("WORKERS", 1); err != nil {
		return nil, err
	}

	cfg.Threshold.Latest.Backend = getEnv("LATEST_BACKEND", LatestBackendPostgres)
	cfg.Threshold.Latest.KeyPrefix = getEnv("LATEST_KEY_PREFIX", "threshold:latest:")
	cfg.Threshold.AlarmStream = getEnv("ALARM_STREAM", "")
	cfg.Threshold.AlarmStreamGroup = getEnv("ALARM_STREAM_GROUP", "")

	if cfg.Threshold.Bootstrap.SeedRules, err = getEnvBool("SEED_RULES", true); err != nil {
		return nil, err
	}
	cfg.Threshold.Bootstrap.SeedFile = getEnv("SEED_RULES_FILE", "")
	if cfg.Threshold.Bootstrap.ResetState, err = getEnvBool("RESET_STATE_ON_START", false); err != nil {
		return nil, err
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":9108")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Threshold.Workers < 1 {
		return fmt.Errorf("WORKERS must be >= 1, got %d", c.Threshold.Workers)
	}
	if c.Threshold.Queue.Capacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be >= 1, got %d", c.Threshold.Queue.Capacity)
	}
	if c.Threshold.Queue.EnqueueTimeout <= 0 {
		return fmt.Errorf("ENQUEUE_TIMEOUT must be positive, got %s", c.Threshold.Queue.EnqueueTimeout)
	}
	switch c.Threshold.Latest.Backend {
	case LatestBackendPostgres, LatestBackendRedis:
	default:
		return fmt.Errorf("unknown LATEST_BACKEND %q", c.Threshold.Latest.Backend)
	}
	if c.Threshold.Topics.Telemetry == "" {
		return fmt.Errorf("TELEMETRY_TOPIC is required")
	}
	return nil
}

// NeedsRedis 是否需要连接 Redis
func (c *Config) NeedsRedis() bool {
	return c.Threshold.Latest.Backend == LatestBackendRedis || c.Threshold.AlarmStream != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
