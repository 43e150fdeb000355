package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// Config 摄入服务配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	// 已知设备编号范围（越界的 deviceId 在摄入前拒绝）
	Fleet struct {
		MinDeviceID int `yaml:"min_device_id"`
		MaxDeviceID int `yaml:"max_device_id"`
	} `yaml:"fleet"`

	Ingest struct {
		// 在线判定超时（秒），默认 30
		LivenessTimeoutSec int `yaml:"liveness_timeout_sec"`
		// 展示宽限期（秒），默认 10（仅供展示层消费，核心不强制）
		DisplayGraceSec int `yaml:"display_grace_sec"`
		// 烟雾阈值默认值（settings 不可用时回退），默认 400
		DefaultSmokeThreshold int `yaml:"default_smoke_threshold"`
		// 报警抑制窗口（分钟）：烟雾 5，其余 10
		SmokeSuppressMinutes   int `yaml:"smoke_suppress_minutes"`
		DefaultSuppressMinutes int `yaml:"default_suppress_minutes"`
		// 每个订阅者的事件缓冲大小（满则丢弃最旧事件）
		SubscriberBuffer int `yaml:"subscriber_buffer"`
		// Redis Streams 事件流名称
		EventStream string `yaml:"event_stream"`
		// 最新读数缓存键前缀/后缀，如 "treeguard:device:1:latest"
		CacheKeyPrefix string `yaml:"cache_key_prefix"`
		CacheSuffix    string `yaml:"cache_suffix"`
	} `yaml:"ingest"`

	MQTTTopics struct {
		// 设备数据主题模式，如 "tree/+/data"
		Data string `yaml:"data"`
	} `yaml:"mqtt_topics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LivenessTimeout 在线判定超时
func (c *Config) LivenessTimeout() time.Duration {
	return time.Duration(c.Ingest.LivenessTimeoutSec) * time.Second
}

// DisplayGrace 展示宽限期
func (c *Config) DisplayGrace() time.Duration {
	return time.Duration(c.Ingest.DisplayGraceSec) * time.Second
}

// Load 加载配置
// 顺序：默认值 -> CONFIG_FILE 指定的 YAML 文件（可选）-> 环境变量覆盖
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "treeguard"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "treeguard-ingest"
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = ":8086"

	cfg.Fleet.MinDeviceID = 1
	cfg.Fleet.MaxDeviceID = 1000

	cfg.Ingest.LivenessTimeoutSec = 30
	cfg.Ingest.DisplayGraceSec = 10
	cfg.Ingest.DefaultSmokeThreshold = 400
	cfg.Ingest.SmokeSuppressMinutes = 5
	cfg.Ingest.DefaultSuppressMinutes = 10
	cfg.Ingest.SubscriberBuffer = 64
	cfg.Ingest.EventStream = "treeguard:events:stream"
	cfg.Ingest.CacheKeyPrefix = "treeguard:device:"
	cfg.Ingest.CacheSuffix = ":latest"

	cfg.MQTTTopics.Data = "tree/+/data"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	// YAML 配置文件（可选）
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// 环境变量覆盖
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Fleet.MinDeviceID = getEnvInt("FLEET_MIN_DEVICE_ID", cfg.Fleet.MinDeviceID)
	cfg.Fleet.MaxDeviceID = getEnvInt("FLEET_MAX_DEVICE_ID", cfg.Fleet.MaxDeviceID)

	cfg.Ingest.DefaultSmokeThreshold = getEnvInt("DEFAULT_SMOKE_THRESHOLD", cfg.Ingest.DefaultSmokeThreshold)
	cfg.Ingest.SubscriberBuffer = getEnvInt("SUBSCRIBER_BUFFER", cfg.Ingest.SubscriberBuffer)
	cfg.Ingest.EventStream = getEnv("EVENT_STREAM", cfg.Ingest.EventStream)

	cfg.MQTTTopics.Data = getEnv("MQTT_DATA_TOPIC", cfg.MQTTTopics.Data)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
