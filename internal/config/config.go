package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（报警广播通道）
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	AlertTopic     string // 报警消息发布主题
	DetectionTopic string // 检测输入订阅主题
}

// TelegramConfig Telegram机器人配置（报警推送 + 操作指令通道）
type TelegramConfig struct {
	Token       string // Bot token，为空时禁用机器人
	OwnerChatID string // 接收报警的会话ID
	PollTimeout int    // getUpdates 长轮询超时（秒）
}

// Config 安防监控服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Telegram TelegramConfig

	// 检测引擎配置
	Security struct {
		// 人脸匹配阈值（欧氏距离，小于该值视为同一人）
		RecognitionThreshold float64

		// 风险评分窗口
		RiskWindowMinutes  int // 风险评分回溯窗口，默认 60分钟
		BurstWindowMinutes int // 陌生人脸爆发窗口，默认 10分钟
		HouseWindowMinutes int // 房间状态回溯窗口，默认 5分钟

		// 模拟事件生成器
		SimulateIntervalSec int // 模拟事件间隔（秒），默认 30秒
	}

	// Redis 缓存配置
	Cache struct {
		RiskKey     string // 风险快照缓存键
		HouseKey    string // 房间状态快照缓存键
		SnapshotTTL int    // 快照 TTL（秒），默认 30秒
		EventStream string // 事件发布 Stream 名称
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（带默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "homewatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "homewatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.AlertTopic = getEnv("MQTT_ALERT_TOPIC", "homewatch/alerts")
	cfg.MQTT.DetectionTopic = getEnv("MQTT_DETECTION_TOPIC", "homewatch/detections")

	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.Telegram.OwnerChatID = getEnv("TELEGRAM_OWNER_CHAT_ID", "")
	cfg.Telegram.PollTimeout = getEnvInt("TELEGRAM_POLL_TIMEOUT", 30)

	// 检测引擎配置
	cfg.Security.RecognitionThreshold = 0.6
	cfg.Security.RiskWindowMinutes = 60
	cfg.Security.BurstWindowMinutes = 10
	cfg.Security.HouseWindowMinutes = 5
	cfg.Security.SimulateIntervalSec = getEnvInt("SIMULATE_INTERVAL_SEC", 30)

	cfg.Cache.RiskKey = getEnv("CACHE_RISK_KEY", "homewatch:risk")
	cfg.Cache.HouseKey = getEnv("CACHE_HOUSE_KEY", "homewatch:house")
	cfg.Cache.SnapshotTTL = 30 // 30秒
	cfg.Cache.EventStream = getEnv("EVENT_STREAM", "homewatch:events")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

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
