package config

import (
	"encoding/json"
	"log"
	"os"
)

type Config struct {
	DatabasePath string
	DataDir      string
	ReportDir    string
	Port         string
	Environment  string
}

// SchedulerConfig holds the periodic task settings, loaded from a JSON file.
type SchedulerConfig struct {
	CrawlIntervalMinutes       int      `json:"crawl_interval_minutes"`
	CleanupIntervalHours       int      `json:"cleanup_interval_hours"`
	ReportIntervalHours        int      `json:"report_interval_hours"`
	HealthCheckIntervalMinutes int      `json:"health_check_interval_minutes"`
	DataRetentionDays          int      `json:"data_retention_days"`
	MaxRetryAttempts           int      `json:"max_retry_attempts"`
	RetryDelaySeconds          int      `json:"retry_delay_seconds"`
	EnableNotifications        bool     `json:"enable_notifications"`
	NotificationWebhook        string   `json:"notification_webhook"`
	ProvincesToCrawl           []string `json:"provinces_to_crawl"` // 空列表表示爬取所有省份
	PriorityVarieties          []string `json:"priority_varieties"`
}

func Load() *Config {
	return &Config{
		DatabasePath: getEnv("DATABASE_PATH", "market_data.db"),
		DataDir:      getEnv("DATA_DIR", "market_data"),
		ReportDir:    getEnv("REPORT_DIR", "reports"),
		Port:         getEnv("PORT", "8080"),
		Environment:  getEnv("ENVIRONMENT", "production"),
	}
}

// DefaultSchedulerConfig 内置默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CrawlIntervalMinutes:       30,
		CleanupIntervalHours:       24,
		ReportIntervalHours:        6,
		HealthCheckIntervalMinutes: 5,
		DataRetentionDays:          90,
		MaxRetryAttempts:           3,
		RetryDelaySeconds:          5,
		EnableNotifications:        false,
		NotificationWebhook:        "",
		ProvincesToCrawl:           []string{},
		PriorityVarieties:          []string{"白萝卜", "土豆", "白菜", "西红柿", "黄瓜"},
	}
}

// LoadSchedulerConfig 从JSON文件加载调度配置，文件不存在时创建默认配置文件，
// 解析失败时回退到内置默认值
func LoadSchedulerConfig(path string) SchedulerConfig {
	cfg := DefaultSchedulerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := SaveSchedulerConfig(path, cfg); err != nil {
				log.Printf("[配置] 创建默认配置文件失败: %v", err)
			} else {
				log.Printf("[配置] 已创建默认配置文件: %s", path)
			}
		} else {
			log.Printf("[配置] 读取配置文件失败: %v, 使用默认配置", err)
		}
		return cfg
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("[配置] 解析配置文件失败: %v, 使用默认配置", err)
		return DefaultSchedulerConfig()
	}

	log.Printf("[配置] 已加载配置文件: %s", path)
	return cfg
}

// SaveSchedulerConfig 保存调度配置到JSON文件
func SaveSchedulerConfig(path string, cfg SchedulerConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
