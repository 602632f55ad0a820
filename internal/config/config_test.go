package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSchedulerConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler_config.json")

	cfg := LoadSchedulerConfig(path)
	if cfg.CrawlIntervalMinutes != 30 || cfg.DataRetentionDays != 90 {
		t.Errorf("默认配置错误: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("应创建默认配置文件: %v", err)
	}

	// 再次加载应读取文件而不是重建
	again := LoadSchedulerConfig(path)
	if again.MaxRetryAttempts != cfg.MaxRetryAttempts {
		t.Errorf("二次加载结果不一致: %+v", again)
	}
}

func TestLoadSchedulerConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler_config.json")
	content := `{"crawl_interval_minutes": 10, "provinces_to_crawl": ["山东省"]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadSchedulerConfig(path)
	if cfg.CrawlIntervalMinutes != 10 {
		t.Errorf("文件值未覆盖默认值: %d", cfg.CrawlIntervalMinutes)
	}
	if len(cfg.ProvincesToCrawl) != 1 || cfg.ProvincesToCrawl[0] != "山东省" {
		t.Errorf("省份列表错误: %+v", cfg.ProvincesToCrawl)
	}
	// 未出现的字段保持默认
	if cfg.CleanupIntervalHours != 24 {
		t.Errorf("缺省字段应保持默认: %d", cfg.CleanupIntervalHours)
	}
}

func TestLoadSchedulerConfigFallsBackOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler_config.json")
	if err := os.WriteFile(path, []byte("{坏掉的json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadSchedulerConfig(path)
	def := DefaultSchedulerConfig()
	if cfg.CrawlIntervalMinutes != def.CrawlIntervalMinutes {
		t.Errorf("解析失败应回退默认配置: %+v", cfg)
	}
}
