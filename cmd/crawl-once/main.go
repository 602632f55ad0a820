// One-shot crawl: fetch every selected province once, persist, recompute
// statistics and exit. Useful for cron or manual backfills.
package main

import (
	"flag"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"farm-market-monitor/internal/config"
	"farm-market-monitor/internal/database"
	"farm-market-monitor/internal/services/filestore"
	"farm-market-monitor/internal/services/pfsc"
	"farm-market-monitor/internal/services/scheduler"
)

func main() {
	configPath := flag.String("config", "scheduler_config.json", "调度配置文件路径")
	provinces := flag.String("provinces", "", "只采集指定省份, 逗号分隔 (默认按配置文件)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	schedCfg := config.LoadSchedulerConfig(*configPath)
	if *provinces != "" {
		schedCfg.ProvincesToCrawl = strings.Split(*provinces, ",")
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	store := database.NewStore(db)
	files := filestore.NewStore(cfg.DataDir)
	client := pfsc.NewClient(schedCfg.MaxRetryAttempts, time.Duration(schedCfg.RetryDelaySeconds)*time.Second)

	sched := scheduler.New(schedCfg, client, store, files, cfg.ReportDir)
	start := time.Now()
	if err := sched.RunCrawlOnce(); err != nil {
		log.Fatal("采集失败:", err)
	}
	log.Printf("采集完成, 耗时 %v", time.Since(start))
}
