// Headless crawler daemon: runs the scheduled tasks without the HTTP API.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
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
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	schedCfg := config.LoadSchedulerConfig(*configPath)

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	store := database.NewStore(db)
	files := filestore.NewStore(cfg.DataDir)
	client := pfsc.NewClient(schedCfg.MaxRetryAttempts, time.Duration(schedCfg.RetryDelaySeconds)*time.Second)

	sched := scheduler.New(schedCfg, client, store, files, cfg.ReportDir)
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到退出信号, 正在关闭...")
	sched.Stop()
}
