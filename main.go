package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"farm-market-monitor/internal/api"
	"farm-market-monitor/internal/config"
	"farm-market-monitor/internal/database"
	"farm-market-monitor/internal/services/filestore"
	"farm-market-monitor/internal/services/pfsc"
	"farm-market-monitor/internal/services/scheduler"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	schedCfg := config.LoadSchedulerConfig("scheduler_config.json")

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	store := database.NewStore(db)
	files := filestore.NewStore(cfg.DataDir)
	client := pfsc.NewClient(schedCfg.MaxRetryAttempts, time.Duration(schedCfg.RetryDelaySeconds)*time.Second)

	hub := api.NewHub()
	sched := scheduler.New(schedCfg, client, store, files, cfg.ReportDir)
	sched.SetEventSink(hub.Publish)
	sched.Start()
	defer sched.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", hub.ServeWS)

	apiGroup := r.Group("/api")
	api.SetupRoutes(apiGroup, store, sched, hub)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("🚀 服务启动, 端口 %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("服务启动失败:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到退出信号, 正在关闭...")
	srv.Close()
}
