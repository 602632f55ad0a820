package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"farm-market-monitor/internal/config"
	"farm-market-monitor/internal/database"
	"farm-market-monitor/internal/services/filestore"
	"farm-market-monitor/internal/services/pfsc"
)

// Task names, used as stats keys and in events.
const (
	TaskCrawl       = "crawl"
	TaskCleanup     = "cleanup"
	TaskReport      = "report"
	TaskHealthCheck = "health_check"
)

// taskOrder fixes the execution order when several tasks are due on the same
// tick. Tasks always run sequentially, never concurrently.
var taskOrder = []string{TaskCrawl, TaskCleanup, TaskReport, TaskHealthCheck}

// TaskStats 单个任务的累计统计
type TaskStats struct {
	SuccessCount int64         `json:"success_count"`
	FailedCount  int64         `json:"failed_count"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Event is a task lifecycle notification pushed to subscribers.
type Event struct {
	Task      string    `json:"task"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Scheduler runs the periodic crawl, cleanup, report and health check tasks
// on a one second tick.
type Scheduler struct {
	cfg       config.SchedulerConfig
	client    *pfsc.Client
	db        *database.Store
	files     *filestore.Store
	reportDir string
	notifier  *Notifier

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	running  bool
	stats    map[string]*TaskStats
	lastRuns map[string]time.Time
	sink     func(Event)
}

func New(cfg config.SchedulerConfig, client *pfsc.Client, db *database.Store, files *filestore.Store, reportDir string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		client:    client,
		db:        db,
		files:     files,
		reportDir: reportDir,
		notifier:  NewNotifier(cfg.NotificationWebhook, cfg.EnableNotifications),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		stats:     make(map[string]*TaskStats),
		lastRuns:  make(map[string]time.Time),
	}
	for _, name := range taskOrder {
		s.stats[name] = &TaskStats{}
	}
	return s
}

// SetEventSink registers a receiver for task events. Must be called before
// Start.
func (s *Scheduler) SetEventSink(fn func(Event)) {
	s.sink = fn
}

// context returns the context of the current run. Start replaces it, so tasks
// must read it through here instead of holding on to the field.
func (s *Scheduler) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Scheduler) intervals() map[string]time.Duration {
	return map[string]time.Duration{
		TaskCrawl:       time.Duration(s.cfg.CrawlIntervalMinutes) * time.Minute,
		TaskCleanup:     time.Duration(s.cfg.CleanupIntervalHours) * time.Hour,
		TaskReport:      time.Duration(s.cfg.ReportIntervalHours) * time.Hour,
		TaskHealthCheck: time.Duration(s.cfg.HealthCheckIntervalMinutes) * time.Minute,
	}
}

// Start launches the scheduling loop. Calling Start on a running scheduler is
// a no-op. A stopped scheduler may be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	// Fresh context and done channel per run, so a restart after Stop does
	// not reuse the cancelled context or close done twice.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	ctx, done := s.ctx, s.done
	s.mu.Unlock()

	log.Printf("[调度器] 启动 (采集间隔 %d 分钟, 清理间隔 %d 小时, 报表间隔 %d 小时, 健康检查间隔 %d 分钟)",
		s.cfg.CrawlIntervalMinutes, s.cfg.CleanupIntervalHours,
		s.cfg.ReportIntervalHours, s.cfg.HealthCheckIntervalMinutes)

	go s.loop(ctx, done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[调度器] 已停止")
			return
		case now := <-ticker.C:
			s.runDueTasks(ctx, now)
		}
	}
}

func (s *Scheduler) runDueTasks(ctx context.Context, now time.Time) {
	intervals := s.intervals()
	for _, name := range taskOrder {
		if ctx.Err() != nil {
			return
		}
		s.mu.RLock()
		last, ran := s.lastRuns[name]
		s.mu.RUnlock()
		if ran && now.Sub(last) < intervals[name] {
			continue
		}
		s.runTask(name)
	}
}

// runTask executes one task and records its outcome exactly once.
func (s *Scheduler) runTask(name string) {
	var fn func() error
	switch name {
	case TaskCrawl:
		fn = s.crawlTask
	case TaskCleanup:
		fn = s.cleanupTask
	case TaskReport:
		fn = s.reportTask
	case TaskHealthCheck:
		fn = s.healthCheckTask
	default:
		return
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	s.mu.Lock()
	st := s.stats[name]
	st.LastRun = start
	st.LastDuration = elapsed
	if err != nil {
		st.FailedCount++
		st.LastError = err.Error()
	} else {
		st.SuccessCount++
		st.LastError = ""
	}
	s.lastRuns[name] = start
	s.mu.Unlock()

	if err != nil {
		log.Printf("[调度器] 任务 %s 失败 (耗时 %v): %v", name, elapsed, err)
		s.notifier.Notify("任务失败: "+name, err.Error())
		s.emit(Event{Task: name, Level: "error", Message: err.Error(), Timestamp: time.Now()})
		return
	}
	s.emit(Event{Task: name, Level: "info", Message: "任务完成", Timestamp: time.Now()})
}

func (s *Scheduler) emit(e Event) {
	if s.sink != nil {
		s.sink(e)
	}
}

// Stop cancels the loop and waits for the current task to finish, bounded to
// 30 seconds.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("[调度器] 等待任务结束超时")
	}
	log.Println("[调度器] 停止调度")
}

// RunCrawlOnce executes a single crawl cycle synchronously, for one-shot use.
func (s *Scheduler) RunCrawlOnce() error {
	return s.crawlTask()
}

// Status reports the scheduler state for the API.
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intervals := s.intervals()
	tasks := make(map[string]interface{}, len(taskOrder))
	for _, name := range taskOrder {
		st := *s.stats[name]
		entry := map[string]interface{}{
			"interval_seconds": int64(intervals[name] / time.Second),
			"stats":            st,
		}
		if last, ok := s.lastRuns[name]; ok {
			entry["next_run"] = last.Add(intervals[name]).Format("2006-01-02 15:04:05")
		}
		tasks[name] = entry
	}
	return map[string]interface{}{
		"running": s.running,
		"config":  s.cfg,
		"tasks":   tasks,
	}
}
