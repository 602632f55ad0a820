package scheduler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"farm-market-monitor/internal/config"
	"farm-market-monitor/internal/database"
	"farm-market-monitor/internal/services/filestore"
	"farm-market-monitor/internal/services/pfsc"
)

func testScheduler(t *testing.T, handler http.Handler) *Scheduler {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("初始化数据库失败: %v", err)
	}
	store := database.NewStore(db)
	files := filestore.NewStore(t.TempDir())

	client := pfsc.NewClient(1, time.Millisecond)
	client.SetPauses(0, 0, 0)
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		client.SetBaseURL(srv.URL)
	}

	cfg := config.DefaultSchedulerConfig()
	cfg.ProvincesToCrawl = []string{"山东省"}
	return New(cfg, client, store, files, t.TempDir())
}

func TestRunTaskRecordsStatsExactlyOnce(t *testing.T) {
	s := testScheduler(t, nil)

	s.runTask(TaskHealthCheck)
	s.runTask(TaskHealthCheck)

	s.mu.RLock()
	st := *s.stats[TaskHealthCheck]
	_, ran := s.lastRuns[TaskHealthCheck]
	s.mu.RUnlock()

	if st.SuccessCount != 2 || st.FailedCount != 0 {
		t.Errorf("两次运行应计数 2 次成功: %+v", st)
	}
	if !ran {
		t.Error("lastRuns 未更新")
	}
	if _, err := os.Stat(filepath.Join(s.reportDir, "health_status.json")); err != nil {
		t.Errorf("健康状态文件缺失: %v", err)
	}
}

func TestHealthCheckWarnsOnEmptyData(t *testing.T) {
	s := testScheduler(t, nil)
	if err := s.healthCheckTask(); err != nil {
		t.Fatalf("健康检查不应返回错误: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.reportDir, "health_status.json"))
	if err != nil {
		t.Fatalf("读取健康状态失败: %v", err)
	}
	var status healthStatus
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("解析健康状态失败: %v", err)
	}
	if status.Status != "warning" {
		t.Errorf("空库应产生告警状态, 得到 %s", status.Status)
	}
	if len(status.Warnings) == 0 {
		t.Error("应包含今日无数据告警")
	}
}

func TestCrawlTaskSurvivesUpstreamFailure(t *testing.T) {
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	s.runTask(TaskCrawl)

	s.mu.RLock()
	st := *s.stats[TaskCrawl]
	s.mu.RUnlock()
	if st.SuccessCount != 1 {
		t.Errorf("上游全部失败时采集任务仍应正常结束: %+v", st)
	}
}

func TestCleanupAndReportTasks(t *testing.T) {
	s := testScheduler(t, nil)

	s.runTask(TaskCleanup)
	s.runTask(TaskReport)

	s.mu.RLock()
	cleanup := *s.stats[TaskCleanup]
	report := *s.stats[TaskReport]
	s.mu.RUnlock()
	if cleanup.SuccessCount != 1 {
		t.Errorf("清理任务应成功: %+v", cleanup)
	}
	if report.SuccessCount != 1 {
		t.Errorf("报表任务应成功: %+v", report)
	}

	matches, err := filepath.Glob(filepath.Join(s.reportDir, "market_report_*.json"))
	if err != nil || len(matches) != 1 {
		t.Errorf("应生成 1 份报表, 得到 %d (%v)", len(matches), err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if s.Status()["running"] != false {
		t.Error("启动前 running 应为 false")
	}
	s.Start()
	s.Start() // 重复启动应为空操作
	if s.Status()["running"] != true {
		t.Error("启动后 running 应为 true")
	}
	s.Stop()
	s.Stop()
	if s.Status()["running"] != false {
		t.Error("停止后 running 应为 false")
	}
}

func TestRestartAfterStop(t *testing.T) {
	s := testScheduler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	s.Start()
	s.Stop()

	// 第二次启动必须使用新的上下文和结束通道, 否则循环会立即退出并重复关闭通道
	s.Start()
	if s.Status()["running"] != true {
		t.Error("重启后 running 应为 true")
	}
	s.Stop()
	if s.Status()["running"] != false {
		t.Error("再次停止后 running 应为 false")
	}
}

func TestCrawlKeepsMirrorWhenPersistFails(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "getTodayMarketByProvinceCode") {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 200,
				"content": []map[string]string{
					{"marketId": "SD001", "marketName": "寿光蔬菜市场"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"content": map[string]interface{}{
				"list": []map[string]interface{}{{
					"marketCode":   "SD001",
					"marketName":   "寿光蔬菜市场",
					"varietyId":    "V1",
					"varietyName":  "黄瓜",
					"minimumPrice": 1.0,
					"middlePrice":  1.5,
					"highestPrice": 2.0,
					"reportTime":   today,
				}},
				"pages": 1,
			},
		})
	})

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("初始化数据库失败: %v", err)
	}
	store := database.NewStore(db)
	files := filestore.NewStore(t.TempDir())
	client := pfsc.NewClient(1, time.Millisecond)
	client.SetPauses(0, 0, 0)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client.SetBaseURL(srv.URL)
	cfg := config.DefaultSchedulerConfig()
	cfg.ProvincesToCrawl = []string{"山东省"}
	s := New(cfg, client, store, files, t.TempDir())

	// 关闭底层连接, 使入库必然失败
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	sqlDB.Close()

	_ = s.crawlTask()

	// 入库失败时镜像不得更新, 否则下个周期会因"无变化"跳过该市场
	if _, err := files.LatestSnapshot("寿光蔬菜市场"); !os.IsNotExist(err) {
		t.Errorf("入库失败后不应写入文件镜像, err=%v", err)
	}
	if !files.HasChanged("寿光蔬菜市场", nil) {
		t.Error("入库失败后变更检测仍应判定为有变化")
	}
}

func TestEventSink(t *testing.T) {
	s := testScheduler(t, nil)
	var events []Event
	s.SetEventSink(func(e Event) { events = append(events, e) })

	s.runTask(TaskHealthCheck)
	if len(events) == 0 {
		t.Fatal("任务完成应产生事件")
	}
	last := events[len(events)-1]
	if last.Task != TaskHealthCheck || last.Level != "info" {
		t.Errorf("事件内容错误: %+v", last)
	}
}

func TestNotifier(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("请求体解析失败: %v", err)
		}
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, true)
	n.Notify("测试标题", "测试内容")
	if got["title"] != "测试标题" || got["message"] != "测试内容" {
		t.Errorf("通知内容错误: %+v", got)
	}
	if got["service"] != "farm-market-monitor" || got["timestamp"] == "" {
		t.Errorf("通知缺少元数据: %+v", got)
	}
}

func TestNotifierDisabled(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	NewNotifier(srv.URL, false).Notify("标题", "内容")
	NewNotifier("", true).Notify("标题", "内容")
	if called {
		t.Error("禁用的通知器不应发送请求")
	}
}
