package scheduler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"farm-market-monitor/internal/database"
	"farm-market-monitor/internal/services/pfsc"
)

// crawlTask walks every selected province, fetches each market's quotes,
// mirrors changed batches to disk and upserts them into the database. A
// single market or province failing never aborts the cycle.
func (s *Scheduler) crawlTask() error {
	start := time.Now()
	ctx := s.context()
	provinces := pfsc.FilterProvinces(s.cfg.ProvincesToCrawl)
	log.Printf("[调度器] 开始采集周期 (%d 个省份)", len(provinces))

	var totalRecords, savedMarkets, skippedMarkets, failedMarkets int
	for pi, province := range provinces {
		if ctx.Err() != nil {
			log.Println("[调度器] 采集被中断")
			return nil
		}

		markets := s.client.ListMarkets(province.Code)
		if len(markets) == 0 {
			log.Printf("[调度器] [%d/%d] %s 无可用市场, 跳过", pi+1, len(provinces), province.Name)
			continue
		}
		log.Printf("[调度器] [%d/%d] %s: %d 个市场", pi+1, len(provinces), province.Name, len(markets))

		for _, market := range markets {
			if ctx.Err() != nil {
				log.Println("[调度器] 采集被中断")
				return nil
			}

			records := s.client.FetchAllPages(market.MarketID)
			if len(records) == 0 {
				time.Sleep(s.client.MarketPause())
				continue
			}

			if !s.files.HasChanged(market.MarketName, records) {
				skippedMarkets++
				log.Printf("[调度器] %s 价格无变化, 跳过", market.MarketName)
				time.Sleep(s.client.MarketPause())
				continue
			}

			// The mirror drives change detection, so it must only advance
			// after the batch is actually persisted.
			saved, err := s.db.UpsertBatch(records)
			if err != nil {
				failedMarkets++
				log.Printf("[调度器] %s 入库失败: %v", market.MarketName, err)
				time.Sleep(s.client.MarketPause())
				continue
			}
			if err := s.files.SaveMarketData(market.MarketName, records); err != nil {
				log.Printf("[调度器] %s 文件保存失败: %v", market.MarketName, err)
			}

			savedMarkets++
			totalRecords += saved
			s.emit(Event{
				Task:      TaskCrawl,
				Level:     "info",
				Message:   fmt.Sprintf("%s 更新 %d 条记录", market.MarketName, saved),
				Timestamp: time.Now(),
			})
			time.Sleep(s.client.MarketPause())
		}
		time.Sleep(s.client.ProvincePause())
	}

	today := time.Now().Format("2006-01-02")
	if err := s.db.RecomputeStatistics(today); err != nil {
		log.Printf("[调度器] 统计重算失败: %v", err)
	}

	log.Printf("[调度器] 采集周期完成 (新增/更新 %d 条, 市场 成功:%d 无变化:%d 失败:%d, 耗时 %v)",
		totalRecords, savedMarkets, skippedMarkets, failedMarkets, time.Since(start))

	if savedMarkets > 0 {
		s.notifier.Notify("价格数据更新",
			fmt.Sprintf("%d 个市场共 %d 条记录已更新", savedMarkets, totalRecords))
	}

	if failedMarkets > 0 && savedMarkets == 0 && skippedMarkets == 0 {
		return fmt.Errorf("采集周期全部失败 (%d 个市场)", failedMarkets)
	}
	return nil
}

// cleanupTask prunes rows older than the retention window and reclaims file
// space in the mirror.
func (s *Scheduler) cleanupTask() error {
	result, err := s.db.Cleanup(s.cfg.DataRetentionDays)
	if err != nil {
		return fmt.Errorf("数据清理失败: %w", err)
	}
	log.Printf("[调度器] 清理完成 (价格:%d 历史:%d 统计:%d, 截止 %s)",
		result.DeletedPrices, result.DeletedHistory, result.DeletedStats, result.CutoffDate)
	return nil
}

// marketReport is the JSON document written by the report task.
type marketReport struct {
	GeneratedAt string                         `json:"generated_at"`
	PeriodStart string                         `json:"period_start"`
	PeriodEnd   string                         `json:"period_end"`
	Overall     database.PriceStats            `json:"overall"`
	Today       map[string]interface{}         `json:"today"`
	Varieties   map[string]database.PriceStats `json:"priority_varieties"`
}

// reportTask writes a dated JSON report covering the last seven days plus a
// per-variety breakdown for the priority list, then consolidates the file
// mirror.
func (s *Scheduler) reportTask() error {
	now := time.Now()
	report := marketReport{
		GeneratedAt: now.Format("2006-01-02 15:04:05"),
		PeriodStart: now.AddDate(0, 0, -7).Format("2006-01-02"),
		PeriodEnd:   now.Format("2006-01-02"),
		Varieties:   make(map[string]database.PriceStats),
	}

	overall, err := s.db.PriceStatistics("", "", 7)
	if err != nil {
		return fmt.Errorf("统计查询失败: %w", err)
	}
	report.Overall = overall

	todayCount, err := s.db.TodayRecordCount()
	if err != nil {
		return fmt.Errorf("今日计数失败: %w", err)
	}
	report.Today = map[string]interface{}{"record_count": todayCount}
	if last, err := s.db.LastCrawlTime(); err == nil && !last.IsZero() {
		report.Today["last_crawl"] = last.Format("2006-01-02 15:04:05")
	}

	for _, variety := range s.cfg.PriorityVarieties {
		stats, err := s.db.PriceStatistics(variety, "", 7)
		if err != nil {
			log.Printf("[调度器] 品种 %s 统计失败, 跳过: %v", variety, err)
			continue
		}
		report.Varieties[variety] = stats
	}

	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return fmt.Errorf("创建报表目录失败: %w", err)
	}
	name := "market_report_" + now.Format("20060102_150405") + ".json"
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.reportDir, name), data, 0o644); err != nil {
		return fmt.Errorf("写入报表失败: %w", err)
	}
	log.Printf("[调度器] 报表已生成: %s", name)

	if err := s.files.ConsolidateAll(); err != nil {
		log.Printf("[调度器] 文件汇总失败: %v", err)
	}
	return nil
}

// healthStatus is persisted by the health check so operators can poll a file
// instead of the API.
type healthStatus struct {
	Status      string   `json:"status"`
	CheckedAt   string   `json:"checked_at"`
	TodayCount  int64    `json:"today_record_count"`
	LastCrawl   string   `json:"last_crawl,omitempty"`
	StaleFor    string   `json:"stale_for,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	TaskFailed  int64    `json:"task_failed_total"`
	TaskSuccess int64    `json:"task_success_total"`
}

// healthCheckTask inspects data freshness and records the result. It never
// returns an error: a degraded system still needs its health file written.
func (s *Scheduler) healthCheckTask() error {
	now := time.Now()
	status := healthStatus{Status: "healthy", CheckedAt: now.Format("2006-01-02 15:04:05")}

	if count, err := s.db.TodayRecordCount(); err != nil {
		status.Warnings = append(status.Warnings, "今日计数查询失败: "+err.Error())
	} else {
		status.TodayCount = count
		if count == 0 {
			status.Warnings = append(status.Warnings, "今日暂无采集数据")
		}
	}

	if last, err := s.db.LastCrawlTime(); err != nil {
		status.Warnings = append(status.Warnings, "采集时间查询失败: "+err.Error())
	} else if !last.IsZero() {
		status.LastCrawl = last.Format("2006-01-02 15:04:05")
		if stale := now.Sub(last); stale > 2*time.Hour {
			status.StaleFor = stale.Truncate(time.Minute).String()
			status.Warnings = append(status.Warnings, "数据超过2小时未更新")
		}
	}

	s.mu.RLock()
	for _, st := range s.stats {
		status.TaskFailed += st.FailedCount
		status.TaskSuccess += st.SuccessCount
	}
	s.mu.RUnlock()

	if len(status.Warnings) > 0 {
		status.Status = "warning"
		log.Printf("[调度器] 健康检查告警: %v", status.Warnings)
		s.notifier.Notify("健康检查告警", fmt.Sprintf("%v", status.Warnings))
	}

	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		log.Printf("[调度器] 创建报表目录失败: %v", err)
		return nil
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(s.reportDir, "health_status.json"), data, 0o644); err != nil {
		log.Printf("[调度器] 写入健康状态失败: %v", err)
	}
	return nil
}
