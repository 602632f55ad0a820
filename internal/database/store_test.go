package database

import (
	"path/filepath"
	"testing"
	"time"

	"farm-market-monitor/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("初始化数据库失败: %v", err)
	}
	return NewStore(db)
}

func priceRec(marketID, varietyID, variety, province, date string, avg float64, crawl time.Time) models.PriceRecord {
	return models.PriceRecord{
		MarketID:    marketID,
		MarketName:  "市场" + marketID,
		VarietyID:   varietyID,
		VarietyName: variety,
		Province:    province,
		MinPrice:    avg - 0.5,
		AvgPrice:    avg,
		MaxPrice:    avg + 0.5,
		TradeDate:   date,
		CrawlTime:   crawl,
	}
}

func TestUpsertBatchReplacesOnNaturalKey(t *testing.T) {
	s := newTestStore(t)
	today := time.Now().Format("2006-01-02")
	now := time.Now().Truncate(time.Second)

	if _, err := s.UpsertBatch([]models.PriceRecord{
		priceRec("M1", "V1", "土豆", "山东省", today, 3, now),
	}); err != nil {
		t.Fatalf("首次写入失败: %v", err)
	}
	if _, err := s.UpsertBatch([]models.PriceRecord{
		priceRec("M1", "V1", "土豆", "山东省", today, 4.5, now.Add(time.Hour)),
	}); err != nil {
		t.Fatalf("二次写入失败: %v", err)
	}

	records, err := s.QueryPrices(QueryFilters{}, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("同一自然键应只有 1 行, 得到 %d", len(records))
	}
	if records[0].AvgPrice != 4.5 {
		t.Errorf("重复写入应替换价格, avg=%v", records[0].AvgPrice)
	}

	var marketCount, varietyCount int64
	s.db.Model(&models.Market{}).Count(&marketCount)
	s.db.Model(&models.Variety{}).Count(&varietyCount)
	if marketCount != 1 || varietyCount != 1 {
		t.Errorf("市场/品种应各 1 行, 得到 %d/%d", marketCount, varietyCount)
	}

	var history models.PriceHistory
	if err := s.db.Where("market_id = ? AND variety_id = ?", "M1", "V1").First(&history).Error; err != nil {
		t.Fatalf("历史行缺失: %v", err)
	}
	if history.Change != 1.5 {
		t.Errorf("涨跌额应为 1.5, 得到 %v", history.Change)
	}
	if history.ChangeRate != 50 {
		t.Errorf("涨跌幅应为 50%%, 得到 %v", history.ChangeRate)
	}
}

func TestQueryPricesFiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)
	today := time.Now().Format("2006-01-02")
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	batch := []models.PriceRecord{
		priceRec("M1", "V1", "土豆", "山东省", yesterday, 3, now),
		priceRec("M1", "V1", "土豆", "山东省", today, 3.2, now),
		priceRec("M2", "V2", "白菜", "河北省", today, 1.5, now),
		priceRec("M2", "V3", "黄瓜", "河北省", today, 6, now),
	}
	if _, err := s.UpsertBatch(batch); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	records, err := s.QueryPrices(QueryFilters{VarietyName: "土豆"}, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条土豆记录, 得到 %d", len(records))
	}
	if records[0].TradeDate != today {
		t.Errorf("应按交易日期倒序, 首条日期 %s", records[0].TradeDate)
	}

	records, err = s.QueryPrices(QueryFilters{Province: "河北", MinPrice: 2}, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 1 || records[0].VarietyName != "黄瓜" {
		t.Errorf("省份+价格过滤错误: %+v", records)
	}

	records, err = s.QueryPrices(QueryFilters{}, 2)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("limit 未生效, 得到 %d", len(records))
	}
}

func TestCleanupRetentionBoundary(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)
	day := func(offset int) string {
		return time.Now().AddDate(0, 0, offset).Format("2006-01-02")
	}

	if _, err := s.UpsertBatch([]models.PriceRecord{
		priceRec("M1", "V1", "土豆", "山东省", day(-31), 3, now),
		priceRec("M1", "V1", "土豆", "山东省", day(-30), 3, now),
		priceRec("M1", "V1", "土豆", "山东省", day(-29), 3, now),
	}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	result, err := s.Cleanup(30)
	if err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if result.DeletedPrices != 1 {
		t.Errorf("应只删除 1 条 (早于截止日), 删除了 %d", result.DeletedPrices)
	}
	if result.CutoffDate != day(-30) {
		t.Errorf("截止日期错误: %s", result.CutoffDate)
	}

	records, err := s.QueryPrices(QueryFilters{}, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("应保留 2 条, 得到 %d", len(records))
	}
	for _, r := range records {
		if r.TradeDate < day(-30) {
			t.Errorf("早于截止日的记录未删除: %s", r.TradeDate)
		}
	}
}

func TestRecomputeStatistics(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)
	today := time.Now().Format("2006-01-02")

	if _, err := s.UpsertBatch([]models.PriceRecord{
		priceRec("M1", "V1", "土豆", "山东省", today, 3, now),
		priceRec("M2", "V2", "白菜", "河北省", today, 1.5, now),
	}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := s.RecomputeStatistics(today); err != nil {
		t.Fatalf("统计重算失败: %v", err)
	}
	// 重算应覆盖而不是新增
	if err := s.RecomputeStatistics(today); err != nil {
		t.Fatalf("二次重算失败: %v", err)
	}

	var stats []models.DailyStatistic
	if err := s.db.Find(&stats).Error; err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("同一日期应只有 1 行统计, 得到 %d", len(stats))
	}
	st := stats[0]
	if st.TotalRecords != 2 || st.TotalMarkets != 2 || st.TotalVarieties != 2 || st.TotalProvinces != 2 {
		t.Errorf("统计计数错误: %+v", st)
	}
	if st.AvgPriceAll != 2.25 {
		t.Errorf("全局平均价应为 2.25, 得到 %v", st.AvgPriceAll)
	}
	if st.PriceUpdates != 2 {
		t.Errorf("今日更新数应为 2, 得到 %v", st.PriceUpdates)
	}
}

func TestPriceStatisticsDistribution(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)
	today := time.Now().Format("2006-01-02")

	if _, err := s.UpsertBatch([]models.PriceRecord{
		priceRec("M1", "V1", "白菜", "山东省", today, 0.9, now),
		priceRec("M1", "V2", "土豆", "山东省", today, 3, now),
		priceRec("M1", "V3", "黄瓜", "山东省", today, 6, now),
		priceRec("M1", "V4", "牛肉", "山东省", today, 60, now),
	}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	stats, err := s.PriceStatistics("", "", 7)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.TotalRecords != 4 {
		t.Errorf("总记录数应为 4, 得到 %d", stats.TotalRecords)
	}
	want := map[string]int64{"0-1元": 1, "1-5元": 1, "5-10元": 1, "50元以上": 1}
	for bucket, count := range want {
		if stats.Distribution[bucket] != count {
			t.Errorf("分布 %s 应为 %d, 得到 %d", bucket, count, stats.Distribution[bucket])
		}
	}

	narrowed, err := s.PriceStatistics("土豆", "山东", 7)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if narrowed.TotalRecords != 1 || narrowed.AvgPrice != 3 {
		t.Errorf("按品种过滤错误: %+v", narrowed)
	}
}

func TestTodayCountAndLastCrawl(t *testing.T) {
	s := newTestStore(t)

	count, err := s.TodayRecordCount()
	if err != nil {
		t.Fatalf("今日计数失败: %v", err)
	}
	if count != 0 {
		t.Errorf("空库今日计数应为 0, 得到 %d", count)
	}
	if last, err := s.LastCrawlTime(); err != nil || !last.IsZero() {
		t.Errorf("空库最近采集时间应为零值: %v, %v", last, err)
	}

	now := time.Now().Truncate(time.Second)
	today := time.Now().Format("2006-01-02")
	if _, err := s.UpsertBatch([]models.PriceRecord{
		priceRec("M1", "V1", "土豆", "山东省", today, 3, now),
	}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	count, err = s.TodayRecordCount()
	if err != nil || count != 1 {
		t.Errorf("今日计数应为 1, 得到 %d (%v)", count, err)
	}
	last, err := s.LastCrawlTime()
	if err != nil {
		t.Fatalf("最近采集时间失败: %v", err)
	}
	if !last.Equal(now) {
		t.Errorf("最近采集时间应为 %v, 得到 %v", now, last)
	}
}
